package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierPublishSubscribe(t *testing.T) {
	n := newNotifier()

	ch := n.subscribe()
	n.publish(ServerEvent{Kind: EventOper, Message: "alice"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventOper, ev.Kind)
		assert.Equal(t, "alice", ev.Message)
	default:
		t.Fatal("no event delivered")
	}

	// After unsubscribing nothing more arrives.
	n.unsubscribe(ch)
	n.publish(ServerEvent{Kind: EventRehash})
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	default:
	}
}

func TestNotifierDropsWhenSubscriberFull(t *testing.T) {
	n := newNotifier()
	ch := n.subscribe()

	// Filling the buffer must not block the publisher.
	for i := 0; i < 200; i++ {
		n.publish(ServerEvent{Kind: EventUserConnected})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Greater(t, received, 0)
	assert.Less(t, received, 200)
}

func TestNotifierLogTail(t *testing.T) {
	n := newNotifier()

	assert.Empty(t, n.logLines())

	n.recordLogLine("first")
	n.recordLogLine("second")
	lines := n.logLines()
	require.Len(t, lines, 2)
	assert.Equal(t, "first", lines[0])
	assert.Equal(t, "second", lines[1])

	// The tail is a ring. Old lines fall off, order holds.
	for i := 0; i < 300; i++ {
		n.recordLogLine(fmt.Sprintf("line %d", i))
	}
	lines = n.logLines()
	require.Len(t, lines, 256)
	assert.Equal(t, "line 44", lines[0])
	assert.Equal(t, "line 299", lines[255])
}
