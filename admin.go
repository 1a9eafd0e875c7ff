package main

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Kinds of events we publish to admin subscribers.
const (
	EventUserConnected  = "user-connected"
	EventUserQuit       = "user-quit"
	EventOper           = "oper"
	EventServerLinked   = "server-linked"
	EventServerDelinked = "server-delinked"
	EventRehash         = "rehash"
	EventBan            = "ban"
)

// ServerEvent is one out-of-band notification for the admin surface.
type ServerEvent struct {
	Kind    string
	Message string
}

// How many log lines we keep for the tail.
const logTailSize = 256

// Notifier fans server events out to subscribers and keeps a short
// tail of recent log lines.
//
// Subscribers run outside the server goroutine, so this is the one
// piece of server state guarded by a lock rather than the event loop.
type Notifier struct {
	mutex       sync.Mutex
	subscribers []chan ServerEvent

	// Ring of recent log lines. logCount tells us how far it's filled.
	logTail  [logTailSize]string
	logNext  int
	logCount int
}

func newNotifier() *Notifier {
	return &Notifier{}
}

// subscribe registers a new admin listener. The channel is buffered;
// publish never blocks on it.
func (n *Notifier) subscribe() chan ServerEvent {
	ch := make(chan ServerEvent, 64)

	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.subscribers = append(n.subscribers, ch)

	return ch
}

func (n *Notifier) unsubscribe(ch chan ServerEvent) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	for i, sub := range n.subscribers {
		if sub != ch {
			continue
		}
		n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)
		close(ch)
		return
	}
}

// publish delivers an event to every subscriber. A subscriber that
// can't keep up misses events rather than stalling the server.
func (n *Notifier) publish(evt ServerEvent) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	for _, ch := range n.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// logLines gives the retained log tail, oldest first.
func (n *Notifier) logLines() []string {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	lines := make([]string, 0, n.logCount)
	start := 0
	if n.logCount == logTailSize {
		start = n.logNext
	}
	for i := 0; i < n.logCount; i++ {
		lines = append(lines, n.logTail[(start+i)%logTailSize])
	}
	return lines
}

func (n *Notifier) recordLogLine(line string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.logTail[n.logNext] = line
	n.logNext = (n.logNext + 1) % logTailSize
	if n.logCount < logTailSize {
		n.logCount++
	}
}

// logHook gives a logrus hook that feeds the log tail.
func (n *Notifier) logHook() logrus.Hook {
	return &notifierLogHook{notifier: n}
}

type notifierLogHook struct {
	notifier *Notifier
}

func (hk *notifierLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (hk *notifierLogHook) Fire(entry *logrus.Entry) error {
	hk.notifier.recordLogLine(fmt.Sprintf("%s [%s] %s",
		entry.Time.Format("2006-01-02 15:04:05"), entry.Level,
		entry.Message))
	return nil
}
