package main

import (
	"strconv"
	"strings"
	"time"
)

var memoServCommands = map[string]serviceCommand{
	"SEND": {handler: msSend, minArgs: 2, accountOnly: true,
		help: "SEND <account> <text> - send a memo"},
	"LIST": {handler: msList, accountOnly: true,
		help: "LIST - list your memos"},
	"READ": {handler: msRead, minArgs: 1, accountOnly: true,
		help: "READ <id> - read a memo"},
	"DEL": {handler: msDel, minArgs: 1, accountOnly: true,
		help: "DEL <id>|ALL - delete memos"},
	"CLEAR": {handler: msClear, accountOnly: true,
		help: "CLEAR - delete all of your memos"},
}

func msSend(sv *service, source *User, args []string) {
	h := sv.heron

	recipient, err := h.Store.Accounts.GetByName(canonicalizeNick(args[0]))
	if err != nil || recipient == nil {
		sv.notice(source, "%s is not a registered account.", args[0])
		return
	}

	if err := h.Store.Memos.Send(&Memo{
		Recipient: recipient.Name,
		Sender:    source.Account,
		Body:      strings.Join(args[1:], " "),
		SentAt:    time.Now(),
	}); err != nil {
		sv.notice(source, "Unable to send the memo. Please try again.")
		return
	}

	sv.notice(source, "Memo sent to %s.", recipient.Name)

	// Tell the recipient right away if they're online and identified.
	for _, user := range h.Users {
		if user.Account != recipient.Name {
			continue
		}
		sv.notice(user, "You have a new memo from %s. Use READ to read it.",
			source.Account)
	}
}

func msList(sv *service, source *User, args []string) {
	memos, err := sv.heron.Store.Memos.ListForRecipient(source.Account)
	if err != nil {
		sv.notice(source, "Unable to load your memos. Please try again.")
		return
	}

	if len(memos) == 0 {
		sv.notice(source, "You have no memos.")
		return
	}

	sv.notice(source, "Your memos:")
	for _, memo := range memos {
		marker := " "
		if !memo.Read {
			marker = "*"
		}
		sv.notice(source, "  %s %d from %s (%s)", marker, memo.ID,
			memo.Sender, memo.SentAt.Format("Jan 02 15:04"))
	}
	sv.notice(source, "End of memos. * marks unread.")
}

// ownedMemo fetches a memo and checks it belongs to the user.
func ownedMemo(sv *service, source *User, arg string) *Memo {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		sv.notice(source, "Invalid memo ID: %s", arg)
		return nil
	}

	memo, err := sv.heron.Store.Memos.GetByID(id)
	if err != nil || memo == nil || memo.Recipient != source.Account {
		sv.notice(source, "No such memo: %s", arg)
		return nil
	}
	return memo
}

func msRead(sv *service, source *User, args []string) {
	memo := ownedMemo(sv, source, args[0])
	if memo == nil {
		return
	}

	sv.notice(source, "Memo %d from %s (%s):", memo.ID, memo.Sender,
		memo.SentAt.Format("Jan 02 15:04:05 2006 MST"))
	sv.notice(source, "  %s", memo.Body)

	if !memo.Read {
		_ = sv.heron.Store.Memos.MarkRead(memo.ID)
	}
}

func msDel(sv *service, source *User, args []string) {
	if strings.EqualFold(args[0], "ALL") {
		msClear(sv, source, nil)
		return
	}

	memo := ownedMemo(sv, source, args[0])
	if memo == nil {
		return
	}

	if err := sv.heron.Store.Memos.Delete(memo.ID); err != nil {
		sv.notice(source, "Unable to delete the memo. Please try again.")
		return
	}
	sv.notice(source, "Memo %d deleted.", memo.ID)
}

func msClear(sv *service, source *User, args []string) {
	memos, err := sv.heron.Store.Memos.ListForRecipient(source.Account)
	if err != nil {
		sv.notice(source, "Unable to load your memos. Please try again.")
		return
	}

	for _, memo := range memos {
		_ = sv.heron.Store.Memos.Delete(memo.ID)
	}
	sv.notice(source, "Deleted %d memo(s).", len(memos))
}
