package main

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// cmdPrivmsg/cmdNotice/cmdTagmsg implement the per-recipient
// capability-filtered message fanout (spec §4.I, "the heart of the
// system"): each local recipient gets server-time/msgid/account-tag
// added or stripped according to its own negotiated caps, never the
// sender's.

func cmdPrivmsg(u *LocalUser, m Message, emit func(Message)) error {
	return sendMessageCommand(u, m, "PRIVMSG", emit)
}

func cmdNotice(u *LocalUser, m Message, emit func(Message)) error {
	return sendMessageCommand(u, m, "NOTICE", emit)
}

func cmdTagmsg(u *LocalUser, m Message, emit func(Message)) error {
	targetArg, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	return deliverOutgoing(u, targetArg, "TAGMSG", "", m.Tags, emit)
}

func sendMessageCommand(u *LocalUser, m Message, command string, emit func(Message)) error {
	targetArg, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	text, ok := m.Arg(1)
	if !ok {
		return ErrNoTextToSend
	}
	return deliverOutgoing(u, targetArg, command, text, m.Tags, emit)
}

// deliverOutgoing fans a PRIVMSG/NOTICE/TAGMSG out to every comma
// separated target, one at a time per spec §4.I's per-target checks.
func deliverOutgoing(u *LocalUser, targetArg, command, text string, clientTags []Tag, emit func(Message)) error {
	if u.Catbox.Bans.IsShunned(u.User.nickUhost()) {
		return nil // shunned: messages silently dropped, not disconnected
	}

	for _, target := range strings.Split(targetArg, ",") {
		statusPrefix, bareTarget := splitStatusPrefix(target)

		if len(bareTarget) > 0 && strings.ContainsRune(channelTypes, rune(bareTarget[0])) {
			deliverToChannelTarget(u, bareTarget, statusPrefix, command, text, clientTags, emit)
			continue
		}
		deliverToUserTarget(u, bareTarget, command, text, clientTags, emit)
	}
	return nil
}

// splitStatusPrefix peels a leading status-prefix character (e.g. "@#chan"
// to message only ops+) from a target, per ISUPPORT STATUSMSG.
func splitStatusPrefix(target string) (prefix, bare string) {
	if len(target) > 0 && strings.ContainsRune("~&@%+", rune(target[0])) {
		return target[:1], target[1:]
	}
	return "", target
}

func deliverToChannelTarget(u *LocalUser, chanName, statusPrefix, command, text string, clientTags []Tag, emit func(Message)) {
	cb := u.Catbox
	name := canonicalizeChannel(chanName)
	ch := cb.lookupChannel(name)
	if ch == nil {
		if command == "PRIVMSG" {
			emit(numericMsg(u, "403", chanName, "No such channel"))
		}
		return
	}

	isMember := u.User.onChannel(ch)
	ok, reason := ch.canSend(u.User, isMember)
	if !ok {
		if command == "PRIVMSG" {
			emit(numericMsg(u, "404", chanName, "Cannot send to channel: "+reason))
		}
		return
	}

	modes := ch.snapshotModes()
	if modes.NoCTCP && isCTCPRequest(command, text) {
		if command == "PRIVMSG" {
			emit(numericMsg(u, "404", chanName, "Cannot send CTCP to channel (+C)"))
		}
		return
	}
	if modes.NoColors && command != "TAGMSG" {
		text = stripColorCodes(text)
	}

	base := Message{Prefix: u.User.nickUhost(), Command: command, Params: []string{chanName}, Tags: filterClientTags(clientTags)}
	if command != "TAGMSG" {
		base.Params = append(base.Params, text)
	}
	base = base.WithTag("msgid", uuid.NewString())

	for _, uid := range ch.snapshotMembersUIDs() {
		if statusPrefix != "" {
			mm := ch.memberModes(uid)
			if !statusAtLeast(mm, statusPrefix) {
				continue
			}
		}
		other, ok := cb.Users[uid]
		if !ok || !other.isLocal() {
			continue
		}
		// Per-session fan-out (spec §4.I): the sender's own originating
		// session only echoes if it asked for echo-message, but every
		// other session of the same UID (multiclient) gets the message
		// unconditionally.
		for _, s := range other.Sessions {
			if s.LocalUser == nil {
				continue
			}
			if s == u.Session && !u.HasCap("echo-message") {
				continue
			}
			sendFiltered(s.LocalUser, base, u.User)
		}
	}

	if command != "TAGMSG" {
		u.Catbox.History.Add(name, base)
	}
	cb.broadcastToServers(Message{Prefix: string(u.User.UID), Command: command, Params: base.Params, Tags: clientTags}, "")
}

func statusAtLeast(mm MemberModes, prefix string) bool {
	switch prefix {
	case "+":
		return mm.HasVoiceOrAbove()
	case "%":
		return mm.Halfop || mm.Op || mm.Admin || mm.Owner
	case "@":
		return mm.Op || mm.Admin || mm.Owner
	case "&":
		return mm.Admin || mm.Owner
	case "~":
		return mm.Owner
	}
	return true
}

func deliverToUserTarget(u *LocalUser, nick, command, text string, clientTags []Tag, emit func(Message)) {
	cb := u.Catbox

	// Service pseudo-clients (spec §4.I user-target check #4): handled
	// entirely outside the ordinary local/remote delivery path, never
	// logged to history and never echoed.
	if uid, h, ok := cb.lookupService(nick); ok && command != "TAGMSG" {
		dispatchService(cb, u, uid, h, text)
		return
	}

	target := cb.lookupUser(nick)
	if target == nil {
		if command == "PRIVMSG" {
			emit(numericMsg(u, "401", nick, "No such nick/channel"))
		}
		return
	}

	if target.Modes.NoCTCP && isCTCPRequest(command, text) {
		return
	}
	if target.matchesSilence(u.User.nickUhost()) {
		return
	}
	if target.Modes.RegisteredPMs && !u.User.isLoggedIn() && command == "PRIVMSG" {
		emit(numericMsg(u, "716", target.DisplayNick, "is in +R mode (must be identified)"))
		return
	}

	base := Message{Prefix: u.User.nickUhost(), Command: command, Params: []string{nick}, Tags: filterClientTags(clientTags)}
	if command != "TAGMSG" {
		base.Params = append(base.Params, text)
	}
	base = base.WithTag("msgid", uuid.NewString())

	// delivered tracks every session already given a copy, so the
	// self-echo and account-cluster echo passes below never double-send
	// to a session already reached through ordinary delivery.
	delivered := map[*Session]struct{}{}

	if target.isLocal() {
		for _, s := range target.Sessions {
			if s.LocalUser == nil {
				continue
			}
			sendFiltered(s.LocalUser, base, u.User)
			delivered[s] = struct{}{}
		}
		if target.Away != "" && command == "PRIVMSG" {
			emit(numericMsg(u, "301", target.DisplayNick, target.Away))
		}
	} else {
		deliverToUser(cb, target, Message{Prefix: string(u.User.UID), Command: command, Params: base.Params, Tags: clientTags})
	}

	// Self-echo (spec §4.I): the originating session only gets an echo
	// if it asked for echo-message; every *other* session of the same
	// UID gets one unconditionally under multiclient.
	for _, s := range u.User.Sessions {
		if _, ok := delivered[s]; ok {
			continue
		}
		if s.LocalUser == nil {
			continue
		}
		if s == u.Session && !u.HasCap("echo-message") {
			continue
		}
		sendFiltered(s.LocalUser, base, u.User)
		delivered[s] = struct{}{}
	}

	// Account cluster echo (spec §4.I): every other local session logged
	// into the same account as the sender, regardless of UID, also sees
	// the PM - deduplicated against the sets above.
	if u.User.isLoggedIn() {
		for _, other := range cb.Users {
			if !other.isLocal() || other.Account != u.User.Account {
				continue
			}
			for _, s := range other.Sessions {
				if _, ok := delivered[s]; ok {
					continue
				}
				if s.LocalUser == nil {
					continue
				}
				sendFiltered(s.LocalUser, base, u.User)
				delivered[s] = struct{}{}
			}
		}
	}

	if command != "TAGMSG" {
		u.Catbox.History.Add(dmHistoryKey(u.User.DisplayNick, nick), base)
	}
}

// sendFiltered applies server-time/account-tag/bot per the recipient's own
// capabilities (spec §4.I step 3), never the sender's.
func sendFiltered(recipient *LocalUser, m Message, sender *User) {
	out := m
	if !recipient.HasCap("message-tags") {
		out = out.WithoutClientTags().WithoutTag("msgid")
	}
	if recipient.HasCap("server-time") {
		out = out.WithTag("time", time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	if recipient.HasCap("account-tag") && sender.Account != "" {
		out = out.WithTag("account", sender.Account)
	}
	if sender.Modes.Bot && recipient.HasCap("message-tags") {
		out = out.WithTag("bot", "")
	}
	_ = recipient.maybeQueueMessage(out)
}

func filterClientTags(tags []Tag) []Tag {
	var out []Tag
	for _, t := range tags {
		if strings.HasPrefix(t.Key, "+") {
			out = append(out, t)
		}
	}
	return out
}

func isCTCPRequest(command string, text string) bool {
	if command != "PRIVMSG" && command != "NOTICE" {
		return false
	}
	return strings.HasPrefix(text, "\x01") && !strings.HasPrefix(text, "\x01ACTION ")
}

// stripColorCodes removes mIRC color/bold/underline/italic/reverse control
// codes (spec supplement, +c channel mode).
func stripColorCodes(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		switch s[i] {
		case 0x02, 0x1D, 0x1F, 0x16, 0x0F:
			i++
		case 0x03:
			i++
			for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
				i++
			}
			if i < len(s) && s[i] == ',' {
				i++
				for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
					i++
				}
			}
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}
