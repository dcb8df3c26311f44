package main

import (
	"strconv"
	"strings"
	"time"
)

// cmdAway implements AWAY: no argument clears it, an argument sets it and
// propagates to peers so WHOIS/PRIVMSG replies stay accurate network-wide.
func cmdAway(u *LocalUser, m Message, emit func(Message)) error {
	msg, has := m.Arg(0)
	if !has || msg == "" {
		u.User.Away = ""
		emit(numericMsg(u, "305", "You are no longer marked as being away"))
	} else {
		u.User.Away = msg
		emit(numericMsg(u, "306", "You have been marked as being away"))
	}
	u.Catbox.broadcastToServers(Message{Prefix: string(u.User.UID), Command: "AWAY",
		Params: m.Params}, "")
	return nil
}

// cmdSetname implements the draft/setname extension (spec supplement):
// changes REALNAME post-registration and notifies every peer negotiating
// the setname cap, per-recipient, same as NICK/CHGHOST fanout.
func cmdSetname(u *LocalUser, m Message, emit func(Message)) error {
	realname, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	if !isValidRealName(realname) {
		return ErrNeedMoreParams
	}
	u.User.RealName = realname

	setnameMsg := Message{Prefix: u.User.nickUhost(), Command: "SETNAME", Params: []string{realname}}
	informed := map[TS6UID]struct{}{}
	for name := range u.User.Channels {
		ch := u.Catbox.lookupChannel(name)
		if ch == nil {
			continue
		}
		for _, uid := range ch.snapshotMembersUIDs() {
			if _, done := informed[uid]; done {
				continue
			}
			informed[uid] = struct{}{}
			other, ok := u.Catbox.Users[uid]
			if !ok || !other.isLocal() || !other.LocalUser.HasCap("setname") {
				continue
			}
			_ = other.LocalUser.maybeQueueMessage(setnameMsg)
		}
	}
	return nil
}

// cmdSilence implements SILENCE, a per-user mask-based ignore list (spec
// supplement, checked in deliverToUserTarget via matchesSilence).
func cmdSilence(u *LocalUser, m Message, emit func(Message)) error {
	mask, ok := m.Arg(0)
	if !ok {
		for _, mask := range u.User.SilenceList {
			emit(numericMsg(u, "271", mask))
		}
		emit(numericMsg(u, "272", "End of SILENCE list"))
		return nil
	}

	if strings.HasPrefix(mask, "-") {
		target := mask[1:]
		for i, existing := range u.User.SilenceList {
			if existing == target {
				u.User.SilenceList = append(u.User.SilenceList[:i], u.User.SilenceList[i+1:]...)
				break
			}
		}
		return nil
	}

	mask = strings.TrimPrefix(mask, "+")
	u.User.SilenceList = append(u.User.SilenceList, mask)
	return nil
}

// cmdMonitor implements MONITOR (component J): thin dispatch over the
// already-complete MonitorTable.
func cmdMonitor(u *LocalUser, m Message, emit func(Message)) error {
	sub, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}

	switch strings.ToUpper(sub) {
	case "+":
		targets, ok := m.Arg(1)
		if !ok {
			return ErrNeedMoreParams
		}
		var online, offline []string
		for _, nick := range strings.Split(targets, ",") {
			added, isOnline := u.Catbox.Monitor.Add(u, nick)
			if !added {
				emit(numericMsg(u, "734", strconv.Itoa(100), nick, "Monitor list is full"))
				continue
			}
			if isOnline {
				if other := u.Catbox.lookupUser(nick); other != nil {
					online = append(online, other.nickUhost())
				}
			} else {
				offline = append(offline, nick)
			}
		}
		if len(online) > 0 {
			emit(numericMsg(u, "730", strings.Join(online, ",")))
		}
		if len(offline) > 0 {
			emit(numericMsg(u, "731", strings.Join(offline, ",")))
		}
	case "-":
		targets, ok := m.Arg(1)
		if !ok {
			return ErrNeedMoreParams
		}
		for _, nick := range strings.Split(targets, ",") {
			u.Catbox.Monitor.Remove(u, nick)
		}
	case "C":
		u.Catbox.Monitor.Clear(u)
	case "L":
		for _, nick := range u.Catbox.Monitor.List(u) {
			emit(numericMsg(u, "732", nick))
		}
		emit(numericMsg(u, "733", "End of MONITOR list"))
	case "S":
		var online, offline []string
		for _, nick := range u.Catbox.Monitor.List(u) {
			if other := u.Catbox.lookupUser(nick); other != nil {
				online = append(online, other.nickUhost())
			} else {
				offline = append(offline, nick)
			}
		}
		if len(online) > 0 {
			emit(numericMsg(u, "730", strings.Join(online, ",")))
		}
		if len(offline) > 0 {
			emit(numericMsg(u, "731", strings.Join(offline, ",")))
		}
	}
	return nil
}

// cmdBatch is reached only when batchAbsorb (component F step 4) didn't
// recognize the line as part of an active multiline capture - an
// unsupported batch type or a mismatched end reference.
func cmdBatch(u *LocalUser, m Message, emit func(Message)) error {
	emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
		Params: []string{"BATCH", "MULTILINE_INVALID", "Invalid or unrecognized batch"}})
	return nil
}

// cmdChathistory implements the draft/chathistory subcommands (component
// K, spec §4.K) wrapped in a chathistory batch so clients with the batch
// cap can render them atomically.
func cmdChathistory(u *LocalUser, m Message, emit func(Message)) error {
	sub, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}

	const defaultLimit = 50
	const maxLimit = 100

	// historyKey maps the CHATHISTORY target argument to the store's
	// lookup key: channels are keyed by their own name, but DM targets
	// use the symmetric "dm:a:b" key (spec §3.6) so either party's
	// query resolves to the same conversation.
	historyKey := func(target string) string {
		if len(target) > 0 && strings.ContainsRune(channelTypes, rune(target[0])) {
			return canonicalizeChannel(target)
		}
		return dmHistoryKey(u.User.DisplayNick, target)
	}

	resolve := func(target, selector string) (time.Time, bool) {
		if strings.HasPrefix(selector, "msgid=") {
			return u.Catbox.History.FindMsgid(historyKey(target), strings.TrimPrefix(selector, "msgid="))
		}
		if strings.HasPrefix(selector, "timestamp=") {
			t, err := time.Parse(time.RFC3339, strings.TrimPrefix(selector, "timestamp="))
			return t, err == nil
		}
		return time.Time{}, false
	}

	emitEntries := func(target string, entries []*HistoryEntry) {
		ref := u.startServerBatch("chathistory", target)
		for _, e := range entries {
			out := e.Message
			if !u.HasCap("message-tags") {
				out = out.WithoutClientTags()
			}
			out = out.WithTag("batch", ref)
			_ = u.maybeQueueMessage(out)
		}
		u.endServerBatch(ref)
	}

	switch strings.ToUpper(sub) {
	case "LATEST":
		target, ok := m.Arg(1)
		if !ok {
			return ErrNeedMoreParams
		}
		n := defaultLimit
		if v, ok := m.Arg(2); ok {
			n = atoiDefault(v, defaultLimit)
		}
		if n > maxLimit {
			n = maxLimit
		}
		emitEntries(target, u.Catbox.History.Latest(historyKey(target), n))

	case "BEFORE":
		target, ok := m.Arg(1)
		selector, ok2 := m.Arg(2)
		if !ok || !ok2 {
			return ErrNeedMoreParams
		}
		n := defaultLimit
		if v, ok := m.Arg(3); ok {
			n = atoiDefault(v, defaultLimit)
		}
		if n > maxLimit {
			n = maxLimit
		}
		before, ok := resolve(target, selector)
		if !ok {
			emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
				Params: []string{"CHATHISTORY", "INVALID_TARGET", target, "Invalid target or reference"}})
			return nil
		}
		emitEntries(target, u.Catbox.History.Before(historyKey(target), before, n))

	case "AFTER":
		target, ok := m.Arg(1)
		selector, ok2 := m.Arg(2)
		if !ok || !ok2 {
			return ErrNeedMoreParams
		}
		n := defaultLimit
		if v, ok := m.Arg(3); ok {
			n = atoiDefault(v, defaultLimit)
		}
		if n > maxLimit {
			n = maxLimit
		}
		after, ok := resolve(target, selector)
		if !ok {
			emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
				Params: []string{"CHATHISTORY", "INVALID_TARGET", target, "Invalid target or reference"}})
			return nil
		}
		emitEntries(target, u.Catbox.History.After(historyKey(target), after, n))

	case "AROUND":
		target, ok := m.Arg(1)
		selector, ok2 := m.Arg(2)
		if !ok || !ok2 {
			return ErrNeedMoreParams
		}
		n := defaultLimit
		if v, ok := m.Arg(3); ok {
			n = atoiDefault(v, defaultLimit)
		}
		if n > maxLimit {
			n = maxLimit
		}
		when, ok := resolve(target, selector)
		if !ok {
			emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
				Params: []string{"CHATHISTORY", "INVALID_TARGET", target, "Invalid target or reference"}})
			return nil
		}
		emitEntries(target, u.Catbox.History.Around(historyKey(target), when, n))

	case "BETWEEN":
		target, ok := m.Arg(1)
		startSel, ok2 := m.Arg(2)
		endSel, ok3 := m.Arg(3)
		if !ok || !ok2 || !ok3 {
			return ErrNeedMoreParams
		}
		n := defaultLimit
		if v, ok := m.Arg(4); ok {
			n = atoiDefault(v, defaultLimit)
		}
		if n > maxLimit {
			n = maxLimit
		}
		after, ok1 := resolve(target, startSel)
		before, ok2 := resolve(target, endSel)
		if !ok1 || !ok2 {
			emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
				Params: []string{"CHATHISTORY", "INVALID_TARGET", target, "Invalid target or reference"}})
			return nil
		}
		emitEntries(target, u.Catbox.History.Between(historyKey(target), after, before, n))

	case "TARGETS":
		for _, t := range u.Catbox.History.Targets() {
			emit(numericMsg(u, "760", t))
		}

	default:
		emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
			Params: []string{"CHATHISTORY", "UNKNOWN_COMMAND", sub, "Unknown CHATHISTORY subcommand"}})
	}
	return nil
}

// cmdRegister implements the draft/account-registration REGISTER command
// (spec supplement, gated on cfg.Extra.AccountRegistration.Enabled).
func cmdRegister(u *LocalUser, m Message, emit func(Message)) error {
	cfg := u.Catbox.Config.Extra.AccountRegistration
	if !cfg.Enabled {
		emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
			Params: []string{"REGISTER", "TEMPORARILY_UNAVAILABLE", "Account registration is disabled"}})
		return nil
	}

	accountName, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	if !cfg.CustomAccountName {
		accountName = u.User.DisplayNick
	}
	email, ok := m.Arg(1)
	if !ok {
		email = "*"
	}
	password, ok := m.Arg(2)
	if !ok {
		return ErrNeedMoreParams
	}
	if cfg.EmailRequired && email == "*" {
		emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
			Params: []string{"REGISTER", "INVALID_EMAIL", email, "Email required for registration"}})
		return nil
	}
	if u.Catbox.Accounts.Exists(accountName) {
		emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
			Params: []string{"REGISTER", "ACCOUNT_EXISTS", accountName, "Account already exists"}})
		return nil
	}

	if err := u.Catbox.Accounts.Register(accountName, password, email); err != nil {
		emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "FAIL",
			Params: []string{"REGISTER", "UNKNOWN_ERROR", "Failed to register account"}})
		return nil
	}

	u.User.Account = accountName
	u.Session.Account = accountName
	u.Catbox.Monitor.NotifyAccount(u.User)

	emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "REGISTER",
		Params: []string{"SUCCESS", accountName, "Account created"}})
	return nil
}
