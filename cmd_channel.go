package main

import (
	"fmt"
	"strings"
)

// cmdJoin implements JOIN (spec §4.H): comma-separated channel/key lists,
// creating a channel with a fresh TS if none exists yet.
func cmdJoin(u *LocalUser, m Message, emit func(Message)) error {
	chanArg, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	if chanArg == "0" {
		for name := range u.User.Channels {
			u.part(name, "")
		}
		return nil
	}

	names := strings.Split(chanArg, ",")
	keys := strings.Split(firstOr(m, 1, ""), ",")

	for i, raw := range names {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		joinOneChannel(u, raw, key, emit)
	}
	return nil
}

func firstOr(m Message, i int, def string) string {
	if v, ok := m.Arg(i); ok {
		return v
	}
	return def
}

func joinOneChannel(u *LocalUser, rawName, key string, emit func(Message)) {
	name := canonicalizeChannel(rawName)
	if !isValidChannel(rawName) {
		emit(numericMsg(u, "403", rawName, "No such channel"))
		return
	}
	if _, already := u.User.Channels[name]; already {
		return
	}

	cb := u.Catbox
	ch, created := cb.getOrCreateChannel(name, nowUnix())

	if !created {
		modes := ch.snapshotModes()
		nu := u.User.nickUhost()

		if modes.Key && modes.KeyValue != key {
			emit(numericMsg(u, "475", rawName, "Cannot join channel (+k)"))
			return
		}
		if modes.MemberLimit && ch.memberCount() >= modes.Limit {
			emit(numericMsg(u, "471", rawName, "Cannot join channel (+l)"))
			return
		}
		if modes.InviteOnly && !ch.invexMatches(nu) && !u.hasInvite(name) {
			emit(numericMsg(u, "473", rawName, "Cannot join channel (+i)"))
			return
		}
		if ch.banMatches(ch.snapshotBans(), nu) && !ch.banMatches(ch.snapshotExcepts(), nu) {
			emit(numericMsg(u, "474", rawName, "Cannot join channel (+b)"))
			return
		}
	}

	ch.join(u.User)
	u.clearInvite(name)

	joinMsg := Message{Prefix: u.User.nickUhost(), Command: "JOIN", Params: []string{rawName}}
	if u.HasCap("extended-join") {
		acct := u.User.Account
		if acct == "" {
			acct = "*"
		}
		joinMsg.Params = append(joinMsg.Params, acct, u.User.RealName)
	}

	for _, uid := range ch.snapshotMembersUIDs() {
		if other, ok := cb.Users[uid]; ok && other.isLocal() {
			jm := joinMsg
			if uid != u.User.UID && !other.LocalUser.HasCap("extended-join") {
				jm.Params = joinMsg.Params[:1]
			}
			other.messageUser(jm)
		}
	}

	for _, ls := range cb.LocalServers {
		ls.sendSJoin(ch, "", u.User.UID)
	}

	if topic := ch.snapshotTopic(); topic != nil {
		_ = u.messageFromServer("332", []string{rawName, topic.Text})
		_ = u.messageFromServer("333", []string{rawName, topic.SetBy, fmt.Sprintf("%d", topic.SetAt)})
	}
	u.namesReply(ch)
}

func (ch *Channel) snapshotModes() ChannelModes {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.Modes
}

func (ch *Channel) snapshotTopic() *Topic {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.Topic
}

func (ch *Channel) snapshotBans() []BanEntry {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]BanEntry{}, ch.Bans...)
}

func (ch *Channel) snapshotExcepts() []BanEntry {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]BanEntry{}, ch.Excepts...)
}

func (ch *Channel) invexMatches(nickUhost string) bool {
	ch.mu.Lock()
	list := append([]BanEntry{}, ch.Invex...)
	ch.mu.Unlock()
	for _, e := range list {
		if matchesMask(e.Mask, nickUhost) {
			return true
		}
	}
	return false
}

// hasInvite/clearInvite track one-shot INVITE bypasses per session, kept on
// the Session's registered state since they're meaningful only post-reg.
func (u *LocalUser) hasInvite(channel string) bool {
	for _, c := range u.Session.Reg.Invited {
		if c == channel {
			return true
		}
	}
	return false
}

func (u *LocalUser) clearInvite(channel string) {
	reg := u.Session.Reg
	out := reg.Invited[:0]
	for _, c := range reg.Invited {
		if c != channel {
			out = append(out, c)
		}
	}
	reg.Invited = out
}

// cmdPart implements PART.
func cmdPart(u *LocalUser, m Message, emit func(Message)) error {
	chanArg, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	msg := firstOr(m, 1, u.User.DisplayNick)
	for _, name := range strings.Split(chanArg, ",") {
		u.part(name, msg)
		for _, ls := range u.Catbox.LocalServers {
			_ = ls.maybeQueueMessage(Message{Prefix: string(u.User.UID), Command: "PART",
				Params: []string{canonicalizeChannel(name), msg}})
		}
	}
	return nil
}

// cmdTopic implements TOPIC: with one argument, reports the current topic;
// with two, sets it (subject to +t requiring at least op).
func cmdTopic(u *LocalUser, m Message, emit func(Message)) error {
	name, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	ch := u.Catbox.lookupChannel(canonicalizeChannel(name))
	if ch == nil {
		emit(numericMsg(u, "403", name, "No such channel"))
		return nil
	}
	if !u.User.onChannel(ch) {
		emit(numericMsg(u, "442", name, "You're not on that channel"))
		return nil
	}

	text, hasText := m.Arg(1)
	if !hasText {
		topic := ch.snapshotTopic()
		if topic == nil {
			emit(numericMsg(u, "331", name, "No topic is set"))
			return nil
		}
		emit(numericMsg(u, "332", name, topic.Text))
		emit(numericMsg(u, "333", name, topic.SetBy, fmt.Sprintf("%d", topic.SetAt)))
		return nil
	}

	modes := ch.snapshotModes()
	if modes.TopicLock {
		mm := ch.memberModes(u.User.UID)
		if !mm.Op && !mm.Admin && !mm.Owner {
			emit(numericMsg(u, "482", name, "You're not channel operator"))
			return nil
		}
	}

	ch.setTopicLocal(text, u.User.nickUhost())
	topicMsg := Message{Prefix: u.User.nickUhost(), Command: "TOPIC", Params: []string{name, text}}
	ch.broadcastLocal(topicMsg, "")
	u.User.messageUser(topicMsg)
	for _, ls := range u.Catbox.LocalServers {
		_ = ls.maybeQueueMessage(Message{Prefix: string(u.User.UID), Command: "TOPIC", Params: []string{name, text}})
	}
	return nil
}

func (ch *Channel) memberModes(uid TS6UID) MemberModes {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.Members[uid]
}

// cmdNames implements NAMES.
func cmdNames(u *LocalUser, m Message, emit func(Message)) error {
	name, ok := m.Arg(0)
	if !ok {
		for _, n := range u.Catbox.sortedChannelNames() {
			if ch := u.Catbox.lookupChannel(n); ch != nil {
				u.namesReply(ch)
			}
		}
		return nil
	}
	ch := u.Catbox.lookupChannel(canonicalizeChannel(name))
	if ch == nil {
		_ = u.messageFromServer("366", []string{name, "End of /NAMES list"})
		return nil
	}
	u.namesReply(ch)
	return nil
}

// cmdList implements LIST: a compact dump of every channel, leaving out
// secret channels the caller is not on.
func cmdList(u *LocalUser, m Message, emit func(Message)) error {
	_ = u.messageFromServer("321", []string{"Channel", "Users Name"})
	for _, name := range u.Catbox.sortedChannelNames() {
		ch := u.Catbox.lookupChannel(name)
		if ch == nil {
			continue
		}
		modes := ch.snapshotModes()
		if modes.Secret && !u.User.onChannel(ch) {
			continue
		}
		topic := ""
		if t := ch.snapshotTopic(); t != nil {
			topic = t.Text
		}
		_ = u.messageFromServer("322", []string{name, fmt.Sprintf("%d", ch.memberCount()), topic})
	}
	_ = u.messageFromServer("323", []string{"End of /LIST"})
	return nil
}

// cmdMode implements channel and user MODE. User-mode MODE targets u
// itself (component G); channel MODE dispatches to the channel actor's
// ApplyModes (component H).
func cmdMode(u *LocalUser, m Message, emit func(Message)) error {
	target, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}

	if len(target) > 0 && strings.ContainsRune(channelTypes, rune(target[0])) {
		return cmdChannelMode(u, target, m, emit)
	}
	return cmdUserMode(u, target, m, emit)
}

func cmdChannelMode(u *LocalUser, target string, m Message, emit func(Message)) error {
	name := canonicalizeChannel(target)
	ch := u.Catbox.lookupChannel(name)
	if ch == nil {
		emit(numericMsg(u, "403", target, "No such channel"))
		return nil
	}

	modeStr, hasModes := m.Arg(1)
	if !hasModes {
		modes := ch.snapshotModes()
		emit(numericMsg(u, "324", target, modes.String()))
		return nil
	}

	isOper := u.User.isOperator()
	result := ch.applyModes(applyModesData{senderUID: u.User.UID, modeStr: modeStr, args: m.Params[2:], force: isOper})
	if !result.ok {
		emit(numericMsg(u, "482", target, result.reason))
		return nil
	}
	if result.appliedM == "" {
		return nil
	}

	params := append([]string{target, result.appliedM}, result.appliedA...)
	modeMsg := Message{Prefix: u.User.nickUhost(), Command: "MODE", Params: params}
	ch.broadcastLocal(modeMsg, "")
	u.User.messageUser(modeMsg)

	ts := ch.snapshotTS()
	for _, ls := range u.Catbox.LocalServers {
		tmodeParams := append([]string{fmt.Sprintf("%d", ts), target, result.appliedM}, result.appliedA...)
		_ = ls.maybeQueueMessage(Message{Prefix: string(u.User.UID), Command: "TMODE", Params: tmodeParams})
	}
	return nil
}

func (ch *Channel) snapshotTS() int64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.TS
}

func cmdUserMode(u *LocalUser, target string, m Message, emit func(Message)) error {
	if canonicalizeNick(target) != canonicalizeNick(u.User.DisplayNick) {
		emit(numericMsg(u, "502", "Cannot change mode for other users"))
		return nil
	}
	modeStr, hasModes := m.Arg(1)
	if !hasModes {
		emit(numericMsg(u, "221", u.User.Modes.String()))
		return nil
	}

	adding := true
	var applied strings.Builder
	for _, c := range modeStr {
		switch c {
		case '+':
			adding = true
		case '-':
			adding = false
		case 'i', 'w', 'Z', 'R', 'T', 'B', 'x':
			if c == 'Z' || c == 'x' {
				continue // not user-settable; server-assigned only
			}
			setSimpleUserFlag(&u.User.Modes, byte(c), adding)
			applied.WriteByte(signByte(adding))
			applied.WriteByte(byte(c))
		case 'o':
			if !adding {
				u.User.Modes.Oper = false
				delete(u.Catbox.Opers, u.User.UID)
				applied.WriteByte('-')
				applied.WriteByte('o')
			}
		}
	}
	if applied.Len() > 0 {
		_ = u.messageFromServer("MODE", []string{u.User.DisplayNick, applied.String()})
	}
	return nil
}

func setSimpleUserFlag(m *UserModes, c byte, on bool) {
	switch c {
	case 'i':
		m.Invisible = on
	case 'w':
		m.Wallops = on
	case 'R':
		m.RegisteredPMs = on
	case 'T':
		m.NoCTCP = on
	case 'B':
		m.Bot = on
	}
}

// cmdKick implements KICK.
func cmdKick(u *LocalUser, m Message, emit func(Message)) error {
	chanArg, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	nickArg, ok := m.Arg(1)
	if !ok {
		return ErrNeedMoreParams
	}
	reason := firstOr(m, 2, u.User.DisplayNick)

	name := canonicalizeChannel(chanArg)
	ch := u.Catbox.lookupChannel(name)
	if ch == nil {
		emit(numericMsg(u, "403", chanArg, "No such channel"))
		return nil
	}
	target := u.Catbox.lookupUser(nickArg)
	if target == nil {
		emit(numericMsg(u, "401", nickArg, "No such nick/channel"))
		return nil
	}

	outcome := ch.kick(kickData{
		senderUID:    u.User.UID,
		senderPrefix: u.User.nickUhost(),
		targetUID:    target.UID,
		reason:       reason,
		force:        u.User.isOperator(),
	})
	if !outcome.ok {
		emit(numericMsg(u, "482", chanArg, outcome.reason))
		return nil
	}

	for _, ls := range u.Catbox.LocalServers {
		_ = ls.maybeQueueMessage(Message{Prefix: string(u.User.UID), Command: "KICK",
			Params: []string{chanArg, string(target.UID), reason}})
	}
	return nil
}

// cmdInvite implements INVITE.
func cmdInvite(u *LocalUser, m Message, emit func(Message)) error {
	nick, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	chanName, ok := m.Arg(1)
	if !ok {
		return ErrNeedMoreParams
	}
	target := u.Catbox.lookupUser(nick)
	if target == nil {
		emit(numericMsg(u, "401", nick, "No such nick/channel"))
		return nil
	}
	name := canonicalizeChannel(chanName)
	if ch := u.Catbox.lookupChannel(name); ch != nil {
		if !u.User.onChannel(ch) {
			emit(numericMsg(u, "442", chanName, "You're not on that channel"))
			return nil
		}
		modes := ch.snapshotModes()
		mm := ch.memberModes(u.User.UID)
		if modes.InviteOnly && !modes.FreeInvite && !mm.Op && !mm.Admin && !mm.Owner {
			emit(numericMsg(u, "482", chanName, "You're not channel operator"))
			return nil
		}
	}

	if target.isLocal() {
		target.LocalUser.Session.Reg.Invited = append(target.LocalUser.Session.Reg.Invited, name)
		_ = target.LocalUser.messageFromServer("INVITE", []string{target.DisplayNick, chanName})
	} else {
		deliverToUser(u.Catbox, target, Message{Prefix: u.User.nickUhost(), Command: "INVITE",
			Params: []string{target.DisplayNick, chanName}})
	}
	emit(numericMsg(u, "341", nick, chanName))
	return nil
}

// cmdKnock implements the draft KNOCK extension (supplemented feature):
// notifies channel ops that a user wants an invite to a +i channel.
func cmdKnock(u *LocalUser, m Message, emit func(Message)) error {
	chanName, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	ch := u.Catbox.lookupChannel(canonicalizeChannel(chanName))
	if ch == nil {
		emit(numericMsg(u, "403", chanName, "No such channel"))
		return nil
	}
	notice := Message{Prefix: u.Catbox.Config.ServerName, Command: "NOTICE",
		Params: []string{chanName, fmt.Sprintf("[Knock] by %s (%s)", u.User.nickUhost(), chanName)}}
	for _, uid := range ch.snapshotMembersUIDs() {
		other, ok := u.Catbox.Users[uid]
		if !ok || !other.isLocal() {
			continue
		}
		mm := ch.memberModes(uid)
		if mm.Op || mm.Admin || mm.Owner {
			other.messageUser(notice)
		}
	}
	return nil
}

// cmdCycle implements CYCLE (supplemented): PART then JOIN in one step,
// used to refresh ban/status state. The rejoin runs the normal join
// checks; an invite was used up by the earlier join, so an invite-only
// channel turns the rejoin away unless the user is invited again.
func cmdCycle(u *LocalUser, m Message, emit func(Message)) error {
	name, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	u.part(name, "Cycling")
	joinOneChannel(u, name, "", emit)
	return nil
}
