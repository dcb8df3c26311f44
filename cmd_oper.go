package main

import (
	"fmt"
	"strconv"
	"strings"
)

// cmdOper implements OPER (spec §4.M): flat name/password match against
// the teacher's Config.Opers map, same credential as the original
// opers-config file.
func cmdOper(u *LocalUser, m Message, emit func(Message)) error {
	name, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	pass, ok := m.Arg(1)
	if !ok {
		return ErrNeedMoreParams
	}

	want, configured := u.Catbox.Config.Opers[name]
	if !configured || want != pass {
		emit(numericMsg(u, "464", "Password incorrect"))
		return nil
	}

	u.User.Modes.Oper = true
	u.Catbox.Opers[u.User.UID] = struct{}{}
	emit(numericMsg(u, "381", "You are now an IRC operator"))
	_ = u.messageFromServer("MODE", []string{u.User.DisplayNick, "+o"})
	u.Catbox.noticeOpers("%s is now an operator", u.User.nickUhost())
	return nil
}

// cmdKill implements KILL: oper-only forced disconnect of a user, local or
// remote (relayed as KILL and applied by relayKill on the far side).
func cmdKill(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	nick, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	reason := firstOr(m, 1, "No reason given")

	target := u.Catbox.lookupUser(nick)
	if target == nil {
		emit(numericMsg(u, "401", nick, "No such nick/channel"))
		return nil
	}

	fullReason := fmt.Sprintf("%s (%s)", u.Catbox.Config.ServerName, reason)
	if target.isLocal() {
		target.LocalUser.quit("Killed (" + u.User.DisplayNick + " (" + reason + "))")
	}
	u.Catbox.broadcastToServers(Message{Prefix: string(u.User.UID), Command: "KILL",
		Params: []string{string(target.UID), fullReason}}, "")
	return nil
}

// cmdWallops implements WALLOPS: oper-only broadcast to every local user
// with +w set.
func cmdWallops(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	text, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	wallopsMsg := Message{Prefix: u.User.nickUhost(), Command: "WALLOPS", Params: []string{text}}
	for _, other := range u.Catbox.Users {
		if other.isLocal() && other.LocalUser.User.Modes.Wallops {
			other.messageUser(wallopsMsg)
		}
	}
	u.Catbox.broadcastToServers(wallopsMsg, "")
	return nil
}

// cmdGlobops implements GLOBOPS (supplemented, common ircd extension):
// oper-only broadcast to every local operator network-wide.
func cmdGlobops(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	text, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	u.Catbox.noticeOpers("*** Global -- from %s: %s", u.User.nickUhost(), text)
	u.Catbox.broadcastToServers(Message{Prefix: string(u.User.UID), Command: "GLOBOPS",
		Params: []string{text}}, "")
	return nil
}

// cmdDie implements DIE: oper-only immediate shutdown.
func cmdDie(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	u.Catbox.noticeOpers("Server shutting down by request of %s", u.User.nickUhost())
	u.Catbox.shutdown()
	return nil
}

// cmdRehash implements REHASH: oper-only. It replies RPL_REHASHING and
// notices opers; it reloads no configuration (MOTD, opers and extras stay
// as loaded at startup) and reads no arguments.
func cmdRehash(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	emit(numericMsg(u, "382", u.Catbox.Config.ServerName, "Rehashing"))
	u.Catbox.noticeOpers("%s is rehashing server config", u.User.nickUhost())
	return nil
}

// cmdRestart implements RESTART: oper-only, equivalent to DIE here since
// this process doesn't re-exec itself (supervised restart is expected to
// be handled by the process manager).
func cmdRestart(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	u.Catbox.noticeOpers("Server restarting by request of %s", u.User.nickUhost())
	u.Catbox.shutdown()
	return nil
}

// cmdChghost implements CHGHOST: oper-only visible-host change, propagated
// to peers and to every local user sharing a channel with the target
// (spec supplement, common services-facing extension).
func cmdChghost(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	nick, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	newHost, ok := m.Arg(1)
	if !ok {
		return ErrNeedMoreParams
	}
	target := u.Catbox.lookupUser(nick)
	if target == nil {
		emit(numericMsg(u, "401", nick, "No such nick/channel"))
		return nil
	}

	target.VisibleHost = newHost
	chghostMsg := Message{Prefix: target.nickUhost(), Command: "CHGHOST",
		Params: []string{target.Username, newHost}}
	broadcastToSharedChannels(u.Catbox, target, chghostMsg, "chghost")
	u.Catbox.broadcastToServers(Message{Prefix: string(u.User.UID), Command: "CHGHOST",
		Params: []string{string(target.UID), newHost}}, "")
	return nil
}

// cmdChgident implements CHGIDENT: oper-only username change (spec
// supplement, paired with CHGHOST).
func cmdChgident(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	nick, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	newIdent, ok := m.Arg(1)
	if !ok {
		return ErrNeedMoreParams
	}
	target := u.Catbox.lookupUser(nick)
	if target == nil {
		emit(numericMsg(u, "401", nick, "No such nick/channel"))
		return nil
	}
	target.Username = newIdent
	u.Catbox.broadcastToServers(Message{Prefix: string(u.User.UID), Command: "CHGIDENT",
		Params: []string{string(target.UID), newIdent}}, "")
	return nil
}

// cmdVhost implements VHOST: a user setting their own visible host to
// the host argument (spec supplement, self-service variant of CHGHOST,
// not oper-gated since it only ever targets the caller). Any host given
// is accepted; there is no list of preconfigured vhosts.
func cmdVhost(u *LocalUser, m Message, emit func(Message)) error {
	host, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	u.User.VisibleHost = host
	vhostMsg := Message{Prefix: u.User.nickUhost(), Command: "CHGHOST",
		Params: []string{u.User.Username, host}}
	broadcastToSharedChannels(u.Catbox, u.User, vhostMsg, "chghost")
	u.Catbox.broadcastToServers(Message{Prefix: string(u.User.UID), Command: "CHGHOST",
		Params: []string{string(u.User.UID), host}}, "")
	return nil
}

// broadcastToSharedChannels informs every local user sharing a channel
// with target, capability-gated, used by CHGHOST/VHOST/CHGIDENT-style
// fanout that must reach bystanders, not just the target.
func broadcastToSharedChannels(cb *Catbox, target *User, m Message, cap string) {
	informed := map[TS6UID]struct{}{}
	for name := range target.Channels {
		ch := cb.lookupChannel(name)
		if ch == nil {
			continue
		}
		for _, uid := range ch.snapshotMembersUIDs() {
			if _, done := informed[uid]; done {
				continue
			}
			informed[uid] = struct{}{}
			other, ok := cb.Users[uid]
			if !ok || !other.isLocal() || (cap != "" && !other.LocalUser.HasCap(cap)) {
				continue
			}
			_ = other.LocalUser.maybeQueueMessage(m)
		}
	}
}

// cmdTrace implements TRACE: oper-only connection/server topology dump.
func cmdTrace(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	for _, srv := range u.Catbox.serverTreeNames() {
		emit(numericMsg(u, "202", fmt.Sprintf("Server %s hops %d", srv.Name, srv.HopCount)))
	}
	for _, other := range u.Catbox.Users {
		if !other.isLocal() {
			continue
		}
		class := "User"
		if other.isOperator() {
			class = "Oper"
		}
		emit(numericMsg(u, "204", class, other.DisplayNick))
	}
	emit(numericMsg(u, "262", u.Catbox.Config.ServerName, "End of TRACE"))
	return nil
}

// cmdConnect implements CONNECT: oper-only request to establish an
// outbound link to a configured peer by name (spec §4.L peer dialing).
func cmdConnect(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	name, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}

	var link *ServerLinkConfig
	for i := range u.Catbox.Config.Extra.Servers {
		if u.Catbox.Config.Extra.Servers[i].Name == name {
			link = &u.Catbox.Config.Extra.Servers[i]
			break
		}
	}
	if link == nil {
		emit(numericMsg(u, "402", name, "No such server configured"))
		return nil
	}

	go dialServerLink(u.Catbox, *link)
	u.Catbox.noticeOpers("%s is attempting to link %s", u.User.nickUhost(), name)
	return nil
}

// cmdSquit implements SQUIT: oper-only tear-down of a linked server's
// subtree, local or remote.
func cmdSquit(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	name, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	reason := firstOr(m, 1, "Issued SQUIT")

	for sid, ls := range u.Catbox.LocalServers {
		if ls.Name == name {
			ls.quit(reason)
			u.Catbox.broadcastToServers(Message{Command: "SQUIT", Params: []string{string(sid), reason}}, sid)
			return nil
		}
	}
	for sid, srv := range u.Catbox.Servers {
		if srv.Name == name && !srv.isLocal() {
			if nextHop, ok := u.Catbox.nextHopSID(sid); ok {
				if ls, ok := u.Catbox.LocalServers[nextHop]; ok {
					_ = ls.maybeQueueMessage(Message{Prefix: string(u.User.UID), Command: "SQUIT",
						Params: []string{string(sid), reason}})
					return nil
				}
			}
		}
	}
	emit(numericMsg(u, "402", name, "No such server"))
	return nil
}

// cmdSummon implements SUMMON: historically paged a local shell user,
// permanently unsupported (spec Non-goal, kept only so the command
// dispatches to a defined numeric instead of ERR_UNKNOWNCOMMAND).
func cmdSummon(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "445", "SUMMON has been disabled"))
	return nil
}

// cmdUsers implements USERS: historically listed logged-in shell users,
// permanently unsupported for the same reason as SUMMON.
func cmdUsers(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "446", "USERS has been disabled"))
	return nil
}

// cmdSajoin implements SAJOIN: oper-only forced join (spec supplement,
// services-style admin command). The join goes through joinOneChannel,
// so the key, limit, invite-only and ban checks still apply.
func cmdSajoin(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	nick, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	chanArg, ok := m.Arg(1)
	if !ok {
		return ErrNeedMoreParams
	}
	target := u.Catbox.lookupUser(nick)
	if target == nil || !target.isLocal() {
		emit(numericMsg(u, "401", nick, "No such nick/channel"))
		return nil
	}
	for _, name := range strings.Split(chanArg, ",") {
		joinOneChannel(target.LocalUser, name, "", func(Message) {})
	}
	return nil
}

// cmdSapart implements SAPART: oper-only forced part.
func cmdSapart(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	nick, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	chanArg, ok := m.Arg(1)
	if !ok {
		return ErrNeedMoreParams
	}
	target := u.Catbox.lookupUser(nick)
	if target == nil || !target.isLocal() {
		emit(numericMsg(u, "401", nick, "No such nick/channel"))
		return nil
	}
	for _, name := range strings.Split(chanArg, ",") {
		target.LocalUser.part(name, "Forced part")
		u.Catbox.broadcastToServers(Message{Prefix: string(target.UID), Command: "PART",
			Params: []string{canonicalizeChannel(name), "Forced part"}}, "")
	}
	return nil
}

// cmdSamode implements SAMODE: oper-only channel mode change that bypasses
// the requester's own membership/op status (applyModes is called with
// force set regardless of the acting oper's channel standing).
func cmdSamode(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	target, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	name := canonicalizeChannel(target)
	ch := u.Catbox.lookupChannel(name)
	if ch == nil {
		emit(numericMsg(u, "403", target, "No such channel"))
		return nil
	}
	modeStr, ok := m.Arg(1)
	if !ok {
		return ErrNeedMoreParams
	}
	result := ch.applyModes(applyModesData{senderUID: u.User.UID, modeStr: modeStr, args: m.Params[2:], force: true})
	if result.appliedM == "" {
		return nil
	}
	params := append([]string{target, result.appliedM}, result.appliedA...)
	modeMsg := Message{Prefix: u.User.nickUhost(), Command: "MODE", Params: params}
	ch.broadcastLocal(modeMsg, "")
	u.User.messageUser(modeMsg)
	ts := ch.snapshotTS()
	tmodeParams := append([]string{strconv.FormatInt(ts, 10), target, result.appliedM}, result.appliedA...)
	u.Catbox.broadcastToServers(Message{Prefix: string(u.User.UID), Command: "TMODE", Params: tmodeParams}, "")
	return nil
}

// cmdSanick implements SANICK: oper-only forced nick change.
func cmdSanick(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	nick, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	newNick, ok := m.Arg(1)
	if !ok {
		return ErrNeedMoreParams
	}
	target := u.Catbox.lookupUser(nick)
	if target == nil || !target.isLocal() {
		emit(numericMsg(u, "401", nick, "No such nick/channel"))
		return nil
	}
	maxLen := u.Catbox.Config.MaxNickLength
	if !isValidNick(maxLen, newNick) {
		emit(numericMsg(u, "432", newNick, "Erroneous nickname"))
		return nil
	}
	nickChangeLocal(target.LocalUser, newNick, canonicalizeNick(newNick))
	return nil
}
