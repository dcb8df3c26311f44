package main

import (
	"net"
	"strconv"
	"strings"
	"time"
)

type serverRelayFunc func(ls *LocalServer, m Message)

var serverRelayHandlers map[string]serverRelayFunc

func init() {
	serverRelayHandlers = map[string]serverRelayFunc{
		"SID":     relaySID,
		"UID":     relayUID,
		"NICK":    relayNick,
		"QUIT":    relayQuit,
		"SJOIN":   relaySJoin,
		"TMODE":   relayTMode,
		"TOPIC":   relayTopic,
		"PRIVMSG": relayPrivmsg,
		"NOTICE":  relayNotice,
		"TAGMSG":  relayTagmsg,
		"PING":    relayPing,
		"PONG":    relayPong,
		"KILL":    relayKill,
		"SQUIT":   relaySquit,
		"ENCAP":   relayEncap,
		"PART":    relayPart,
		"AWAY":    relayAway,
	}
}

// relaySID introduces a server reached through ls (spec §4.L propagation).
func relaySID(ls *LocalServer, m Message) {
	if len(m.Params) < 3 {
		return
	}
	name, hop, sid := m.Params[0], m.Params[1], TS6SID(m.Params[2])
	cb := ls.Catbox
	if _, exists := cb.Servers[sid]; exists {
		return
	}
	hc, _ := strconv.Atoi(hop)
	cb.Servers[sid] = &Server{SID: sid, Name: name, HopCount: hc, Parent: ls.SID}
	cb.broadcastToServers(m, ls.SID)
}

// relayUID introduces a remote user (spec §4.L UID propagation / nick
// collision resolution via NickTS).
func relayUID(ls *LocalServer, m Message) {
	if len(m.Params) < 9 {
		return
	}
	cb := ls.Catbox
	nick := m.Params[0]
	nickTS, _ := strconv.ParseInt(m.Params[2], 10, 64)
	modesStr := m.Params[3]
	username := m.Params[4]
	host := m.Params[5]
	ipStr := m.Params[6]
	uid := TS6UID(m.Params[7])
	realname := m.Params[8]

	lower := canonicalizeNick(nick)
	if existingUID, taken := cb.Nicks[lower]; taken {
		if existing, ok := cb.Users[existingUID]; ok {
			switch {
			case existing.NickTS == nickTS:
				// Tie: spec §4.L/§8.6 "equal -> kill both". Neither side
				// resolves the collision in its own favor; the existing
				// occupant is removed here and the incoming UID is killed
				// back toward the peer that just introduced it.
				if existing.isLocal() {
					existing.LocalUser.quit("Nickname collision")
				} else {
					cb.removeRemoteUser(existing, "Nickname collision")
				}
				ls.sendKill(uid, "Nickname collision")
				return
			case existing.NickTS < nickTS:
				// Existing has the winning (lower) NickTS: the incoming
				// UID loses and is killed back toward its origin link,
				// and the introduction is not applied locally.
				ls.sendKill(uid, "Nickname collision")
				return
			default:
				// Incoming has the winning (lower) NickTS: force the
				// existing occupant off, whether local or remote.
				if existing.isLocal() {
					existing.LocalUser.quit("Nickname collision")
				} else {
					cb.removeRemoteUser(existing, "Nickname collision")
				}
			}
		}
	}

	u := &User{
		DisplayNick: nick,
		NickTS:      nickTS,
		Username:    username,
		Hostname:    host,
		VisibleHost: host,
		UID:         uid,
		RealName:    realname,
		Channels:    make(map[string]*Channel),
		Server:      cb.Servers[ls.SID],
	}
	if ip := net.ParseIP(ipStr); ip != nil {
		u.IP = ip
	}
	applyUserModeString(&u.Modes, modesStr)

	cb.Users[uid] = u
	cb.Nicks[lower] = uid

	cb.broadcastToServers(m, ls.SID)
}

func applyUserModeString(modes *UserModes, s string) {
	for _, c := range s {
		switch c {
		case 'i':
			modes.Invisible = true
		case 'w':
			modes.Wallops = true
		case 'o':
			modes.Oper = true
		case 'r':
			modes.Registered = true
		case 'Z':
			modes.Secure = true
		case 'R':
			modes.RegisteredPMs = true
		case 'T':
			modes.NoCTCP = true
		case 'B':
			modes.Bot = true
		case 'S':
			modes.Service = true
		case 'x':
			modes.MaskedHost = true
		}
	}
}

func relayNick(ls *LocalServer, m Message) {
	if len(m.Params) < 3 {
		return
	}
	cb := ls.Catbox
	uid := TS6UID(m.Params[0])
	newNick := m.Params[1]
	nickTS, _ := strconv.ParseInt(m.Params[2], 10, 64)

	u, ok := cb.Users[uid]
	if !ok {
		return
	}
	delete(cb.Nicks, canonicalizeNick(u.DisplayNick))
	u.DisplayNick = newNick
	u.NickTS = nickTS
	cb.Nicks[canonicalizeNick(newNick)] = uid

	cb.broadcastToServers(m, ls.SID)
}

func relayQuit(ls *LocalServer, m Message) {
	if len(m.Params) < 1 {
		return
	}
	cb := ls.Catbox
	uid := TS6UID(m.Params[0])
	reason := ""
	if v, ok := m.Arg(1); ok {
		reason = v
	}
	u, ok := cb.Users[uid]
	if !ok {
		return
	}
	cb.removeRemoteUser(u, reason)

	cb.broadcastToServers(m, ls.SID)
}

// removeRemoteUser tears down a remote user's local bookkeeping (channel
// membership, nick index, WHOWAS ring) without touching any connection -
// used both for an ordinary relayed QUIT and for the losing/overwritten
// side of a nick collision resolved against a remote UID (spec §4.L).
func (cb *Catbox) removeRemoteUser(u *User, reason string) {
	informed := map[TS6UID]struct{}{u.UID: {}}
	for name := range u.Channels {
		ch := cb.lookupChannel(name)
		if ch == nil {
			continue
		}
		ch.quitMember(u, reason, informed)
	}
	whowasHistory.record(u)
	delete(cb.Nicks, canonicalizeNick(u.DisplayNick))
	delete(cb.Users, u.UID)
}

func relaySJoin(ls *LocalServer, m Message) {
	if len(m.Params) < 4 {
		return
	}
	cb := ls.Catbox
	ts, _ := strconv.ParseInt(m.Params[0], 10, 64)
	name := canonicalizeChannel(m.Params[1])
	modes := parseChannelModeString(m.Params[2])
	userList := strings.Fields(m.Params[3])

	ch, _ := cb.getOrCreateChannel(name, ts)

	var users []sjoinUser
	for _, tok := range userList {
		i := 0
		for i < len(tok) && strings.ContainsRune("~&@%+", rune(tok[i])) {
			i++
		}
		users = append(users, sjoinUser{Prefix: tok[:i], UID: TS6UID(tok[i:])})
	}
	ch.sjoin(sjoinData{ts: ts, modes: modes, users: users})

	for _, su := range users {
		if u, ok := cb.Users[su.UID]; ok {
			u.Channels[name] = ch
		}
	}

	cb.broadcastToServers(m, ls.SID)
}

func parseChannelModeString(s string) ChannelModes {
	var cm ChannelModes
	for _, c := range s {
		switch c {
		case 'n':
			cm.NoExternal = true
		case 't':
			cm.TopicLock = true
		case 'i':
			cm.InviteOnly = true
		case 'm':
			cm.Moderated = true
		case 's':
			cm.Secret = true
		case 'r':
			cm.RegisteredOnly = true
		case 'c':
			cm.NoColors = true
		case 'C':
			cm.NoCTCP = true
		case 'N':
			cm.NoNotice = true
		case 'S':
			cm.TLSOnly = true
		case 'Q':
			cm.Quiet = true
		case 'P':
			cm.Permanent = true
		case 'g':
			cm.FreeInvite = true
		}
	}
	return cm
}

// relayTMode applies a remote channel MODE change (spec §4.L TMODE: TS is
// carried so a stale mode change against a channel the receiver has
// already seen a newer SJOIN/TMODE for is rejected).
func relayTMode(ls *LocalServer, m Message) {
	if len(m.Params) < 3 {
		return
	}
	cb := ls.Catbox
	ts, _ := strconv.ParseInt(m.Params[0], 10, 64)
	name := canonicalizeChannel(m.Params[1])
	ch := cb.lookupChannel(name)
	if ch == nil {
		return
	}
	modes, targets := applyModeTokens(m.Params[2], m.Params[3:])
	ch.remoteMode(remoteModeData{ts: ts, setter: m.SourceNick(), modes: modes, targets: targets})
	cb.broadcastToServers(m, ls.SID)
}

func applyModeTokens(modeStr string, args []string) (ChannelModes, map[TS6UID]MemberModes) {
	cm := parseChannelModeString(modeStr)
	targets := make(map[TS6UID]MemberModes)
	argi := 0
	adding := true
	for _, c := range modeStr {
		switch c {
		case '+':
			adding = true
		case '-':
			adding = false
		case 'o', 'v', 'h', 'a', 'q':
			if argi < len(args) {
				uid := TS6UID(args[argi])
				argi++
				mm := targets[uid]
				switch c {
				case 'o':
					mm.Op = adding
				case 'v':
					mm.Voice = adding
				case 'h':
					mm.Halfop = adding
				case 'a':
					mm.Admin = adding
				case 'q':
					mm.Owner = adding
				}
				targets[uid] = mm
			}
		case 'k', 'l':
			argi++
		}
	}
	return cm, targets
}

func relayTopic(ls *LocalServer, m Message) {
	if len(m.Params) < 2 {
		return
	}
	cb := ls.Catbox
	name := canonicalizeChannel(m.Params[0])
	ch := cb.lookupChannel(name)
	if ch == nil {
		return
	}
	text := m.Params[len(m.Params)-1]
	ch.remoteTopic(remoteTopicData{ts: nowUnix(), setter: m.SourceNick(), text: text})
	cb.broadcastToServers(m, ls.SID)
}

func nowUnix() int64 { return time.Now().Unix() }

func relayPrivmsg(ls *LocalServer, m Message) { relayMessage(ls, m, "PRIVMSG") }
func relayNotice(ls *LocalServer, m Message)  { relayMessage(ls, m, "NOTICE") }
func relayTagmsg(ls *LocalServer, m Message)  { relayMessage(ls, m, "TAGMSG") }

// relayMessage routes a remote PRIVMSG/NOTICE/TAGMSG to its local target
// (user UID or channel) and continues split-horizon propagation if the
// target is a channel (so other branches of the mesh also see it).
func relayMessage(ls *LocalServer, m Message, kind string) {
	if len(m.Params) < 1 {
		return
	}
	cb := ls.Catbox
	target := m.Params[0]

	if len(target) > 0 && strings.ContainsRune(channelTypes, rune(target[0])) {
		ch := cb.lookupChannel(canonicalizeChannel(target))
		if ch != nil {
			ch.broadcastLocal(m, "")
		}
		cb.broadcastToServers(m, ls.SID)
		return
	}

	if u, ok := cb.Users[TS6UID(target)]; ok {
		if u.isLocal() {
			u.messageUser(m)
			return
		}
		if sid, ok := cb.nextHopSID(u.Server.SID); ok {
			if next, ok := cb.LocalServers[sid]; ok {
				_ = next.maybeQueueMessage(m)
			}
		}
	}
}

func relayPing(ls *LocalServer, m Message) {
	_ = ls.messageFromServer("PONG", append([]string{ls.Catbox.Config.ServerName}, m.Params...))
}

func relayPong(ls *LocalServer, m Message) {
	ls.setLastActivityTime(time.Now())
}

// relayKill enforces a remote KILL against a local user (spec §4.L "KILL
// of a user whose closest server is us disconnects that user locally").
func relayKill(ls *LocalServer, m Message) {
	if len(m.Params) < 1 {
		return
	}
	cb := ls.Catbox
	uid := TS6UID(m.Params[0])
	reason := "Killed"
	if v, ok := m.Arg(1); ok {
		reason = v
	}
	if u, ok := cb.Users[uid]; ok && u.isLocal() {
		u.LocalUser.quit("Killed: " + reason)
	}
	cb.broadcastToServers(m, ls.SID)
}

// relaySquit tears down the named server's subtree as a netsplit,
// mirroring LocalServer.quit's effect but triggered remotely.
func relaySquit(ls *LocalServer, m Message) {
	if len(m.Params) < 1 {
		return
	}
	cb := ls.Catbox
	sid := TS6SID(m.Params[0])
	if peer, ok := cb.LocalServers[sid]; ok {
		peer.quit("Remote SQUIT")
		return
	}
	// Non-adjacent SID: drop every user whose Server.SID matches and any
	// child servers, without tearing down our own link to ls.
	var toRemove []TS6UID
	for uid, u := range cb.Users {
		if u.Server != nil && u.Server.SID == sid {
			toRemove = append(toRemove, uid)
		}
	}
	for _, uid := range toRemove {
		u := cb.Users[uid]
		informed := map[TS6UID]struct{}{uid: {}}
		for name := range u.Channels {
			if ch := cb.lookupChannel(name); ch != nil {
				ch.quitMember(u, "*.net *.split", informed)
			}
		}
		delete(cb.Nicks, canonicalizeNick(u.DisplayNick))
		delete(cb.Users, uid)
	}
	delete(cb.Servers, sid)
	cb.broadcastToServers(m, ls.SID)
}

// relayEncap implements the ENCAP wrapper (spec §4.L): ENCAP <target-mask>
// <subcommand> <params...>, forwarded unchanged to matching servers and
// unwrapped locally when we are a match.
func relayEncap(ls *LocalServer, m Message) {
	if len(m.Params) < 2 {
		return
	}
	cb := ls.Catbox
	mask := m.Params[0]
	if matchesMask(mask, cb.Config.ServerName) || mask == "*" {
		inner := Message{Prefix: m.Prefix, Command: m.Params[1], Params: m.Params[2:]}
		if h, ok := serverRelayHandlers[inner.Command]; ok {
			h(ls, inner)
		}
	}
	cb.broadcastToServers(m, ls.SID)
}

func relayPart(ls *LocalServer, m Message) {
	if len(m.Params) < 1 {
		return
	}
	cb := ls.Catbox
	name := canonicalizeChannel(m.Params[0])
	ch := cb.lookupChannel(name)
	if ch == nil {
		return
	}
	uid := TS6UID(m.Prefix)
	u, ok := cb.Users[uid]
	if !ok {
		return
	}
	reason := ""
	if v, ok := m.Arg(1); ok {
		reason = v
	}
	ch.part(u, reason)
	cb.broadcastToServers(m, ls.SID)
}

func relayAway(ls *LocalServer, m Message) {
	cb := ls.Catbox
	uid := TS6UID(m.Prefix)
	u, ok := cb.Users[uid]
	if !ok {
		return
	}
	if v, ok := m.Arg(0); ok {
		u.Away = v
	} else {
		u.Away = ""
	}
	cb.broadcastToServers(m, ls.SID)
}
