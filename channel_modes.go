package main

import (
	"strings"
	"time"
)

// applyModesData is the local MODE command's actor event payload (spec
// §4.H "ApplyModes{sender_uid, sender_prefix, modes, target_uids,
// force}"). force=true bypasses the op requirement (SAMODE/oper override).
type applyModesData struct {
	senderUID TS6UID
	modeStr   string
	args      []string
	force     bool
}

// modesResult is what ApplyModes reports back to the command handler: the
// mode string/args actually applied (after MLOCK and nonsense filtering),
// for echoing to the channel and propagating as TMODE.
type modesResult struct {
	ok       bool
	reason   string
	appliedM string
	appliedA []string
}

func (ch *Channel) applyModes(d applyModesData) modesResult {
	reply := make(chan interface{})
	ch.events <- channelEvent{kind: evApplyModes, data: d, reply: reply}
	return (<-reply).(modesResult)
}

// doApplyModes runs on the channel's own goroutine: the single-writer
// discipline spec §3.8 requires for all channel mutation.
func (ch *Channel) doApplyModes(d applyModesData) modesResult {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !d.force {
		mm := ch.Members[d.senderUID]
		if !mm.Op && !mm.Admin && !mm.Owner {
			return modesResult{ok: false, reason: "You're not a channel operator"}
		}
	}

	var outFlags strings.Builder
	var outArgs []string
	adding := true
	argi := 0
	nextArg := func() (string, bool) {
		if argi < len(d.args) {
			v := d.args[argi]
			argi++
			return v, true
		}
		return "", false
	}

	appendFlag := func(c byte, sign byte) {
		if outFlags.Len() == 0 || outFlags.String()[outFlags.Len()-1] != sign {
			outFlags.WriteByte(sign)
		}
		outFlags.WriteByte(c)
	}

	locked := func(c byte) bool { return strings.IndexByte(ch.MLock, c) != -1 }

	for _, c := range d.modeStr {
		switch c {
		case '+':
			adding = true
		case '-':
			adding = false
		case 'n', 't', 'i', 'm', 's', 'r', 'c', 'C', 'N', 'S', 'Q', 'P', 'g':
			if locked(byte(c)) {
				continue
			}
			setSimpleChannelFlag(&ch.Modes, byte(c), adding)
			appendFlag(byte(c), signByte(adding))
		case 'k':
			if locked('k') {
				continue
			}
			if adding {
				key, ok := nextArg()
				if !ok {
					continue
				}
				ch.Modes.Key = true
				ch.Modes.KeyValue = key
				appendFlag('k', '+')
				outArgs = append(outArgs, key)
			} else {
				_, _ = nextArg()
				ch.Modes.Key = false
				ch.Modes.KeyValue = ""
				appendFlag('k', '-')
			}
		case 'l':
			if locked('l') {
				continue
			}
			if adding {
				lim, ok := nextArg()
				if !ok {
					continue
				}
				n := atoiDefault(lim, 0)
				ch.Modes.MemberLimit = true
				ch.Modes.Limit = n
				appendFlag('l', '+')
				outArgs = append(outArgs, lim)
			} else {
				ch.Modes.MemberLimit = false
				ch.Modes.Limit = 0
				appendFlag('l', '-')
			}
		case 'o', 'v', 'h', 'a', 'q':
			target, ok := nextArg()
			if !ok {
				continue
			}
			uid := TS6UID(target)
			mm, isMember := ch.Members[uid]
			if !isMember {
				continue
			}
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
			ch.Members[uid] = mm
			appendFlag(byte(c), signByte(adding))
			outArgs = append(outArgs, target)
		case 'b':
			mask, ok := nextArg()
			if !ok {
				continue
			}
			if adding {
				ch.Bans = append(ch.Bans, BanEntry{Mask: mask, SetAt: time.Now().Unix()})
			} else {
				ch.Bans = removeBanEntry(ch.Bans, mask)
			}
			appendFlag('b', signByte(adding))
			outArgs = append(outArgs, mask)
		case 'e':
			mask, ok := nextArg()
			if !ok {
				continue
			}
			if adding {
				ch.Excepts = append(ch.Excepts, BanEntry{Mask: mask, SetAt: time.Now().Unix()})
			} else {
				ch.Excepts = removeBanEntry(ch.Excepts, mask)
			}
			appendFlag('e', signByte(adding))
			outArgs = append(outArgs, mask)
		case 'I':
			mask, ok := nextArg()
			if !ok {
				continue
			}
			if adding {
				ch.Invex = append(ch.Invex, BanEntry{Mask: mask, SetAt: time.Now().Unix()})
			} else {
				ch.Invex = removeBanEntry(ch.Invex, mask)
			}
			appendFlag('I', signByte(adding))
			outArgs = append(outArgs, mask)
		}
	}

	return modesResult{ok: true, appliedM: outFlags.String(), appliedA: outArgs}
}

func signByte(adding bool) byte {
	if adding {
		return '+'
	}
	return '-'
}

func setSimpleChannelFlag(m *ChannelModes, c byte, on bool) {
	switch c {
	case 'n':
		m.NoExternal = on
	case 't':
		m.TopicLock = on
	case 'i':
		m.InviteOnly = on
	case 'm':
		m.Moderated = on
	case 's':
		m.Secret = on
	case 'r':
		m.RegisteredOnly = on
	case 'c':
		m.NoColors = on
	case 'C':
		m.NoCTCP = on
	case 'N':
		m.NoNotice = on
	case 'S':
		m.TLSOnly = on
	case 'Q':
		m.Quiet = on
	case 'P':
		m.Permanent = on
	case 'g':
		m.FreeInvite = on
	}
}

func removeBanEntry(list []BanEntry, mask string) []BanEntry {
	for i, b := range list {
		if b.Mask == mask {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func atoiDefault(s string, def int) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return def
		}
		n = n*10 + int(s[i]-'0')
	}
	if s == "" {
		return def
	}
	return n
}

// kickData/doKick implements local KICK (spec §4.H), requiring the
// sender to be at least op unless force (SAKICK-style oper override,
// folded into the same force flag ApplyModes uses).
type kickData struct {
	senderUID   TS6UID
	senderPrefix string
	targetUID   TS6UID
	reason      string
	force       bool
}

type kickOutcome struct {
	ok     bool
	reason string
}

func (ch *Channel) kick(d kickData) kickOutcome {
	reply := make(chan interface{})
	ch.events <- channelEvent{kind: evKick, data: d, reply: reply}
	return (<-reply).(kickOutcome)
}

func (ch *Channel) doKick(d kickData) kickOutcome {
	ch.mu.Lock()

	if !d.force {
		mm := ch.Members[d.senderUID]
		if !mm.Op && !mm.Admin && !mm.Owner {
			ch.mu.Unlock()
			return kickOutcome{ok: false, reason: "You're not a channel operator"}
		}
	}
	if _, onChan := ch.Members[d.targetUID]; !onChan {
		ch.mu.Unlock()
		return kickOutcome{ok: false, reason: "They aren't on that channel"}
	}

	delete(ch.Members, d.targetUID)
	empty := len(ch.Members) == 0 && !ch.Modes.Permanent
	members := ch.memberUIDsLocked()
	ch.mu.Unlock()

	kickMsg := Message{Prefix: d.senderPrefix, Command: "KICK", Params: []string{ch.Name, string(d.targetUID), d.reason}}
	for _, uid := range members {
		if other, ok := ch.catbox.Users[uid]; ok && other.isLocal() {
			other.messageUser(kickMsg)
		}
	}
	if target, ok := ch.catbox.Users[d.targetUID]; ok {
		delete(target.Channels, ch.Name)
		if target.isLocal() {
			target.messageUser(kickMsg)
		}
	}

	ch.catbox.broadcastToServers(kickMsg, TS6SID(""))

	if empty {
		ch.catbox.removeChannel(ch.Name)
	}
	return kickOutcome{ok: true}
}

// remoteKickData/doRemoteKick applies an S2S KICK without a local
// permission check (the originating server already authorized it).
type remoteKickData struct {
	senderPrefix string
	targetUID    TS6UID
	reason       string
}

func (ch *Channel) remoteKick(d remoteKickData) {
	reply := make(chan interface{})
	ch.events <- channelEvent{kind: evRemoteKick, data: d, reply: reply}
	<-reply
}

func (ch *Channel) doRemoteKick(d remoteKickData) {
	ch.mu.Lock()
	delete(ch.Members, d.targetUID)
	empty := len(ch.Members) == 0 && !ch.Modes.Permanent
	members := ch.memberUIDsLocked()
	ch.mu.Unlock()

	kickMsg := Message{Prefix: d.senderPrefix, Command: "KICK", Params: []string{ch.Name, string(d.targetUID), d.reason}}
	for _, uid := range members {
		if other, ok := ch.catbox.Users[uid]; ok && other.isLocal() {
			other.messageUser(kickMsg)
		}
	}
	if target, ok := ch.catbox.Users[d.targetUID]; ok {
		delete(target.Channels, ch.Name)
		if target.isLocal() {
			target.messageUser(kickMsg)
		}
	}
	if empty {
		ch.catbox.removeChannel(ch.Name)
	}
}
