package main

import (
	"fmt"
	"time"
)

// Universal commands: valid in every phase (spec §4.E universal_handlers).

func handleQuitUniversal(c *LocalClient, m Message) {
	reason := "Client Quit"
	if v, ok := m.Arg(0); ok {
		reason = v
	}
	if c.LocalUser != nil {
		c.LocalUser.quit("Quit: " + reason)
		return
	}
	if c.LocalServer != nil {
		c.LocalServer.quit("Quit: " + reason)
		return
	}
	c.quit("Quit: " + reason)
}

func handlePingUniversal(c *LocalClient, m Message) {
	arg := c.Catbox.Config.ServerName
	if v, ok := m.Arg(0); ok {
		arg = v
	}
	_ = c.messageFromServer("PONG", []string{c.Catbox.Config.ServerName, arg})
}

func handlePongUniversal(c *LocalClient, m Message) {
	c.setLastActivityTime(time.Now())
}

func handleNickUniversal(c *LocalClient, m Message) {
	nick, ok := m.Arg(0)
	if !ok {
		_ = c.messageFromServer("431", []string{"No nickname given"})
		return
	}

	maxLen := c.Catbox.Config.MaxNickLength
	if len(nick) > maxLen {
		nick = nick[:maxLen]
	}
	if !isValidNick(maxLen, nick) {
		_ = c.messageFromServer("432", []string{nick, "Erroneous nickname"})
		return
	}

	lower := canonicalizeNick(nick)

	if c.LocalUser != nil {
		nickChangeLocal(c.LocalUser, nick, lower)
		return
	}

	// Pre-registration: the teacher's local_client.go deliberately does
	// NOT reserve the nick here ("I no longer flag the nick as taken
	// until registration completes"). Spec §4.F/§9 wants the opposite -
	// centralized reservation so two connections can't race past
	// registration onto the same nick - so we reserve eagerly and the one
	// rollback path is LocalClient.quit.
	if existing, taken := c.Catbox.Nicks[lower]; taken {
		_ = existing
		_ = c.messageFromServer("433", []string{nick, "Nickname is already in use"})
		return
	}
	if c.Session.Unreg.Nick != "" {
		delete(c.Catbox.Nicks, canonicalizeNick(c.Session.Unreg.Nick))
	}
	c.Catbox.Nicks[lower] = TS6UID(fmt.Sprintf("RESERVED-%d", c.ID))
	c.Session.Unreg.Nick = nick

	if c.canRegister() {
		c.registerUser()
	}
}

func nickChangeLocal(u *LocalUser, nick, lower string) {
	cb := u.Catbox
	if existingUID, taken := cb.Nicks[lower]; taken && existingUID != u.User.UID {
		_ = u.messageFromServer("433", []string{nick, "Nickname is already in use"})
		return
	}

	old := u.User.DisplayNick
	oldLower := canonicalizeNick(old)
	whowasHistory.record(u.User)

	delete(cb.Nicks, oldLower)
	cb.Nicks[lower] = u.User.UID
	u.User.DisplayNick = nick
	u.User.NickTS = time.Now().Unix()

	nickMsg := Message{Prefix: old + "!" + u.User.Username + "@" + u.User.VisibleHost,
		Command: "NICK", Params: []string{nick}}

	informed := map[TS6UID]struct{}{u.User.UID: {}}
	u.User.messageUser(nickMsg)
	for name := range u.User.Channels {
		ch := cb.lookupChannel(name)
		if ch == nil {
			continue
		}
		for _, uid := range ch.snapshotMembersUIDs() {
			if _, done := informed[uid]; done {
				continue
			}
			if other, ok := cb.Users[uid]; ok && other.isLocal() {
				other.messageUser(nickMsg)
			}
			informed[uid] = struct{}{}
		}
	}

	cb.Monitor.NotifyRename(oldLower, lower, u.User)

	for _, ls := range cb.LocalServers {
		ls.sendNick(u.User)
	}
}

func (ch *Channel) snapshotMembersUIDs() []TS6UID {
	m := ch.snapshotMembers()
	out := make([]TS6UID, 0, len(m))
	for uid := range m {
		out = append(out, uid)
	}
	return out
}

func handleCapUniversal(c *LocalClient, m Message) {
	handleCap(c, m)
}
