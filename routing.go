package main

import "strings"

// classifyTarget reports whether target names a channel (its first byte
// is one of channelTypes); anything else is not told apart.
func classifyTarget(target string) (isChannel bool) {
	return len(target) > 0 && strings.ContainsRune(channelTypes, rune(target[0]))
}

// deliverToChannel fans a message out to local members (capability
// filtering and echo handled by caller) and propagates to every linked
// server so remote members also receive it.
func deliverToChannel(cb *Catbox, ch *Channel, m Message, skip TS6UID) {
	ch.broadcastLocal(m, skip)
	cb.broadcastToServers(m, "")
}

// deliverToUser sends m to target (local or remote).
func deliverToUser(cb *Catbox, target *User, m Message) {
	if target.isLocal() {
		target.messageUser(m)
		return
	}
	if target.Server == nil {
		return
	}
	if sid, ok := cb.nextHopSID(target.Server.SID); ok {
		if ls, ok := cb.LocalServers[sid]; ok {
			_ = ls.maybeQueueMessage(m)
		}
	}
}

// lookupUser resolves a nick (case-folded) to a *User.
func (cb *Catbox) lookupUser(nick string) *User {
	uid, ok := cb.Nicks[canonicalizeNick(nick)]
	if !ok {
		return nil
	}
	return cb.Users[uid]
}

// filterTagsForRecipient drops client-only tags when the recipient hasn't
// negotiated message-tags; it adds no tags of its own.
func filterTagsForRecipient(m Message, recipientHasTags bool) Message {
	if !recipientHasTags {
		return m.WithoutClientTags()
	}
	return m
}
