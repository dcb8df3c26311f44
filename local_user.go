package main

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// maxRateViolations is N in spec §4.F step 3: a warning notice is sent up
// to N-1 times and the connection is dropped on the Nth breach.
const maxRateViolations = 3

// LocalUser is a registered, locally-connected user. Grounded on the
// teacher's local_user.go LocalUser, with User holding the richer
// multi-session/account/away/silence fields component G needs.
type LocalUser struct {
	*LocalClient
	User *User

	limiter *MessageLimiter
}

func NewLocalUser(c *LocalClient, u *User) *LocalUser {
	return &LocalUser{
		LocalClient: c,
		User:        u,
		limiter:     NewMessageLimiter(c.Catbox.Config.Extra.RateLimit),
	}
}

func (u *LocalUser) String() string {
	return fmt.Sprintf("%s %s", u.User.UID, u.User.nickUhost())
}

// notice sends a NOTICE from the server, teacher's local_user.go format.
func (u *LocalUser) notice(msg string) {
	_ = u.messageFromServer("NOTICE", []string{u.User.DisplayNick,
		fmt.Sprintf("*** Notice -- %s", msg)})
}

// messageUser delivers the same message to every local session of this
// user; it does no per-session capability filtering (the teacher had one
// session per UID only).
func (u *User) messageUser(m Message) int {
	if !u.isLocal() {
		return 0
	}
	sent := 0
	for _, s := range u.Sessions {
		if s.LocalUser == nil {
			continue
		}
		if err := s.LocalUser.maybeQueueMessage(m); err == nil {
			sent++
		}
	}
	return sent
}

// propagateUID sends this user's UID introduction to every linked
// server, grounded on local_server.go's sendBurst UID loop.
func (lu *LocalUser) propagateUID() {
	u := lu.User
	for _, ls := range lu.Catbox.LocalServers {
		ls.sendUID(u)
	}
}

func (u *LocalUser) part(channelName, message string) {
	name := canonicalizeChannel(channelName)
	if !isValidChannel(channelName) {
		_ = u.messageFromServer("403", []string{channelName, "No such channel"})
		return
	}

	ch := u.Catbox.lookupChannel(name)
	if ch == nil || !u.User.onChannel(ch) {
		_ = u.messageFromServer("442", []string{channelName, "You're not on that channel"})
		return
	}

	ch.part(u.User, message)
}

func (u *LocalUser) quit(msg string) {
	u.quitOnce.Do(func() {
		cb := u.Catbox
		user := u.User
		nickUhost := user.nickUhost()

		_ = u.messageFromServer("ERROR", []string{msg})
		close(u.WriteChan)
		_ = u.Conn.Close()

		// Multiclient: only the last session leaving tears the User down.
		// An earlier session quitting (or losing its connection) just
		// drops itself from Sessions (spec §3.3/§4.G).
		remaining := make([]*Session, 0, len(user.Sessions))
		for _, s := range user.Sessions {
			if s != u.Session {
				remaining = append(remaining, s)
			}
		}
		user.Sessions = remaining

		if len(remaining) > 0 {
			if user.LocalUser == u {
				user.LocalUser = remaining[0].LocalUser
				cb.LocalUsers[user.UID] = remaining[0].LocalUser
			}
			return
		}

		informed := map[TS6UID]struct{}{user.UID: {}}
		for name := range user.Channels {
			ch := cb.lookupChannel(name)
			if ch == nil {
				continue
			}
			ch.quitMember(user, msg, informed)
		}

		whowasHistory.record(user)

		delete(cb.Nicks, canonicalizeNick(user.DisplayNick))
		delete(cb.LocalUsers, user.UID)
		delete(cb.Users, user.UID)
		delete(cb.Opers, user.UID)

		cb.Monitor.NotifyOffline(user)

		for _, ls := range cb.LocalServers {
			ls.sendQuit(user, msg)
		}

		_ = nickUhost
	})
}

// handleMessage dispatches a post-registration client command via the
// registry (component E), mapping returned errors to numerics/terminal
// actions (component F steps 6-8).
func (u *LocalUser) handleMessage(m Message) {
	u.User.LastModified = time.Now().UnixNano()

	if h, ok := universalHandlers[m.Command]; ok {
		h(u.LocalClient, m)
		return
	}

	// Flood control (spec §4.F step 3): checked exactly once per inbound
	// message here, never re-checked by validation code further down the
	// pipeline (routing's spam checks are a distinct, non-rate concern).
	isCTCP := false
	if m.Command == "PRIVMSG" || m.Command == "NOTICE" {
		if text, ok := m.Arg(1); ok {
			isCTCP = strings.HasPrefix(text, "\x01") && !strings.HasPrefix(text, "\x01ACTION ")
		}
	}
	if !u.limiter.Allow(isCTCP) {
		u.Session.Reg.RateViolations++
		if u.Session.Reg.RateViolations >= maxRateViolations {
			u.quit("Excess Flood")
			return
		}
		u.notice(fmt.Sprintf("Flooding (warning %d/%d)", u.Session.Reg.RateViolations, maxRateViolations-1))
		return
	}

	if ref, active := u.batchAbsorb(m); active {
		_ = ref
		return
	}

	label, hasLabel := "", false
	if u.HasCap("labeled-response") {
		if v, ok := m.TagValue("label"); ok {
			label, hasLabel = v, true
		}
	}

	var captured []Message
	emit := func(reply Message) {
		if hasLabel {
			captured = append(captured, reply)
			return
		}
		_ = u.maybeQueueMessage(reply)
	}

	h, ok := postRegHandlers[m.Command]
	if !ok {
		if _, isPreRegOnly := preRegOnlyCommands[m.Command]; isPreRegOnly {
			emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "462",
				Params: []string{u.User.DisplayNick, "You may not reregister"}})
		} else {
			emit(Message{Prefix: u.Catbox.Config.ServerName, Command: "421",
				Params: []string{u.User.DisplayNick, m.Command, "Unknown command"}})
		}
		finalizeLabeled(u, label, hasLabel, captured)
		return
	}

	if err := h(u, m, emit); err != nil {
		handlePostRegError(u, m, err, emit)
	}

	finalizeLabeled(u, label, hasLabel, captured)
}

func handlePostRegError(u *LocalUser, m Message, err error, emit func(Message)) {
	nick := u.User.DisplayNick
	switch e := err.(type) {
	case ErrQuit:
		u.quit(e.Message)
	case ErrNicknameInUse:
		emit(numericMsg(u, "433", e.Nick, "Nickname is already in use"))
	case ErrErroneousNickname:
		emit(numericMsg(u, "432", e.Nick, "Erroneous nickname"))
	default:
		switch err {
		case ErrNeedMoreParams:
			emit(numericMsg(u, "461", m.Command, "Not enough parameters"))
		case ErrNoTextToSend:
			emit(numericMsg(u, "412", "No text to send"))
		case ErrAlreadyRegistered:
			emit(numericMsg(u, "462", "You may not reregister"))
		case ErrAccessDenied:
			// assumed already replied by the handler
		default:
			_ = nick
		}
	}
}

func numericMsg(u *LocalUser, code string, trailing ...string) Message {
	params := append([]string{u.User.DisplayNick}, trailing...)
	return Message{Prefix: u.Catbox.Config.ServerName, Command: code, Params: params}
}

func (u *LocalUser) lusersCommand() {
	cb := u.Catbox
	opers := len(cb.Opers)

	_ = u.messageFromServer("251", []string{
		fmt.Sprintf("There are %d users and 0 invisible on 1 servers", len(cb.Users))})
	if opers > 0 {
		_ = u.messageFromServer("252", []string{fmt.Sprintf("%d", opers), "operator(s) online"})
	}
	_ = u.messageFromServer("254", []string{fmt.Sprintf("%d", cb.channelCount()), "channels formed"})
	_ = u.messageFromServer("255", []string{
		fmt.Sprintf("I have %d clients and %d servers", len(cb.LocalUsers), len(cb.LocalServers))})
}

func (u *LocalUser) motdCommand() {
	cb := u.Catbox
	_ = u.messageFromServer("375", []string{fmt.Sprintf("- %s Message of the day -", cb.Config.ServerName)})
	for _, line := range strings.Split(cb.Config.MOTD, "\n") {
		_ = u.messageFromServer("372", []string{"- " + line})
	}
	_ = u.messageFromServer("376", []string{"End of /MOTD command"})
}

func (u *LocalUser) whoisTargets(mask string) []*User {
	lower := canonicalizeNick(mask)
	var out []*User
	for _, other := range u.Catbox.Users {
		if canonicalizeNick(other.DisplayNick) == lower {
			out = append(out, other)
		}
	}
	return out
}

func (u *LocalUser) namesReply(ch *Channel) {
	members := ch.snapshotMembers()
	nicks := make([]string, 0, len(members))
	for uid, mm := range members {
		other, ok := u.Catbox.Users[uid]
		if !ok {
			continue
		}
		nicks = append(nicks, mm.Prefix()+other.DisplayNick)
	}
	sort.Strings(nicks)

	const chunk = 10
	for i := 0; i < len(nicks); i += chunk {
		end := i + chunk
		if end > len(nicks) {
			end = len(nicks)
		}
		_ = u.messageFromServer("353", []string{"=", ch.Name, strings.Join(nicks[i:end], " ")})
	}
	_ = u.messageFromServer("366", []string{ch.Name, "End of /NAMES list"})
}
