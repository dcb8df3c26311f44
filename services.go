package main

import (
	"fmt"
	"strings"
)

// Component N: NickServ/ChanServ as first-class pseudo-clients (spec
// §4.N). Each lives at a reserved UID under the local SID, registered in
// Catbox.Services/ServiceNames; cmd_messaging.go's deliverToUserTarget hands a
// PRIVMSG addressed to one of these UIDs to dispatchService instead of
// delivering it to a connection. A service handler returns a list of
// Effects applied by the caller outside of any channel actor lock, per
// spec "applied outside the lock" - here that just means after the
// handler returns, since services hold no lock of their own.

// serviceHandlerFunc is one pseudo-client's command handler: given the
// calling user and the PRIVMSG text split on whitespace, it returns the
// effects to apply.
type serviceHandlerFunc func(cb *Catbox, sender *User, args []string) []serviceEffect

// serviceEffect is the union of things a service handler can ask the
// caller to do. Only one field is ever populated per value.
type serviceEffect struct {
	reply       string // notice text to send back to sender, from the server, tagged with the service's name
	setAccount  string // non-"" -> log sender into this account name
	opChannel   string // non-"" -> grant +o to sender on this channel (ChanServ OP)
	dropAccount bool   // log sender out
}

// serviceUID builds the reserved UID a pseudo-client answers to: the
// local SID plus a fixed 6 char suffix, same shape as any other TS6 UID
// so routing/WHOIS/etc don't need a special case to address one.
func serviceUID(cb *Catbox, suffix string) TS6UID {
	return TS6UID(cb.Config.TS6SID + suffix)
}

// registerServices installs NickServ and ChanServ as pseudo-clients,
// called once from NewCatbox. Each gets a Services[uid] handler and a
// ServiceNames[lower-name] reverse entry so PRIVMSG nickserv/NS/chanserv/
// CS and SQUERY all resolve to the same UID regardless of which alias a
// client used.
func (cb *Catbox) registerServices() {
	nickservUID := serviceUID(cb, "SNICK0")
	chanservUID := serviceUID(cb, "SCHAN0")

	cb.Services = map[TS6UID]serviceHandlerFunc{
		nickservUID: handleNickservCommand,
		chanservUID: handleChanservCommand,
	}
	cb.ServiceNames = map[string]TS6UID{
		"nickserv": nickservUID,
		"ns":       nickservUID,
		"chanserv": chanservUID,
		"cs":       chanservUID,
	}
}

// lookupService resolves a nick/alias or a raw UID to a service handler,
// used by cmd_messaging.go's deliverToUserTarget before falling through to the
// ordinary local/remote user paths (spec §4.I user-target check #4).
func (cb *Catbox) lookupService(nickOrUID string) (TS6UID, serviceHandlerFunc, bool) {
	if uid, ok := cb.ServiceNames[strings.ToLower(nickOrUID)]; ok {
		return uid, cb.Services[uid], true
	}
	if h, ok := cb.Services[TS6UID(nickOrUID)]; ok {
		return TS6UID(nickOrUID), h, true
	}
	return "", nil, false
}

// serviceDisplayName returns the nick a service's replies appear to come
// from, used by dispatchService's "[Name]" reply prefix and by SERVLIST.
func serviceDisplayName(uid TS6UID) string {
	switch {
	case strings.HasSuffix(string(uid), "SNICK0"):
		return "NickServ"
	case strings.HasSuffix(string(uid), "SCHAN0"):
		return "ChanServ"
	default:
		return string(uid)
	}
}

// dispatchService hands a PRIVMSG/SQUERY text off to the target service's
// handler and applies the resulting effects, replying as a NOTICE from
// the server whose text starts with "[<service name>]" (services never
// use PRIVMSG for replies, matching real NickServ/ChanServ behavior).
func dispatchService(cb *Catbox, sender *LocalUser, uid TS6UID, h serviceHandlerFunc, text string) {
	fields := strings.Fields(text)
	effects := h(cb, sender.User, fields)
	name := serviceDisplayName(uid)

	for _, e := range effects {
		switch {
		case e.reply != "":
			_ = sender.messageFromServer("NOTICE", []string{sender.User.DisplayNick,
				fmt.Sprintf("[%s] %s", name, e.reply)})
		case e.setAccount != "":
			sender.User.Account = e.setAccount
			sender.User.Modes.Registered = true
			_ = sender.messageFromServer("900", []string{sender.User.DisplayNick,
				sender.User.nickUhost(), e.setAccount, "You are now logged in as " + e.setAccount})
			cb.Monitor.NotifyAccount(sender.User)
			cb.broadcastToServers(Message{Command: "ENCAP", Params: []string{"*", "LOGIN",
				string(sender.User.UID), e.setAccount}}, "")
		case e.dropAccount:
			sender.User.Account = ""
		case e.opChannel != "":
			ch := cb.lookupChannel(canonicalizeChannel(e.opChannel))
			if ch == nil {
				continue
			}
			ch.applyModes(applyModesData{
				senderUID: uid,
				modeStr:   "+o",
				args:      []string{string(sender.User.UID)},
				force:     true,
			})
		}
	}
}

// --- NickServ ---

// nickservAccounts is an in-memory "is this nick owned, and by what
// account" index layered on top of AccountStore (which only knows
// account names, not nick registrations). NickServ's business logic is
// explicitly not the hard part of the spec (§1); this is the simplest
// shape that supports REGISTER/IDENTIFY/LOGOUT/INFO end to end.
var nickservAccounts = struct {
	owner map[string]string // canonicalized nick -> account name
}{owner: make(map[string]string)}

func handleNickservCommand(cb *Catbox, sender *User, args []string) []serviceEffect {
	if len(args) == 0 {
		return []serviceEffect{{reply: "Services available commands: REGISTER, IDENTIFY, LOGOUT, INFO, HELP"}}
	}

	sub := strings.ToUpper(args[0])
	rest := args[1:]

	switch sub {
	case "REGISTER":
		if len(rest) < 1 {
			return []serviceEffect{{reply: "Syntax: REGISTER <password> [email]"}}
		}
		password := rest[0]
		email := ""
		if len(rest) > 1 {
			email = rest[1]
		}
		accountName := strings.ToLower(sender.DisplayNick)
		if err := cb.Accounts.Register(accountName, password, email); err != nil {
			return []serviceEffect{{reply: "Registration failed: " + err.Error()}}
		}
		nickservAccounts.owner[canonicalizeNick(sender.DisplayNick)] = accountName
		return []serviceEffect{
			{reply: "Your account has been registered."},
			{setAccount: accountName},
		}

	case "IDENTIFY", "LOGIN":
		if len(rest) < 1 {
			return []serviceEffect{{reply: "Syntax: IDENTIFY <password>"}}
		}
		accountName := strings.ToLower(sender.DisplayNick)
		if len(rest) > 1 {
			accountName = strings.ToLower(rest[0])
		}
		password := rest[len(rest)-1]
		name, ok := cb.Accounts.VerifyPassword(accountName, password)
		if !ok {
			return []serviceEffect{{reply: "Invalid password."}}
		}
		return []serviceEffect{
			{reply: "You are now identified for " + name + "."},
			{setAccount: name},
		}

	case "LOGOUT":
		return []serviceEffect{
			{reply: "You have been logged out."},
			{dropAccount: true},
		}

	case "INFO":
		target := sender.DisplayNick
		if len(rest) > 0 {
			target = rest[0]
		}
		accountName, ok := nickservAccounts.owner[canonicalizeNick(target)]
		if !ok {
			return []serviceEffect{{reply: target + " is not registered."}}
		}
		return []serviceEffect{{reply: target + " is registered to " + accountName + "."}}

	case "HELP":
		return []serviceEffect{{reply: "Commands: REGISTER, IDENTIFY, LOGOUT, INFO, HELP"}}

	default:
		return []serviceEffect{{reply: "Unknown command " + sub + ". Try HELP."}}
	}
}

// --- ChanServ ---

// chanservChannels tracks founder account per canonicalized channel name,
// the minimal state ChanServ OP/INFO need; full access-list/flag
// management is out of scope (§1's "business logic is not the hard
// part").
var chanservChannels = struct {
	founder map[string]string // canonicalized channel -> founder account
}{founder: make(map[string]string)}

func handleChanservCommand(cb *Catbox, sender *User, args []string) []serviceEffect {
	if len(args) == 0 {
		return []serviceEffect{{reply: "Services available commands: REGISTER, OP, INFO, HELP"}}
	}

	sub := strings.ToUpper(args[0])
	rest := args[1:]

	switch sub {
	case "REGISTER":
		if len(rest) < 1 {
			return []serviceEffect{{reply: "Syntax: REGISTER <#channel>"}}
		}
		if !sender.isLoggedIn() {
			return []serviceEffect{{reply: "You must be identified to register a channel."}}
		}
		name := canonicalizeChannel(rest[0])
		ch := cb.lookupChannel(name)
		if ch == nil {
			return []serviceEffect{{reply: "No such channel."}}
		}
		if _, taken := chanservChannels.founder[name]; taken {
			return []serviceEffect{{reply: rest[0] + " is already registered."}}
		}
		chanservChannels.founder[name] = sender.Account
		return []serviceEffect{
			{reply: rest[0] + " is now registered to " + sender.Account + "."},
			{opChannel: rest[0]},
		}

	case "OP":
		if len(rest) < 1 {
			return []serviceEffect{{reply: "Syntax: OP <#channel>"}}
		}
		name := canonicalizeChannel(rest[0])
		founder, ok := chanservChannels.founder[name]
		if !ok {
			return []serviceEffect{{reply: rest[0] + " is not registered."}}
		}
		if !sender.isLoggedIn() || sender.Account != founder {
			return []serviceEffect{{reply: "You are not the founder of " + rest[0] + "."}}
		}
		return []serviceEffect{
			{reply: "Opping you on " + rest[0] + "."},
			{opChannel: rest[0]},
		}

	case "INFO":
		if len(rest) < 1 {
			return []serviceEffect{{reply: "Syntax: INFO <#channel>"}}
		}
		name := canonicalizeChannel(rest[0])
		founder, ok := chanservChannels.founder[name]
		if !ok {
			return []serviceEffect{{reply: rest[0] + " is not registered."}}
		}
		return []serviceEffect{{reply: rest[0] + " is registered to " + founder + "."}}

	case "HELP":
		return []serviceEffect{{reply: "Commands: REGISTER, OP, INFO, HELP"}}

	default:
		return []serviceEffect{{reply: "Unknown command " + sub + ". Try HELP."}}
	}
}

// cmdNickserv/cmdChanserv implement the NICKSERV/CHANSERV/NS/CS client
// commands: PRIVMSG shorthand that routes straight to the matching
// service without needing "/msg nickserv ...".
func cmdNickserv(u *LocalUser, m Message, emit func(Message)) error {
	return routeToServiceByAlias(u, m, "nickserv")
}

func cmdChanserv(u *LocalUser, m Message, emit func(Message)) error {
	return routeToServiceByAlias(u, m, "chanserv")
}

func routeToServiceByAlias(u *LocalUser, m Message, alias string) error {
	text := strings.Join(m.Params, " ")
	uid, h, ok := u.Catbox.lookupService(alias)
	if !ok {
		return nil
	}
	dispatchService(u.Catbox, u, uid, h, text)
	return nil
}

// cmdSquery implements SQUERY <service> :<text>, the RFC 2812 form of
// messaging a service pseudo-client directly by name.
func cmdSquery(u *LocalUser, m Message, emit func(Message)) error {
	name, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	text, ok := m.Arg(1)
	if !ok {
		return ErrNoTextToSend
	}
	uid, h, ok := u.Catbox.lookupService(name)
	if !ok {
		emit(numericMsg(u, "401", name, "No such service"))
		return nil
	}
	dispatchService(u.Catbox, u, uid, h, text)
	return nil
}

// cmdService implements the SERVICE registration command (RFC 2812);
// this daemon only hosts built-in pseudo-clients, so any attempt to
// register an external service is rejected.
func cmdService(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "416", "SERVICE", "Services are built-in on this network"))
	return nil
}

// cmdServlist implements SERVLIST: enumerate the built-in services.
func cmdServlist(u *LocalUser, m Message, emit func(Message)) error {
	for uid := range u.Catbox.Services {
		emit(numericMsg(u, "234", serviceDisplayName(uid), string(uid),
			"*", "0", "0", "Built-in service"))
	}
	emit(numericMsg(u, "235", "*", "*", "End of service listing"))
	return nil
}
