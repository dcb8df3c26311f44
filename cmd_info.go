package main

import (
	"fmt"
	"strings"
	"time"
)

// cmdWho implements WHO <mask>, a flat dump rather than the full WHOX
// field-selector grammar (supplemented feature, simplified).
func cmdWho(u *LocalUser, m Message, emit func(Message)) error {
	mask, ok := m.Arg(0)
	if !ok {
		mask = "*"
	}

	whox := false
	var whoxToken string
	if opts, hasOpts := m.Arg(1); hasOpts && strings.HasPrefix(opts, "%") {
		whox = true
		if idx := strings.IndexByte(opts, ','); idx != -1 {
			whoxToken = opts[idx+1:]
		}
	}

	var matches []*User
	if ch := u.Catbox.lookupChannel(canonicalizeChannel(mask)); ch != nil {
		for _, uid := range ch.snapshotMembersUIDs() {
			if other, ok := u.Catbox.Users[uid]; ok {
				matches = append(matches, other)
			}
		}
	} else {
		lower := canonicalizeNick(mask)
		for _, other := range u.Catbox.Users {
			if mask == "*" || canonicalizeNick(other.DisplayNick) == lower ||
				matchesMask(mask, other.nickUhost()) {
				matches = append(matches, other)
			}
		}
	}

	for _, other := range matches {
		if other.Modes.Invisible && !u.User.onSharedChannel(other) && other.UID != u.User.UID {
			continue
		}
		flags := "H"
		if other.isOperator() {
			flags += "*"
		}
		server := u.Catbox.Config.ServerName
		if other.Server != nil {
			server = other.Server.Name
		}
		if whox {
			_ = u.messageFromServer("354", []string{
				whoxToken, other.Username, other.VisibleHost, server, other.DisplayNick,
				flags, "0", other.RealName,
			})
			continue
		}
		_ = u.messageFromServer("352", []string{
			"*", other.Username, other.VisibleHost, server, other.DisplayNick, flags,
			"0 " + other.RealName,
		})
	}
	_ = u.messageFromServer("315", []string{mask, "End of /WHO list"})
	return nil
}

func (u *User) onSharedChannel(other *User) bool {
	for name := range u.Channels {
		if _, ok := other.Channels[name]; ok {
			return true
		}
	}
	return false
}

// cmdWhois implements WHOIS.
func cmdWhois(u *LocalUser, m Message, emit func(Message)) error {
	mask, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	targets := u.whoisTargets(mask)
	if len(targets) == 0 {
		emit(numericMsg(u, "401", mask, "No such nick/channel"))
		emit(numericMsg(u, "318", mask, "End of /WHOIS list"))
		return nil
	}
	for _, t := range targets {
		emit(numericMsg(u, "311", t.DisplayNick, t.Username, t.visibleHostOrReal(), "*", t.RealName))
		var chans []string
		for name, ch := range t.Channels {
			chans = append(chans, ch.memberModes(t.UID).Prefix()+name)
		}
		if len(chans) > 0 {
			emit(numericMsg(u, "319", t.DisplayNick, strings.Join(chans, " ")))
		}
		server := u.Catbox.Config.ServerName
		if t.Server != nil {
			server = t.Server.Name
		}
		emit(numericMsg(u, "312", t.DisplayNick, server, u.Catbox.Config.ServerInfo))
		if t.Account != "" {
			emit(numericMsg(u, "330", t.DisplayNick, t.Account, "is logged in as"))
		}
		if t.isOperator() {
			emit(numericMsg(u, "313", t.DisplayNick, "is an IRC operator"))
		}
		if t.Away != "" {
			emit(numericMsg(u, "301", t.DisplayNick, t.Away))
		}
		if t.isLocal() {
			idle := time.Since(t.LocalUser.getLastActivityTime())
			emit(numericMsg(u, "317", t.DisplayNick, fmt.Sprintf("%d", int(idle.Seconds())),
				fmt.Sprintf("%d", t.CreatedAt), "seconds idle, signon time"))
		}
	}
	emit(numericMsg(u, "318", mask, "End of /WHOIS list"))
	return nil
}

// cmdWhowas implements WHOWAS against a bounded in-memory ring (component
// G, spec §4.G N=10 per nick) populated by whowasHistory.record on quit
// and on nick change.
func cmdWhowas(u *LocalUser, m Message, emit func(Message)) error {
	nick, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}
	entries := whowasHistory.get(canonicalizeNick(nick))
	if len(entries) == 0 {
		emit(numericMsg(u, "406", nick, "There was no such nickname"))
		emit(numericMsg(u, "369", nick, "End of WHOWAS"))
		return nil
	}
	for _, e := range entries {
		emit(numericMsg(u, "314", e.Nick, e.User, e.Host, "*", e.RealName))
	}
	emit(numericMsg(u, "369", nick, "End of WHOWAS"))
	return nil
}

// cmdUserhost implements USERHOST.
func cmdUserhost(u *LocalUser, m Message, emit func(Message)) error {
	var parts []string
	for i := 0; i < 5; i++ {
		nick, ok := m.Arg(i)
		if !ok {
			break
		}
		other := u.Catbox.lookupUser(nick)
		if other == nil {
			continue
		}
		awayFlag := "+"
		if other.Away != "" {
			awayFlag = "-"
		}
		operFlag := ""
		if other.isOperator() {
			operFlag = "*"
		}
		parts = append(parts, fmt.Sprintf("%s%s=%s%s", other.DisplayNick, operFlag, awayFlag, other.visibleHostOrReal()))
	}
	emit(numericMsg(u, "302", strings.Join(parts, " ")))
	return nil
}

// cmdIson implements ISON.
func cmdIson(u *LocalUser, m Message, emit func(Message)) error {
	var online []string
	for _, nick := range m.Params {
		if other := u.Catbox.lookupUser(nick); other != nil {
			online = append(online, other.DisplayNick)
		}
	}
	emit(numericMsg(u, "303", strings.Join(online, " ")))
	return nil
}

func cmdVersion(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "351", u.Catbox.Config.Version, u.Catbox.Config.ServerName, u.Catbox.Config.ServerInfo))
	return nil
}

func cmdTime(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "391", u.Catbox.Config.ServerName, time.Now().UTC().Format(time.RFC1123)))
	return nil
}

func cmdAdmin(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "256", u.Catbox.Config.ServerName, "Administrative info"))
	emit(numericMsg(u, "257", u.Catbox.Config.ServerInfo))
	emit(numericMsg(u, "258", "Run by the network operators"))
	emit(numericMsg(u, "259", "Contact an operator for assistance"))
	return nil
}

func cmdInfo(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "371", u.Catbox.Config.ServerInfo))
	emit(numericMsg(u, "374", "End of /INFO list"))
	return nil
}

func cmdMotd(u *LocalUser, m Message, emit func(Message)) error {
	u.motdCommand()
	return nil
}

func cmdMap(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "015", u.Catbox.Config.ServerName+" (this server)"))
	for _, srv := range u.Catbox.serverTreeNames() {
		if srv.SID == TS6SID(u.Catbox.Config.TS6SID) {
			continue
		}
		emit(numericMsg(u, "015", fmt.Sprintf("  %s (hops: %d)", srv.Name, srv.HopCount)))
	}
	emit(numericMsg(u, "017", "End of /MAP"))
	return nil
}

func cmdRules(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "232", "No special rules set"))
	return nil
}

func cmdUserip(u *LocalUser, m Message, emit func(Message)) error {
	var parts []string
	for _, nick := range m.Params {
		other := u.Catbox.lookupUser(nick)
		if other == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=+%s", other.DisplayNick, other.IPOrZero()))
	}
	emit(numericMsg(u, "302", strings.Join(parts, " ")))
	return nil
}

func cmdLinks(u *LocalUser, m Message, emit func(Message)) error {
	for _, srv := range u.Catbox.serverTreeNames() {
		emit(numericMsg(u, "364", srv.Name, u.Catbox.Config.ServerName,
			fmt.Sprintf("%d %s", srv.HopCount, srv.Info)))
	}
	emit(numericMsg(u, "365", "*", "End of /LINKS list"))
	return nil
}

func cmdHelp(u *LocalUser, m Message, emit func(Message)) error {
	emit(numericMsg(u, "704", "HELP", "No help topics configured"))
	emit(numericMsg(u, "706", "HELP", "End of /HELP"))
	return nil
}

func cmdStats(u *LocalUser, m Message, emit func(Message)) error {
	query, _ := m.Arg(0)
	switch query {
	case "u":
		uptime := time.Since(u.Catbox.startTime)
		emit(numericMsg(u, "242", fmt.Sprintf("Server Up %d days %02d:%02d:%02d",
			int(uptime.Hours())/24, int(uptime.Hours())%24, int(uptime.Minutes())%60, int(uptime.Seconds())%60)))
	case "k", "K":
		for _, b := range u.Catbox.Bans.List(BanKLine) {
			emit(numericMsg(u, "216", b.Mask, "*", b.Reason))
		}
	case "g", "G":
		for _, b := range u.Catbox.Bans.List(BanGLine) {
			emit(numericMsg(u, "216", b.Mask, "*", b.Reason))
		}
	}
	emit(numericMsg(u, "219", query, "End of /STATS report"))
	return nil
}

func cmdLusers(u *LocalUser, m Message, emit func(Message)) error {
	u.lusersCommand()
	return nil
}
