package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// LocalServer is a directly-linked peer in the TS6 mesh (component L).
// Grounded on the teacher's local_server.go LocalServer, generalized to
// the richer handshake/burst/split-horizon machinery the expanded spec
// requires (the teacher's link protocol only implemented a subset: PASS/
// SERVER/SVINFO plus SJOIN/NICK/PRIVMSG relay, no ENCAP/KILL/SQUIT
// netsplit propagation).
type LocalServer struct {
	*LocalClient

	SID  TS6SID
	Name string

	// Capabs holds the peer's advertised CAPAB tokens (e.g. QS, EX, IE,
	// ENCAP, TB), learned during handshake.
	Capabs map[string]struct{}

	BurstComplete bool
}

func NewLocalServer(c *LocalClient, sid TS6SID, name string) *LocalServer {
	return &LocalServer{LocalClient: c, SID: sid, Name: name, Capabs: make(map[string]struct{})}
}

// --- Handshake (spec §4.L "Handshake") ---

func handlePassServer(c *LocalClient, m Message) {
	u := c.Session.Unreg
	pass, ok := m.Arg(0)
	if !ok {
		return
	}
	u.IsServerHandshake = true
	u.ServerPass = pass
	if sid, ok := m.Arg(3); ok {
		u.ServerSID = TS6SID(sid)
	}
	u.GotPASS = true
}

func handleCapabServer(c *LocalClient, m Message) {
	u := c.Session.Unreg
	capabLine, ok := m.Arg(0)
	if !ok {
		return
	}
	for _, tok := range strings.Fields(capabLine) {
		u.ServerCapabs[tok] = struct{}{}
	}
	u.GotCAPAB = true
}

func handleServerServer(c *LocalClient, m Message) {
	u := c.Session.Unreg
	if len(m.Params) < 3 {
		c.quit("SERVER needs 3 parameters")
		return
	}
	name := m.Params[0]
	hopcount, _ := strconv.Atoi(m.Params[1])

	link := findServerLink(c.Catbox.Config, name)
	if link == nil {
		c.quit("Unauthorized server connection")
		return
	}
	if u.ServerPass != link.Pass {
		c.quit("Bad password")
		return
	}

	u.ServerName = name
	u.ServerInfo = m.Params[2]
	u.ServerHopcount = hopcount
	if u.ServerSID == "" {
		u.ServerSID = TS6SID(link.SID)
	}
	u.GotSERVER = true

	if !u.SentSERVER {
		_ = c.messageFromServer("PASS", []string{link.Pass, "TS", "6", string(c.Catbox.Config.TS6SID)})
		_ = c.messageFromServer("CAPAB", []string{"QS EX IE ENCAP TB SAVE"})
		_ = c.messageFromServer("SERVER", []string{c.Catbox.Config.ServerName, "1", c.Catbox.Config.ServerInfo})
		u.SentSERVER = true
	}

	if u.GotPASS && u.GotSERVER {
		completeServerHandshake(c, u)
	}
}

func handleSvinfoServer(c *LocalClient, m Message) {
	// SVINFO <TS version> <min TS version> 0 <current time>. No TS
	// version check is made, matching the teacher's permissive handshake.
	u := c.Session.Unreg
	u.SentSVINFO = true
	if u.GotPASS && u.GotSERVER {
		completeServerHandshake(c, u)
	}
}

func handleErrorServer(c *LocalClient, m Message) {
	reason := "Server link closed"
	if v, ok := m.Arg(0); ok {
		reason = v
	}
	if c.LocalServer != nil {
		c.LocalServer.quit(reason)
		return
	}
	c.quit(reason)
}

// dialServerLink opens an outbound TCP connection to a configured peer
// and drives it through the initiator side of the handshake (spec §4.L
// "Optional CONNECT by an operator initiates an outbound handshake").
// Run in its own goroutine by cmdConnect; errors are reported to opers
// via noticeOpers rather than returned, matching the fire-and-forget
// shape of the teacher's connect-on-command path.
func dialServerLink(cb *Catbox, link ServerLinkConfig) {
	addr := link.Host + ":" + link.Port
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		cb.noticeOpers("Connect to %s (%s) failed: %s", link.Name, addr, err)
		return
	}

	c, err := NewLocalClient(cb, cb.getClientID(), conn)
	if err != nil {
		cb.noticeOpers("Connect to %s failed: %s", link.Name, err)
		_ = conn.Close()
		return
	}

	u := c.Session.Unreg
	u.IsServerHandshake = true
	u.ServerPass = link.Pass
	u.ServerSID = TS6SID(link.SID)
	u.GotPASS = true

	c.Conn.SetMaxLineLength(MaxServerLineLength)

	cb.newEvent(Event{Type: NewClientEvent, Client: c})
	cb.WG.Add(2)
	go c.readLoop()
	go c.writeLoop()

	_ = c.messageFromServer("PASS", []string{link.Pass, "TS", "6", string(cb.Config.TS6SID)})
	_ = c.messageFromServer("CAPAB", []string{"QS EX IE ENCAP TB SAVE"})
	_ = c.messageFromServer("SERVER", []string{cb.Config.ServerName, "1", cb.Config.ServerInfo})
	u.SentSERVER = true
}

func findServerLink(cfg *Config, name string) *ServerLinkConfig {
	for i := range cfg.Extra.Servers {
		if cfg.Extra.Servers[i].Name == name {
			return &cfg.Extra.Servers[i]
		}
	}
	return nil
}

// completeServerHandshake promotes the connection to a LocalServer and
// sends our full burst (spec §4.L "On link completion, each side sends
// its entire known state: SID, then UID for every user, then SJOIN for
// every channel").
func completeServerHandshake(c *LocalClient, u *UnregisteredState) {
	cb := c.Catbox
	sid := u.ServerSID

	if _, exists := cb.Servers[sid]; exists {
		c.quit("SID collision")
		return
	}

	ls := NewLocalServer(c, sid, u.ServerName)
	for capab := range u.ServerCapabs {
		ls.Capabs[capab] = struct{}{}
	}

	c.LocalServer = ls
	c.Session.TryRegister()

	srv := &Server{SID: sid, Name: u.ServerName, Info: u.ServerInfo, HopCount: 1, LocalServer: ls}
	cb.Servers[sid] = srv
	cb.LocalServers[sid] = ls

	ls.sendBurst()
	cb.noticeOpers("Link established: %s", u.ServerName)
}

// sendBurst emits this server's full known state to a newly linked peer
// (spec §4.L burst). SID introductions for every other known server,
// then UID for every user, then SJOIN for every channel.
func (ls *LocalServer) sendBurst() {
	cb := ls.Catbox

	for sid, srv := range cb.Servers {
		if sid == ls.SID || sid == TS6SID(cb.Config.TS6SID) {
			continue
		}
		_ = ls.messageFromServer("SID", []string{srv.Name, "2", string(srv.SID)})
	}

	for _, u := range cb.Users {
		ls.sendUID(u)
	}

	for _, name := range cb.sortedChannelNames() {
		ch := cb.lookupChannel(name)
		if ch == nil {
			continue
		}
		ls.sendSJoinFor(ch)
	}

	ls.BurstComplete = true
}

func (ls *LocalServer) sendSJoinFor(ch *Channel) {
	members := ch.snapshotMembers()
	parts := make([]string, 0, len(members))
	for uid, mm := range members {
		other, ok := ls.Catbox.Users[uid]
		if !ok {
			continue
		}
		parts = append(parts, mm.Prefix()+string(other.UID))
	}
	_ = ls.messageFromServer("SJOIN", []string{
		fmt.Sprintf("%d", ch.TS), ch.Name, ch.Modes.String(), strings.Join(parts, " "),
	})
}

// sendUID introduces a user to this peer (spec §4.L UID propagation).
func (ls *LocalServer) sendUID(u *User) {
	if u.Server != nil && u.Server.SID == ls.SID {
		return // split horizon: don't echo a user back to the server it came from
	}
	_ = ls.messageFromServer("UID", []string{
		u.DisplayNick, "1", fmt.Sprintf("%d", u.NickTS), u.Modes.String(),
		u.Username, u.VisibleHost, u.IPOrZero(), string(u.UID), u.RealName,
	})
}

func (u *User) IPOrZero() string {
	if u.IP == nil {
		return "0"
	}
	return u.IP.String()
}

func (ls *LocalServer) sendQuit(u *User, reason string) {
	if u.Server != nil && u.Server.SID == ls.SID {
		return
	}
	_ = ls.messageFromServer("QUIT", []string{string(u.UID), reason})
}

// sendKill propagates a KILL for uid back toward the peer this link
// connects to, used to resolve a nick collision against a UID this
// server just learned about from that same peer (spec §4.L, §8.6).
func (ls *LocalServer) sendKill(uid TS6UID, reason string) {
	_ = ls.messageFromServer("KILL", []string{string(uid), reason})
}

func (ls *LocalServer) sendNick(u *User) {
	if u.Server != nil && u.Server.SID == ls.SID {
		return
	}
	_ = ls.messageFromServer("NICK", []string{string(u.UID), u.DisplayNick, fmt.Sprintf("%d", u.NickTS)})
}

func (ls *LocalServer) sendSJoin(ch *Channel, prefix string, uid TS6UID) {
	_ = ls.messageFromServer("SJOIN", []string{
		fmt.Sprintf("%d", ch.TS), ch.Name, ch.Modes.String(), prefix + string(uid),
	})
}

// quit tears down a server link, triggering a netsplit: every user
// introduced via this peer quits with a "<local> <remote>" split message
// (spec §4.L "netsplit: SQUIT propagates ... every user whose closest
// server was reached through that link is locally QUIT").
func (ls *LocalServer) quit(reason string) {
	ls.quitOnce.Do(func() {
		cb := ls.Catbox
		splitMsg := fmt.Sprintf("%s %s", cb.Config.ServerName, ls.Name)

		var toRemove []TS6UID
		for uid, u := range cb.Users {
			if u.Server != nil && u.Server.SID == ls.SID {
				toRemove = append(toRemove, uid)
			}
		}
		for _, uid := range toRemove {
			u := cb.Users[uid]
			informed := map[TS6UID]struct{}{uid: {}}
			for name := range u.Channels {
				ch := cb.lookupChannel(name)
				if ch == nil {
					continue
				}
				ch.quitMember(u, splitMsg, informed)
			}
			delete(cb.Nicks, canonicalizeNick(u.DisplayNick))
			delete(cb.Users, uid)
		}

		var toRemoveServers []TS6SID
		for sid, srv := range cb.Servers {
			if srv.Parent == ls.SID || sid == ls.SID {
				toRemoveServers = append(toRemoveServers, sid)
			}
		}
		for _, sid := range toRemoveServers {
			delete(cb.Servers, sid)
		}

		delete(cb.LocalServers, ls.SID)

		_ = ls.messageFromServer("ERROR", []string{reason})
		close(ls.WriteChan)
		_ = ls.Conn.Close()
		delete(cb.LocalClients, ls.ID)

		cb.noticeOpers("Netsplit: %s", splitMsg)
	})
}

// handleMessage dispatches an inbound line on an established server link
// (spec §4.L relay rules: apply locally, then split-horizon rebroadcast
// to every other linked peer except the one the message arrived on).
func (ls *LocalServer) handleMessage(m Message) {
	ls.setLastActivityTime(time.Now())

	h, ok := serverRelayHandlers[m.Command]
	if !ok {
		return // unknown S2S command: ignore rather than drop the link
	}
	h(ls, m)
}

// broadcastToServers relays m to every linked server except the one it
// arrived from (split horizon), or every server if from is "".
func (cb *Catbox) broadcastToServers(m Message, from TS6SID) {
	for sid, ls := range cb.LocalServers {
		if sid == from {
			continue
		}
		_ = ls.maybeQueueMessage(m)
	}
}
