package main

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// TS6SID is a 3 character server id, TS6UID a SID prefixed 9 character
// network-wide user id. Kept as named string types exactly as the
// teacher's local_server.go/local_user.go use them.
type TS6SID string
type TS6UID string

// Event is the unit of work the Catbox run loop consumes, grounded on
// the prototype ircd.go's select-loop shape (newClientChan/
// deadClientChan/messageServerChan) and the Event{Type: ...} value the
// mature local_client.go/local_server.go files construct via
// Catbox.newEvent but whose defining file was not present in the
// retrieved snapshot - reconstructed here from every call site.
type EventType int

const (
	NewClientEvent EventType = iota
	DeadClientEvent
	MessageFromClientEvent
	MessageFromServerEvent
	WakeupEvent
)

type Event struct {
	Type           EventType
	Client         *LocalClient
	Message        Message
	NewClientConn  *LocalClient
}

// Catbox is the process-wide state container (spec §9 "Matrix"/"one
// process-wide container, a dependency-injected root"). It plays the
// same role the teacher's (missing from the retrieval snapshot, but
// pervasively referenced) Catbox type plays: every LocalClient/
// LocalUser/LocalServer holds a back-pointer to it, and it owns every
// top-level concurrent map.
//
// Ownership discipline (spec §3.8): Users/Nicks/Servers/LocalClients/etc
// mutate only on the single Catbox.run() goroutine, which drains
// EventChan - this is the teacher's own central-event-loop idiom (see
// the superseded ircd.go prototype's start() select loop) generalized
// to the mature split types. Channels are the exception: each Channel
// runs its events on its own actor goroutine (component H); Catbox's
// Channels map only ever gains/loses a *Channel pointer under channelsMu,
// and member state changes outside the actor only through Channel
// methods that take the channel's mu (quitMember, setTopicLocal).
type Catbox struct {
	Config *Config

	EventChan chan Event

	LocalClients map[uint64]*LocalClient
	LocalUsers   map[TS6UID]*LocalUser
	LocalServers map[TS6SID]*LocalServer

	Users   map[TS6UID]*User
	Nicks   map[string]TS6UID // canonicalized nick -> primary UID
	Servers map[TS6SID]*Server

	channelsMu sync.RWMutex
	Channels   map[string]*Channel // canonicalized name -> channel

	Opers map[TS6UID]struct{}

	// Services maps a reserved pseudo-client UID to its handler (component
	// N). A service UID never appears in LocalUsers/LocalServers; it's a
	// routing target resolved before the local/remote branch.
	Services     map[TS6UID]serviceHandlerFunc
	ServiceNames map[string]TS6UID // lowercased service name -> UID

	Bans *BanStore

	Monitor *MonitorTable

	History *HistoryStore

	Accounts *AccountStore

	nextClientID uint64
	idMu         sync.Mutex

	startTime time.Time

	ShutdownChan chan struct{}
	shutdownOnce sync.Once
	WG           sync.WaitGroup

	mu sync.RWMutex // guards the maps above during concurrent reads from command handlers
}

// NewCatbox allocates an empty Catbox ready for Start.
func NewCatbox(cfg *Config) *Catbox {
	accounts, err := NewAccountStore(cfg.AccountsDBPath)
	if err != nil {
		log.Printf("unable to open accounts store, falling back to in-memory: %s", err)
		accounts, _ = NewAccountStore("")
	}

	cb := &Catbox{
		Config:       cfg,
		EventChan:    make(chan Event, 1024),
		LocalClients: make(map[uint64]*LocalClient),
		LocalUsers:   make(map[TS6UID]*LocalUser),
		LocalServers: make(map[TS6SID]*LocalServer),
		Users:        make(map[TS6UID]*User),
		Nicks:        make(map[string]TS6UID),
		Servers:      make(map[TS6SID]*Server),
		Channels:     make(map[string]*Channel),
		Opers:        make(map[TS6UID]struct{}),
		Bans:         NewBanStore(),
		Monitor:      NewMonitorTable(),
		History:      NewHistoryStore(cfg.Extra.HistoryMaxPerTarget, cfg.Extra.HistoryMaxTargets),
		Accounts:     accounts,
		startTime:    time.Now(),
		ShutdownChan: make(chan struct{}),
	}
	cb.registerServices()
	return cb
}

func (cb *Catbox) getClientID() uint64 {
	cb.idMu.Lock()
	defer cb.idMu.Unlock()
	cb.nextClientID++
	return cb.nextClientID
}

func (cb *Catbox) isShuttingDown() bool {
	select {
	case <-cb.ShutdownChan:
		return true
	default:
		return false
	}
}

func (cb *Catbox) shutdown() {
	cb.shutdownOnce.Do(func() {
		close(cb.ShutdownChan)
	})
}

// newEvent enqueues an event for the run loop, blocking if the channel is
// full (back-pressure), matching the teacher's pattern of readLoop/
// writeLoop pushing events to the central server rather than mutating
// state directly from the connection's own goroutine.
func (cb *Catbox) newEvent(e Event) {
	select {
	case cb.EventChan <- e:
	case <-cb.ShutdownChan:
	}
}

// run is the Catbox's single state-mutating goroutine. All Users/Nicks/
// Servers/LocalClients map writes happen here, in event arrival order,
// which is how the spec's ordering guarantee ("within one connection,
// inbound messages are processed in arrival order") composes with a
// shared Matrix without per-user locking for the hot path.
func (cb *Catbox) run() {
	defer cb.WG.Done()

	wakeup := time.NewTicker(cb.Config.WakeupTime)
	defer wakeup.Stop()

	for {
		select {
		case <-cb.ShutdownChan:
			return
		case <-wakeup.C:
			cb.checkAndPingClients()
		case ev := <-cb.EventChan:
			cb.handleEvent(ev)
		}
	}
}

func (cb *Catbox) handleEvent(ev Event) {
	switch ev.Type {
	case NewClientEvent:
		cb.LocalClients[ev.Client.ID] = ev.Client
	case DeadClientEvent:
		cb.reapClient(ev.Client)
	case MessageFromClientEvent:
		ev.Client.handleMessage(ev.Message)
	case MessageFromServerEvent:
		// Server link messages are dispatched the same way, via the
		// LocalClient/LocalServer's own handleMessage once promoted; kept
		// as a distinct event type for symmetry with the teacher's
		// client/server channel split.
	case WakeupEvent:
		cb.checkAndPingClients()
	}
}

func (cb *Catbox) reapClient(c *LocalClient) {
	delete(cb.LocalClients, c.ID)
}

func (cb *Catbox) checkAndPingClients() {
	now := time.Now()
	for _, c := range cb.LocalClients {
		idle := now.Sub(c.getLastActivityTime())
		if idle > cb.Config.DeadTime {
			log.Printf("Client %s: ping timeout", c)
			c.quit(fmt.Sprintf("Ping timeout: %d seconds", int(cb.Config.DeadTime.Seconds())))
			continue
		}
		if idle > cb.Config.PingTime && now.Sub(c.getLastPingTime()) > cb.Config.PingTime {
			_ = c.messageFromServer("PING", []string{cb.Config.ServerName})
			c.setLastPingTime(now)
		}
	}
}

// noticeOpers sends a NOTICE to every local operator (teacher's
// noticeLocalOpers idiom, generalized to the name used throughout the
// S2S handlers).
func (cb *Catbox) noticeOpers(format string, args ...interface{}) {
	cb.noticeLocalOpers(fmt.Sprintf(format, args...))
}

func (cb *Catbox) noticeLocalOpers(msg string) {
	for uid := range cb.Opers {
		u, ok := cb.Users[uid]
		if !ok || !u.isLocal() {
			continue
		}
		u.LocalUser.notice(msg)
	}
}

// errorToQuitMessage maps a connection I/O error to a human-readable
// QUIT/ERROR message. Grounded verbatim on the teacher's main_test.go
// expectations (TestErrorToQuitMessage); this repository has no test of
// its own for it.
func (cb *Catbox) errorToQuitMessage(err error) string {
	if err == nil {
		return "I/O error"
	}
	msg := err.Error()
	if msg == "" {
		return "I/O error"
	}
	if contains(msg, "i/o timeout") {
		return fmt.Sprintf("Ping timeout: %d seconds", int(cb.Config.DeadTime.Seconds()))
	}
	if contains(msg, "connection reset by peer") {
		return "Connection reset by peer"
	}
	return msg
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && (len(haystack) >= len(needle)) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
