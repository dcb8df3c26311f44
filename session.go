package main

import (
	"time"

	"github.com/google/uuid"
)

// SaslState is the AUTHENTICATE state machine (spec §4.C).
type SaslState int

const (
	SaslNone SaslState = iota
	SaslWaitingForData
	SaslWaitingForExternal
	SaslWaitingForScramClientFirst
	SaslWaitingForScramClientFinal
	SaslAuthenticated
)

// BatchState tracks an in-progress client-to-server BATCH the session is
// accumulating (spec §4.F step 4 / component batch.go).
type BatchState struct {
	Reference string
	Type      string
	Params    []string
	Messages  []Message
}

// UnregisteredState holds everything accumulated before registration
// completes (spec §3.1 Unregistered). This replaces the teacher's
// LocalClient PreReg* field soup (local_client.go) with one struct that
// is discarded wholesale on registration, which is the concrete
// mechanism behind "try_register consumes the unregistered value."
type UnregisteredState struct {
	Nick     string
	User     string
	RealName string

	PassReceived string

	WebircIP   string
	WebircHost string

	CapNegotiating bool
	CapVersion     int // 301 or 302

	SaslState     SaslState
	SaslMechanism string
	SaslBuffer    []byte

	// Server handshake path (mutually exclusive in practice with the nick/
	// user path above, but not enforced by the type - matches the
	// teacher's local_client.go, which tracks both on one struct too).
	IsServerHandshake bool
	ServerPass        string
	ServerSID         TS6SID
	ServerName        string
	ServerInfo        string
	ServerHopcount    int
	ServerCapabs      map[string]struct{}
	GotPASS           bool
	GotCAPAB          bool
	GotSERVER         bool
	SentSERVER        bool
	SentSVINFO        bool
}

// RegisteredState holds session state that only exists once registration
// completes (spec §3.1 Registered).
type RegisteredState struct {
	SessionID uuid.UUID

	LastActivity time.Time
	PingPending  bool
	PingSentAt   time.Time

	ActiveBatch    *BatchState
	ActiveBatchRef string

	RateViolations int

	// Invited holds one-shot INVITE bypasses for +i channels (spec §4.H).
	Invited []string
}

// Session is the per-connection typestate container: exactly one of
// Unreg/Reg is non-nil at any time. Capabilities/Account/IsTLS/CertFP
// live at the Session level because they're meaningful in both phases
// (spec §3.1 repeats them on both variants).
type Session struct {
	Capabilities map[string]struct{}
	Account      string
	IsTLS        bool
	CertFP       string

	Unreg *UnregisteredState
	Reg   *RegisteredState

	// LocalUser is this session's own outbound connection, set once
	// registration completes. Multiclient/bouncer fan-out (spec §3.3,
	// §4.G, §4.I) delivers per session through this reference rather
	// than through a single User-wide connection, so two sessions of
	// the same UID (or two UIDs sharing an account) each get their own
	// independently cap-filtered copy of a message.
	LocalUser *LocalUser
}

// NewSession starts a connection in the Unregistered phase.
func NewSession() *Session {
	return &Session{
		Capabilities: make(map[string]struct{}),
		Unreg: &UnregisteredState{
			ServerCapabs: make(map[string]struct{}),
		},
	}
}

func (s *Session) IsRegistered() bool { return s.Reg != nil }

func (s *Session) HasCap(name string) bool {
	_, ok := s.Capabilities[name]
	return ok
}

// TryRegister consumes the Unregistered state and moves the session into
// Registered. Preconditions (spec §4.D) are checked by the caller
// (LocalClient.canRegister); this just performs the one-way transition.
func (s *Session) TryRegister() {
	s.Reg = &RegisteredState{
		SessionID:    uuid.New(),
		LastActivity: time.Now(),
	}
	s.Unreg = nil
}
