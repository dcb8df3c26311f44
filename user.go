package main

import (
	"fmt"
	"net"
	"time"
)

// UserModes are the per-user mode flags (spec §3.3).
type UserModes struct {
	Invisible     bool // i
	Wallops       bool // w
	Oper          bool // o
	Registered    bool // r
	Secure        bool // Z
	RegisteredPMs bool // R
	NoCTCP        bool // T
	Bot           bool // B
	Service       bool // S
	MaskedHost    bool // x
}

func (m UserModes) String() string {
	s := "+"
	add := func(has bool, c byte) {
		if has {
			s += string(c)
		}
	}
	add(m.Invisible, 'i')
	add(m.Wallops, 'w')
	add(m.Oper, 'o')
	add(m.Registered, 'r')
	add(m.Secure, 'Z')
	add(m.RegisteredPMs, 'R')
	add(m.NoCTCP, 'T')
	add(m.Bot, 'B')
	add(m.Service, 'S')
	add(m.MaskedHost, 'x')
	if s == "+" {
		return ""
	}
	return s
}

// WhowasEntry is one entry in a nick's WHOWAS ring (spec §4.G, N=10).
type WhowasEntry struct {
	Nick       string
	User       string
	Host       string
	RealName   string
	Server     string
	LogoutTime time.Time
}

// User holds information about a user, local or remote. Grounded on the
// teacher's user.go User struct, expanded per spec §3.3 with the fields
// the teacher's TS6-only prototype didn't need: VisibleHost, SessionID
// (per-session, so this lives on the Session, not here), Account, Away,
// Caps, CertFP, SilenceList, AcceptList, timestamps, and the fuller
// UserModes bitset in place of the teacher's map[byte]struct{}.
type User struct {
	DisplayNick string
	HopCount    int
	NickTS      int64
	Modes       UserModes
	Username    string
	Hostname    string // real host
	VisibleHost string // masked/vhost, what's shown to other users
	IP          net.IP
	UID         TS6UID
	RealName    string

	Account string // "" means not logged in

	Away string // "" means not away

	SilenceList []string
	AcceptList  []string

	CreatedAt     int64
	LastModified  int64 // hybrid timestamp: server-assigned monotonic-ish counter

	// Channel name (canonicalized) to Channel.
	Channels map[string]*Channel

	// Sessions lists every local session for this UID (multiclient/
	// bouncer). Empty for remote users. Order is insertion order; the
	// first entry is the "primary" session (spec §3.3).
	Sessions []*Session

	// LocalUser is set iff this is a local user (kept from the teacher for
	// the S2S code paths that branch on isLocal()/isRemote()).
	LocalUser *LocalUser

	// ClosestServer is the server we heard about the user from, which may
	// not be the server they're actually on.
	ClosestServer *LocalServer

	// Server is the server the user is connected to.
	Server *Server
}

func (u *User) String() string {
	return fmt.Sprintf("%s: %s", u.UID, u.nickUhost())
}

func (u *User) nickUhost() string {
	return fmt.Sprintf("%s!%s@%s", u.DisplayNick, u.Username, u.visibleHostOrReal())
}

func (u *User) visibleHostOrReal() string {
	if u.VisibleHost != "" {
		return u.VisibleHost
	}
	return u.Hostname
}

func (u *User) isOperator() bool { return u.Modes.Oper }

func (u *User) isLoggedIn() bool { return u.Account != "" }

func (u *User) onChannel(channel *Channel) bool {
	_, exists := u.Channels[channel.Name]
	return exists
}

func (u *User) modesString() string { return u.Modes.String() }

func (u *User) isLocal() bool { return u.LocalUser != nil }

func (u *User) isRemote() bool { return !u.isLocal() }

// matchesSilence reports whether any of the user's silence masks match
// the given nick!user@host (spec §4.I user-target check #2).
func (u *User) matchesSilence(nickUhost string) bool {
	for _, mask := range u.SilenceList {
		if matchesMask(mask, nickUhost) {
			return true
		}
	}
	return false
}
