package main

import "sync"

// whowasRing retains the last N WHOWAS entries per case-folded nick (spec
// §4.G, N=10), a process-wide table since WHOWAS spans every nick that
// has ever existed on this server, not just currently-online users.
type whowasRing struct {
	mu      sync.Mutex
	entries map[string][]WhowasEntry
	max     int
}

var whowasHistory = &whowasRing{entries: make(map[string][]WhowasEntry), max: 10}

func (r *whowasRing) record(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := canonicalizeNick(u.DisplayNick)
	server := ""
	if u.Server != nil {
		server = u.Server.Name
	}
	list := append(r.entries[key], WhowasEntry{
		Nick: u.DisplayNick, User: u.Username, Host: u.visibleHostOrReal(),
		RealName: u.RealName, Server: server,
	})
	if len(list) > r.max {
		list = list[len(list)-r.max:]
	}
	r.entries[key] = list
}

func (r *whowasRing) get(lower string) []WhowasEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WhowasEntry(nil), r.entries[lower]...)
}
