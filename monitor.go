package main

import "sync"

// MonitorTable implements the MONITOR extension (component J, spec §4.J):
// local clients register interest in nicknames and get ONLINE/OFFLINE push
// notifications as those nicks connect, disconnect, or change case-fold.
type MonitorTable struct {
	mu sync.RWMutex
	// watchers maps a case-folded target nick to the set of local users
	// watching it.
	watchers map[string]map[TS6UID]*LocalUser
	// watching maps a watcher's UID to the set of case-folded nicks it watches,
	// for enforcing the per-user cap and cleanup on quit.
	watching map[TS6UID]map[string]struct{}
	limit    int
}

func NewMonitorTable() *MonitorTable {
	return &MonitorTable{
		watchers: make(map[string]map[TS6UID]*LocalUser),
		watching: make(map[TS6UID]map[string]struct{}),
		limit:    100,
	}
}

func (m *MonitorTable) Add(u *LocalUser, nick string) (ok bool, alreadyOnline bool) {
	lower := canonicalizeNick(nick)
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.watching[u.User.UID]
	if set == nil {
		set = make(map[string]struct{})
		m.watching[u.User.UID] = set
	}
	if len(set) >= m.limit {
		return false, false
	}
	set[lower] = struct{}{}

	if m.watchers[lower] == nil {
		m.watchers[lower] = make(map[TS6UID]*LocalUser)
	}
	m.watchers[lower][u.User.UID] = u

	_, online := u.Catbox.Nicks[lower]
	return true, online
}

func (m *MonitorTable) Remove(u *LocalUser, nick string) {
	lower := canonicalizeNick(nick)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watching[u.User.UID], lower)
	delete(m.watchers[lower], u.User.UID)
}

func (m *MonitorTable) Clear(u *LocalUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for lower := range m.watching[u.User.UID] {
		delete(m.watchers[lower], u.User.UID)
	}
	delete(m.watching, u.User.UID)
}

func (m *MonitorTable) List(u *LocalUser) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.watching[u.User.UID]))
	for lower := range m.watching[u.User.UID] {
		out = append(out, lower)
	}
	return out
}

func (m *MonitorTable) NotifyOnline(u *User) {
	lower := canonicalizeNick(u.DisplayNick)
	m.mu.RLock()
	watchers := m.watchers[lower]
	m.mu.RUnlock()
	for _, w := range watchers {
		_ = w.messageFromServer("730", []string{u.nickUhost()})
	}
}

func (m *MonitorTable) NotifyOffline(u *User) {
	lower := canonicalizeNick(u.DisplayNick)
	m.mu.RLock()
	watchers := m.watchers[lower]
	m.mu.RUnlock()
	for _, w := range watchers {
		_ = w.messageFromServer("731", []string{u.DisplayNick})
	}
}

func (m *MonitorTable) NotifyRename(oldLower, newLower string, u *User) {
	m.NotifyOffline(&User{DisplayNick: reverseCaseFoldGuess(oldLower)})
	m.mu.RLock()
	watchers := m.watchers[newLower]
	m.mu.RUnlock()
	for _, w := range watchers {
		_ = w.messageFromServer("730", []string{u.nickUhost()})
	}
}

// reverseCaseFoldGuess is a best-effort display form when all we have is the
// case-folded key; MONITOR OFFLINE only needs the nick, and case-folding is
// idempotent for the common all-lower/upper case, so this is acceptable for
// the notification's cosmetic nick field.
func reverseCaseFoldGuess(lower string) string {
	return lower
}

func (m *MonitorTable) NotifyAccount(u *User) {
	lower := canonicalizeNick(u.DisplayNick)
	m.mu.RLock()
	watchers := m.watchers[lower]
	m.mu.RUnlock()
	accountTag := u.Account
	if accountTag == "" {
		accountTag = "*"
	}
	for _, w := range watchers {
		if !w.HasCap("account-notify") {
			continue
		}
		_ = w.User.messageUser(Message{Prefix: u.String(), Command: "ACCOUNT", Params: []string{accountTag}})
	}
}

func (u *LocalUser) HasCap(name string) bool {
	return u.Session.HasCap(name)
}
