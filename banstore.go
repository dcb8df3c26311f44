package main

import (
	"sync"
	"time"
)

// BanKind enumerates the xlines family (supplemented from original_source's
// src/handlers/bans.rs per SPEC_FULL.md): K-lines hit user@host, D-lines hit
// raw IPs, G-lines are network-wide K-lines pending oper consensus, Z-lines
// hit IPs pre-DNS/ident, R-lines match against realname, and shuns silence a
// client without disconnecting it.
type BanKind int

const (
	BanKLine BanKind = iota
	BanDLine
	BanGLine
	BanZLine
	BanRLine
	BanShun
)

func (k BanKind) String() string {
	switch k {
	case BanKLine:
		return "K"
	case BanDLine:
		return "D"
	case BanGLine:
		return "G"
	case BanZLine:
		return "Z"
	case BanRLine:
		return "R"
	case BanShun:
		return "SHUN"
	}
	return "?"
}

type banRecord struct {
	Kind     BanKind
	Mask     string
	Reason   string
	SetBy    string
	SetAt    int64
	Duration time.Duration // zero means permanent
}

func (b *banRecord) expired() bool {
	if b.Duration == 0 {
		return false
	}
	return time.Now().Unix() > b.SetAt+int64(b.Duration/time.Second)
}

// BanStore holds the xlines family in memory, keyed by kind (component
// "connection gating", spec §4.N). Bans are not persisted.
type BanStore struct {
	mu   sync.RWMutex
	bans map[BanKind][]*banRecord
}

func NewBanStore() *BanStore {
	return &BanStore{bans: make(map[BanKind][]*banRecord)}
}

func (s *BanStore) Add(kind BanKind, mask, reason, setBy string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans[kind] = append(s.bans[kind], &banRecord{
		Kind: kind, Mask: mask, Reason: reason, SetBy: setBy,
		SetAt: time.Now().Unix(), Duration: duration,
	})
}

func (s *BanStore) Remove(kind BanKind, mask string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.bans[kind]
	for i, b := range list {
		if b.Mask == mask {
			s.bans[kind] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (s *BanStore) List(kind BanKind) []*banRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*banRecord, 0, len(s.bans[kind]))
	for _, b := range s.bans[kind] {
		if !b.expired() {
			out = append(out, b)
		}
	}
	return out
}

// CheckConnect runs at registration time (spec §4.A/§4.E): K/G/D/Z-lines can
// refuse a connection; matched reason is returned for the quit message.
func (s *BanStore) CheckConnect(nickUhost, ip string) (reason string, banned bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, kind := range []BanKind{BanKLine, BanGLine} {
		for _, b := range s.bans[kind] {
			if b.expired() {
				continue
			}
			if matchesMask(b.Mask, nickUhost) {
				return b.Reason, true
			}
		}
	}
	for _, kind := range []BanKind{BanDLine, BanZLine} {
		for _, b := range s.bans[kind] {
			if b.expired() {
				continue
			}
			if matchesMask(b.Mask, ip) {
				return b.Reason, true
			}
		}
	}
	return "", false
}

// IsShunned reports whether a nick!user@host is under SHUN (spec supplement):
// shunned clients' PRIVMSG/NOTICE/TAGMSG are silently dropped by
// deliverOutgoing rather than disconnected.
func (s *BanStore) IsShunned(nickUhost string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bans[BanShun] {
		if !b.expired() && matchesMask(b.Mask, nickUhost) {
			return true
		}
	}
	return false
}

func (s *BanStore) MatchesRealName(realname string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bans[BanRLine] {
		if b.expired() {
			continue
		}
		if wildcardMatch(caseFold(b.Mask), caseFold(realname)) {
			return b.Reason, true
		}
	}
	return "", false
}

func parseBanKind(cmd string) (BanKind, bool) {
	switch cmd {
	case "KLINE", "UNKLINE":
		return BanKLine, true
	case "DLINE", "UNDLINE":
		return BanDLine, true
	case "GLINE", "UNGLINE":
		return BanGLine, true
	case "ZLINE", "UNZLINE":
		return BanZLine, true
	case "RLINE", "UNRLINE":
		return BanRLine, true
	case "SHUN", "UNSHUN":
		return BanShun, true
	}
	return 0, false
}
