package main

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dmHistoryKey builds the symmetric history key for a direct-message
// conversation between two nicks (spec §3.6): "dm:" followed by the two
// case-folded nicks sorted so either party resolves to the same key
// regardless of who sent the original message.
func dmHistoryKey(a, b string) string {
	fa, fb := canonicalizeNick(a), canonicalizeNick(b)
	if fa > fb {
		fa, fb = fb, fa
	}
	return "dm:" + fa + ":" + fb
}

// HistoryEntry is one retained message for CHATHISTORY/event-playback
// (component K, spec §4.K).
type HistoryEntry struct {
	Message Message
	Time    time.Time
	Seq     uint64
}

// HistoryStore retains the last N messages per target (channel name or
// account-aware query key), bounded to a fixed number of targets via an LRU
// so an attacker can't grow memory by hammering new channel names (spec §5
// resource bounds). Backed by github.com/hashicorp/golang-lru/v2 per
// SPEC_FULL.md's DOMAIN STACK.
type HistoryStore struct {
	mu         sync.Mutex
	targets    *lru.Cache[string, *targetHistory]
	maxPerItem int
	seq        uint64
}

type targetHistory struct {
	mu      sync.Mutex
	entries []*HistoryEntry
	max     int
}

func NewHistoryStore(maxPerTarget, maxTargets int) *HistoryStore {
	c, _ := lru.New[string, *targetHistory](maxTargets)
	return &HistoryStore{targets: c, maxPerItem: maxPerTarget}
}

func (h *HistoryStore) getOrCreate(target string) *targetHistory {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := canonicalizeChannel(target)
	if t, ok := h.targets.Get(key); ok {
		return t
	}
	t := &targetHistory{max: h.maxPerItem}
	h.targets.Add(key, t)
	return t
}

func (h *HistoryStore) Add(target string, m Message) {
	t := h.getOrCreate(target)
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, &HistoryEntry{Message: m, Time: time.Now(), Seq: seq})
	if len(t.entries) > t.max {
		t.entries = t.entries[len(t.entries)-t.max:]
	}
}

// Latest returns up to n most recent entries, oldest first (CHATHISTORY
// LATEST).
func (h *HistoryStore) Latest(target string, n int) []*HistoryEntry {
	t := h.getOrCreate(target)
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > len(t.entries) {
		n = len(t.entries)
	}
	return append([]*HistoryEntry(nil), t.entries[len(t.entries)-n:]...)
}

// Before returns up to n entries strictly before the given time, oldest
// first (CHATHISTORY BEFORE).
func (h *HistoryStore) Before(target string, before time.Time, n int) []*HistoryEntry {
	t := h.getOrCreate(target)
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*HistoryEntry
	for i := len(t.entries) - 1; i >= 0 && len(out) < n; i-- {
		if t.entries[i].Time.Before(before) {
			out = append([]*HistoryEntry{t.entries[i]}, out...)
		}
	}
	return out
}

// Between returns entries within (after, before), oldest first.
func (h *HistoryStore) Between(target string, after, before time.Time, n int) []*HistoryEntry {
	t := h.getOrCreate(target)
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*HistoryEntry
	for _, e := range t.entries {
		if len(out) >= n {
			break
		}
		if e.Time.After(after) && e.Time.Before(before) {
			out = append(out, e)
		}
	}
	return out
}

// After returns up to n entries strictly after the given time, oldest
// first (CHATHISTORY AFTER).
func (h *HistoryStore) After(target string, after time.Time, n int) []*HistoryEntry {
	t := h.getOrCreate(target)
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*HistoryEntry
	for _, e := range t.entries {
		if len(out) >= n {
			break
		}
		if e.Time.After(after) {
			out = append(out, e)
		}
	}
	return out
}

// Around returns up to n entries centered on the given time: as many
// entries before it as after, oldest first (CHATHISTORY AROUND).
func (h *HistoryStore) Around(target string, when time.Time, n int) []*HistoryEntry {
	t := h.getOrCreate(target)
	t.mu.Lock()
	defer t.mu.Unlock()

	pivot := len(t.entries)
	for i, e := range t.entries {
		if e.Time.After(when) {
			pivot = i
			break
		}
	}

	half := n / 2
	start := pivot - half
	if start < 0 {
		start = 0
	}
	end := start + n
	if end > len(t.entries) {
		end = len(t.entries)
		start = end - n
		if start < 0 {
			start = 0
		}
	}
	return append([]*HistoryEntry(nil), t.entries[start:end]...)
}

// FindMsgid locates the timestamp of a previously recorded msgid, used to
// resolve a CHATHISTORY BEFORE/AFTER/AROUND reference given as "msgid=...".
func (h *HistoryStore) FindMsgid(target, msgid string) (time.Time, bool) {
	t := h.getOrCreate(target)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if v, ok := e.Message.TagValue("msgid"); ok && v == msgid {
			return e.Time, true
		}
	}
	return time.Time{}, false
}

// Targets lists every target with at least one retained entry, most
// recently active first (CHATHISTORY TARGETS).
func (h *HistoryStore) Targets() []string {
	h.mu.Lock()
	keys := h.targets.Keys()
	h.mu.Unlock()

	type kv struct {
		key  string
		last time.Time
	}
	var all []kv
	for _, k := range keys {
		t, ok := h.targets.Peek(k)
		if !ok {
			continue
		}
		t.mu.Lock()
		if len(t.entries) > 0 {
			all = append(all, kv{key: k, last: t.entries[len(t.entries)-1].Time})
		}
		t.mu.Unlock()
	}
	sort.Slice(all, func(i, j int) bool { return all[i].last.After(all[j].last) })
	out := make([]string, 0, len(all))
	for _, e := range all {
		out = append(out, e.key)
	}
	return out
}
