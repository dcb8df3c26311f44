package main

import (
	"strings"

	"github.com/google/uuid"
)

// multilineMaxBytes/multilineMaxLines are the draft/multiline ceilings
// this server advertises in CAP LS (cap.go: "max-bytes=40000,max-lines=100")
// and must actually enforce (spec §8: "∀ batch b accepted: b.total_bytes ≤
// 40000 ∧ b.lines.len() ≤ 100 and no concat line has empty content").
const (
	multilineMaxBytes = 40000
	multilineMaxLines = 100
)

// batchAbsorb implements the client-to-server half of the draft/multiline
// extension (component F step 4): a BATCH start line with type
// "draft/multiline" opens a capture; subsequent lines referencing that
// batch tag are buffered until BATCH end, then replayed as one logical
// PRIVMSG/NOTICE with a joined or line-broken body depending on the
// concat tag.
func (u *LocalUser) batchAbsorb(m Message) (ref string, active bool) {
	if m.Command == "BATCH" {
		return "", u.handleBatchControl(m)
	}

	ref, _ = m.TagValue("batch")
	if ref == "" {
		return "", false
	}
	reg := u.Session.Reg
	b := reg.ActiveBatch
	if b == nil || b.Reference != ref {
		return ref, false
	}

	if _, isConcat := m.TagValue("draft/multiline-concat"); isConcat {
		if text, ok := m.Arg(1); !ok || text == "" {
			u.abortMultilineBatch(ref, "MULTILINE_INVALID", "Empty concat line")
			return ref, true
		}
	}

	b.Messages = append(b.Messages, m)

	if len(b.Messages) > multilineMaxLines {
		u.abortMultilineBatch(ref, "MULTILINE_MAX_LINES", "Too many lines in multiline batch")
		return ref, true
	}

	byteCount := 0
	for _, mm := range b.Messages {
		if text, ok := mm.Arg(1); ok {
			byteCount += len(text)
		}
	}
	if byteCount > multilineMaxBytes {
		u.abortMultilineBatch(ref, "MULTILINE_MAX_BYTES", "Multiline batch exceeds byte limit")
		return ref, true
	}

	return ref, true
}

// abortMultilineBatch discards an in-progress multiline batch that
// violated the size invariant or the no-empty-concat-line rule, replying
// with FAIL BATCH (component F step 4) instead of letting it be replayed
// as a PRIVMSG/NOTICE.
func (u *LocalUser) abortMultilineBatch(ref, code, reason string) {
	u.Session.Reg.ActiveBatch = nil
	u.Session.Reg.ActiveBatchRef = ""
	_ = u.messageFromServer("FAIL", []string{"BATCH", code, ref, reason})
}

func (u *LocalUser) handleBatchControl(m Message) bool {
	tag, ok := m.Arg(0)
	if !ok || len(tag) == 0 {
		return false
	}
	reg := u.Session.Reg

	if tag[0] == '-' {
		ref := tag[1:]
		if reg.ActiveBatch == nil || reg.ActiveBatch.Reference != ref {
			return false
		}
		u.finishMultilineBatch()
		return true
	}

	if tag[0] != '+' {
		return false
	}
	ref := tag[1:]
	typ, _ := m.Arg(1)
	if typ != "draft/multiline" {
		return false
	}

	reg.ActiveBatch = &BatchState{
		Reference: ref,
		Type:      typ,
		Params:    m.Params[2:],
	}
	reg.ActiveBatchRef = ref
	return true
}

func (u *LocalUser) finishMultilineBatch() {
	reg := u.Session.Reg
	b := reg.ActiveBatch
	reg.ActiveBatch = nil
	reg.ActiveBatchRef = ""
	if b == nil || len(b.Messages) == 0 {
		return
	}

	target := ""
	if len(b.Params) > 0 {
		target = b.Params[0]
	}

	var lines []string
	concat := false
	command := ""
	for _, mm := range b.Messages {
		if mm.Command != "PRIVMSG" && mm.Command != "NOTICE" {
			continue
		}
		if command == "" {
			command = mm.Command
		}
		text, _ := mm.Arg(1)
		if _, isConcat := mm.TagValue("draft/multiline-concat"); isConcat && len(lines) > 0 {
			lines[len(lines)-1] += text
			concat = true
		} else {
			lines = append(lines, text)
		}
	}
	_ = concat
	if command == "" {
		command = "PRIVMSG"
	}

	sendMessageCommand(u, Message{Command: command, Params: []string{target, strings.Join(lines, "\n")}},
		command, func(Message) {})
}

// newBatchRef mints a batch reference for server-originated batches
// (CHATHISTORY replies, NETSPLIT notices): the first 8 hex characters of
// a random google/uuid (SPEC_FULL.md's DOMAIN STACK), short and random
// but not checked for collisions.
func newBatchRef() string {
	return uuid.NewString()[:8]
}

func (u *LocalUser) startServerBatch(batchType string, params ...string) string {
	ref := newBatchRef()
	p := append([]string{"+" + ref, batchType}, params...)
	_ = u.messageFromServer("BATCH", p)
	return ref
}

func (u *LocalUser) endServerBatch(ref string) {
	_ = u.messageFromServer("BATCH", []string{"-" + ref})
}
