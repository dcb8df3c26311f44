package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryLatestOrdering(t *testing.T) {
	h := NewHistoryStore(100, 10)
	for i := 0; i < 5; i++ {
		h.Add("#chan", Message{Command: "PRIVMSG", Params: []string{"#chan", itoa(i)}})
	}
	got := h.Latest("#chan", 3)
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[0].Message.Params[1])
	assert.Equal(t, "4", got[2].Message.Params[1])
}

func TestHistoryBoundedPerTarget(t *testing.T) {
	h := NewHistoryStore(3, 10)
	for i := 0; i < 10; i++ {
		h.Add("#chan", Message{Command: "PRIVMSG", Params: []string{"#chan", itoa(i)}})
	}
	got := h.Latest("#chan", 100)
	require.Len(t, got, 3)
	assert.Equal(t, "7", got[0].Message.Params[1])
	assert.Equal(t, "9", got[2].Message.Params[1])
}

func TestHistoryCanonicalizesTargetCase(t *testing.T) {
	h := NewHistoryStore(10, 10)
	h.Add("#Chan", Message{Command: "PRIVMSG", Params: []string{"#Chan", "hi"}})
	got := h.Latest("#chan", 10)
	require.Len(t, got, 1)
}

func TestHistoryBeforeAfter(t *testing.T) {
	h := NewHistoryStore(10, 10)
	h.Add("#c", Message{Command: "PRIVMSG", Params: []string{"#c", "one"}})
	mid := time.Now()
	time.Sleep(time.Millisecond)
	h.Add("#c", Message{Command: "PRIVMSG", Params: []string{"#c", "two"}})

	before := h.Before("#c", mid, 10)
	require.Len(t, before, 1)
	assert.Equal(t, "one", before[0].Message.Params[1])

	after := h.After("#c", mid, 10)
	require.Len(t, after, 1)
	assert.Equal(t, "two", after[0].Message.Params[1])
}

func TestHistoryFindMsgid(t *testing.T) {
	h := NewHistoryStore(10, 10)
	m := Message{Command: "PRIVMSG", Params: []string{"#c", "hi"}}.WithTag("msgid", "abc-123")
	h.Add("#c", m)
	_, ok := h.FindMsgid("#c", "abc-123")
	assert.True(t, ok)
	_, ok = h.FindMsgid("#c", "nonexistent")
	assert.False(t, ok)
}

func TestHistoryTargetsMostRecentFirst(t *testing.T) {
	h := NewHistoryStore(10, 10)
	h.Add("#a", Message{Command: "PRIVMSG", Params: []string{"#a", "hi"}})
	time.Sleep(time.Millisecond)
	h.Add("#b", Message{Command: "PRIVMSG", Params: []string{"#b", "hi"}})
	targets := h.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, "#b", targets[0])
}
