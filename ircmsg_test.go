package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageBasic(t *testing.T) {
	m, err := ParseMessage(":nick!user@host PRIVMSG #chan :hello there\r\n")
	require.NoError(t, err)
	assert.Equal(t, "nick!user@host", m.Prefix)
	assert.Equal(t, "PRIVMSG", m.Command)
	assert.Equal(t, []string{"#chan", "hello there"}, m.Params)
}

func TestParseMessageTags(t *testing.T) {
	m, err := ParseMessage("@label=abc123;+client-tag=foo PING :srv\r\n")
	require.NoError(t, err)
	v, ok := m.TagValue("label")
	require.True(t, ok)
	assert.Equal(t, "abc123", v)
	v, ok = m.TagValue("+client-tag")
	require.True(t, ok)
	assert.Equal(t, "foo", v)
	assert.Equal(t, "PING", m.Command)
	assert.Equal(t, []string{"srv"}, m.Params)
}

func TestParseMessageBareLF(t *testing.T) {
	m, err := ParseMessage("PING :srv\n")
	require.NoError(t, err)
	assert.Equal(t, "PING", m.Command)
}

func TestParseMessageRejectsNUL(t *testing.T) {
	_, err := ParseMessage("PRIVMSG #c :hi\x00there\r\n")
	require.Error(t, err)
}

func TestParseMessageRejectsEmpty(t *testing.T) {
	_, err := ParseMessage("\r\n")
	require.Error(t, err)
}

func TestParseMessageCommandUppercased(t *testing.T) {
	m, err := ParseMessage("privmsg #c :hi\r\n")
	require.NoError(t, err)
	assert.Equal(t, "PRIVMSG", m.Command)
}

func TestMessageTagRoundtrip(t *testing.T) {
	m := Message{Command: "PRIVMSG", Params: []string{"#c", "hi"}}
	m = m.WithTag("msgid", "abc")
	m = m.WithTag("time", "2026-07-31T00:00:00.000Z")
	v, ok := m.TagValue("msgid")
	require.True(t, ok)
	assert.Equal(t, "abc", v)

	m = m.WithoutTag("msgid")
	_, ok = m.TagValue("msgid")
	assert.False(t, ok)

	// WithTag on an existing key replaces, doesn't duplicate.
	m = m.WithTag("time", "later")
	m = m.WithTag("time", "latest")
	count := 0
	for _, tag := range m.Tags {
		if tag.Key == "time" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMessageWithoutClientTags(t *testing.T) {
	m := Message{Command: "TAGMSG", Tags: []Tag{
		{Key: "+draft/reply", Value: "x"},
		{Key: "msgid", Value: "y"},
	}}
	out := m.WithoutClientTags()
	_, hasClient := out.TagValue("+draft/reply")
	assert.False(t, hasClient)
	v, ok := out.TagValue("msgid")
	require.True(t, ok)
	assert.Equal(t, "y", v)
}

func TestEncodeRoundTrip(t *testing.T) {
	m := Message{Prefix: "nick!u@h", Command: "PRIVMSG", Params: []string{"#chan", "hello world"}}
	s, err := m.Encode(512)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(s, "\r\n"))
	assert.Equal(t, ":nick!u@h PRIVMSG #chan :hello world\r\n", s)

	parsed, err := ParseMessage(strings.TrimSuffix(s, "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, m.Prefix, parsed.Prefix)
	assert.Equal(t, m.Command, parsed.Command)
	assert.Equal(t, m.Params, parsed.Params)
}

// A 512th byte in a user line must be an LF (512 includes CRLF) -
// Encode must truncate rather than exceed maxLen (spec §8 boundary).
func TestEncodeTruncatesAtMaxLen(t *testing.T) {
	long := strings.Repeat("x", 1000)
	m := Message{Prefix: "srv", Command: "PRIVMSG", Params: []string{"#c", long}}
	s, err := m.Encode(512)
	require.ErrorIs(t, err, ErrTruncated)
	assert.LessOrEqual(t, len(s), 512)
	assert.True(t, strings.HasSuffix(s, "\r\n"))
}

func TestSourceNick(t *testing.T) {
	m := Message{Prefix: "alice!a@host"}
	assert.Equal(t, "alice", m.SourceNick())

	m2 := Message{Prefix: "irc.example.org"}
	assert.Equal(t, "", m2.SourceNick())
}
