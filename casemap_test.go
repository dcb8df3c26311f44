package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaseFoldRFC1459(t *testing.T) {
	// {}|^ are the lowercase equivalents of []\~ under rfc1459 casemapping
	// (spec §4.M), not plain ASCII lower.
	assert.Equal(t, "{}|^", caseFold("[]\\~"))
	assert.Equal(t, "alice", caseFold("ALICE"))
	assert.Equal(t, "a{b}", caseFold("A[B]"))
}

func TestCanonicalizeNickAndChannel(t *testing.T) {
	assert.Equal(t, canonicalizeNick("Alice"), canonicalizeNick("alice"))
	assert.Equal(t, canonicalizeChannel("#Chan[1]"), canonicalizeChannel("#chan{1}"))
}

func TestIsValidChannel(t *testing.T) {
	assert.True(t, isValidChannel("#general"))
	assert.True(t, isValidChannel("&local"))
	assert.False(t, isValidChannel("general"))
	assert.False(t, isValidChannel("#"))
	assert.False(t, isValidChannel("#has space"))
}

func TestIsValidNick(t *testing.T) {
	assert.True(t, isValidNick(30, "alice"))
	assert.True(t, isValidNick(30, "[alice]-2"))
	assert.False(t, isValidNick(30, "2alice")) // must start with letter/special
	assert.False(t, isValidNick(5, "toolongnick"))
	assert.False(t, isValidNick(30, ""))
}

func TestWildcardMatch(t *testing.T) {
	assert.True(t, matchesMask("*!*@*", "alice!a@host.example.com"))
	assert.True(t, matchesMask("alice!*@*.example.com", "alice!a@irc.example.com"))
	assert.False(t, matchesMask("bob!*@*", "alice!a@host"))
	assert.True(t, matchesMask("a?ice!*@*", "alice!a@host"))
	// Case-insensitive under the same rfc1459 folding as nick/channel compares.
	assert.True(t, matchesMask("ALICE!*@*", "alice!a@host"))
}
