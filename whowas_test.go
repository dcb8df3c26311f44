package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhowasRingBoundedAtMax(t *testing.T) {
	r := &whowasRing{entries: make(map[string][]WhowasEntry), max: 2}
	for i := 0; i < 5; i++ {
		r.record(&User{DisplayNick: "alice", Username: "a", RealName: fmt.Sprintf("entry-%d", i)})
	}
	got := r.get("alice")
	require.Len(t, got, 2)
	assert.Equal(t, "entry-3", got[0].RealName)
	assert.Equal(t, "entry-4", got[1].RealName)
}

func TestWhowasRingCaseFoldedKey(t *testing.T) {
	r := &whowasRing{entries: make(map[string][]WhowasEntry), max: 10}
	r.record(&User{DisplayNick: "Alice", Username: "a"})
	got := r.get(canonicalizeNick("ALICE"))
	require.Len(t, got, 1)
}
