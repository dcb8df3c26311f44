package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatboxForServices(t *testing.T) *Catbox {
	t.Helper()
	accounts, err := NewAccountStore("")
	require.NoError(t, err)
	return &Catbox{Accounts: accounts}
}

func TestNickservRegisterThenIdentify(t *testing.T) {
	cb := newTestCatboxForServices(t)
	sender := &User{DisplayNick: "alice"}

	effects := handleNickservCommand(cb, sender, []string{"REGISTER", "hunter2"})
	require.Len(t, effects, 2)
	assert.Contains(t, effects[0].reply, "registered")
	assert.Equal(t, "alice", effects[1].setAccount)

	// Registering twice must fail, not silently overwrite the account.
	effects = handleNickservCommand(cb, sender, []string{"REGISTER", "otherpass"})
	require.Len(t, effects, 1)
	assert.Contains(t, effects[0].reply, "failed")

	effects = handleNickservCommand(cb, sender, []string{"IDENTIFY", "wrongpass"})
	require.Len(t, effects, 1)
	assert.Contains(t, effects[0].reply, "Invalid password")

	effects = handleNickservCommand(cb, sender, []string{"IDENTIFY", "hunter2"})
	require.Len(t, effects, 2)
	assert.Equal(t, "alice", effects[1].setAccount)
}

func TestNickservUnknownCommand(t *testing.T) {
	cb := newTestCatboxForServices(t)
	effects := handleNickservCommand(cb, &User{DisplayNick: "bob"}, []string{"FROBNICATE"})
	require.Len(t, effects, 1)
	assert.Contains(t, effects[0].reply, "Unknown command")
}

func TestChanservRegisterRequiresLogin(t *testing.T) {
	cb := newTestCatboxForServices(t)
	cb.Channels = map[string]*Channel{"#c": newTestChannel("#c", 1000)}

	sender := &User{DisplayNick: "alice"} // not logged in
	effects := handleChanservCommand(cb, sender, []string{"REGISTER", "#c"})
	require.Len(t, effects, 1)
	assert.Contains(t, effects[0].reply, "identified")
}

func TestChanservRegisterAndOp(t *testing.T) {
	delete(chanservChannels.founder, "#c")
	cb := newTestCatboxForServices(t)
	cb.Channels = map[string]*Channel{"#c": newTestChannel("#c", 1000)}

	founder := &User{DisplayNick: "alice", Account: "alice"}
	effects := handleChanservCommand(cb, founder, []string{"REGISTER", "#c"})
	require.Len(t, effects, 2)
	assert.Equal(t, "#c", effects[1].opChannel)

	other := &User{DisplayNick: "bob", Account: "bob"}
	effects = handleChanservCommand(cb, other, []string{"OP", "#c"})
	require.Len(t, effects, 1)
	assert.Contains(t, effects[0].reply, "not the founder")

	effects = handleChanservCommand(cb, founder, []string{"OP", "#c"})
	require.Len(t, effects, 2)
	assert.Equal(t, "#c", effects[1].opChannel)

	delete(chanservChannels.founder, "#c") // keep package-level state isolated across tests
}

func TestServiceUIDAndDisplayName(t *testing.T) {
	cb := &Catbox{Config: &Config{TS6SID: "1AB"}}
	cb.registerServices()

	uid, h, ok := cb.lookupService("ns")
	require.True(t, ok)
	require.NotNil(t, h)
	assert.Equal(t, "NickServ", serviceDisplayName(uid))

	_, _, ok = cb.lookupService("nosuchservice")
	assert.False(t, ok)
}
