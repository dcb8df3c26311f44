package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageLimiterAllowsBurstThenBlocks(t *testing.T) {
	l := NewMessageLimiter(RateLimitConfig{MessagesPerWindow: 3, Window: time.Hour})
	assert.True(t, l.Allow(false))
	assert.True(t, l.Allow(false))
	assert.True(t, l.Allow(false))
	assert.False(t, l.Allow(false))
}

func TestMessageLimiterCTCPHasSeparateBucket(t *testing.T) {
	l := NewMessageLimiter(RateLimitConfig{MessagesPerWindow: 100, Window: time.Hour, CTCPPerWindow: 1})
	assert.True(t, l.Allow(true))
	assert.False(t, l.Allow(true)) // CTCP bucket exhausted
	assert.True(t, l.Allow(false)) // ordinary messages unaffected
}

func TestMessageLimiterDefaults(t *testing.T) {
	l := NewMessageLimiter(RateLimitConfig{})
	// Defaults are 20 msgs/10s and 5 ctcp/10s; a single message must pass.
	assert.True(t, l.Allow(false))
}
