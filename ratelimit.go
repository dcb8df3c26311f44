package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageLimiter token-buckets a single client's command rate plus a
// stricter CTCP sub-rate (spec §4.F step 3 / §4.M flood control), built on
// golang.org/x/time/rate per SPEC_FULL.md's DOMAIN STACK rather than a
// hand-rolled counter.
type MessageLimiter struct {
	mu       sync.Mutex
	messages *rate.Limiter
	ctcp     *rate.Limiter
}

// RateLimitConfig mirrors ConfigExtra.RateLimit.
type RateLimitConfig struct {
	MessagesPerWindow int           `yaml:"messages_per_window"`
	Window            time.Duration `yaml:"window"`
	CTCPPerWindow     int           `yaml:"ctcp_per_window"`
}

func NewMessageLimiter(cfg RateLimitConfig) *MessageLimiter {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.MessagesPerWindow <= 0 {
		cfg.MessagesPerWindow = 20
	}
	if cfg.CTCPPerWindow <= 0 {
		cfg.CTCPPerWindow = 5
	}

	perSecond := rate.Limit(float64(cfg.MessagesPerWindow) / cfg.Window.Seconds())
	ctcpPerSecond := rate.Limit(float64(cfg.CTCPPerWindow) / cfg.Window.Seconds())

	return &MessageLimiter{
		messages: rate.NewLimiter(perSecond, cfg.MessagesPerWindow),
		ctcp:     rate.NewLimiter(ctcpPerSecond, cfg.CTCPPerWindow),
	}
}

// Allow reports whether the message should be processed now. CTCP-tagged
// PRIVMSG/NOTICE consume from both buckets, matching the spec's nested
// CTCP sub-rate.
func (l *MessageLimiter) Allow(isCTCP bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if isCTCP && !l.ctcp.Allow() {
		return false
	}
	return l.messages.Allow()
}
