// Copyright Sentinel Proxy Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package ratelimit implements a per-client fixed-window limiter over
// request and estimated-token budgets.
package ratelimit

import (
	"sync"
	"time"
)

// defaultWindow is the window duration used when the config leaves it zero.
const defaultWindow = time.Minute

// Config holds the limiter caps. A zero cap means unlimited for that
// dimension; the limiter is disabled when both caps are zero.
type Config struct {
	// RequestsPerMinute caps admitted requests per window per client.
	RequestsPerMinute uint32
	// TokensPerMinute caps admitted estimated tokens per window per client.
	TokensPerMinute uint32
	// Window is the fixed window duration, one minute when zero.
	Window time.Duration
}

// Enabled reports whether any cap is configured.
func (c Config) Enabled() bool {
	return c.RequestsPerMinute > 0 || c.TokensPerMinute > 0
}

// ExceededLimit names the cap a denied request ran into.
type ExceededLimit string

const (
	ExceededNone     ExceededLimit = ""
	ExceededRequests ExceededLimit = "requests"
	ExceededTokens   ExceededLimit = "tokens"
)

// Result reports the outcome of one admission check, with the window counts
// and limits needed to compose rate-limit headers.
type Result struct {
	Allowed bool
	// RequestCount is the admitted request count in the current window,
	// including this request when it was admitted.
	RequestCount uint32
	RequestLimit uint32
	// TokenCount is the admitted token count in the current window,
	// including this request's tokens when it was admitted.
	TokenCount uint32
	TokenLimit uint32
	// ResetSeconds is the whole seconds remaining until the window resets.
	ResetSeconds uint64
	// Exceeded names the cap that denied the request, ExceededNone when
	// allowed. Requests wins when both caps would have denied.
	Exceeded ExceededLimit
}

type windowEntry struct {
	start    time.Time
	requests uint32
	tokens   uint32
}

// Limiter is an in-memory fixed-window limiter keyed by client id.
// It is safe for concurrent use.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	state map[string]*windowEntry

	// now is replaceable in tests.
	now func() time.Time
}

// NewLimiter creates a limiter for the given config.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Window == 0 {
		cfg.Window = defaultWindow
	}
	return &Limiter{
		cfg:   cfg,
		state: make(map[string]*windowEntry),
		now:   time.Now,
	}
}

// CheckAndRecord tests whether a request with the given estimated token
// weight is admitted for the client and records it if so. Denied requests
// do not consume any budget. The request cap is tested before the token cap.
func (l *Limiter) CheckAndRecord(clientID string, estimatedTokens uint32) Result {
	if !l.cfg.Enabled() {
		return Result{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.state[clientID]
	if !ok {
		entry = &windowEntry{start: now}
		l.state[clientID] = entry
	}

	if now.Sub(entry.start) >= l.cfg.Window {
		*entry = windowEntry{start: now}
	}

	resetSeconds := l.resetSeconds(entry, now)

	result := Result{
		RequestCount: entry.requests,
		RequestLimit: l.cfg.RequestsPerMinute,
		TokenCount:   entry.tokens,
		TokenLimit:   l.cfg.TokensPerMinute,
		ResetSeconds: resetSeconds,
	}

	if l.cfg.RequestsPerMinute > 0 && entry.requests >= l.cfg.RequestsPerMinute {
		result.Exceeded = ExceededRequests
		return result
	}
	if l.cfg.TokensPerMinute > 0 && entry.tokens+estimatedTokens > l.cfg.TokensPerMinute {
		result.Exceeded = ExceededTokens
		return result
	}

	entry.requests++
	entry.tokens += estimatedTokens
	result.Allowed = true
	result.RequestCount = entry.requests
	result.TokenCount = entry.tokens
	return result
}

// CleanupExpired drops entries whose window has elapsed. The limiter does
// not schedule this itself; invocation policy belongs to the embedding
// process.
func (l *Limiter) CleanupExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for clientID, entry := range l.state {
		if now.Sub(entry.start) >= l.cfg.Window {
			delete(l.state, clientID)
		}
	}
}

func (l *Limiter) resetSeconds(entry *windowEntry, now time.Time) uint64 {
	elapsed := now.Sub(entry.start)
	if elapsed >= l.cfg.Window {
		return 0
	}
	return uint64((l.cfg.Window - elapsed) / time.Second)
}

// stateFor returns the current window counters for a client. Test helper.
func (l *Limiter) stateFor(clientID string) (requests, tokens uint32, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.state[clientID]
	if !ok {
		return 0, 0, false
	}
	return entry.requests, entry.tokens, true
}
