// Package ratelimit implements per-miner submission/rejection accounting and
// the validator-priority HTTP middleware (spec.md §4.7), grounded on
// original_source/gateway/middleware/priority.py.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
)

// counters is one miner's rolling-window submission/rejection state
// (spec.md §3 RateLimitCounters).
type counters struct {
	windowStart      time.Time
	submissions      int
	rejections       int
	slotReservations int
}

// Limits configures the caps a Counters instance enforces.
type Limits struct {
	// SubmissionCap bounds submissions within Window (spec.md §4.7 "Submission cap N").
	SubmissionCap int
	// RejectionCapRatio bounds rejections as a fraction of submissions within
	// the window, e.g. 0.5 denies further submissions once half of a miner's
	// recent submissions have been rejected. Not specified numerically by
	// spec.md; chosen as a conservative default that still lets a
	// mostly-good miner keep submitting.
	RejectionCapRatio float64
	// Window is the rolling accounting window.
	Window time.Duration
}

// DefaultLimits mirrors a reasonable operational default: 100 submissions
// per hour, denied once half are rejected.
var DefaultLimits = Limits{
	SubmissionCap:     100,
	RejectionCapRatio: 0.5,
	Window:            time.Hour,
}

// Counters tracks per-miner rate-limit state in memory. A restart resets all
// counters; this mirrors the original gateway's in-process dict-based
// counters (no separate rate-limit store in scope).
type Counters struct {
	limits Limits

	mu       sync.Mutex
	byHotkey map[string]*counters
}

// NewCounters builds a Counters enforcer.
func NewCounters(limits Limits) *Counters {
	return &Counters{limits: limits, byHotkey: make(map[string]*counters)}
}

// ReserveSubmission implements the CAS-style increment at /submit: bumps
// submissions and slot_reservations if under cap, else rejects with a data
// violation (no retry — the miner must wait for the window to roll).
func (c *Counters) ReserveSubmission(ctx context.Context, minerHotkey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cnt := c.resetIfStale(minerHotkey)
	if cnt.submissions >= c.limits.SubmissionCap {
		return gatewayerr.Data("miner has exceeded its rolling submission cap")
	}
	if cnt.submissions > 0 && float64(cnt.rejections)/float64(cnt.submissions) >= c.limits.RejectionCapRatio {
		return gatewayerr.Data("miner has exceeded its rolling rejection rate")
	}

	cnt.submissions++
	cnt.slotReservations++
	return nil
}

// MarkResolved releases a slot reservation once a lead reaches a terminal
// consensus outcome. rejected=true additionally increments the rejection
// counter — this is the only path that increments rejections, and it never
// also increments submissions (spec.md §4.7 "must NOT double-count").
func (c *Counters) MarkResolved(ctx context.Context, minerHotkey string, rejected bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cnt := c.resetIfStale(minerHotkey)
	if cnt.slotReservations > 0 {
		cnt.slotReservations--
	}
	if rejected {
		cnt.rejections++
	}
	return nil
}

// Snapshot returns a copy of a miner's current counters, for diagnostics.
func (c *Counters) Snapshot(minerHotkey string) (submissions, rejections, slotReservations int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cnt := c.resetIfStale(minerHotkey)
	return cnt.submissions, cnt.rejections, cnt.slotReservations
}

func (c *Counters) resetIfStale(minerHotkey string) *counters {
	cnt, ok := c.byHotkey[minerHotkey]
	if !ok || time.Since(cnt.windowStart) > c.limits.Window {
		cnt = &counters{windowStart: time.Now()}
		c.byHotkey[minerHotkey] = cnt
	}
	return cnt
}
