// Package algebra implements the pure scheduling function described in
// spec.md §4.1: given an endpoint snapshot, the outcome of its last attempt
// (or none, for first scheduling), and the current time, it computes the
// next nextRunAt, the new failure counter, and which AI hint fields should
// be cleared. Nothing in this package touches the clock, a store, or the
// network — it is a total function over its inputs, matching §7's
// "the scheduling algebra never throws" contract.
package algebra

import (
	"fmt"
	"time"

	"github.com/weskerllc/cronicorn/internal/cronexpr"
	"github.com/weskerllc/cronicorn/internal/domain"
)

// BackoffCap bounds the exponential backoff multiplier at 2^6 = 64x.
const BackoffCap = 6

// Outcome is the result of the last dispatch attempt, or nil for first
// scheduling (no attempt has ever been made).
type Outcome struct {
	Status domain.RunStatus
}

// Result is everything the algebra decides for one transition.
type Result struct {
	NextRunAt      time.Time
	FailureCount   int
	ClearOneShot   bool
	ClearAllHints  bool
}

// candidate describes the winning t* before backoff/clamp/pause overlays,
// along with enough information to apply backoff correctly and to let
// Attribute() report which steering source produced it.
type candidate struct {
	t          time.Time
	source     domain.Source
	anchor     time.Time // the reference point the delta was measured from
	backoffable bool       // false only for an active one-shot hint
}

// Compute runs the full algebra: candidate selection, backoff overlay,
// guardrail clamp, pause overlay, failure counter update, and hint-clear
// policy. outcome is nil when this is the first time the endpoint is being
// scheduled (no run has completed yet).
func Compute(e *domain.Endpoint, outcome *Outcome, now time.Time) (Result, error) {
	cand, err := computeCandidate(e, now)
	if err != nil {
		return Result{}, err
	}

	t := cand.t
	failed := outcome != nil && (outcome.Status == domain.RunStatusFailed || outcome.Status == domain.RunStatusCanceled)
	if failed && cand.backoffable {
		t = applyBackoff(cand, e.FailureCount)
	}

	t = applyGuardrails(t, now, e.MinIntervalMs, e.MaxIntervalMs)
	t = applyPause(t, e.PausedUntil)

	failureCount := e.FailureCount
	if outcome != nil {
		switch outcome.Status {
		case domain.RunStatusSuccess:
			failureCount = 0
		case domain.RunStatusFailed, domain.RunStatusCanceled:
			failureCount++
		}
	}

	clearOneShot := false
	clearAll := false
	if e.AIHintNextRunAt != nil && !e.AIHintNextRunAt.After(now) {
		clearOneShot = true
	}
	if e.AIHintExpiresAt != nil && !e.AIHintExpiresAt.After(now) {
		clearAll = true
	}

	return Result{
		NextRunAt:     t,
		FailureCount:  failureCount,
		ClearOneShot:  clearOneShot,
		ClearAllHints: clearAll,
	}, nil
}

// Attribute reports which steering source drove the endpoint's current
// NextRunAt, by recomputing the (unclamped, pre-backoff) candidate and
// seeing which branch matches. Used by the scheduler tick to stamp a Run's
// source attribution before dispatch (§4.3).
func Attribute(e *domain.Endpoint, now time.Time) (domain.Source, error) {
	cand, err := computeCandidate(e, now)
	if err != nil {
		return "", err
	}
	// A manually-pulled-forward nextRunAt (setNextRunAtIfEarlier without an
	// active hint) lands earlier than the recomputed candidate, even after the
	// max-interval ceiling; backoff, the floor and pause only move it later.
	// A first run has no lastRunAt to recompute from and keeps the
	// candidate's source.
	earliest := applyGuardrails(cand.t, cand.anchor, nil, e.MaxIntervalMs)
	if e.LastRunAt == nil || !e.NextRunAt.Before(earliest) {
		return cand.source, nil
	}
	return domain.SourceManual, nil
}

func computeCandidate(e *domain.Endpoint, now time.Time) (candidate, error) {
	anchor := now
	if e.LastRunAt != nil {
		anchor = *e.LastRunAt
	}

	var best *candidate

	if e.HasActiveOneShotHint(now) {
		best = &candidate{t: *e.AIHintNextRunAt, source: domain.SourceAIOneshot, anchor: *e.AIHintNextRunAt, backoffable: false}
	}

	if e.HasActiveIntervalHint(now) {
		t := anchor.Add(time.Duration(*e.AIHintIntervalMs) * time.Millisecond)
		c := candidate{t: t, source: domain.SourceAIInterval, anchor: anchor, backoffable: true}
		if best == nil || c.t.Before(best.t) {
			best = &c
		}
	}

	if best != nil {
		return *best, nil
	}

	baseline, err := computeBaseline(e, anchor)
	if err != nil {
		return candidate{}, err
	}
	return candidate{t: baseline, source: domain.SourceBaseline, anchor: anchor, backoffable: true}, nil
}

func computeBaseline(e *domain.Endpoint, anchor time.Time) (time.Time, error) {
	switch {
	case e.BaselineCron != nil && *e.BaselineCron != "":
		next, err := cronexpr.Next(*e.BaselineCron, anchor)
		if err != nil {
			return time.Time{}, fmt.Errorf("compute baseline cron: %w", err)
		}
		return next, nil
	case e.BaselineIntervalMs != nil && *e.BaselineIntervalMs > 0:
		return anchor.Add(time.Duration(*e.BaselineIntervalMs) * time.Millisecond), nil
	default:
		return time.Time{}, fmt.Errorf("endpoint %s has no baseline cadence", e.ID)
	}
}

// applyBackoff multiplies the delta between the candidate and its anchor by
// 2^min(failureCount, BackoffCap), using the failure count as it stood
// entering this transition (i.e. before this outcome's increment) — so the
// first failure after a clean run backs off by 1x, the second by 2x, etc.
func applyBackoff(cand candidate, failureCountBeforeThisOutcome int) time.Time {
	exp := failureCountBeforeThisOutcome
	if exp > BackoffCap {
		exp = BackoffCap
	}
	multiplier := int64(1) << uint(exp)
	delta := cand.t.Sub(cand.anchor)
	return cand.anchor.Add(time.Duration(int64(delta) * multiplier))
}

// applyGuardrails clamps t to [now+min, now+max], floor first so an
// aggressive hint or backoff blow-up can never run below the floor, then
// ceiling so a runaway backoff can never exceed the configured max.
func applyGuardrails(t, now time.Time, minMs, maxMs *int64) time.Time {
	if minMs != nil {
		floor := now.Add(time.Duration(*minMs) * time.Millisecond)
		if t.Before(floor) {
			t = floor
		}
	}
	if maxMs != nil {
		ceiling := now.Add(time.Duration(*maxMs) * time.Millisecond)
		if t.After(ceiling) {
			t = ceiling
		}
	}
	return t
}

func applyPause(t time.Time, pausedUntil *time.Time) time.Time {
	if pausedUntil != nil && pausedUntil.After(t) {
		return *pausedUntil
	}
	return t
}

// ClampNudge applies only the guardrail clamp (no backoff, no pause-overlay
// widening) to a caller-proposed time. It is what setNextRunAtIfEarlier uses
// to honour guardrails on AI/manual nudges while still allowing them to move
// nextRunAt earlier (see 4.2).
func ClampNudge(t, now time.Time, minMs, maxMs *int64) time.Time {
	return applyGuardrails(t, now, minMs, maxMs)
}
