package domain

import (
	"errors"
	"time"
)

var (
	ErrEndpointNotFound       = errors.New("endpoint not found")
	ErrEndpointArchived       = errors.New("endpoint is archived")
	ErrCadenceNotExclusive    = errors.New("exactly one of baseline cron or baseline interval must be set")
	ErrGuardrailOrder         = errors.New("minIntervalMs must be <= maxIntervalMs")
	ErrMissingURL             = errors.New("endpoint url is required")
	ErrUnsupportedMethod      = errors.New("unsupported http method")
)

// Method is one of the five HTTP verbs an endpoint may be dispatched with.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	default:
		return false
	}
}

// Default guardrail values, applied when the caller leaves them unset.
const (
	DefaultTimeoutMs           = 30_000
	MinTimeoutMs               = 1_000
	DefaultMaxExecutionTimeMs  = 60_000
	MaxMaxExecutionTimeMs      = 30 * 60 * 1000
	DefaultMaxResponseSizeKb   = 100
)

// Endpoint is the schedulable unit. It belongs to exactly one Job, which
// fixes its tenant.
type Endpoint struct {
	ID    string
	JobID string

	// Baseline cadence — exactly one of these two is set (I1).
	BaselineCron       *string
	BaselineIntervalMs *int64

	// Guardrails (I2: Min <= Max when both set).
	MinIntervalMs *int64
	MaxIntervalMs *int64

	// AI hints, all scoped by AIHintExpiresAt.
	AIHintIntervalMs *int64
	AIHintNextRunAt  *time.Time
	AIHintReason     *string
	AIHintExpiresAt  *time.Time

	// Manual control.
	PausedUntil *time.Time

	// Soft-delete.
	ArchivedAt *time.Time

	// Runtime state.
	LastRunAt     *time.Time
	NextRunAt     time.Time
	FailureCount  int

	// AI planner scheduling — decoupled from NextRunAt. Zero value means the
	// endpoint has never been analyzed and is immediately due.
	NextAnalysisAt time.Time

	// Request config.
	URL                string
	Method             Method
	Headers            map[string]string
	Body               *JSONValue
	TimeoutMs          int
	MaxExecutionTimeMs int
	MaxResponseSizeKb  int

	// Internal lease (adapter-private in spec terms; exported here because
	// the store package is a sibling, not an embedded adapter).
	LockedUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate enforces I1, I2, and request-config sanity. Callers should run
// this before addEndpoint/updateEndpoint; the store re-validates on update
// regardless, per the 4.2 contract.
func (e *Endpoint) Validate() error {
	hasCron := e.BaselineCron != nil && *e.BaselineCron != ""
	hasInterval := e.BaselineIntervalMs != nil && *e.BaselineIntervalMs > 0
	if hasCron == hasInterval {
		return ErrCadenceNotExclusive
	}
	if e.MinIntervalMs != nil && e.MaxIntervalMs != nil && *e.MinIntervalMs > *e.MaxIntervalMs {
		return ErrGuardrailOrder
	}
	if e.URL == "" {
		return ErrMissingURL
	}
	if !e.Method.Valid() {
		return ErrUnsupportedMethod
	}
	return nil
}

// ApplyDefaults fills in the request-config defaults described in §3.
func (e *Endpoint) ApplyDefaults() {
	if e.TimeoutMs <= 0 {
		e.TimeoutMs = DefaultTimeoutMs
	}
	if e.TimeoutMs < MinTimeoutMs {
		e.TimeoutMs = MinTimeoutMs
	}
	if e.MaxExecutionTimeMs <= 0 {
		e.MaxExecutionTimeMs = DefaultMaxExecutionTimeMs
	}
	if e.MaxExecutionTimeMs > MaxMaxExecutionTimeMs {
		e.MaxExecutionTimeMs = MaxMaxExecutionTimeMs
	}
	if e.MaxResponseSizeKb <= 0 {
		e.MaxResponseSizeKb = DefaultMaxResponseSizeKb
	}
	if e.Method == "" {
		e.Method = MethodGet
	}
}

// IsPaused reports whether the endpoint is currently paused as of now.
func (e *Endpoint) IsPaused(now time.Time) bool {
	return e.PausedUntil != nil && e.PausedUntil.After(now)
}

// IsArchived reports whether the endpoint has been soft-deleted.
func (e *Endpoint) IsArchived() bool {
	return e.ArchivedAt != nil
}

// HasActiveOneShotHint reports whether an unexpired, unconsumed one-shot
// hint is present (algebra candidate #1).
func (e *Endpoint) HasActiveOneShotHint(now time.Time) bool {
	if e.AIHintNextRunAt == nil || e.AIHintExpiresAt == nil {
		return false
	}
	if !e.AIHintExpiresAt.After(now) {
		return false
	}
	if e.LastRunAt != nil && !e.AIHintNextRunAt.After(*e.LastRunAt) {
		return false
	}
	return true
}

// HasActiveIntervalHint reports whether an unexpired interval hint is
// present (algebra candidate #2).
func (e *Endpoint) HasActiveIntervalHint(now time.Time) bool {
	if e.AIHintIntervalMs == nil || e.AIHintExpiresAt == nil {
		return false
	}
	return e.AIHintExpiresAt.After(now)
}
