package domain

import (
	"time"
)

// TurnOutcome labels how a relayed turn ended.
type TurnOutcome string

const (
	// OutcomeOK means a reply was returned to the widget.
	OutcomeOK TurnOutcome = "ok"
	// OutcomeRejected means the request failed validation before any remote call.
	OutcomeRejected TurnOutcome = "rejected"
	// OutcomeError means the remote sequence aborted.
	OutcomeError TurnOutcome = "error"
)

// TurnRecord is the operational metadata of one relayed turn. It never holds
// message text; conversation content lives only in the remote service.
type TurnRecord struct {
	TurnID        string
	RequestID     string
	ThreadID      string
	RunID         string
	ThreadCreated bool
	Outcome       TurnOutcome
	ErrorKind     string
	Stage         string
	MessageLength int
	ReplyLength   int
	Transport     string
	StartedAt     time.Time
	Duration      time.Duration
}

// TurnStats aggregates turn records over a window.
type TurnStats struct {
	Since          time.Time        `json:"since"`
	Total          int64            `json:"total"`
	ByOutcome      map[string]int64 `json:"by_outcome"`
	ByErrorKind    map[string]int64 `json:"by_error_kind"`
	ThreadsCreated int64            `json:"threads_created"`
	AvgDurationMs  float64          `json:"avg_duration_ms"`
}
