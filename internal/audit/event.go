package audit

import "time"

// Outcomes of a relayed decision.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailed  = "FAILED"
	OutcomeDryRun  = "DRY_RUN"
)

// Event is one handled invocation. The approval token is never recorded.
type Event struct {
	ID       string `json:"id"`
	TraceID  string `json:"trace_id"`
	Pipeline string `json:"pipeline"`
	Env      string `json:"env"`
	Stage    string `json:"stage"`
	Action   string `json:"action"`

	Status  string `json:"status"` // Approved / Rejected
	Summary string `json:"summary"`

	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
