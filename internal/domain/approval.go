package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ApprovalStatus is the decision that closes a manual approval gate.
type ApprovalStatus string

const (
	StatusApproved ApprovalStatus = "Approved"
	StatusRejected ApprovalStatus = "Rejected"
)

var (
	ErrInvalidEvent      = errors.New("invalid invocation event")
	ErrStageNotFound     = errors.New("stage not found in pipeline state")
	ErrActionNotFound    = errors.New("approval action not found in stage")
	ErrNoPendingApproval = errors.New("approval action has no pending token")
	ErrAlreadySubmitted  = errors.New("approval token already submitted")
	ErrEnvironmentFrozen = errors.New("environment is frozen for approvals")
)

// InvocationEvent is the input of a single relay invocation.
type InvocationEvent struct {
	Env     string         `json:"env"`
	Status  ApprovalStatus `json:"status"`
	Summary string         `json:"summary"`
}

// Validate checks the event before any call to the pipeline service.
// Summary is passed through untouched.
func (e InvocationEvent) Validate() error {
	if strings.TrimSpace(e.Env) == "" {
		return fmt.Errorf("%w: env is required", ErrInvalidEvent)
	}
	switch e.Status {
	case StatusApproved, StatusRejected:
	default:
		return fmt.Errorf("%w: unsupported status %q", ErrInvalidEvent, e.Status)
	}
	return nil
}

// ApprovalResult is submitted together with the token to close the gate.
type ApprovalResult struct {
	Summary string         `json:"summary"`
	Status  ApprovalStatus `json:"status"`
}

// Decision describes what the relay submitted (or would submit in dry-run).
type Decision struct {
	ID         string         `json:"id"`
	Pipeline   string         `json:"pipeline"`
	Stage      string         `json:"stage"`
	Action     string         `json:"action"`
	Status     ApprovalStatus `json:"status"`
	Summary    string         `json:"summary"`
	DryRun     bool           `json:"dry_run"`
	ApprovedAt *time.Time     `json:"approved_at,omitempty"`
}
