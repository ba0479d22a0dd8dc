package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/pipeline-approval-relay/internal/audit"
	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
	"github.com/xela07ax/pipeline-approval-relay/internal/pipeline"
)

// Options describe what the relay approves. PipelineName is explicit: the core
// never reads the environment.
type Options struct {
	PipelineName string
	StageSuffix  string
	ActionName   string
	DryRun       bool
}

const (
	DefaultStageSuffix = "-Plan-and-Apply"
	DefaultActionName  = "Approval"
)

// Locker guards a token against double submission.
type Locker interface {
	Acquire(ctx context.Context, token, holder string) (bool, error)
	Release(ctx context.Context, token, holder string)
}

// FreezeChecker reports environments closed for approvals.
type FreezeChecker interface {
	IsFrozen(ctx context.Context, env string) (bool, error)
}

type Option func(*Relay)

func WithTokenLock(l Locker) Option { return func(r *Relay) { r.locker = l } }

func WithFreeze(f FreezeChecker) Option { return func(r *Relay) { r.freeze = f } }

// Relay closes the manual approval gate of an environment.
type Relay struct {
	opts    Options
	client  pipeline.Client
	auditor audit.Auditor
	locker  Locker
	freeze  FreezeChecker
	metrics *Metrics
	logger  *zap.Logger
}

func NewRelay(opts Options, client pipeline.Client, auditor audit.Auditor, metrics *Metrics, logger *zap.Logger, options ...Option) (*Relay, error) {
	if opts.PipelineName == "" {
		return nil, errors.New("relay: pipeline name is required")
	}
	if client == nil {
		return nil, errors.New("relay: pipeline client is nil")
	}
	if opts.StageSuffix == "" {
		opts.StageSuffix = DefaultStageSuffix
	}
	if opts.ActionName == "" {
		opts.ActionName = DefaultActionName
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	r := &Relay{
		opts:    opts,
		client:  client,
		auditor: auditor,
		metrics: metrics,
		logger:  logger.Named("relay").With(zap.String("pipeline", opts.PipelineName)),
	}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

// StageName returns the stage holding the approval gate of env.
func (r *Relay) StageName(env string) string {
	return env + r.opts.StageSuffix
}

// Handle fetches the pipeline state, locates the pending approval token of
// the environment and submits the decision with it.
func (r *Relay) Handle(ctx context.Context, event domain.InvocationEvent) (*domain.Decision, error) {
	start := time.Now()
	decisionID := uuid.New().String()

	record := audit.Event{
		ID:       decisionID,
		TraceID:  extractTraceID(ctx),
		Pipeline: r.opts.PipelineName,
		Env:      event.Env,
		Stage:    r.StageName(event.Env),
		Action:   r.opts.ActionName,
		Status:   string(event.Status),
		Summary:  event.Summary,
		Outcome:  audit.OutcomeFailed,
	}
	log := r.logger.With(
		zap.String("trace_id", record.TraceID),
		zap.String("env", event.Env),
		zap.String("status", string(event.Status)),
	)

	decision, err := r.handle(ctx, event, decisionID, log)

	record.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		record.Error = err.Error()
		r.metrics.ErrorTotal.WithLabelValues(errorType(err)).Inc()
		log.Error("approval relay failed", zap.Error(err))
	} else {
		record.Outcome = audit.OutcomeSuccess
		if decision.DryRun {
			record.Outcome = audit.OutcomeDryRun
		}
		log.Info("approval decision submitted", zap.String("stage", decision.Stage), zap.Bool("dry_run", decision.DryRun))
	}
	r.metrics.Decisions.WithLabelValues(string(event.Status), record.Outcome).Inc()
	r.metrics.RequestDuration.WithLabelValues(record.Outcome).Observe(time.Since(start).Seconds())
	if r.auditor != nil {
		r.auditor.Log(record)
	}

	return decision, err
}

func (r *Relay) handle(ctx context.Context, event domain.InvocationEvent, decisionID string, log *zap.Logger) (*domain.Decision, error) {
	// 1. Input
	if err := event.Validate(); err != nil {
		return nil, err
	}

	// 2. Change freeze blocks approvals only
	if r.freeze != nil && event.Status == domain.StatusApproved {
		frozen, err := r.freeze.IsFrozen(ctx, event.Env)
		if err != nil {
			return nil, err
		}
		if frozen {
			return nil, fmt.Errorf("%w: %s", domain.ErrEnvironmentFrozen, event.Env)
		}
	}

	// 3. Pipeline state
	state, err := r.client.GetPipelineState(ctx, r.opts.PipelineName)
	if err != nil {
		return nil, fmt.Errorf("fetch state of %q: %w", r.opts.PipelineName, err)
	}

	// 4. Pending approval token
	pending, err := LocateApproval(state, r.StageName(event.Env), r.opts.ActionName)
	if err != nil {
		return nil, err
	}
	log.Debug("pending approval located", zap.String("stage", pending.Stage), zap.String("action", pending.Action))

	// 5. At most one submission per token
	if r.locker != nil && !r.opts.DryRun {
		acquired, err := r.locker.Acquire(ctx, pending.Token, decisionID)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrAlreadySubmitted, pending.Stage, pending.Action)
		}
	}

	// 6. Decision
	result := domain.ApprovalResult{Summary: event.Summary, Status: event.Status}
	approvedAt, err := r.client.PutApprovalResult(ctx, pipeline.ApprovalRequest{
		Pipeline: r.opts.PipelineName,
		Stage:    pending.Stage,
		Action:   pending.Action,
		Result:   result,
		Token:    pending.Token,
	})
	if err != nil {
		if r.locker != nil && !r.opts.DryRun && !errors.Is(err, pipeline.ErrTokenRejected) {
			// context may be cancelled already
			r.locker.Release(context.WithoutCancel(ctx), pending.Token, decisionID)
		}
		return nil, fmt.Errorf("submit approval for %s/%s: %w", pending.Stage, pending.Action, err)
	}

	return &domain.Decision{
		ID:         decisionID,
		Pipeline:   r.opts.PipelineName,
		Stage:      pending.Stage,
		Action:     pending.Action,
		Status:     result.Status,
		Summary:    result.Summary,
		DryRun:     r.opts.DryRun,
		ApprovedAt: approvedAt,
	}, nil
}

// errorType is the label of relay_errors_total.
func errorType(err error) string {
	var tErr *pipeline.ThrottleError
	switch {
	case errors.Is(err, domain.ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, domain.ErrEnvironmentFrozen):
		return "environment_frozen"
	case errors.Is(err, domain.ErrStageNotFound):
		return "stage_not_found"
	case errors.Is(err, domain.ErrActionNotFound):
		return "action_not_found"
	case errors.Is(err, domain.ErrNoPendingApproval):
		return "no_pending_approval"
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, pipeline.ErrTokenRejected):
		return "token_rejected"
	case errors.Is(err, pipeline.ErrPipelineNotFound):
		return "pipeline_not_found"
	case errors.Is(err, pipeline.ErrAccessDenied):
		return "access_denied"
	case errors.As(err, &tErr):
		return "throttled"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "service_error"
	}
}
