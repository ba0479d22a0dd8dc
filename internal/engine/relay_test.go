package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/pipeline-approval-relay/internal/audit"
	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
	"github.com/xela07ax/pipeline-approval-relay/internal/pipeline"
)

func newTestRelay(t *testing.T, client pipeline.Client, opts Options, options ...Option) (*Relay, *memAuditor, *Metrics) {
	t.Helper()
	if opts.PipelineName == "" {
		opts.PipelineName = "infra"
	}
	auditor := &memAuditor{}
	metrics := NewMetrics(nil)
	r, err := NewRelay(opts, client, auditor, metrics, zap.NewNop(), options...)
	require.NoError(t, err)
	return r, auditor, metrics
}

func TestRelay_SubmitsApprovalForEnvironment(t *testing.T) {
	approvedAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{
		state:      pipelineWith(domain.StageState{StageName: "Source"}, approvalStage("prod", "tok-123")),
		approvedAt: &approvedAt,
	}
	r, auditor, metrics := newTestRelay(t, client, Options{})

	decision, err := r.Handle(context.Background(), domain.InvocationEvent{
		Env: "prod", Status: domain.StatusApproved, Summary: "LGTM",
	})
	require.NoError(t, err)

	require.Len(t, client.puts, 1)
	assert.Equal(t, pipeline.ApprovalRequest{
		Pipeline: "infra",
		Stage:    "prod-Plan-and-Apply",
		Action:   "Approval",
		Result:   domain.ApprovalResult{Summary: "LGTM", Status: domain.StatusApproved},
		Token:    "tok-123",
	}, client.puts[0])
	assert.Equal(t, 1, client.stateCalls)

	assert.Equal(t, "prod-Plan-and-Apply", decision.Stage)
	assert.Equal(t, "Approval", decision.Action)
	assert.Equal(t, &approvedAt, decision.ApprovedAt)
	assert.False(t, decision.DryRun)
	assert.NotEmpty(t, decision.ID)

	ev := auditor.last()
	assert.Equal(t, audit.OutcomeSuccess, ev.Outcome)
	assert.Equal(t, decision.ID, ev.ID)
	assert.Equal(t, "prod", ev.Env)
	assert.Empty(t, ev.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Decisions.WithLabelValues("Approved", audit.OutcomeSuccess)))
}

func TestRelay_ForwardsSummaryAndStatusVerbatim(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.ApprovalStatus
		summary string
	}{
		{name: "approved", status: domain.StatusApproved, summary: "LGTM"},
		{name: "rejected", status: domain.StatusRejected, summary: "plan destroys the database"},
		{name: "whitespace and unicode", status: domain.StatusRejected, summary: "  nope — see #123\n"},
		{name: "empty summary", status: domain.StatusApproved, summary: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{state: pipelineWith(approvalStage("prod", "tok-1"))}
			r, _, _ := newTestRelay(t, client, Options{})

			_, err := r.Handle(context.Background(), domain.InvocationEvent{Env: "prod", Status: tc.status, Summary: tc.summary})
			require.NoError(t, err)
			require.Len(t, client.puts, 1)
			assert.Equal(t, tc.summary, client.puts[0].Result.Summary)
			assert.Equal(t, tc.status, client.puts[0].Result.Status)
		})
	}
}

func TestRelay_FailsBeforeSubmission(t *testing.T) {
	tests := []struct {
		name       string
		state      *domain.PipelineState
		event      domain.InvocationEvent
		wantErr    error
		stateCalls int
	}{
		{
			name:       "no stage for environment",
			state:      pipelineWith(approvalStage("prod", "tok-1")),
			event:      domain.InvocationEvent{Env: "staging", Status: domain.StatusApproved, Summary: "ok"},
			wantErr:    domain.ErrStageNotFound,
			stateCalls: 1,
		},
		{
			name: "stage with fewer than two actions",
			state: pipelineWith(domain.StageState{
				StageName:    "prod-Plan-and-Apply",
				ActionStates: []domain.ActionState{{ActionName: "Plan"}},
			}),
			event:      domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved},
			wantErr:    domain.ErrActionNotFound,
			stateCalls: 1,
		},
		{
			name:       "empty env",
			state:      pipelineWith(approvalStage("prod", "tok-1")),
			event:      domain.InvocationEvent{Env: " ", Status: domain.StatusApproved},
			wantErr:    domain.ErrInvalidEvent,
			stateCalls: 0,
		},
		{
			name:       "unknown status",
			state:      pipelineWith(approvalStage("prod", "tok-1")),
			event:      domain.InvocationEvent{Env: "prod", Status: "Maybe"},
			wantErr:    domain.ErrInvalidEvent,
			stateCalls: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{state: tc.state}
			r, auditor, _ := newTestRelay(t, client, Options{})

			decision, err := r.Handle(context.Background(), tc.event)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, decision)
			assert.Empty(t, client.puts)
			assert.Equal(t, tc.stateCalls, client.stateCalls)

			ev := auditor.last()
			assert.Equal(t, audit.OutcomeFailed, ev.Outcome)
			assert.NotEmpty(t, ev.Error)
		})
	}
}

func TestRelay_PropagatesServiceErrors(t *testing.T) {
	stateErr := errors.New("boom")
	client := &fakeClient{stateErr: []error{stateErr}}
	r, _, metrics := newTestRelay(t, client, Options{})

	_, err := r.Handle(context.Background(), domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved})
	require.ErrorIs(t, err, stateErr)
	assert.Empty(t, client.puts)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ErrorTotal.WithLabelValues("service_error")))

	client = &fakeClient{
		state:  pipelineWith(approvalStage("prod", "stale")),
		putErr: []error{pipeline.ErrTokenRejected},
	}
	r, _, metrics = newTestRelay(t, client, Options{})

	_, err = r.Handle(context.Background(), domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved})
	require.ErrorIs(t, err, pipeline.ErrTokenRejected)
	assert.Len(t, client.puts, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ErrorTotal.WithLabelValues("token_rejected")))
}

func TestRelay_CustomStageSuffixAndAction(t *testing.T) {
	client := &fakeClient{state: pipelineWith(domain.StageState{
		StageName: "prod-Deploy",
		ActionStates: []domain.ActionState{
			{ActionName: "ManualGate", LatestExecution: &domain.ActionExecution{Token: "tok-9"}},
		},
	})}
	r, _, _ := newTestRelay(t, client, Options{StageSuffix: "-Deploy", ActionName: "ManualGate"})

	_, err := r.Handle(context.Background(), domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved})
	require.NoError(t, err)
	require.Len(t, client.puts, 1)
	assert.Equal(t, "prod-Deploy", client.puts[0].Stage)
	assert.Equal(t, "ManualGate", client.puts[0].Action)
	assert.Equal(t, "tok-9", client.puts[0].Token)
}

func TestRelay_DryRun(t *testing.T) {
	inner := &fakeClient{state: pipelineWith(approvalStage("prod", "tok-1"))}
	client := pipeline.NewDryRunClient(inner, zap.NewNop())
	r, auditor, _ := newTestRelay(t, client, Options{DryRun: true})

	decision, err := r.Handle(context.Background(), domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved, Summary: "ok"})
	require.NoError(t, err)
	assert.True(t, decision.DryRun)
	assert.Equal(t, "prod-Plan-and-Apply", decision.Stage)
	assert.Empty(t, inner.puts)
	assert.Equal(t, 1, inner.stateCalls)
	assert.Equal(t, audit.OutcomeDryRun, auditor.last().Outcome)
}

func TestRelay_TraceIDReachesAudit(t *testing.T) {
	client := &fakeClient{state: pipelineWith(approvalStage("prod", "tok-1"))}
	r, auditor, _ := newTestRelay(t, client, Options{})

	ctx := WithTraceID(context.Background(), "req-42")
	_, err := r.Handle(ctx, domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved})
	require.NoError(t, err)
	assert.Equal(t, "req-42", auditor.last().TraceID)
}

func TestNewRelay_RequiresPipelineName(t *testing.T) {
	_, err := NewRelay(Options{}, &fakeClient{}, nil, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewRelay(Options{PipelineName: "infra"}, nil, nil, nil, zap.NewNop())
	assert.Error(t, err)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRelay_TokenLockPreventsDoubleSubmission(t *testing.T) {
	rdb := newRedis(t)
	client := &fakeClient{state: pipelineWith(approvalStage("prod", "tok-1"))}
	r, _, _ := newTestRelay(t, client, Options{}, WithTokenLock(NewTokenLock(rdb, time.Minute, zap.NewNop())))

	event := domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved, Summary: "ok"}
	_, err := r.Handle(context.Background(), event)
	require.NoError(t, err)

	_, err = r.Handle(context.Background(), event)
	require.ErrorIs(t, err, domain.ErrAlreadySubmitted)
	assert.Len(t, client.puts, 1)
}

func TestRelay_TokenLockReleasedOnTransientFailure(t *testing.T) {
	rdb := newRedis(t)
	client := &fakeClient{
		state:  pipelineWith(approvalStage("prod", "tok-1")),
		putErr: []error{errors.New("connection reset")},
	}
	r, _, _ := newTestRelay(t, client, Options{}, WithTokenLock(NewTokenLock(rdb, time.Minute, zap.NewNop())))

	event := domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved}
	_, err := r.Handle(context.Background(), event)
	require.Error(t, err)

	_, err = r.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.Len(t, client.puts, 2)
}

func TestRelay_TokenLockKeptWhenTokenRejected(t *testing.T) {
	rdb := newRedis(t)
	client := &fakeClient{
		state:  pipelineWith(approvalStage("prod", "tok-1")),
		putErr: []error{pipeline.ErrTokenRejected},
	}
	r, _, _ := newTestRelay(t, client, Options{}, WithTokenLock(NewTokenLock(rdb, time.Minute, zap.NewNop())))

	event := domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved}
	_, err := r.Handle(context.Background(), event)
	require.ErrorIs(t, err, pipeline.ErrTokenRejected)

	_, err = r.Handle(context.Background(), event)
	require.ErrorIs(t, err, domain.ErrAlreadySubmitted)
	assert.Len(t, client.puts, 1)
}

func TestRelay_DryRunDoesNotTakeTokenLock(t *testing.T) {
	rdb := newRedis(t)
	inner := &fakeClient{state: pipelineWith(approvalStage("prod", "tok-1"))}
	r, _, _ := newTestRelay(t, pipeline.NewDryRunClient(inner, zap.NewNop()), Options{DryRun: true},
		WithTokenLock(NewTokenLock(rdb, time.Minute, zap.NewNop())))

	for i := 0; i < 2; i++ {
		_, err := r.Handle(context.Background(), domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved})
		require.NoError(t, err)
	}
}

func TestRelay_FrozenEnvironment(t *testing.T) {
	rdb := newRedis(t)
	freeze := NewFreezeManager(rdb)
	require.NoError(t, freeze.Freeze(context.Background(), "prod"))

	client := &fakeClient{state: pipelineWith(approvalStage("prod", "tok-1"))}
	r, _, metrics := newTestRelay(t, client, Options{}, WithFreeze(freeze))

	_, err := r.Handle(context.Background(), domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved})
	require.ErrorIs(t, err, domain.ErrEnvironmentFrozen)
	assert.Equal(t, 0, client.stateCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ErrorTotal.WithLabelValues("environment_frozen")))

	// rejecting is always allowed
	_, err = r.Handle(context.Background(), domain.InvocationEvent{Env: "prod", Status: domain.StatusRejected, Summary: "freeze"})
	require.NoError(t, err)
	require.Len(t, client.puts, 1)
	assert.Equal(t, domain.StatusRejected, client.puts[0].Result.Status)

	require.NoError(t, freeze.Unfreeze(context.Background(), "prod"))
	client.state = pipelineWith(approvalStage("prod", "tok-2"))
	_, err = r.Handle(context.Background(), domain.InvocationEvent{Env: "prod", Status: domain.StatusApproved})
	require.NoError(t, err)
}
