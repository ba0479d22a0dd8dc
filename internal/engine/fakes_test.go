package engine

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/pipeline-approval-relay/internal/audit"
	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
	"github.com/xela07ax/pipeline-approval-relay/internal/pipeline"
)

type fakeClient struct {
	mu sync.Mutex

	state    *domain.PipelineState
	stateErr []error // consumed one per call, nil afterwards
	putErr   []error

	stateCalls int
	puts       []pipeline.ApprovalRequest
	approvedAt *time.Time
}

func (f *fakeClient) GetPipelineState(_ context.Context, name string) (*domain.PipelineState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if len(f.stateErr) > 0 {
		err := f.stateErr[0]
		f.stateErr = f.stateErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.state, nil
}

func (f *fakeClient) PutApprovalResult(_ context.Context, req pipeline.ApprovalRequest) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, req)
	if len(f.putErr) > 0 {
		err := f.putErr[0]
		f.putErr = f.putErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.approvedAt, nil
}

type memAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *memAuditor) Log(e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *memAuditor) last() audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

func approvalStage(env, token string) domain.StageState {
	return domain.StageState{
		StageName: env + "-Plan-and-Apply",
		ActionStates: []domain.ActionState{
			{ActionName: "Plan", LatestExecution: &domain.ActionExecution{Status: "Succeeded"}},
			{ActionName: "Approval", LatestExecution: &domain.ActionExecution{Status: "InProgress", Token: token}},
			{ActionName: "Apply"},
		},
	}
}

func pipelineWith(stages ...domain.StageState) *domain.PipelineState {
	return &domain.PipelineState{PipelineName: "infra", StageStates: stages}
}
