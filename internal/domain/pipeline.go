package domain

import "time"

// PipelineState is a read-only snapshot returned by the orchestration service.
type PipelineState struct {
	PipelineName    string
	PipelineVersion int32
	StageStates     []StageState
	UpdatedAt       *time.Time
}

type StageState struct {
	StageName    string
	ActionStates []ActionState
}

type ActionState struct {
	ActionName      string
	LatestExecution *ActionExecution
}

// ActionExecution: latest run of an action. Token is set only while a
// manual approval is waiting for a decision.
type ActionExecution struct {
	Status  string
	Token   string
	Summary string
}

// PendingApproval is the located approval gate.
type PendingApproval struct {
	Stage  string
	Action string
	Token  string
}

// FindStage returns the first stage with the given name.
func (p *PipelineState) FindStage(name string) (*StageState, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.StageStates {
		if p.StageStates[i].StageName == name {
			return &p.StageStates[i], true
		}
	}
	return nil, false
}

// FindAction returns the first action with the given name.
func (s *StageState) FindAction(name string) (*ActionState, bool) {
	for i := range s.ActionStates {
		if s.ActionStates[i].ActionName == name {
			return &s.ActionStates[i], true
		}
	}
	return nil, false
}
