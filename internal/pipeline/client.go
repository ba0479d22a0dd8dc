package pipeline

import (
	"context"
	"time"

	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
)

// Client is the subset of the orchestration service the relay needs.
type Client interface {
	GetPipelineState(ctx context.Context, name string) (*domain.PipelineState, error)
	PutApprovalResult(ctx context.Context, req ApprovalRequest) (*time.Time, error)
}

// ApprovalRequest closes one pending manual approval.
type ApprovalRequest struct {
	Pipeline string
	Stage    string
	Action   string
	Result   domain.ApprovalResult
	Token    string
}
