package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
)

// DryRunClient reads real pipeline state but never submits a decision.
// Submissions are logged and reported as intercepted.
type DryRunClient struct {
	next   Client
	logger *zap.Logger
}

func NewDryRunClient(next Client, logger *zap.Logger) *DryRunClient {
	return &DryRunClient{next: next, logger: logger.With(zap.String("mod", "dry-run"))}
}

func (c *DryRunClient) GetPipelineState(ctx context.Context, name string) (*domain.PipelineState, error) {
	return c.next.GetPipelineState(ctx, name)
}

func (c *DryRunClient) PutApprovalResult(ctx context.Context, req ApprovalRequest) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Token is never logged.
	c.logger.Info("approval intercepted",
		zap.String("pipeline", req.Pipeline),
		zap.String("stage", req.Stage),
		zap.String("action", req.Action),
		zap.String("status", string(req.Result.Status)),
	)
	return nil, nil
}
