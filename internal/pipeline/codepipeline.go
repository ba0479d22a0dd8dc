package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"

	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
)

// API is the part of the CodePipeline SDK client used by the adapter.
type API interface {
	GetPipelineState(ctx context.Context, params *codepipeline.GetPipelineStateInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineStateOutput, error)
	PutApprovalResult(ctx context.Context, params *codepipeline.PutApprovalResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutApprovalResultOutput, error)
}

// CodePipelineAdapter translates between the SDK and domain types.
type CodePipelineAdapter struct {
	api     API
	timeout time.Duration
}

// NewCodePipelineAdapter creates an adapter over an SDK client.
func NewCodePipelineAdapter(api API, timeout time.Duration) *CodePipelineAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CodePipelineAdapter{api: api, timeout: timeout}
}

// AWSOptions configures the SDK client.
type AWSOptions struct {
	Region   string
	Endpoint string // e.g. LocalStack
}

// NewAWSClient loads the default credential chain and builds a CodePipeline client.
// SDK retries are disabled: ReliabilityWrapper owns the retry budget.
func NewAWSClient(ctx context.Context, opts AWSOptions) (*codepipeline.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(1),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return codepipeline.NewFromConfig(cfg, func(o *codepipeline.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// GetPipelineState implements Client.
func (a *CodePipelineAdapter) GetPipelineState(ctx context.Context, name string) (*domain.PipelineState, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.api.GetPipelineState(ctx, &codepipeline.GetPipelineStateInput{
		Name: aws.String(name),
	})
	if err != nil {
		return nil, classify("get pipeline state", err)
	}

	return toPipelineState(out), nil
}

// PutApprovalResult implements Client.
func (a *CodePipelineAdapter) PutApprovalResult(ctx context.Context, req ApprovalRequest) (*time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.api.PutApprovalResult(ctx, &codepipeline.PutApprovalResultInput{
		PipelineName: aws.String(req.Pipeline),
		StageName:    aws.String(req.Stage),
		ActionName:   aws.String(req.Action),
		Result: &types.ApprovalResult{
			Summary: aws.String(req.Result.Summary),
			Status:  types.ApprovalStatus(req.Result.Status),
		},
		Token: aws.String(req.Token),
	})
	if err != nil {
		return nil, classify("put approval result", err)
	}

	return out.ApprovedAt, nil
}

func toPipelineState(out *codepipeline.GetPipelineStateOutput) *domain.PipelineState {
	state := &domain.PipelineState{
		PipelineName:    aws.ToString(out.PipelineName),
		PipelineVersion: aws.ToInt32(out.PipelineVersion),
		UpdatedAt:       out.Updated,
		StageStates:     make([]domain.StageState, 0, len(out.StageStates)),
	}

	for _, s := range out.StageStates {
		stage := domain.StageState{
			StageName:    aws.ToString(s.StageName),
			ActionStates: make([]domain.ActionState, 0, len(s.ActionStates)),
		}
		for _, a := range s.ActionStates {
			action := domain.ActionState{ActionName: aws.ToString(a.ActionName)}
			if a.LatestExecution != nil {
				action.LatestExecution = &domain.ActionExecution{
					Status:  string(a.LatestExecution.Status),
					Token:   aws.ToString(a.LatestExecution.Token),
					Summary: aws.ToString(a.LatestExecution.Summary),
				}
			}
			stage.ActionStates = append(stage.ActionStates, action)
		}
		state.StageStates = append(state.StageStates, stage)
	}

	return state
}
