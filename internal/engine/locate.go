package engine

import (
	"fmt"

	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
)

// LocateApproval finds the pending approval token of stageName/actionName.
// The action is matched by name, not by its position in the stage.
func LocateApproval(state *domain.PipelineState, stageName, actionName string) (domain.PendingApproval, error) {
	stage, ok := state.FindStage(stageName)
	if !ok {
		return domain.PendingApproval{}, fmt.Errorf("%w: %q", domain.ErrStageNotFound, stageName)
	}

	action, ok := stage.FindAction(actionName)
	if !ok {
		return domain.PendingApproval{}, fmt.Errorf("%w: %q in stage %q (%d actions)",
			domain.ErrActionNotFound, actionName, stageName, len(stage.ActionStates))
	}

	if action.LatestExecution == nil || action.LatestExecution.Token == "" {
		return domain.PendingApproval{}, fmt.Errorf("%w: %s/%s", domain.ErrNoPendingApproval, stageName, actionName)
	}

	return domain.PendingApproval{
		Stage:  stage.StageName,
		Action: action.ActionName,
		Token:  action.LatestExecution.Token,
	}, nil
}
