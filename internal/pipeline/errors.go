package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/smithy-go"
)

var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrTokenRejected    = errors.New("approval token rejected")
	ErrAccessDenied     = errors.New("access denied by pipeline service")
)

// ThrottleError marks a call rejected by the service rate limits.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// defaultRetryAfter is used when the service gives no hint.
const defaultRetryAfter = time.Second

// classify maps SDK errors onto the package sentinels, keeping the cause.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		notFound  *types.PipelineNotFoundException
		badToken  *types.InvalidApprovalTokenException
		completed *types.ApprovalAlreadyCompletedException
	)
	switch {
	case errors.As(err, &notFound):
		return fmt.Errorf("%s: %w: %v", op, ErrPipelineNotFound, err)
	case errors.As(err, &badToken), errors.As(err, &completed):
		return fmt.Errorf("%s: %w: %v", op, ErrTokenRejected, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "Throttling", "TooManyRequestsException", "RequestLimitExceeded":
			return &ThrottleError{RetryAfter: defaultRetryAfter, Cause: fmt.Errorf("%s: %w", op, err)}
		case "AccessDeniedException", "UnrecognizedClientException":
			return fmt.Errorf("%s: %w: %v", op, ErrAccessDenied, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryable reports whether repeating the call may succeed.
// Token rejections are final: the service has already consumed or expired it.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenRejected) || errors.Is(err, ErrPipelineNotFound) || errors.Is(err, ErrAccessDenied) {
		return false
	}
	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	return false
}
