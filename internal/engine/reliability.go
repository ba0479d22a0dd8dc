package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
	"github.com/xela07ax/pipeline-approval-relay/internal/pipeline"
)

// ReliabilitySettings holds the knobs of the wrapper, filled from EngineConfig.
type ReliabilitySettings struct {
	Attempts      uint
	CallTimeout   time.Duration
	RateLimit     float64
	RateBurst     int
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBMaxFailures uint32
}

// ReliabilityWrapper protects the pipeline service: rate limiter, circuit
// breaker and retries of throttled or server-side failures.
type ReliabilityWrapper struct {
	next     pipeline.Client
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
	logger   *zap.Logger
}

func NewReliabilityWrapper(next pipeline.Client, s ReliabilitySettings, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	if s.Attempts == 0 {
		s.Attempts = 1
	}
	if s.CBMaxFailures == 0 {
		s.CBMaxFailures = 5
	}
	logger = logger.With(zap.String("mod", "reliability"))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "codepipeline",
		MaxRequests: s.CBMaxRequests,
		Interval:    s.CBInterval,
		Timeout:     s.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.CBMaxFailures
		},
		// a rejected token or a missing stage says nothing about service health
		IsSuccessful: func(err error) bool {
			return err == nil || !pipeline.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if metrics != nil {
				metrics.SetBreakerState(name, to)
			}
		},
	})

	limit := rate.Inf
	if s.RateLimit > 0 {
		limit = rate.Limit(s.RateLimit)
	}
	burst := s.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &ReliabilityWrapper{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(limit, burst),
		attempts: s.Attempts,
		timeout:  s.CallTimeout,
		logger:   logger,
	}
}

func (w *ReliabilityWrapper) GetPipelineState(ctx context.Context, name string) (*domain.PipelineState, error) {
	var state *domain.PipelineState
	err := w.call(ctx, "get_pipeline_state", func(ctx context.Context) error {
		var err error
		state, err = w.next.GetPipelineState(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (w *ReliabilityWrapper) PutApprovalResult(ctx context.Context, req pipeline.ApprovalRequest) (*time.Time, error) {
	var approvedAt *time.Time
	err := w.call(ctx, "put_approval_result", func(ctx context.Context) error {
		var err error
		approvedAt, err = w.next.PutApprovalResult(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return approvedAt, nil
}

func (w *ReliabilityWrapper) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	// 1. Rate limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit breaker around the retry loop
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(pipeline.IsRetryable),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *pipeline.ThrottleError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
			retry.OnRetry(func(n uint, err error) {
				w.logger.Warn("retrying pipeline call", zap.String("op", op), zap.Uint("attempt", n+1), zap.Error(err))
			}),
		)

		return nil, r.Do(func() error {
			callCtx, cancel := w.callContext(ctx)
			defer cancel()
			return fn(callCtx)
		})
	})
	return err
}

func (w *ReliabilityWrapper) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.timeout)
}
