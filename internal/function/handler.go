package function

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"

	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
	"github.com/xela07ax/pipeline-approval-relay/internal/engine"
)

// DecisionRelay is implemented by engine.Relay.
type DecisionRelay interface {
	Handle(ctx context.Context, event domain.InvocationEvent) (*domain.Decision, error)
}

// Syncer flushes buffered audit events.
type Syncer interface {
	Sync(ctx context.Context) error
}

const syncTimeout = 2 * time.Second

// Handler is the Lambda entrypoint. Any error fails the invocation.
type Handler struct {
	relay  DecisionRelay
	audit  Syncer
	logger *zap.Logger
}

func NewHandler(relay DecisionRelay, audit Syncer, logger *zap.Logger) *Handler {
	return &Handler{relay: relay, audit: audit, logger: logger.Named("lambda")}
}

// Invoke handles one event of the form {"env", "status", "summary"}.
func (h *Handler) Invoke(ctx context.Context, event domain.InvocationEvent) (*domain.Decision, error) {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		ctx = engine.WithTraceID(ctx, lc.AwsRequestID)
	}

	decision, err := h.relay.Handle(ctx, event)

	// the environment may be frozen as soon as we return
	if h.audit != nil {
		syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
		if serr := h.audit.Sync(syncCtx); serr != nil {
			h.logger.Warn("audit sync failed", zap.Error(serr))
		}
		cancel()
	}

	return decision, err
}
