package audit

/*
Recorder collects audit events off the hot path and writes them in batches.

- Log never blocks: events go to a buffered channel, overflow is shed to the
  zap log.
- A single worker flushes by size (100) or by timer (500ms).
- Sync forces a flush; a Lambda invocation calls it before returning because
  the execution environment may be frozen right after.
- Stop closes the channel, the worker drains it and performs a final flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage is where batches end up (Postgres, log).
type Storage interface {
	WriteBatch(ctx context.Context, events []Event) error
}

type Auditor interface {
	Log(event Event)
}

const (
	defaultBufferSize = 1000
	batchSize         = 100
	flushInterval     = 500 * time.Millisecond
)

type Recorder struct {
	ch      chan Event
	flushCh chan chan struct{}
	repo    Storage
	logger  *zap.Logger
	wg      sync.WaitGroup

	isClosed int32 // 0 - open, 1 - closed
}

func NewRecorder(repo Storage, logger *zap.Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Recorder{
		ch:      make(chan Event, bufferSize),
		flushCh: make(chan chan struct{}),
		repo:    repo,
		logger:  logger.With(zap.String("mod", "audit")),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop closes the input and waits for the final flush.
func (r *Recorder) Stop() {
	if !atomic.CompareAndSwapInt32(&r.isClosed, 0, 1) {
		return
	}
	// let in-flight Log calls land before the channel closes
	time.Sleep(10 * time.Millisecond)

	r.logger.Info("stopping audit recorder: closing channel and flushing buffer...")
	close(r.ch)
	r.wg.Wait()
	r.logger.Info("audit recorder stopped gracefully")
}

func (r *Recorder) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&r.isClosed) == 1 {
		r.logger.Warn("audit event dropped: recorder is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case r.ch <- event:
	default:
		r.logger.Error("audit_buffer_overflow",
			zap.String("id", event.ID),
			zap.String("trace_id", event.TraceID),
			zap.String("env", event.Env),
			zap.String("outcome", event.Outcome),
		)
	}
}

// Sync blocks until everything logged so far has been handed to Storage.
func (r *Recorder) Sync(ctx context.Context) error {
	if atomic.LoadInt32(&r.isClosed) == 1 {
		return nil
	}
	done := make(chan struct{})
	select {
	case r.flushCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]Event, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: the caller context may already be gone
			if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
				r.logger.Error("audit flush failed", zap.Error(err), zap.Int("events", len(batch)))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				flush()
				r.logger.Debug("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case done := <-r.flushCh:
			// drain what is already queued so Sync covers every prior Log
		drain:
			for {
				select {
				case event, ok := <-r.ch:
					if !ok {
						break drain
					}
					batch = append(batch, event)
				default:
					break drain
				}
			}
			flush()
			close(done)
		case <-ticker.C:
			flush()
		}
	}
}
