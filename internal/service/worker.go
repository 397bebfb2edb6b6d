package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/observability"
	"github.com/ledgerline/dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// DispatchWorker consumes dispatch messages and hands them to the
// dispatcher. Each message is one emitted event; the dispatcher owns the
// fan-out to endpoints.
type DispatchWorker struct {
	dispatcher  *Dispatcher
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewDispatchWorker(
	dispatcher *Dispatcher,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*DispatchWorker, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		dispatcher:  dispatcher,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the dispatch queue until context cancellation.
func (w *DispatchWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dispatch worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DispatchQueue),
			)

			err := w.consumer.Consume(groupCtx, queue.DispatchQueue, w.processMessage)
			if err != nil {
				w.logger.Error("dispatch worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("dispatch worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *DispatchWorker) processMessage(ctx context.Context, msg queue.DispatchMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	w.metrics.IncWorkerInFlight()
	defer w.metrics.DecWorkerInFlight()

	if err := w.dispatcher.Dispatch(ctx, msg.EventID); err != nil {
		// An event that never reaches the store is not retryable; ack and
		// drop instead of poisoning the queue.
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("event not found during dispatch, skipping",
				zap.String("eventId", msg.EventID),
			)
			return nil
		}
		return fmt.Errorf("failed to dispatch event %s: %w", msg.EventID, err)
	}

	return nil
}
