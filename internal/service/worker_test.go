package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/queue"
	"go.uber.org/zap"
)

func newTestWorker(t *testing.T, events *fakeEventRepo, consumer queue.Consumer) *DispatchWorker {
	t.Helper()

	dispatcher, _ := newTestDispatcher(t, events, &fakeEndpointRepo{}, &memDeliveryRepo{}, &fakeDeliverer{}, nil)
	worker, err := NewDispatchWorker(dispatcher, consumer, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatchWorker() error = %v", err)
	}
	return worker
}

func TestDispatchWorkerStartConsumesDispatchQueue(t *testing.T) {
	t.Parallel()

	consumed := make(chan string, 4)
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			consumed <- queueName
			return nil
		},
	}
	worker := newTestWorker(t, &fakeEventRepo{}, consumer)

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	close(consumed)
	count := 0
	for queueName := range consumed {
		if queueName != queue.DispatchQueue {
			t.Fatalf("queue = %q, want %q", queueName, queue.DispatchQueue)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("consumers started = %d, want 2", count)
	}
}

func TestDispatchWorkerSkipsUnknownEvents(t *testing.T) {
	t.Parallel()

	events := &fakeEventRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Event, error) {
			return nil, domain.ErrNotFound
		},
	}
	worker := newTestWorker(t, events, &fakeConsumer{})

	err := worker.processMessage(context.Background(), queue.DispatchMessage{
		EventID:        "evt-missing",
		OrganizationID: "org-1",
		EventType:      "invoice.paid",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v, unknown events must be acked and dropped", err)
	}
}

func TestDispatchWorkerPropagatesDispatchFailures(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("connection reset")
	events := &fakeEventRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Event, error) {
			return nil, storeErr
		},
	}
	worker := newTestWorker(t, events, &fakeConsumer{})

	err := worker.processMessage(context.Background(), queue.DispatchMessage{
		EventID:        "evt-1",
		OrganizationID: "org-1",
		EventType:      "invoice.paid",
	})
	if !errors.Is(err, storeErr) {
		t.Fatalf("processMessage() error = %v, want wrapped store error", err)
	}
}
