package tramite

import (
	"context"
	"errors"
	"log/slog"
)

// Worker pulls one command at a time off the queue and runs it to
// completion before acknowledging. Failed commands are logged and dropped;
// the message is acked regardless of outcome, so callers needing guaranteed
// progress must re-derive their commands rather than rely on redelivery.
type Worker struct {
	queue   Queue
	handler *Handler
	logger  *slog.Logger
}

// NewWorker wires a worker to a queue and handler.
func NewWorker(queue Queue, handler *Handler, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = discardLogger()
	}
	return &Worker{queue: queue, handler: handler, logger: logger}
}

// Run consumes commands until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		delivery, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		w.handleOne(ctx, delivery)
	}
}

func (w *Worker) handleOne(ctx context.Context, delivery *Delivery) {
	defer delivery.Ack()
	if err := w.handler.Dispatch(ctx, delivery.Body); err != nil {
		rerr := Classify(err)
		w.logger.Error("command dropped",
			"kind", rerr.Kind,
			"error", rerr.Cause)
	}
}
