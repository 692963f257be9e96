package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/cuongbtq/hair3d/internal/queue"
)

// consume is the dequeue loop. Jobs are handled strictly in arrival order.
func (w *Worker) consume(ctx context.Context) {
	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrQueueClosed):
				w.logger.Info("Queue closed, worker stopping")
			case ctx.Err() != nil:
				w.logger.Info("Worker stopping - context canceled")
			default:
				w.logger.Error("Failed to dequeue job, worker stopping", slog.Any("error", err))
			}
			return
		}

		w.logger.Info("Worker received job", slog.String("job_id", msg.JobID))
		w.handle(ctx, msg)
	}
}

// handle processes one message and acknowledges it. Every outcome is final,
// so the message is never requeued.
func (w *Worker) handle(ctx context.Context, msg *queue.Message) {
	w.processJob(ctx, msg.JobID)

	if err := msg.Ack(); err != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
	}
}
