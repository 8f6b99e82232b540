package dispatch

import (
	"context"
	"log/slog"
)

// RequeueTick moves every mail whose retry due time has passed back onto
// the work queue. Push happens before removal from the schedule so a crash
// between the two duplicates the entry instead of losing it; the worker's
// already-sent guard absorbs the duplicate.
func (w *Worker) RequeueTick(ctx context.Context) error {
	due, err := w.queue.DueRetries(ctx, w.now())
	if err != nil {
		return err
	}

	for _, id := range due {
		if err := w.queue.Push(ctx, id); err != nil {
			w.log.WarnContext(ctx, "failed to requeue retry, leaving scheduled",
				slog.String("mail_id", id), slog.String("error", err.Error()))
			continue
		}
		if err := w.queue.RemoveRetry(ctx, id); err != nil {
			w.log.WarnContext(ctx, "failed to remove retry schedule entry",
				slog.String("mail_id", id), slog.String("error", err.Error()))
			continue
		}
		w.log.InfoContext(ctx, "mail moved from retry schedule to queue",
			slog.String("mail_id", id))
	}
	return nil
}
