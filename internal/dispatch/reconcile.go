package dispatch

import (
	"context"
	"log/slog"
)

// ReconcileTick rescues mails lost in the crash window between a queue pop
// and the recording of an outcome: pending mails older than the configured
// age that appear in none of the queue, in-flight, or retry structures are
// re-enqueued. Membership checks that fail skip the id conservatively; a
// skipped mail is retried by the next sweep, while a wrong requeue could
// double-send.
func (w *Worker) ReconcileTick(ctx context.Context) error {
	cutoff := w.now().Add(-w.cfg.ReconcileAfter)

	ids, err := w.store.ListStalePending(ctx, cutoff, w.cfg.ReconcileLimit)
	if err != nil {
		return err
	}

	for _, id := range ids {
		owned, err := w.hasOwner(ctx, id)
		if err != nil {
			w.log.WarnContext(ctx, "reconcile ownership check failed, skipping",
				slog.String("mail_id", id), slog.String("error", err.Error()))
			continue
		}
		if owned {
			continue
		}

		if err := w.queue.Push(ctx, id); err != nil {
			w.log.WarnContext(ctx, "failed to requeue orphaned mail",
				slog.String("mail_id", id), slog.String("error", err.Error()))
			continue
		}
		w.log.InfoContext(ctx, "orphaned pending mail requeued",
			slog.String("mail_id", id))
	}
	return nil
}

// hasOwner reports whether some pipeline structure currently accounts for
// the mail id.
func (w *Worker) hasOwner(ctx context.Context, mailID string) (bool, error) {
	if ok, err := w.queue.InQueue(ctx, mailID); err != nil || ok {
		return ok, err
	}
	if ok, err := w.queue.IsInFlight(ctx, mailID); err != nil || ok {
		return ok, err
	}
	return w.queue.RetryScheduled(ctx, mailID)
}
