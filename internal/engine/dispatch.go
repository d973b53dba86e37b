package engine

import (
	"context"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"go.uber.org/zap"
)

func (e *Engine) dispatch(ctx context.Context, r *run, campaign domain.Campaign) {
	defer close(r.done)

	log := observability.CampaignLogger(e.logger, r.id)
	log.Info("campaign started",
		zap.Int("total", r.total),
		zap.String("from", campaign.From),
	)
	e.metrics.SetCampaignProgress(0)

	notifier := newProgressNotifier(e.progressMinInterval, e.now)

	for _, recipient := range campaign.Recipients {
		// Recipient boundary: the only place cancellation takes effect.
		if ctx.Err() != nil {
			e.finish(r, log, domain.StateCancelled, nil)
			return
		}

		// The pacing delay is a cancellation checkpoint too.
		if e.pacer != nil {
			if err := e.pacer.Wait(ctx); err != nil {
				e.finish(r, log, domain.StateCancelled, nil)
				return
			}
		}

		// The send itself is never aborted by Cancel; the provider client's
		// own timeout bounds it.
		msg := provider.Message{
			To:             recipient,
			From:           campaign.From,
			Body:           campaign.Body,
			StatusCallback: campaign.CallbackURL,
		}

		sendStart := e.now()
		result, err := e.provider.Send(context.WithoutCancel(ctx), msg)
		e.metrics.ObserveSendDuration(e.now().Sub(sendStart))

		if err != nil {
			// One failed number must never abort the rest of the campaign.
			reason := failureReason(err)
			log.Warn("send failed, skipping recipient",
				zap.String("to", recipient),
				zap.String("reason", reason),
				zap.Error(err),
			)
			e.metrics.IncSendFailed(reason)
			e.advance(r, recipient, false)
		} else {
			if err := e.persistOutbox(result.MessageSID, msg); err != nil {
				log.Error("outbox write failed, aborting campaign",
					zap.String("to", recipient),
					zap.String("messageSid", result.MessageSID),
					zap.Error(err),
				)
				e.finish(r, log, domain.StateFailed, err)
				return
			}

			e.metrics.IncMessageSent("campaign")
			e.advance(r, recipient, true)
			if e.observer != nil {
				e.observer.OnRecipientSent(recipient)
			}
		}

		e.publishProgress(r, notifier)
	}

	e.finish(r, log, domain.StateCompleted, nil)
}

// advance counts one processed recipient, successful or not, so progress
// reaches exactly 100 after the last recipient regardless of failures.
func (e *Engine) advance(r *run, recipient string, sent bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r.completed++
	r.lastRecipient = recipient
	if sent {
		r.sent++
	} else {
		r.failed++
	}
}

func (e *Engine) publishProgress(r *run, notifier *progressNotifier) {
	e.mu.Lock()
	progress := domain.Progress{
		Completed:     r.completed,
		Total:         r.total,
		Percent:       percent(r.completed, r.total),
		LastRecipient: r.lastRecipient,
	}
	e.mu.Unlock()

	e.metrics.SetCampaignProgress(progress.Percent)

	if e.observer == nil || !notifier.shouldEmit(progress) {
		return
	}
	e.observer.OnProgress(progress)
}

func (e *Engine) finish(r *run, log *zap.Logger, state domain.CampaignState, cause error) {
	now := e.now()

	e.mu.Lock()
	r.state = state
	r.finishedAt = &now
	r.err = cause
	status := e.snapshotLocked()
	e.mu.Unlock()

	e.metrics.IncCampaignFinished(state.String())

	fields := []zap.Field{
		zap.String("state", state.String()),
		zap.Int("total", status.Progress.Total),
		zap.Int("sent", status.Sent),
		zap.Int("failed", status.Failed),
		zap.Duration("took", now.Sub(status.StartedAt)),
	}
	switch {
	case cause != nil:
		log.Error("campaign failed", append(fields, zap.Error(cause))...)
	case status.Failed > 0:
		log.Warn("campaign finished with failures", fields...)
	default:
		log.Info("campaign finished", fields...)
	}

	if e.observer != nil {
		e.observer.OnFinished(status)
	}
}

// progressNotifier coalesces progress events: at most one per minInterval,
// except the final event, which is always delivered.
type progressNotifier struct {
	minInterval time.Duration
	now         func() time.Time
	lastEmit    time.Time
}

func newProgressNotifier(minInterval time.Duration, now func() time.Time) *progressNotifier {
	return &progressNotifier{minInterval: minInterval, now: now}
}

func (n *progressNotifier) shouldEmit(p domain.Progress) bool {
	if p.Completed >= p.Total {
		return true
	}
	if n.minInterval <= 0 {
		return true
	}

	current := n.now()
	if !n.lastEmit.IsZero() && current.Sub(n.lastEmit) < n.minInterval {
		return false
	}
	n.lastEmit = current
	return true
}
