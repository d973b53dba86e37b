package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	"github.com/kursadbilgin/campaign-engine/internal/recipients"
	"github.com/kursadbilgin/campaign-engine/internal/store"
	"go.uber.org/zap"
)

const defaultProgressMinInterval = 200 * time.Millisecond

// Observer receives dispatch lifecycle events. Implementations are called
// synchronously from the dispatch goroutine and must return quickly; progress
// events are already coalesced by the engine.
type Observer interface {
	OnProgress(p domain.Progress)
	OnRecipientSent(number string)
	OnFinished(status domain.CampaignStatus)
}

// Engine drives one campaign at a time: it walks the canonicalized recipient
// set, sends one message per recipient through the provider, persists an
// outbox record per successful send, and reports coalesced progress.
//
// The outbox table has exactly one writer (this engine), so no cross-component
// locking is needed beyond the store's own mutex.
type Engine struct {
	outbox   *store.OutboxStore
	provider provider.Provider
	pacer    ratelimit.Pacer
	observer Observer
	logger   *zap.Logger
	metrics  *observability.Metrics

	progressMinInterval time.Duration

	now   func() time.Time
	newID func() string

	mu  sync.Mutex
	run *run
}

// run tracks the current or most recent campaign.
type run struct {
	id            string
	state         domain.CampaignState
	total         int
	completed     int
	sent          int
	failed        int
	lastRecipient string
	startedAt     time.Time
	finishedAt    *time.Time
	err           error

	cancel context.CancelFunc
	done   chan struct{}
}

func New(
	outbox *store.OutboxStore,
	messageProvider provider.Provider,
	pacer ratelimit.Pacer,
	observer Observer,
	logger *zap.Logger,
) (*Engine, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if messageProvider == nil {
		return nil, fmt.Errorf("message provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		outbox:              outbox,
		provider:            messageProvider,
		pacer:               pacer,
		observer:            observer,
		logger:              logger,
		progressMinInterval: defaultProgressMinInterval,
		now:                 time.Now,
		newID:               uuid.NewString,
	}, nil
}

func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// SetProgressMinInterval tunes progress coalescing. The final 100% event is
// always delivered regardless of the interval.
func (e *Engine) SetProgressMinInterval(d time.Duration) {
	if e == nil {
		return
	}
	e.progressMinInterval = d
}

// Start begins dispatching a campaign in the background and returns its id.
// It fails with domain.ErrAlreadyRunning while another campaign is active and
// may be called again after the previous run reached any terminal state.
func (e *Engine) Start(campaign domain.Campaign) (string, error) {
	campaign.Recipients = recipients.Canonicalize(campaign.Recipients)
	if err := campaign.Validate(); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.run != nil && !e.run.state.IsTerminal() {
		e.mu.Unlock()
		return "", domain.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        e.newID(),
		state:     domain.StateRunning,
		total:     len(campaign.Recipients),
		startedAt: e.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	e.run = r
	e.mu.Unlock()

	go e.dispatch(runCtx, r, campaign)

	return r.id, nil
}

// Cancel requests a cooperative stop of the active campaign. The dispatch
// loop observes it at the next recipient boundary; an in-flight provider call
// is never aborted and already-written outbox records remain.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil || e.run.state.IsTerminal() {
		return domain.ErrNoActiveCampaign
	}

	e.run.cancel()
	return nil
}

// Status returns a snapshot of the current or last run. Before the first
// Start the state is IDLE and the campaign id is empty.
func (e *Engine) Status() domain.CampaignStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil {
		return domain.CampaignStatus{State: domain.StateIdle}
	}
	return e.snapshotLocked()
}

// Shutdown cancels any active run and waits for the dispatch goroutine to
// exit or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	r := e.run
	if r != nil && !r.state.IsTerminal() {
		r.cancel()
	}
	e.mu.Unlock()

	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendDirect sends one message outside a campaign and persists its outbox
// record. It may run while a campaign is active; the outbox store serializes
// the table writes.
func (e *Engine) SendDirect(ctx context.Context, msg provider.Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", fmt.Errorf("%w: recipient number is required", domain.ErrValidation)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return "", fmt.Errorf("%w: message body is required", domain.ErrValidation)
	}

	sendStart := e.now()
	result, err := e.provider.Send(ctx, msg)
	e.metrics.ObserveSendDuration(e.now().Sub(sendStart))
	if err != nil {
		e.metrics.IncSendFailed(failureReason(err))
		return "", err
	}

	if err := e.persistOutbox(result.MessageSID, msg); err != nil {
		return "", err
	}
	e.metrics.IncMessageSent("direct")

	e.logger.Info("direct message sent",
		zap.String("to", msg.To),
		zap.String("messageSid", result.MessageSID),
	)
	return result.MessageSID, nil
}

func (e *Engine) persistOutbox(sid string, msg provider.Message) error {
	now := e.now()
	record := domain.OutboxRecord{
		MessageSID:    sid,
		To:            msg.To,
		Body:          msg.Body,
		DateTime:      now,
		TimestampUnix: now.Unix(),
	}
	return e.outbox.Upsert(sid, record)
}

// snapshotLocked builds a CampaignStatus from the run; e.mu must be held.
func (e *Engine) snapshotLocked() domain.CampaignStatus {
	r := e.run
	status := domain.CampaignStatus{
		ID:    r.id,
		State: r.state,
		Progress: domain.Progress{
			Completed:     r.completed,
			Total:         r.total,
			Percent:       percent(r.completed, r.total),
			LastRecipient: r.lastRecipient,
		},
		Sent:      r.sent,
		Failed:    r.failed,
		StartedAt: r.startedAt,
	}
	if r.finishedAt != nil {
		finished := *r.finishedAt
		status.FinishedAt = &finished
	}
	if r.err != nil {
		status.Err = r.err.Error()
	}
	return status
}

func percent(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

func failureReason(err error) string {
	if provider.IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
