package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/store"
	"go.uber.org/zap"
)

type fakeProvider struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg provider.Message) (*provider.SendResult, error)
	calls  []provider.Message
}

func (f *fakeProvider) Send(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.SendResult{MessageSID: fmt.Sprintf("SM%d", len(f.calls)), StatusCode: 201, Status: "queued"}, nil
}

func (f *fakeProvider) sent() []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Message(nil), f.calls...)
}

type fakeObserver struct {
	mu         sync.Mutex
	progress   []domain.Progress
	recipients []string
	onSent     func(number string)
	finished   chan domain.CampaignStatus
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{finished: make(chan domain.CampaignStatus, 1)}
}

func (f *fakeObserver) OnProgress(p domain.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
}

func (f *fakeObserver) OnRecipientSent(number string) {
	f.mu.Lock()
	f.recipients = append(f.recipients, number)
	f.mu.Unlock()

	if f.onSent != nil {
		f.onSent(number)
	}
}

func (f *fakeObserver) OnFinished(status domain.CampaignStatus) {
	f.finished <- status
}

func (f *fakeObserver) waitFinished(t *testing.T) domain.CampaignStatus {
	t.Helper()

	select {
	case status := <-f.finished:
		return status
	case <-time.After(5 * time.Second):
		t.Fatal("campaign did not finish in time")
		return domain.CampaignStatus{}
	}
}

func (f *fakeObserver) progressValues() []domain.Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Progress(nil), f.progress...)
}

func newTestEngine(t *testing.T, p provider.Provider, obs Observer) (*Engine, *store.OutboxStore) {
	t.Helper()

	outbox, err := store.NewKeyedStore[domain.OutboxRecord](filepath.Join(t.TempDir(), "outbox.json"))
	if err != nil {
		t.Fatalf("NewKeyedStore() error = %v", err)
	}

	e, err := New(outbox, p, nil, obs, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.SetProgressMinInterval(0)
	return e, outbox
}

func testCampaign(recipients ...string) domain.Campaign {
	return domain.Campaign{
		Body:        "Hi",
		From:        "+15005550006",
		CallbackURL: "https://example.com/callback",
		Recipients:  recipients,
	}
}

func TestEngineDispatchScenario(t *testing.T) {
	t.Parallel()

	var sids []string
	p := &fakeProvider{}
	p.sendFn = func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
		sid := fmt.Sprintf("SID%d", len(sids)+1)
		sids = append(sids, sid)
		return &provider.SendResult{MessageSID: sid, StatusCode: 201, Status: "queued"}, nil
	}
	obs := newFakeObserver()
	e, outbox := newTestEngine(t, p, obs)

	// Duplicate +1000 collapses; send order is canonical.
	id, err := e.Start(testCampaign("+1000", "+1000", "+2000"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id == "" {
		t.Fatal("Start() should return a campaign id")
	}

	status := obs.waitFinished(t)
	if status.State != domain.StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", status.State)
	}
	if status.Progress.Percent != 100 {
		t.Fatalf("final percent = %v, want 100", status.Progress.Percent)
	}

	calls := p.sent()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2 (deduplicated)", len(calls))
	}
	if calls[0].To != "+1000" || calls[1].To != "+2000" {
		t.Fatalf("send order = %s,%s want +1000,+2000", calls[0].To, calls[1].To)
	}
	if calls[0].StatusCallback != "https://example.com/callback" {
		t.Fatalf("StatusCallback = %q", calls[0].StatusCallback)
	}

	entries := outbox.All()
	if len(entries) != 2 {
		t.Fatalf("outbox entries = %d, want 2", len(entries))
	}
	if entries["SID1"].To != "+1000" || entries["SID2"].To != "+2000" {
		t.Fatalf("outbox = %+v", entries)
	}
	if entries["SID1"].Body != "Hi" {
		t.Fatalf("outbox body = %q, want Hi", entries["SID1"].Body)
	}
}

func TestEngineProgressMonotonicWithFailures(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	p.sendFn = func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
		if msg.To == "+2000" || msg.To == "+4000" {
			return nil, &provider.ProviderError{StatusCode: 400, Message: "invalid number"}
		}
		return &provider.SendResult{MessageSID: "SM-" + msg.To, StatusCode: 201}, nil
	}
	obs := newFakeObserver()
	e, outbox := newTestEngine(t, p, obs)

	if _, err := e.Start(testCampaign("+1000", "+2000", "+3000", "+4000", "+5000")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	status := obs.waitFinished(t)
	if status.State != domain.StateCompleted {
		t.Fatalf("state = %s, want COMPLETED despite per-recipient failures", status.State)
	}
	if status.Sent != 3 || status.Failed != 2 {
		t.Fatalf("sent/failed = %d/%d, want 3/2", status.Sent, status.Failed)
	}

	values := obs.progressValues()
	if len(values) != 5 {
		t.Fatalf("progress events = %d, want 5 with coalescing disabled", len(values))
	}
	last := -1.0
	for _, p := range values {
		if p.Percent < last {
			t.Fatalf("progress went backwards: %v after %v", p.Percent, last)
		}
		last = p.Percent
	}
	if last != 100 {
		t.Fatalf("final progress = %v, want exactly 100", last)
	}

	// Failed recipients never reach the outbox.
	if got := len(outbox.All()); got != 3 {
		t.Fatalf("outbox entries = %d, want 3", got)
	}
}

func TestEngineAlreadyRunning(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p := &fakeProvider{}
	p.sendFn = func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
		<-release
		return &provider.SendResult{MessageSID: "SM1", StatusCode: 201}, nil
	}
	obs := newFakeObserver()
	e, _ := newTestEngine(t, p, obs)

	if _, err := e.Start(testCampaign("+1000")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := e.Start(testCampaign("+2000")); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	obs.waitFinished(t)

	// Terminal state: Start works again.
	if _, err := e.Start(testCampaign("+3000")); err != nil {
		t.Fatalf("Start() after completion error = %v", err)
	}
	obs.waitFinished(t)
}

func TestEngineCancelAtRecipientBoundary(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	obs := newFakeObserver()
	e, outbox := newTestEngine(t, p, obs)

	// Cancel from inside the first OnRecipientSent: the flag must be observed
	// before the second send.
	obs.onSent = func(string) {
		if err := e.Cancel(); err != nil {
			t.Errorf("Cancel() error = %v", err)
		}
	}

	if _, err := e.Start(testCampaign("+1000", "+2000", "+3000")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	status := obs.waitFinished(t)
	if status.State != domain.StateCancelled {
		t.Fatalf("state = %s, want CANCELLED", status.State)
	}
	if status.Progress.Percent == 100 {
		t.Fatal("cancelled campaign must not reach 100")
	}

	if got := len(p.sent()); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
	// Records written before the cancel remain, nothing is rolled back.
	if got := len(outbox.All()); got != 1 {
		t.Fatalf("outbox entries = %d, want 1", got)
	}
}

func TestEngineCancelWithoutActiveCampaign(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeProvider{}, nil)
	if err := e.Cancel(); !errors.Is(err, domain.ErrNoActiveCampaign) {
		t.Fatalf("Cancel() error = %v, want ErrNoActiveCampaign", err)
	}
}

func TestEngineOutboxWriteFailureFailsRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outbox, err := store.NewKeyedStore[domain.OutboxRecord](filepath.Join(dir, "outbox.json"))
	if err != nil {
		t.Fatalf("NewKeyedStore() error = %v", err)
	}

	obs := newFakeObserver()
	e, err := New(outbox, &fakeProvider{}, nil, obs, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	if _, err := e.Start(testCampaign("+1000", "+2000")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	status := obs.waitFinished(t)
	if status.State != domain.StateFailed {
		t.Fatalf("state = %s, want FAILED", status.State)
	}
	if status.Err == "" {
		t.Fatal("failed run should carry an error")
	}

	got := e.Status()
	if got.State != domain.StateFailed {
		t.Fatalf("Status() state = %s, want FAILED", got.State)
	}
}

func TestEngineStartValidation(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeProvider{}, nil)

	// Blank-only recipient lists collapse to nothing.
	_, err := e.Start(testCampaign("  ", ""))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Start() error = %v, want ErrValidation", err)
	}
}

func TestEngineStatusBeforeFirstRun(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeProvider{}, nil)
	status := e.Status()
	if status.State != domain.StateIdle {
		t.Fatalf("state = %s, want IDLE", status.State)
	}
	if status.ID != "" {
		t.Fatalf("id = %q, want empty", status.ID)
	}
}

func TestEngineSendDirect(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	p.sendFn = func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
		return &provider.SendResult{MessageSID: "SM-direct", StatusCode: 201, Status: "queued"}, nil
	}
	e, outbox := newTestEngine(t, p, nil)

	sid, err := e.SendDirect(context.Background(), provider.Message{
		To:             "+1000",
		From:           "+15005550006",
		Body:           "hello there",
		StatusCallback: "https://example.com/callback",
	})
	if err != nil {
		t.Fatalf("SendDirect() error = %v", err)
	}
	if sid != "SM-direct" {
		t.Fatalf("sid = %q, want SM-direct", sid)
	}

	record, ok := outbox.Get("SM-direct")
	if !ok {
		t.Fatal("outbox should contain the direct send")
	}
	if record.To != "+1000" || record.Body != "hello there" {
		t.Fatalf("record = %+v", record)
	}
}

func TestEngineSendDirectValidation(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeProvider{}, nil)

	if _, err := e.SendDirect(context.Background(), provider.Message{Body: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SendDirect() without recipient error = %v, want ErrValidation", err)
	}
	if _, err := e.SendDirect(context.Background(), provider.Message{To: "+1000"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SendDirect() without body error = %v, want ErrValidation", err)
	}
}

func TestProgressNotifierCoalesces(t *testing.T) {
	t.Parallel()

	current := time.Unix(1_700_000_000, 0)
	notifier := newProgressNotifier(100*time.Millisecond, func() time.Time { return current })

	if !notifier.shouldEmit(domain.Progress{Completed: 1, Total: 10, Percent: 10}) {
		t.Fatal("first event should be emitted")
	}
	if notifier.shouldEmit(domain.Progress{Completed: 2, Total: 10, Percent: 20}) {
		t.Fatal("event inside the window should be coalesced")
	}

	current = current.Add(150 * time.Millisecond)
	if !notifier.shouldEmit(domain.Progress{Completed: 3, Total: 10, Percent: 30}) {
		t.Fatal("event after the window should be emitted")
	}

	// Final event always fires, window or not.
	if !notifier.shouldEmit(domain.Progress{Completed: 10, Total: 10, Percent: 100}) {
		t.Fatal("final event must never be coalesced")
	}
}
