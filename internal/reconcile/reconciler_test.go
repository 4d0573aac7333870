package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/catalog"
	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/index"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/projection"
	"github.com/MrSnakeDoc/quickbasket/internal/schedule"
)

type fakeLister struct {
	calls    atomic.Int32
	products []catalog.Product
	err      error
	entered  chan struct{}
	release  chan struct{}
}

func (f *fakeLister) ListProductsFresh(context.Context) ([]catalog.Product, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	return f.products, f.err
}

type fakeGate struct{ online atomic.Bool }

func (g *fakeGate) IsOnline(context.Context) bool { return g.online.Load() }

type recordingBus struct {
	mu    sync.Mutex
	types []string
}

func (b *recordingBus) Broadcast(msgType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, msgType)
}

func product(id, url string, next time.Time) catalog.Product {
	return catalog.Product{
		ID:             catalog.RemoteID(id),
		Title:          "Widget " + id,
		Marketplace:    domain.MarketplaceAmazon,
		Currency:       "USD",
		URL:            url,
		UpdateInterval: 1,
		NextRunAt:      catalog.RemoteTime{Time: next, Valid: !next.IsZero()},
	}
}

func newReconciler(t *testing.T, lister *fakeLister) (*Reconciler, *projection.Projection, *schedule.Scheduler, *fakeGate) {
	t.Helper()
	log := logger.New("error", false)
	items := projection.New(index.NewMemoryIndex(), nil, time.Hour, log)
	sched := schedule.New(schedule.NewMemoryStore(), log, time.Hour)
	gate := &fakeGate{}
	gate.online.Store(true)
	r := New(lister, gate, items, sched, &recordingBus{}, Options{
		Interval:     time.Hour,
		PastDueDelay: time.Minute,
		MaxJitter:    30 * time.Second,
	}, log)
	return r, items, sched, gate
}

func alarmFor(t *testing.T, sched *schedule.Scheduler, id string) time.Time {
	t.Helper()
	at, ok, err := sched.Next(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("no alarm for %s (err=%v)", id, err)
	}
	return at
}

func TestFutureRunIsJitteredWithinHalfAMinute(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{products: []catalog.Product{
		product("42", "https://www.amazon.com/dp/B0ABCDEFGH", now.Add(58*time.Minute)),
	}}
	r, _, sched, _ := newReconciler(t, lister)
	r.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		if _, err := r.SyncAll(context.Background()); err != nil {
			t.Fatal(err)
		}
		delay := alarmFor(t, sched, "amazon_B0ABCDEFGH").Sub(now)
		if delay < 58*time.Minute || delay > 58*time.Minute+30*time.Second {
			t.Fatalf("alarm delay = %v, want within [58m, 58m30s]", delay)
		}
	}
}

func TestPastDueAndUnknownRunsAreDelayed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{products: []catalog.Product{
		product("1", "https://www.amazon.com/dp/B000000001", now.Add(-3*time.Hour)),
		product("2", "https://www.amazon.com/dp/B000000002", time.Time{}),
	}}
	r, _, sched, _ := newReconciler(t, lister)
	r.now = func() time.Time { return now }
	r.jitter = func(time.Duration) time.Duration { return 7 * time.Second }

	if _, err := r.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := now.Add(time.Minute + 7*time.Second)
	for _, id := range []string{"amazon_B000000001", "amazon_B000000002"} {
		if got := alarmFor(t, sched, id); !got.Equal(want) {
			t.Errorf("%s alarm = %v, want %v", id, got, want)
		}
	}
}

func TestRemoteWinsAndRemovedItemsLoseTheirAlarms(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{products: []catalog.Product{
		product("1", "https://www.amazon.com/dp/B000000001", now.Add(time.Hour)),
	}}
	r, items, sched, _ := newReconciler(t, lister)
	ctx := context.Background()

	stale := &domain.TrackedItem{ID: "amazon_B000000009", URL: "https://www.amazon.com/dp/B000000009", UpdateIntervalHours: 24}
	if err := items.Put(ctx, stale, "9"); err != nil {
		t.Fatal(err)
	}
	local := &domain.TrackedItem{ID: "amazon_B000000001", Name: "local name", UpdateIntervalHours: 24}
	if err := items.Put(ctx, local, "1"); err != nil {
		t.Fatal(err)
	}
	if err := sched.ScheduleIn(ctx, "amazon_B000000009", time.Hour); err != nil {
		t.Fatal(err)
	}

	out, err := r.SyncAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Items != 1 || len(out.Removed) != 1 || out.Removed[0] != "amazon_B000000009" || out.Alarms != 1 {
		t.Errorf("Outcome = %+v", out)
	}
	if items.Has("amazon_B000000009") {
		t.Error("item unknown to the remote is still projected")
	}
	if _, ok, _ := sched.Next(ctx, "amazon_B000000009"); ok {
		t.Error("removed item still has an alarm")
	}
	got, _ := items.Get("amazon_B000000001")
	if got.Name != "Widget 1" || got.UpdateIntervalHours != 1 {
		t.Errorf("projection = %+v, want remote values", got)
	}
	if remote, _ := items.RemoteID("amazon_B000000001"); remote != "1" {
		t.Errorf("RemoteID = %q", remote)
	}
}

func TestItemTrackedDuringPassSurvives(t *testing.T) {
	lister := &fakeLister{
		products: []catalog.Product{
			product("1", "https://www.amazon.com/dp/B000000001", time.Now().Add(time.Hour)),
		},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r, items, sched, _ := newReconciler(t, lister)
	ctx := context.Background()

	done := make(chan Outcome)
	go func() {
		out, err := r.SyncAll(ctx)
		if err != nil {
			t.Errorf("SyncAll() error: %v", err)
		}
		done <- out
	}()
	<-lister.entered

	fresh := &domain.TrackedItem{ID: "amazon_B000000002", URL: "https://www.amazon.com/dp/B000000002", UpdateIntervalHours: 6}
	if err := items.Put(ctx, fresh, "2"); err != nil {
		t.Fatal(err)
	}
	trackedAt := time.Now().Add(6 * time.Hour)
	if err := sched.ScheduleAt(ctx, fresh.ID, trackedAt); err != nil {
		t.Fatal(err)
	}
	close(lister.release)

	var out Outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not finish")
	}

	if len(out.Removed) != 0 {
		t.Errorf("Removed = %v, want none", out.Removed)
	}
	if !items.Has(fresh.ID) {
		t.Fatal("item tracked during the pass was dropped")
	}
	if got := alarmFor(t, sched, fresh.ID); !got.Equal(trackedAt) {
		t.Errorf("alarm = %v, want the one set while tracking (%v)", got, trackedAt)
	}
	alarmFor(t, sched, "amazon_B000000001")
}

func TestSkippedWhileOffline(t *testing.T) {
	lister := &fakeLister{}
	r, _, _, gate := newReconciler(t, lister)
	gate.online.Store(false)

	out, err := r.SyncAll(context.Background())
	if err != nil || !out.Skipped {
		t.Fatalf("SyncAll() = %+v, %v; want skipped", out, err)
	}
	if lister.calls.Load() != 0 {
		t.Error("offline sync reached the catalog")
	}
}

func TestListFailureLeavesAlarmsAlone(t *testing.T) {
	lister := &fakeLister{err: errors.New("boom")}
	r, _, sched, _ := newReconciler(t, lister)
	ctx := context.Background()
	if err := sched.ScheduleIn(ctx, "amazon_B000000001", time.Hour); err != nil {
		t.Fatal(err)
	}

	if _, err := r.SyncAll(ctx); err == nil {
		t.Fatal("expected error")
	}
	if _, ok, _ := sched.Next(ctx, "amazon_B000000001"); !ok {
		t.Error("failed sync must not clear alarms")
	}
}

func TestConcurrentCallsCoalesceIntoOneExtraPass(t *testing.T) {
	lister := &fakeLister{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r, _, _, _ := newReconciler(t, lister)
	ctx := context.Background()

	done := make(chan Outcome)
	go func() {
		out, _ := r.SyncAll(ctx)
		done <- out
	}()
	<-lister.entered

	for i := 0; i < 3; i++ {
		out, err := r.SyncAll(ctx)
		if err != nil || !out.Coalesced {
			t.Fatalf("call %d = %+v, %v; want coalesced", i, out, err)
		}
	}

	close(lister.release)
	select {
	case out := <-done:
		if out.Coalesced {
			t.Error("leading call reported coalesced")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not finish")
	}
	if n := lister.calls.Load(); n != 2 {
		t.Errorf("passes = %d, want 2 (one extra)", n)
	}

	// flag is reset: the next call runs normally
	if out, _ := r.SyncAll(ctx); out.Coalesced {
		t.Error("call after completion was coalesced")
	}
}

func TestTriggerIsNonBlocking(t *testing.T) {
	r, _, _, _ := newReconciler(t, &fakeLister{})
	if !r.Trigger() {
		t.Fatal("first Trigger() = false")
	}
	if r.Trigger() {
		t.Error("second Trigger() should report already pending")
	}
}
