package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/catalog"
	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/index"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/notify"
	"github.com/MrSnakeDoc/quickbasket/internal/offline"
	"github.com/MrSnakeDoc/quickbasket/internal/projection"
	"github.com/MrSnakeDoc/quickbasket/internal/schedule"
)

type fakeCatalog struct {
	mu          sync.Mutex
	trackCalls  int
	lastTrack   catalog.TrackRequest
	trackResp   *catalog.TrackResponse
	intervalRes *catalog.IntervalResponse
	deleted     []catalog.RemoteID
	err         error
}

func (f *fakeCatalog) Track(_ context.Context, req catalog.TrackRequest) (*catalog.TrackResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackCalls++
	f.lastTrack = req
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.trackResp
	return &resp, nil
}

func (f *fakeCatalog) UpdateInterval(_ context.Context, _ catalog.RemoteID, hours int) (*catalog.IntervalResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.intervalRes
	resp.UpdateInterval = hours
	return &resp, nil
}

func (f *fakeCatalog) DeleteProduct(_ context.Context, id catalog.RemoteID) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

type fakeGate struct {
	online      bool
	invalidated int
}

func (g *fakeGate) IsOnline(context.Context) bool { return g.online }
func (g *fakeGate) Invalidate()                   { g.invalidated++ }

type fakeJobs struct{ ids []string }

func (f *fakeJobs) Enqueue(id string) bool {
	f.ids = append(f.ids, id)
	return true
}

type memorySink struct{ got []notify.Notification }

func (m *memorySink) Name() string { return "memory" }
func (m *memorySink) Deliver(_ context.Context, n notify.Notification) error {
	m.got = append(m.got, n)
	return nil
}

type fixture struct {
	tr      *Tracker
	cat     *fakeCatalog
	gate    *fakeGate
	jobs    *fakeJobs
	items   *projection.Projection
	sched   *schedule.Scheduler
	offline *offline.Queue
	sink    *memorySink
	now     time.Time
}

func newFixture(t *testing.T, maxProducts int) *fixture {
	t.Helper()
	log := logger.New("error", false)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		cat: &fakeCatalog{
			trackResp: &catalog.TrackResponse{
				TrackedProductID: "101",
				NextRunAt:        catalog.RemoteTime{Time: now.Add(58 * time.Minute), Valid: true},
				Availability:     domain.InStock,
			},
			intervalRes: &catalog.IntervalResponse{
				NextRunAt: catalog.RemoteTime{Time: now.Add(6 * time.Hour), Valid: true},
			},
		},
		gate:    &fakeGate{online: true},
		jobs:    &fakeJobs{},
		items:   projection.New(index.NewMemoryIndex(), nil, time.Hour, log),
		sched:   schedule.New(schedule.NewMemoryStore(), log, time.Hour),
		offline: offline.New(offline.NewMemoryStore(), log),
		sink:    &memorySink{},
		now:     now,
	}
	f.tr = New(Options{MaxProducts: maxProducts, MaxJitter: 30 * time.Second, PastDueDelay: time.Minute}, Deps{
		Catalog:    f.cat,
		Gate:       f.gate,
		Projection: f.items,
		Scheduler:  f.sched,
		Offline:    f.offline,
		Jobs:       f.jobs,
		Notifier:   notify.New(5*time.Second, "http://localhost/dashboard", log, f.sink),
		Logger:     log,
	})
	f.tr.now = func() time.Time { return now }
	f.tr.jitter = func(time.Duration) time.Duration { return 0 }
	return f
}

func (f *fixture) seed(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("amazon_B00000%04d", i)
		item := &domain.TrackedItem{ID: id, URL: "https://www.amazon.com/dp/" + id[7:], UpdateIntervalHours: 24}
		if err := f.items.Put(context.Background(), item, fmt.Sprint(i)); err != nil {
			t.Fatal(err)
		}
	}
}

func price(v float64) *float64 { return &v }

func TestTrackLimitCheckedBeforeNetwork(t *testing.T) {
	f := newFixture(t, 50)
	f.seed(t, 50)
	ctx := context.Background()

	res := f.tr.TrackProduct(ctx, "https://www.amazon.com/dp/B0NEWITEM1", domain.Snapshot{Name: "New"})
	if res.Success || !errors.Is(res.Err, domain.ErrLimitExceeded) {
		t.Fatalf("51st product = %+v, want limit error", res)
	}
	if f.cat.trackCalls != 0 {
		t.Error("limit check must happen before calling the catalog")
	}

	// re-tracking a known url is an update and ignores the limit
	res = f.tr.TrackProduct(ctx, "https://www.amazon.com/dp/B000000007?ref=abc", domain.Snapshot{Name: "Known"})
	if !res.Success || res.ProductID != "amazon_B000000007" {
		t.Fatalf("re-track = %+v", res)
	}
	if f.cat.trackCalls != 1 {
		t.Errorf("catalog calls = %d, want 1", f.cat.trackCalls)
	}
	if f.items.Count() != 50 {
		t.Errorf("Count() = %d, want 50", f.items.Count())
	}
}

func TestTrackPersistsSchedulesAndNotifies(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	res := f.tr.TrackProduct(ctx, "https://www.amazon.com/Some-Widget/dp/B0ABCDEFGH/ref=sr_1?th=1",
		domain.Snapshot{Name: "Widget", Price: price(24.99), Currency: "USD", Availability: domain.InStock})
	if !res.Success {
		t.Fatalf("TrackProduct() = %+v", res)
	}
	if f.cat.lastTrack.URL != "https://www.amazon.com/Some-Widget/dp/B0ABCDEFGH/ref=sr_1" ||
		f.cat.lastTrack.Marketplace != domain.MarketplaceAmazon {
		t.Errorf("request = %+v", f.cat.lastTrack)
	}

	item, ok := f.items.Get("amazon_B0ABCDEFGH")
	if !ok || *item.CurrentPrice != 24.99 || item.UpdateIntervalHours != 24 {
		t.Fatalf("projected item = %+v", item)
	}
	if remote, _ := f.items.RemoteID("amazon_B0ABCDEFGH"); remote != "101" {
		t.Errorf("RemoteID = %q, want 101", remote)
	}

	at, ok, _ := f.sched.Next(ctx, "amazon_B0ABCDEFGH")
	if !ok || !at.Equal(f.now.Add(58*time.Minute)) {
		t.Errorf("alarm = %v, want next_run_at", at)
	}

	if len(f.sink.got) != 1 || f.sink.got[0].Title != "Product Tracked" {
		t.Errorf("notifications = %+v", f.sink.got)
	}
}

func TestTrackReportsAvailabilityChange(t *testing.T) {
	f := newFixture(t, 100)
	f.cat.trackResp.AvailabilityChanged = true
	f.cat.trackResp.Availability = domain.OutOfStock

	res := f.tr.TrackProduct(context.Background(), "https://www.amazon.com/dp/B0ABCDEFGH", domain.Snapshot{Name: "Widget"})
	if !res.Success {
		t.Fatal(res.Error)
	}
	if len(f.sink.got) != 2 || f.sink.got[1].Title != "Out of Stock" {
		t.Errorf("notifications = %+v", f.sink.got)
	}
}

func TestTrackFailures(t *testing.T) {
	tests := []struct {
		name            string
		online          bool
		err             error
		wantErr         error
		wantMessage     string
		wantInvalidated int
	}{
		{
			name:    "offline",
			online:  false,
			wantErr: domain.ErrOffline,
		},
		{
			name:        "validation",
			online:      true,
			err:         &catalog.APIError{Op: "track", Status: 422, Detail: "unsupported marketplace"},
			wantMessage: "unsupported marketplace",
		},
		{
			name:            "server error",
			online:          true,
			err:             &catalog.APIError{Op: "track", Status: 503},
			wantMessage:     "Backend unavailable, please try again later",
			wantInvalidated: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 100)
			f.gate.online = tt.online
			f.cat.err = tt.err

			res := f.tr.TrackProduct(context.Background(), "https://www.amazon.com/dp/B0ABCDEFGH", domain.Snapshot{})
			if res.Success {
				t.Fatal("expected failure")
			}
			if tt.wantErr != nil && !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", res.Err, tt.wantErr)
			}
			if tt.wantMessage != "" && res.Error != tt.wantMessage {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantMessage)
			}
			if f.gate.invalidated != tt.wantInvalidated {
				t.Errorf("invalidated = %d, want %d", f.gate.invalidated, tt.wantInvalidated)
			}
			if f.items.Count() != 0 {
				t.Error("failed track must not project the item")
			}
		})
	}
}

func TestChangeInterval(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1)
	ctx := context.Background()
	id := "amazon_B000000000"

	if res := f.tr.ChangeInterval(ctx, id, 7); res.Success || !errors.Is(res.Err, domain.ErrInvalidInterval) {
		t.Errorf("interval 7 = %+v", res)
	}
	if res := f.tr.ChangeInterval(ctx, "amazon_B0UNKNOWN0", 6); !errors.Is(res.Err, domain.ErrNotTracked) {
		t.Errorf("unknown id = %+v", res)
	}

	res := f.tr.ChangeInterval(ctx, id, 6)
	if !res.Success {
		t.Fatal(res.Error)
	}
	item, _ := f.items.Get(id)
	if item.UpdateIntervalHours != 6 {
		t.Errorf("interval = %d", item.UpdateIntervalHours)
	}
	at, _, _ := f.sched.Next(ctx, id)
	if !at.Equal(f.now.Add(6 * time.Hour)) {
		t.Errorf("alarm = %v, want recomputed next_run_at", at)
	}
}

func TestRemoveDropsLocalState(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1)
	ctx := context.Background()
	id := "amazon_B000000000"
	_ = f.sched.ScheduleIn(ctx, id, time.Hour)
	_ = f.offline.Offer(ctx, id)

	// already gone remotely counts as removed
	f.cat.err = &catalog.APIError{Op: "delete", Status: 404}

	res := f.tr.Remove(ctx, id)
	if !res.Success {
		t.Fatal(res.Error)
	}
	if len(f.cat.deleted) != 1 || f.cat.deleted[0] != "0" {
		t.Errorf("deleted = %v", f.cat.deleted)
	}
	if f.items.Has(id) {
		t.Error("item still projected")
	}
	if _, ok, _ := f.sched.Next(ctx, id); ok {
		t.Error("alarm survived removal")
	}
	if f.offline.Len(ctx) != 0 {
		t.Error("offline entry survived removal")
	}
}

func TestRemoveKeepsStateOnServerError(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1)
	f.cat.err = &catalog.APIError{Op: "delete", Status: 500}

	if res := f.tr.Remove(context.Background(), "amazon_B000000000"); res.Success {
		t.Fatal("expected failure")
	}
	if !f.items.Has("amazon_B000000000") {
		t.Error("item removed locally although the catalog refused")
	}
}

func TestUpdateProductAlarm(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1)
	ctx := context.Background()
	id := "amazon_B000000000"

	future := f.now.Add(3 * time.Hour)
	if res := f.tr.UpdateProductAlarm(ctx, id, future); !res.Success {
		t.Fatal(res.Error)
	}
	if at, _, _ := f.sched.Next(ctx, id); !at.Equal(future) {
		t.Errorf("alarm = %v, want %v", at, future)
	}

	if res := f.tr.UpdateProductAlarm(ctx, id, f.now.Add(-time.Hour)); !res.Success {
		t.Fatal(res.Error)
	}
	if at, _, _ := f.sched.Next(ctx, id); !at.Equal(f.now.Add(time.Minute)) {
		t.Errorf("past alarm = %v, want now+1m", at)
	}

	if res := f.tr.UpdateProductAlarm(ctx, "amazon_B0UNKNOWN0", future); res.Success {
		t.Error("unknown id accepted")
	}
}

func TestTriggerScrapeNow(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 3)

	res := f.tr.TriggerScrapeNow(context.Background())
	if !res.Success || res.Queued != 3 || len(f.jobs.ids) != 3 {
		t.Errorf("TriggerScrapeNow() = %+v, jobs = %v", res, f.jobs.ids)
	}

	f.gate.online = false
	if res := f.tr.TriggerScrapeNow(context.Background()); res.Success {
		t.Error("offline trigger should fail")
	}
}
