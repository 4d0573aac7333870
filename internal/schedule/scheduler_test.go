package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/logger"
)

func newTestScheduler(now time.Time) (*Scheduler, *MemoryStore) {
	store := NewMemoryStore()
	s := New(store, logger.New("error", false), time.Hour)
	s.now = func() time.Time { return now }
	return s, store
}

func TestHandleRoundTrip(t *testing.T) {
	h := HandleFor("amazon_B0ABCDEFGH")
	id, ok := h.ItemID()
	if !ok || id != "amazon_B0ABCDEFGH" {
		t.Errorf("ItemID() = %q, %v", id, ok)
	}

	for _, name := range []string{"priceCheck", "scrape-product-", "sync"} {
		if _, ok := Handle(name).ItemID(); ok {
			t.Errorf("Handle(%q).ItemID() should not be ok", name)
		}
	}
}

func TestScheduleReplacesExistingAlarm(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s, store := newTestScheduler(now)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := s.ScheduleIn(ctx, "noon_N1", time.Duration(i)*time.Minute); err != nil {
			t.Fatalf("ScheduleIn() error: %v", err)
		}
	}

	all, _ := store.List(ctx)
	if len(all) != 1 {
		t.Fatalf("store has %d alarms, want exactly 1", len(all))
	}
	at, ok, err := s.Next(ctx, "noon_N1")
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", at, ok, err)
	}
	if want := now.Add(5 * time.Minute); !at.Equal(want) {
		t.Errorf("Next() = %v, want latest schedule %v", at, want)
	}
}

func TestClearItemsKeepsForeignAlarms(t *testing.T) {
	now := time.Now()
	s, store := newTestScheduler(now)
	ctx := context.Background()

	_ = s.ScheduleIn(ctx, "a", time.Minute)
	_ = s.ScheduleIn(ctx, "b", time.Minute)
	_ = store.Put(ctx, "maintenance", now.Add(time.Hour))

	n, err := s.ClearItems(ctx, nil)
	if err != nil || n != 2 {
		t.Fatalf("ClearItems() = %d, %v; want 2", n, err)
	}
	entries, _ := s.Entries(ctx)
	if len(entries) != 0 {
		t.Errorf("Entries() after clear = %v", entries)
	}
	all, _ := store.List(ctx)
	if _, ok := all["maintenance"]; !ok {
		t.Errorf("ClearItems removed a non-item alarm")
	}
}

func TestClearItemsHonoursKeep(t *testing.T) {
	s, _ := newTestScheduler(time.Now())
	ctx := context.Background()

	_ = s.ScheduleIn(ctx, "a", time.Minute)
	_ = s.ScheduleIn(ctx, "b", time.Minute)

	n, err := s.ClearItems(ctx, func(id string) bool { return id == "b" })
	if err != nil || n != 1 {
		t.Fatalf("ClearItems() = %d, %v; want 1", n, err)
	}
	if _, ok, _ := s.Next(ctx, "b"); !ok {
		t.Error("kept alarm was cleared")
	}
	if _, ok, _ := s.Next(ctx, "a"); ok {
		t.Error("alarm a survived")
	}
}

func TestTickFiresDueAlarmsOnce(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(now)
	ctx := context.Background()

	var mu sync.Mutex
	var fired []string
	s.SetHandler(func(_ context.Context, id string) {
		mu.Lock()
		fired = append(fired, id)
		mu.Unlock()
	})

	_ = s.ScheduleAt(ctx, "past", now.Add(-time.Minute))
	_ = s.ScheduleAt(ctx, "exact", now)
	_ = s.ScheduleAt(ctx, "future", now.Add(time.Minute))

	if n := s.Tick(ctx); n != 2 {
		t.Fatalf("Tick() fired %d, want 2", n)
	}
	if n := s.Tick(ctx); n != 0 {
		t.Errorf("second Tick() fired %d, want 0", n)
	}

	entries, _ := s.Entries(ctx)
	if len(entries) != 1 || entries[0].ItemID != "future" {
		t.Errorf("remaining entries = %v, want only future", entries)
	}
	if len(fired) != 2 {
		t.Errorf("handler saw %v", fired)
	}
}

func TestStartRequiresHandler(t *testing.T) {
	s, _ := newTestScheduler(time.Now())
	if err := s.Start(context.Background()); err == nil {
		t.Errorf("Start() without handler should fail")
	}
}

func TestEntriesOrdered(t *testing.T) {
	now := time.Now()
	s, _ := newTestScheduler(now)
	ctx := context.Background()

	_ = s.ScheduleIn(ctx, "c", 3*time.Minute)
	_ = s.ScheduleIn(ctx, "a", time.Minute)
	_ = s.ScheduleIn(ctx, "b", 2*time.Minute)

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{entries[0].ItemID, entries[1].ItemID, entries[2].ItemID}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Entries() order = %v, want [a b c]", got)
	}
}

func TestJitterBounds(t *testing.T) {
	if Jitter(0) != 0 || Jitter(-time.Second) != 0 {
		t.Errorf("Jitter of a non-positive limit must be 0")
	}
	for i := 0; i < 1000; i++ {
		j := Jitter(30 * time.Second)
		if j < 0 || j > 30*time.Second {
			t.Fatalf("Jitter() = %v, out of [0, 30s]", j)
		}
	}
}
