package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/logger"
)

type fakeProber struct {
	calls atomic.Int32
	fail  atomic.Bool
	delay time.Duration
}

func (f *fakeProber) Probe(ctx context.Context, _ time.Duration) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

type recordingBus struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recordingBus) Broadcast(_ string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, data)
}

func (r *recordingBus) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newTestMonitor(backend, external Prober, platform PlatformSignal, bus Broadcaster) *Monitor {
	return New(backend, external, platform, bus, Options{CacheTTL: time.Minute}, logger.New("error", false))
}

func TestPlatformDownIsFastNegative(t *testing.T) {
	backend := &fakeProber{}
	m := newTestMonitor(backend, nil, func() bool { return false }, nil)

	if m.IsOnline(context.Background()) {
		t.Fatal("IsOnline() should be false when the platform is down")
	}
	if backend.calls.Load() != 0 {
		t.Errorf("platform-down check must not probe, got %d probes", backend.calls.Load())
	}
}

func TestAffirmativeAnswerIsCached(t *testing.T) {
	backend := &fakeProber{}
	m := newTestMonitor(backend, nil, AlwaysUp, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !m.IsOnline(ctx) {
			t.Fatal("IsOnline() = false")
		}
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("backend probed %d times, want 1", n)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	m.IsOnline(ctx)
	if n := backend.calls.Load(); n != 2 {
		t.Errorf("stale cache should re-probe, probes = %d", n)
	}
}

func TestNegativeAnswerIsNotCached(t *testing.T) {
	backend := &fakeProber{}
	backend.fail.Store(true)
	m := newTestMonitor(backend, nil, AlwaysUp, nil)
	ctx := context.Background()

	m.IsOnline(ctx)
	m.IsOnline(ctx)
	if n := backend.calls.Load(); n != 2 {
		t.Errorf("offline answers should re-probe, probes = %d", n)
	}
}

func TestExternalProbeKeepsOnlineWithoutServer(t *testing.T) {
	backend := &fakeProber{}
	backend.fail.Store(true)
	external := &fakeProber{}
	m := newTestMonitor(backend, external, AlwaysUp, nil)

	if !m.ForceCheck(context.Background()) {
		t.Fatal("ForceCheck() should be online via the external probe")
	}
	st := m.State()
	if !st.IsOnline || st.ServerConnected {
		t.Errorf("State() = %+v, want online without server", st)
	}
	if st.LastCheckedAt.IsZero() {
		t.Error("LastCheckedAt not set")
	}
}

func TestConcurrentForceChecksShareProbe(t *testing.T) {
	backend := &fakeProber{delay: 50 * time.Millisecond}
	m := newTestMonitor(backend, nil, AlwaysUp, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.ForceCheck(context.Background())
		}()
	}
	wg.Wait()

	if n := backend.calls.Load(); n >= 10 {
		t.Errorf("probes = %d, concurrent checks should share", n)
	}
}

func TestTransitionsNotifyListeners(t *testing.T) {
	backend := &fakeProber{}
	bus := &recordingBus{}
	m := newTestMonitor(backend, nil, AlwaysUp, bus)

	seen := make(chan bool, 4)
	m.OnTransition(func(_ context.Context, online bool) { seen <- online })
	ctx := context.Background()

	m.ForceCheck(ctx)
	m.ForceCheck(ctx) // no change
	backend.fail.Store(true)
	m.ForceCheck(ctx)

	want := []bool{true, false}
	for i, w := range want {
		select {
		case got := <-seen:
			if got != w {
				t.Errorf("transition %d = %v, want %v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("transition %d not delivered", i)
		}
	}
	select {
	case extra := <-seen:
		t.Errorf("unexpected extra transition %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	if bus.count() != 2 {
		t.Errorf("broadcasts = %d, want 2", bus.count())
	}
}

func TestTransitionsDeliveredInOrder(t *testing.T) {
	backend := &fakeProber{}
	m := newTestMonitor(backend, nil, AlwaysUp, nil)

	var (
		mu   sync.Mutex
		seen []bool
	)
	done := make(chan struct{})
	m.OnTransition(func(_ context.Context, online bool) {
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		seen = append(seen, online)
		if len(seen) == 10 {
			close(done)
		}
		mu.Unlock()
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		backend.fail.Store(i%2 == 1)
		m.ForceCheck(ctx)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transitions not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range seen {
		if want := i%2 == 0; got != want {
			t.Fatalf("transition %d = %v, want %v (seen %v)", i, got, want, seen)
		}
	}
	if last := seen[len(seen)-1]; last != m.State().IsOnline {
		t.Errorf("last delivered = %v, monitor online = %v", last, m.State().IsOnline)
	}
}

func TestInvalidateForcesProbe(t *testing.T) {
	backend := &fakeProber{}
	m := newTestMonitor(backend, nil, AlwaysUp, nil)
	ctx := context.Background()

	m.IsOnline(ctx)
	m.Invalidate()
	m.IsOnline(ctx)
	if n := backend.calls.Load(); n != 2 {
		t.Errorf("probes after Invalidate = %d, want 2", n)
	}
}

func TestHTTPProbe(t *testing.T) {
	var gotCacheControl, gotBuster string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCacheControl = r.Header.Get("Cache-Control")
		gotBuster = r.URL.Query().Get("_")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL, "quickbasket-test")
	defer func() { _ = p.Close() }()

	if err := p.Probe(context.Background(), time.Second); err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	if gotCacheControl != "no-cache" || gotBuster == "" {
		t.Errorf("probe not cache-busting: cache-control=%q _=%q", gotCacheControl, gotBuster)
	}
}
