// Package connectivity decides whether the engine can reach the network and
// the catalog service, and announces online/offline transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/quickbasket/internal/events"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/metrics"
)

// Prober checks one endpoint. catalog.Client implements it for the backend.
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration) error
}

// PlatformSignal reports whether the host has any usable network at all. A
// false answer is trusted immediately; a true answer still needs a probe.
type PlatformSignal func() bool

// Listener is called on every online/offline transition.
type Listener func(ctx context.Context, online bool)

// Broadcaster publishes transitions to the extension. *events.Hub implements it.
type Broadcaster interface {
	Broadcast(msgType string, data any)
}

// State is the last known connectivity. Only the Monitor mutates it.
type State struct {
	IsOnline        bool      `json:"isOnline"`
	ServerConnected bool      `json:"serverConnected"`
	LastCheckedAt   time.Time `json:"lastCheckedAt"`
}

type Options struct {
	CacheTTL     time.Duration
	ProbeTimeout time.Duration
	PollInterval time.Duration
}

type Monitor struct {
	backend  Prober
	external Prober
	platform PlatformSignal
	events   Broadcaster
	opts     Options
	logger   logger.Logger
	now      func() time.Time

	mu        sync.RWMutex
	state     State
	fresh     bool
	listeners []Listener

	probes singleflight.Group
	kick   chan struct{}

	notifyMu    sync.Mutex
	pending     []transition
	dispatching bool
	stopCh   chan struct{}
}

// New creates a monitor. external may be nil; platform defaults to
// InterfacesUp.
func New(backend, external Prober, platform PlatformSignal, bus Broadcaster, opts Options, log logger.Logger) *Monitor {
	if platform == nil {
		platform = InterfacesUp
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 4 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	return &Monitor{
		backend:  backend,
		external: external,
		platform: platform,
		events:   bus,
		opts:     opts,
		logger:   log,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

type transition struct {
	ctx       context.Context
	online    bool
	listeners []Listener
}

// OnTransition registers a listener. Listeners run outside the probe path,
// one transition at a time and in the order the transitions happened.
func (m *Monitor) OnTransition(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// State returns a copy of the current state
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOnline answers from the platform signal and the cache when it can, and
// probes otherwise. Only an affirmative answer is served from the cache.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	if !m.platform() {
		m.record(ctx, false, false)
		return false
	}

	m.mu.RLock()
	st, fresh := m.state, m.fresh
	m.mu.RUnlock()
	if fresh && st.IsOnline && m.now().Sub(st.LastCheckedAt) <= m.opts.CacheTTL {
		return true
	}
	return m.ForceCheck(ctx)
}

// ForceCheck probes regardless of the cache. Concurrent callers share one
// probe. It never fails; errors mean offline.
func (m *Monitor) ForceCheck(ctx context.Context) bool {
	v, _, _ := m.probes.Do("probe", func() (any, error) {
		return m.probe(ctx), nil
	})
	return v.(bool)
}

func (m *Monitor) probe(ctx context.Context) bool {
	if !m.platform() {
		m.record(ctx, false, false)
		return false
	}

	serverConnected := false
	if m.backend != nil {
		if err := m.backend.Probe(ctx, m.opts.ProbeTimeout); err != nil {
			m.logger.Debug("backend probe failed", logger.Error(err))
		} else {
			serverConnected = true
		}
	}

	online := serverConnected
	if !online && m.external != nil {
		if err := m.external.Probe(ctx, m.opts.ProbeTimeout); err != nil {
			m.logger.Debug("external probe failed", logger.Error(err))
		} else {
			online = true
		}
	}

	m.record(ctx, online, serverConnected)
	return online
}

// Invalidate drops the cached answer and asks the poll loop for an immediate
// probe. Callers use it after transient remote failures.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	m.fresh = false
	m.mu.Unlock()

	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Monitor) record(ctx context.Context, online, serverConnected bool) {
	m.mu.Lock()
	prev := m.state
	m.state = State{
		IsOnline:        online,
		ServerConnected: serverConnected,
		LastCheckedAt:   m.now().UTC(),
	}
	m.fresh = true
	changed := prev.IsOnline != online || prev.ServerConnected != serverConnected
	isTransition := prev.IsOnline != online
	current := m.state
	if isTransition {
		// queued under mu so the queue order matches the state order
		m.enqueueTransition(transition{
			ctx:       context.WithoutCancel(ctx),
			online:    online,
			listeners: append([]Listener(nil), m.listeners...),
		})
	}
	m.mu.Unlock()

	metrics.SetOnline(online)
	if !changed {
		return
	}

	if m.events != nil {
		m.events.Broadcast(events.TypeConnectivity, map[string]bool{
			"online":          current.IsOnline,
			"serverConnected": current.ServerConnected,
		})
	}
	if !isTransition {
		return
	}

	to := "offline"
	if online {
		to = "online"
	}
	metrics.ConnectivityTransitions.WithLabelValues(to).Inc()
	m.logger.Info("connectivity changed",
		logger.Bool("online", online),
		logger.Bool("server_connected", serverConnected))
}

// enqueueTransition appends to the FIFO and starts the single delivery
// worker when none is running.
func (m *Monitor) enqueueTransition(t transition) {
	m.notifyMu.Lock()
	m.pending = append(m.pending, t)
	if m.dispatching {
		m.notifyMu.Unlock()
		return
	}
	m.dispatching = true
	m.notifyMu.Unlock()

	go m.deliverTransitions()
}

func (m *Monitor) deliverTransitions() {
	for {
		m.notifyMu.Lock()
		if len(m.pending) == 0 {
			m.dispatching = false
			m.notifyMu.Unlock()
			return
		}
		t := m.pending[0]
		m.pending[0] = transition{}
		m.pending = m.pending[1:]
		m.notifyMu.Unlock()

		for _, l := range t.listeners {
			l(t.ctx, t.online)
		}
	}
}

// Start probes once, then keeps probing every PollInterval and whenever
// Invalidate is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.ForceCheck(ctx)

	ticker := time.NewTicker(m.opts.PollInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.ForceCheck(ctx)
			case <-m.kick:
				m.ForceCheck(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop stops the poll loop
func (m *Monitor) Stop() {
	close(m.stopCh)
}
