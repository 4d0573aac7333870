// Package reconcile rebuilds the local projection and the per-item alarms
// from the catalog service, which is always authoritative.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/catalog"
	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/events"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/metrics"
	"github.com/MrSnakeDoc/quickbasket/internal/projection"
	"github.com/MrSnakeDoc/quickbasket/internal/schedule"
)

// Lister fetches the authoritative product list, bypassing any cache.
type Lister interface {
	ListProductsFresh(ctx context.Context) ([]catalog.Product, error)
}

// Gate answers whether the engine is online.
type Gate interface {
	IsOnline(ctx context.Context) bool
}

type Broadcaster interface {
	Broadcast(msgType string, data any)
}

type Options struct {
	Interval     time.Duration
	PastDueDelay time.Duration
	MaxJitter    time.Duration
}

// Outcome describes one SyncAll call.
type Outcome struct {
	// Coalesced is set when the call joined a pass already in flight.
	Coalesced bool `json:"coalesced"`
	// Skipped is set when the engine was offline.
	Skipped bool     `json:"skipped"`
	Items   int      `json:"items"`
	Removed []string `json:"removed,omitempty"`
	Alarms  int      `json:"alarms"`
	// LocalWins counts snapshot items skipped because they were written
	// locally while the pass was in flight.
	LocalWins int `json:"localWins,omitempty"`
}

// Changed reports whether the pass did any work worth following up on.
func (o Outcome) Changed() bool {
	return o.Items > 0 || len(o.Removed) > 0
}

type Reconciler struct {
	lister Lister
	gate   Gate
	items  *projection.Projection
	sched  *schedule.Scheduler
	events Broadcaster
	opts   Options
	logger logger.Logger
	now    func() time.Time
	jitter func(time.Duration) time.Duration

	mu      sync.Mutex
	running bool
	pending bool

	trigger chan struct{}
	stopCh  chan struct{}
}

func New(lister Lister, gate Gate, items *projection.Projection, sched *schedule.Scheduler, bus Broadcaster, opts Options, log logger.Logger) *Reconciler {
	if opts.PastDueDelay <= 0 {
		opts.PastDueDelay = time.Minute
	}
	return &Reconciler{
		lister:  lister,
		gate:    gate,
		items:   items,
		sched:   sched,
		events:  bus,
		opts:    opts,
		logger:  log,
		now:     time.Now,
		jitter:  schedule.Jitter,
		trigger: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// SyncAll runs a sync pass. A call made while a pass is in flight returns
// immediately with Coalesced set; however many such calls arrive, exactly one
// extra pass runs once the current one finishes.
func (r *Reconciler) SyncAll(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	if r.running {
		r.pending = true
		r.mu.Unlock()
		metrics.SyncPassesTotal.WithLabelValues("coalesced").Inc()
		return Outcome{Coalesced: true}, nil
	}
	r.running = true
	r.mu.Unlock()

	for {
		out, err := r.pass(ctx)

		r.mu.Lock()
		if !r.pending {
			r.running = false
			r.mu.Unlock()
			return out, err
		}
		r.pending = false
		r.mu.Unlock()
		r.logger.Debug("running coalesced sync pass")
	}
}

func (r *Reconciler) pass(ctx context.Context) (Outcome, error) {
	if !r.gate.IsOnline(ctx) {
		r.logger.Info("sync skipped while offline")
		metrics.SyncPassesTotal.WithLabelValues("skipped_offline").Inc()
		return Outcome{Skipped: true}, nil
	}

	start := r.now()
	since := r.items.Revision()
	products, err := r.lister.ListProductsFresh(ctx)
	if err != nil {
		metrics.SyncPassesTotal.WithLabelValues("failed").Inc()
		return Outcome{}, fmt.Errorf("list products: %w", err)
	}

	items := make([]*domain.TrackedItem, 0, len(products))
	remoteIDs := make(map[string]string, len(products))
	for i := range products {
		item, err := products[i].ToItem()
		if err != nil {
			r.logger.Warn("skipping product with unusable url",
				logger.String("remote_id", string(products[i].ID)),
				logger.Error(err))
			continue
		}
		if item.Image == "" {
			item.Image = r.items.Image(ctx, item.ID)
		} else {
			r.items.RememberImage(ctx, item.ID, item.Image)
		}
		items = append(items, item)
		remoteIDs[item.ID] = string(products[i].ID)
	}

	removed, err := r.items.Replace(ctx, items, remoteIDs, since)
	if err != nil {
		// memory already holds the remote state; redis catches up next pass
		r.logger.Warn("failed to persist synced items", logger.Error(err))
	}

	// re-read on every check: local writes keep landing while we await
	localWrite := func(id string) bool { return r.items.TouchedSince(id, since) }
	if _, err := r.sched.ClearItems(ctx, localWrite); err != nil {
		metrics.SyncPassesTotal.WithLabelValues("failed").Inc()
		return Outcome{}, fmt.Errorf("clear alarms: %w", err)
	}

	now := r.now()
	alarms, localWins := 0, 0
	for _, item := range items {
		if localWrite(item.ID) {
			localWins++
			continue
		}
		if err := r.sched.ScheduleAt(ctx, item.ID, r.fireTime(item.NextRunAt, now)); err != nil {
			r.logger.Warn("failed to recreate alarm", logger.String("item_id", item.ID), logger.Error(err))
			continue
		}
		alarms++
	}

	out := Outcome{Items: len(items), Removed: removed, Alarms: alarms, LocalWins: localWins}
	metrics.ScheduledAlarms.Set(float64(alarms))
	metrics.SyncPassesTotal.WithLabelValues("ok").Inc()
	if r.events != nil {
		r.events.Broadcast(events.TypeSyncCompleted, out)
	}
	r.logger.Info("sync completed",
		logger.Int("items", out.Items),
		logger.Int("removed", len(removed)),
		logger.Int("alarms", alarms),
		logger.Duration("elapsed", r.now().Sub(start)))
	return out, nil
}

// fireTime jitters a future run time and pulls past-due or unknown ones to
// PastDueDelay from now.
func (r *Reconciler) fireTime(next *time.Time, now time.Time) time.Time {
	if next == nil || !next.After(now) {
		return now.Add(r.opts.PastDueDelay + r.jitter(r.opts.MaxJitter))
	}
	return next.Add(r.jitter(r.opts.MaxJitter))
}

// Trigger asks the background loop for a pass. It returns false when one is
// already pending.
func (r *Reconciler) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Start runs periodic passes. The first pass is driven by the first
// connectivity transition, not by Start.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.opts.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %v", r.opts.Interval)
	}
	ticker := time.NewTicker(r.opts.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runLogged(ctx)
			case <-r.trigger:
				r.logger.Info("manual sync triggered")
				r.runLogged(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop stops the periodic loop
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) runLogged(ctx context.Context) {
	if _, err := r.SyncAll(ctx); err != nil {
		r.logger.Error("sync failed", logger.Error(err))
	}
}
