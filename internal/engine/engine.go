// Package engine connects alarms and connectivity transitions to the scrape
// orchestrator, the offline queue and the reconciler.
package engine

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/offline"
	"github.com/MrSnakeDoc/quickbasket/internal/projection"
	"github.com/MrSnakeDoc/quickbasket/internal/reconcile"
)

type Gate interface {
	IsOnline(ctx context.Context) bool
}

// Syncer is satisfied by *reconcile.Reconciler.
type Syncer interface {
	SyncAll(ctx context.Context) (reconcile.Outcome, error)
}

type Engine struct {
	gate    Gate
	offline *offline.Queue
	jobs    offline.Enqueuer
	syncer  Syncer
	items   *projection.Projection
	logger  logger.Logger
	now     func() time.Time
}

func New(gate Gate, queue *offline.Queue, jobs offline.Enqueuer, syncer Syncer, items *projection.Projection, log logger.Logger) *Engine {
	return &Engine{
		gate:    gate,
		offline: queue,
		jobs:    jobs,
		syncer:  syncer,
		items:   items,
		logger:  log,
		now:     time.Now,
	}
}

// OnAlarm handles a fired item alarm. While offline the item goes to the
// offline queue and nothing touches the network.
func (e *Engine) OnAlarm(ctx context.Context, itemID string) {
	if !e.items.Has(itemID) {
		e.logger.Debug("ignoring alarm of untracked item", logger.String("item_id", itemID))
		return
	}
	if !e.gate.IsOnline(ctx) {
		if err := e.offline.Offer(ctx, itemID); err != nil {
			e.logger.Warn("failed to queue item offline", logger.String("item_id", itemID), logger.Error(err))
		}
		return
	}
	e.jobs.Enqueue(itemID)
}

// OnConnectivity reacts to a connectivity transition. Coming back online
// drains the offline queue and runs a sync pass; when neither did anything,
// overdue items are picked up from the projection.
func (e *Engine) OnConnectivity(ctx context.Context, online bool) {
	if !online {
		e.logger.Info("offline, alarms will queue until connectivity returns")
		return
	}

	drained, err := e.offline.DrainInto(ctx, e.jobs)
	if err != nil {
		e.logger.Warn("offline queue drain interrupted", logger.Error(err))
	}
	if drained > 0 {
		e.logger.Info("offline queue drained", logger.Int("count", drained))
	}

	out, err := e.syncer.SyncAll(ctx)
	if err != nil {
		e.logger.Warn("sync after reconnect failed", logger.Error(err))
	}

	if drained == 0 && !out.Changed() {
		if n := e.CheckOverdue(ctx); n > 0 {
			e.logger.Info("enqueued overdue items", logger.Int("count", n))
		}
	}
}

// CheckOverdue enqueues every projected item whose next run has passed.
func (e *Engine) CheckOverdue(ctx context.Context) int {
	now := e.now()
	n := 0
	for _, item := range e.items.Items() {
		if item.Overdue(now) && e.jobs.Enqueue(item.ID) {
			n++
		}
	}
	return n
}
