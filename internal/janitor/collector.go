// Package janitor keeps the alarm set and the offline queue consistent with
// the tracked-item projection.
package janitor

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/offline"
	"github.com/MrSnakeDoc/quickbasket/internal/projection"
	"github.com/MrSnakeDoc/quickbasket/internal/schedule"
)

// Busy reports items that are queued or running in the scrape orchestrator.
type Busy func(id string) bool

// Report counts what one collection changed.
type Report struct {
	OrphanAlarms  int
	OrphanOffline int
	Rescheduled   int
}

func (r Report) total() int { return r.OrphanAlarms + r.OrphanOffline + r.Rescheduled }

// Collector removes alarms and offline entries for items that are no longer
// tracked, and gives back an alarm to tracked items that lost theirs.
type Collector struct {
	items     *projection.Projection
	sched     *schedule.Scheduler
	offline   *offline.Queue
	busy      Busy
	logger    logger.Logger
	interval  time.Duration
	rescueIn  time.Duration
	maxJitter time.Duration
	stopCh    chan struct{}
}

func New(
	items *projection.Projection,
	sched *schedule.Scheduler,
	queue *offline.Queue,
	busy Busy,
	log logger.Logger,
	interval, rescueIn, maxJitter time.Duration,
) *Collector {
	if busy == nil {
		busy = func(string) bool { return false }
	}
	return &Collector{
		items:     items,
		sched:     sched,
		offline:   queue,
		busy:      busy,
		logger:    log,
		interval:  interval,
		rescueIn:  rescueIn,
		maxJitter: maxJitter,
		stopCh:    make(chan struct{}),
	}
}

// Collect runs one pass. Store errors abort the step they occur in and are
// returned after the remaining steps ran.
func (c *Collector) Collect(ctx context.Context) (Report, error) {
	var rep Report

	entries, err := c.sched.Entries(ctx)
	if err != nil {
		return rep, err
	}
	scheduled := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		scheduled[e.ItemID] = struct{}{}
		if c.items.Has(e.ItemID) {
			continue
		}
		if err := c.sched.Unschedule(ctx, e.ItemID); err != nil {
			c.logger.Warn("failed to drop orphan alarm", logger.String("item_id", e.ItemID), logger.Error(err))
			continue
		}
		c.logger.Info("dropped orphan alarm", logger.String("item_id", e.ItemID))
		rep.OrphanAlarms++
	}

	queuedOffline := map[string]struct{}{}
	pruned, perr := c.offline.Prune(ctx, func(id string) bool {
		if c.items.Has(id) {
			queuedOffline[id] = struct{}{}
			return true
		}
		return false
	})
	rep.OrphanOffline = pruned
	if perr != nil {
		c.logger.Warn("failed to prune offline queue", logger.Error(perr))
	}

	for _, item := range c.items.Items() {
		if _, ok := scheduled[item.ID]; ok {
			continue
		}
		if _, ok := queuedOffline[item.ID]; ok || c.busy(item.ID) {
			continue
		}
		if err := c.sched.ScheduleIn(ctx, item.ID, c.rescueIn+schedule.Jitter(c.maxJitter)); err != nil {
			c.logger.Warn("failed to reschedule item", logger.String("item_id", item.ID), logger.Error(err))
			continue
		}
		c.logger.Info("rescheduled item without alarm", logger.String("item_id", item.ID))
		rep.Rescheduled++
	}

	if rep.total() > 0 {
		c.logger.Info("janitor pass completed",
			logger.Int("orphan_alarms", rep.OrphanAlarms),
			logger.Int("orphan_offline", rep.OrphanOffline),
			logger.Int("rescheduled", rep.Rescheduled))
	} else {
		c.logger.Debug("janitor found nothing to fix")
	}
	return rep, perr
}

// Start begins the periodic collection. The first pass waits one interval so
// startup sync and alarm catch-up settle first.
func (c *Collector) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := c.Collect(ctx); err != nil {
					c.logger.Error("janitor pass failed", logger.Error(err))
				}
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}
