// Package tracker implements the operations the popup and dashboard call:
// tracking a product, changing its interval, removing it and forcing scrapes.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/catalog"
	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/events"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/notify"
	"github.com/MrSnakeDoc/quickbasket/internal/offline"
	"github.com/MrSnakeDoc/quickbasket/internal/projection"
	"github.com/MrSnakeDoc/quickbasket/internal/schedule"
)

// Catalog is the part of the catalog client user operations need.
type Catalog interface {
	Track(ctx context.Context, req catalog.TrackRequest) (*catalog.TrackResponse, error)
	UpdateInterval(ctx context.Context, id catalog.RemoteID, hours int) (*catalog.IntervalResponse, error)
	DeleteProduct(ctx context.Context, id catalog.RemoteID) error
}

type Gate interface {
	IsOnline(ctx context.Context) bool
	Invalidate()
}

type Broadcaster interface {
	Broadcast(msgType string, data any)
}

type Options struct {
	MaxProducts  int
	MaxJitter    time.Duration
	PastDueDelay time.Duration
}

// Result is what every user operation returns. Err keeps the cause for
// callers that map it to a status code.
type Result struct {
	Success   bool   `json:"success"`
	ProductID string `json:"productId,omitempty"`
	Backend   any    `json:"backend,omitempty"`
	Queued    int    `json:"queued,omitempty"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

func failed(err error, message string) Result {
	return Result{Error: message, Err: err}
}

type Deps struct {
	Catalog    Catalog
	Gate       Gate
	Projection *projection.Projection
	Scheduler  *schedule.Scheduler
	Offline    *offline.Queue
	Jobs       offline.Enqueuer
	Notifier   *notify.Notifier
	Events     Broadcaster
	Logger     logger.Logger
}

type Tracker struct {
	catalog  Catalog
	gate     Gate
	items    *projection.Projection
	sched    *schedule.Scheduler
	offline  *offline.Queue
	jobs     offline.Enqueuer
	notifier *notify.Notifier
	events   Broadcaster
	opts     Options
	logger   logger.Logger
	now      func() time.Time
	jitter   func(time.Duration) time.Duration
}

func New(opts Options, d Deps) *Tracker {
	if opts.PastDueDelay <= 0 {
		opts.PastDueDelay = time.Minute
	}
	return &Tracker{
		catalog:  d.Catalog,
		gate:     d.Gate,
		items:    d.Projection,
		sched:    d.Scheduler,
		offline:  d.Offline,
		jobs:     d.Jobs,
		notifier: d.Notifier,
		events:   d.Events,
		opts:     opts,
		logger:   d.Logger,
		now:      time.Now,
		jitter:   schedule.Jitter,
	}
}

// remoteFailure turns a catalog error into a user-facing result. Transient
// failures also tell the connectivity monitor to re-probe.
func (t *Tracker) remoteFailure(op string, err error) Result {
	if catalog.IsValidation(err) {
		return failed(err, catalog.Detail(err))
	}
	if catalog.IsTransient(err) {
		t.gate.Invalidate()
	}
	t.logger.Warn("catalog call failed", logger.String("op", op), logger.Error(err))
	return failed(err, "Backend unavailable, please try again later")
}

// ─────────────────────────────────────────────────────────────────
// Track
// ─────────────────────────────────────────────────────────────────

// TrackProduct starts tracking rawURL, or refreshes an item already tracked
// under the same id. The product limit only applies to new ids and is checked
// before any network call.
func (t *Tracker) TrackProduct(ctx context.Context, rawURL string, snap domain.Snapshot) Result {
	normalized, err := domain.NormalizeURL(rawURL)
	if err != nil {
		return failed(err, "Invalid product URL")
	}
	id, err := domain.GenerateID(normalized)
	if err != nil {
		return failed(err, "Invalid product URL")
	}

	existing, tracked := t.items.Get(id)
	if !tracked && t.opts.MaxProducts > 0 && t.items.Count() >= t.opts.MaxProducts {
		return failed(domain.ErrLimitExceeded,
			fmt.Sprintf("Maximum of %d tracked products reached. Remove one to track another.", t.opts.MaxProducts))
	}
	if !t.gate.IsOnline(ctx) {
		return failed(domain.ErrOffline, "You are offline. Connect to the internet to track products.")
	}

	mp := domain.DetectMarketplace(normalized)
	name := strings.TrimSpace(snap.Name)
	if name == "" {
		name = domain.UnknownProductName
	}
	currency := snap.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	availability := snap.Availability.Normalize()

	resp, err := t.catalog.Track(ctx, catalog.TrackRequest{
		URL:          normalized,
		Marketplace:  mp,
		Title:        name,
		Price:        snap.Price,
		Currency:     currency,
		ImageURL:     snap.Image,
		SKU:          snap.SKU,
		Availability: availability,
	})
	if err != nil {
		return t.remoteFailure("track", err)
	}

	now := t.now()
	item := &domain.TrackedItem{
		ID:                  id,
		URL:                 normalized,
		Marketplace:         mp,
		Name:                name,
		Currency:            currency,
		CurrentPrice:        snap.Price,
		OriginalPrice:       snap.Price,
		Availability:        resp.Availability,
		Image:               snap.Image,
		UpdateIntervalHours: 24,
		LastUpdatedAt:       now.UTC(),
	}
	if resp.Price != nil {
		item.CurrentPrice = resp.Price
	}
	if tracked {
		item.UpdateIntervalHours = existing.UpdateIntervalHours
		if existing.OriginalPrice != nil {
			item.OriginalPrice = existing.OriginalPrice
		}
		if item.Image == "" {
			item.Image = existing.Image
		}
	}

	next := now.Add(time.Duration(item.UpdateIntervalHours) * time.Hour)
	if nt := resp.NextRunAt.Ptr(); nt != nil {
		next = *nt
	}
	n := next.UTC()
	item.NextRunAt = &n

	if err := t.items.Put(ctx, item, string(resp.TrackedProductID)); err != nil {
		// the remote already tracks it; the next sync pass repairs local state
		t.logger.Warn("failed to persist tracked item", logger.String("item_id", id), logger.Error(err))
	}
	t.items.RememberImage(ctx, id, item.Image)

	if err := t.sched.ScheduleAt(ctx, id, t.fireTime(next)); err != nil {
		t.logger.Warn("failed to schedule tracked item", logger.String("item_id", id), logger.Error(err))
	}

	t.notifier.Notify(ctx, notify.Tracked(item, now))
	if resp.AvailabilityChanged {
		t.notifier.Notify(ctx, notify.AvailabilityChanged(item, resp.Availability, now))
	}
	t.broadcast(item)

	t.logger.Info("product tracked",
		logger.String("item_id", id),
		logger.String("remote_id", string(resp.TrackedProductID)),
		logger.Bool("retrack", tracked))
	return Result{Success: true, ProductID: id, Backend: resp}
}

// fireTime jitters future run times and pulls past ones forward to
// PastDueDelay from now.
func (t *Tracker) fireTime(next time.Time) time.Time {
	now := t.now()
	if !next.After(now) {
		return now.Add(t.opts.PastDueDelay + t.jitter(t.opts.MaxJitter))
	}
	return next.Add(t.jitter(t.opts.MaxJitter))
}

// ─────────────────────────────────────────────────────────────────
// Interval / removal
// ─────────────────────────────────────────────────────────────────

// ChangeInterval sets an item's refresh cadence and reschedules it at the
// run time the catalog recomputed.
func (t *Tracker) ChangeInterval(ctx context.Context, id string, hours int) Result {
	if !domain.ValidInterval(hours) {
		return failed(domain.ErrInvalidInterval, fmt.Sprintf("Interval must be one of %v hours", domain.AllowedIntervals))
	}
	remoteID, ok := t.remoteID(id)
	if !ok {
		return failed(domain.ErrNotTracked, "Product is not tracked")
	}
	if !t.gate.IsOnline(ctx) {
		return failed(domain.ErrOffline, "You are offline. Interval changes need a connection.")
	}

	resp, err := t.catalog.UpdateInterval(ctx, catalog.RemoteID(remoteID), hours)
	if err != nil {
		return t.remoteFailure("update_interval", err)
	}

	next := t.now().Add(time.Duration(hours) * time.Hour)
	if nt := resp.NextRunAt.Ptr(); nt != nil {
		next = *nt
	}
	updated, err := t.items.Update(ctx, id, func(it *domain.TrackedItem) {
		it.UpdateIntervalHours = hours
		n := next.UTC()
		it.NextRunAt = &n
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotTracked) {
			return failed(err, "Product was removed")
		}
		t.logger.Warn("failed to persist interval", logger.String("item_id", id), logger.Error(err))
	}
	if err := t.sched.ScheduleAt(ctx, id, t.fireTime(next)); err != nil {
		t.logger.Warn("failed to reschedule item", logger.String("item_id", id), logger.Error(err))
	}
	t.broadcast(updated)

	t.logger.Info("interval changed", logger.String("item_id", id), logger.Int("hours", hours))
	return Result{Success: true, ProductID: id, Backend: resp}
}

// Remove stops tracking an item remotely, then drops every local trace of it.
func (t *Tracker) Remove(ctx context.Context, id string) Result {
	remoteID, ok := t.remoteID(id)
	if !ok {
		return failed(domain.ErrNotTracked, "Product is not tracked")
	}
	if !t.gate.IsOnline(ctx) {
		return failed(domain.ErrOffline, "You are offline. Removing a product needs a connection.")
	}

	err := t.catalog.DeleteProduct(ctx, catalog.RemoteID(remoteID))
	if err != nil && !catalog.IsNotFound(err) {
		return t.remoteFailure("delete", err)
	}

	if err := t.sched.Unschedule(ctx, id); err != nil {
		t.logger.Warn("failed to drop alarm", logger.String("item_id", id), logger.Error(err))
	}
	if err := t.offline.Discard(ctx, id); err != nil {
		t.logger.Warn("failed to drop offline entry", logger.String("item_id", id), logger.Error(err))
	}
	if err := t.items.Delete(ctx, id); err != nil {
		t.logger.Warn("failed to delete item", logger.String("item_id", id), logger.Error(err))
	}

	t.logger.Info("product removed", logger.String("item_id", id))
	return Result{Success: true, ProductID: id}
}

// remoteID resolves an item's catalog id. Items without sync metadata are
// treated as untracked.
func (t *Tracker) remoteID(id string) (string, bool) {
	if !t.items.Has(id) {
		return "", false
	}
	return t.items.RemoteID(id)
}

// ─────────────────────────────────────────────────────────────────
// Scheduling
// ─────────────────────────────────────────────────────────────────

// TriggerScrapeNow queues every tracked item for an immediate scrape.
func (t *Tracker) TriggerScrapeNow(ctx context.Context) Result {
	if !t.gate.IsOnline(ctx) {
		return failed(domain.ErrOffline, "You are offline")
	}
	queued := 0
	for _, item := range t.items.Items() {
		if t.jobs.Enqueue(item.ID) {
			queued++
		}
	}
	t.logger.Info("manual scrape triggered", logger.Int("queued", queued))
	return Result{Success: true, Queued: queued}
}

// UpdateProductAlarm moves an item's alarm to nextRunAt, as decided by the
// dashboard. Past times fire after PastDueDelay.
func (t *Tracker) UpdateProductAlarm(ctx context.Context, id string, nextRunAt time.Time) Result {
	if nextRunAt.IsZero() {
		return failed(fmt.Errorf("next run time required"), "nextRunAt is required")
	}
	if !t.items.Has(id) {
		return failed(domain.ErrNotTracked, "Product is not tracked")
	}

	at := nextRunAt
	if now := t.now(); !at.After(now) {
		at = now.Add(t.opts.PastDueDelay)
	}
	if err := t.sched.ScheduleAt(ctx, id, at); err != nil {
		return failed(err, "Failed to update alarm")
	}
	if _, err := t.items.Update(ctx, id, func(it *domain.TrackedItem) {
		n := nextRunAt.UTC()
		it.NextRunAt = &n
	}); err != nil {
		t.logger.Warn("failed to persist next run", logger.String("item_id", id), logger.Error(err))
	}
	return Result{Success: true, ProductID: id}
}

// Products returns the local projection, sorted by id.
func (t *Tracker) Products() []*domain.TrackedItem {
	return t.items.Items()
}

func (t *Tracker) broadcast(item *domain.TrackedItem) {
	if t.events == nil || item == nil {
		return
	}
	t.events.Broadcast(events.TypeProductUpdated, item)
}
