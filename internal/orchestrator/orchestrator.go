// Package orchestrator runs scrape jobs: it opens a browsing context per
// item, extracts a snapshot, records it remotely and reschedules the item,
// with never more than MaxConcurrent contexts open at once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/MrSnakeDoc/quickbasket/internal/browser"
	"github.com/MrSnakeDoc/quickbasket/internal/catalog"
	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/events"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/metrics"
	"github.com/MrSnakeDoc/quickbasket/internal/notify"
	"github.com/MrSnakeDoc/quickbasket/internal/offline"
	"github.com/MrSnakeDoc/quickbasket/internal/projection"
	"github.com/MrSnakeDoc/quickbasket/internal/schedule"
)

// Recorder reports scrape results to the catalog service.
type Recorder interface {
	RecordScrape(ctx context.Context, id catalog.RemoteID, req catalog.RecordScrapeRequest) (*catalog.RecordScrapeResponse, error)
}

// Gate is the connectivity check each job starts with.
type Gate interface {
	ForceCheck(ctx context.Context) bool
	Invalidate()
}

// Broadcaster announces projection updates. *events.Hub implements it.
type Broadcaster interface {
	Broadcast(msgType string, data any)
}

type Options struct {
	MaxConcurrent int
	JobTimeout    time.Duration
	SettleDelay   time.Duration
	TeardownDelay time.Duration
	FailureRetry  time.Duration
	PingAttempts  int
	PingDelay     time.Duration
	// PastDueDelay and MaxJitter place a server next run that is already past.
	PastDueDelay time.Duration
	MaxJitter    time.Duration
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Queued int `json:"queued"`
	// Gating counts jobs checking connectivity. They hold no slot.
	Gating     int      `json:"gating"`
	Running    int      `json:"running"`
	Max        int      `json:"max"`
	RunningIDs []string `json:"runningIds"`
}

type Orchestrator struct {
	opts     Options
	opener   browser.Opener
	recorder Recorder
	gate     Gate
	offline  *offline.Queue
	items    *projection.Projection
	sched    *schedule.Scheduler
	notifier *notify.Notifier
	events   Broadcaster
	logger   logger.Logger
	now      func() time.Time
	jitter   func(time.Duration) time.Duration

	mu      sync.Mutex
	queue   []queuedJob
	seq     uint64
	queued  map[string]struct{}
	gating  map[string]struct{}
	running map[string]struct{}
	active  int
	closed  bool
	jobs    sync.WaitGroup
	base    context.Context
}

// queuedJob keeps its enqueue order so a job sent back after its gate
// returns to the same place.
type queuedJob struct {
	id  string
	seq uint64
}

type Deps struct {
	Opener     browser.Opener
	Recorder   Recorder
	Gate       Gate
	Offline    *offline.Queue
	Projection *projection.Projection
	Scheduler  *schedule.Scheduler
	Notifier   *notify.Notifier
	Events     Broadcaster
	Logger     logger.Logger
}

func New(opts Options, d Deps) *Orchestrator {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.PingAttempts < 1 {
		opts.PingAttempts = 1
	}
	if opts.PastDueDelay <= 0 {
		opts.PastDueDelay = time.Minute
	}
	return &Orchestrator{
		opts:     opts,
		opener:   d.Opener,
		recorder: d.Recorder,
		gate:     d.Gate,
		offline:  d.Offline,
		items:    d.Projection,
		sched:    d.Scheduler,
		notifier: d.Notifier,
		events:   d.Events,
		logger:   d.Logger,
		now:      time.Now,
		jitter:   schedule.Jitter,
		queued:   make(map[string]struct{}),
		gating:   make(map[string]struct{}),
		running:  make(map[string]struct{}),
		base:     context.Background(),
	}
}

// Enqueue adds id to the back of the queue and starts work if a slot is
// free. It is a no-op, returning false, when id is already queued, gating or
// running, or after Shutdown.
func (o *Orchestrator) Enqueue(id string) bool {
	o.mu.Lock()
	if o.closed || o.holds(id) {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, queuedJob{id: id, seq: o.seq})
	o.seq++
	o.queued[id] = struct{}{}
	metrics.ScrapeJobsQueued.Set(float64(len(o.queue)))
	o.mu.Unlock()

	o.ProcessQueue()
	return true
}

// ProcessQueue sends queued jobs, oldest first, through the connectivity
// gate while slots are free. A job takes its slot only once the gate passes,
// so offline aborts never count against MaxConcurrent.
func (o *Orchestrator) ProcessQueue() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for !o.closed && len(o.queue) > 0 &&
		o.active < o.opts.MaxConcurrent && len(o.gating) < o.opts.MaxConcurrent {
		job := o.queue[0]
		o.queue = o.queue[1:]
		delete(o.queued, job.id)
		o.gating[job.id] = struct{}{}
		o.jobs.Add(1)
		go o.admit(job)
	}
	metrics.ScrapeJobsQueued.Set(float64(len(o.queue)))
	metrics.ScrapeJobsActive.Set(float64(o.active))
}

// Stats returns queue and slot usage
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Stats{Queued: len(o.queue), Gating: len(o.gating), Running: o.active, Max: o.opts.MaxConcurrent, RunningIDs: ids}
}

// Busy reports whether id is queued, gating or running.
func (o *Orchestrator) Busy(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.holds(id)
}

func (o *Orchestrator) holds(id string) bool {
	_, queued := o.queued[id]
	_, gating := o.gating[id]
	_, running := o.running[id]
	return queued || gating || running
}

// requeue puts a gated job back in enqueue order.
func (o *Orchestrator) requeue(job queuedJob) {
	i := sort.Search(len(o.queue), func(i int) bool { return o.queue[i].seq > job.seq })
	o.queue = append(o.queue, queuedJob{})
	copy(o.queue[i+1:], o.queue[i:])
	o.queue[i] = job
	o.queued[job.id] = struct{}{}
}

// Shutdown stops accepting work, drops the queue and waits for running jobs,
// which always tear their contexts down.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	dropped := len(o.queue)
	o.queue = nil
	o.queued = make(map[string]struct{})
	o.mu.Unlock()

	if dropped > 0 {
		o.logger.Info("dropped queued scrape jobs on shutdown", logger.Int("count", dropped))
	}

	done := make(chan struct{})
	go func() {
		o.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scrape jobs: %w", ctx.Err())
	}
}

// release frees the slot of id and pulls the next job.
func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	o.active--
	delete(o.running, id)
	o.mu.Unlock()

	o.jobs.Done()
	o.ProcessQueue()
}

// ─────────────────────────────────────────────────────────────────
// Job
// ─────────────────────────────────────────────────────────────────

// admit runs the forced connectivity check, then takes a slot. A job that
// passed its gate after Shutdown still runs; only the queue is dropped.
func (o *Orchestrator) admit(job queuedJob) {
	ctx := o.base
	id := job.id

	mp := string(domain.MarketplaceUnknown)
	item, tracked := o.items.Get(id)
	if tracked {
		mp = string(item.Marketplace)
	}

	online := tracked && o.gate.ForceCheck(ctx)

	o.mu.Lock()
	delete(o.gating, id)
	switch {
	case !tracked || !online:
		o.mu.Unlock()
		o.jobs.Done()
		if !tracked {
			o.logger.Debug("skipping scrape of untracked item", logger.String("item_id", id))
			metrics.ScrapeJobsTotal.WithLabelValues(mp, "missing").Inc()
		} else {
			if err := o.offline.Offer(ctx, id); err != nil {
				o.logger.Warn("failed to queue item offline", logger.String("item_id", id), logger.Error(err))
			}
			metrics.ScrapeJobsTotal.WithLabelValues(mp, "offline").Inc()
		}
		o.ProcessQueue()
		return
	case o.active >= o.opts.MaxConcurrent:
		if !o.closed {
			o.requeue(job)
		}
		o.mu.Unlock()
		o.jobs.Done()
		return
	}
	o.active++
	o.running[id] = struct{}{}
	metrics.ScrapeJobsActive.Set(float64(o.active))
	o.mu.Unlock()

	o.run(id)
}

func (o *Orchestrator) run(id string) {
	defer o.release(id)

	ctx := o.base
	start := o.now()

	item, ok := o.items.Get(id)
	if !ok {
		o.logger.Debug("item removed before scrape started", logger.String("item_id", id))
		metrics.ScrapeJobsTotal.WithLabelValues(string(domain.MarketplaceUnknown), "missing").Inc()
		return
	}
	mp := string(item.Marketplace)

	jobCtx, cancel := context.WithTimeout(ctx, o.opts.JobTimeout)
	defer cancel()

	bc, err := o.opener.Open(jobCtx, item.URL, item.Marketplace)
	if err != nil {
		o.fail(ctx, item, fmt.Errorf("open: %w", err))
		return
	}
	metrics.BrowsingContextsOpen.Inc()
	// Runs before release: the slot is only freed once the context is gone.
	defer o.teardown(id, bc)
	defer func() {
		metrics.ScrapeJobDuration.WithLabelValues(mp).Observe(o.now().Sub(start).Seconds())
	}()

	snap, err := o.scrape(jobCtx, bc)
	if err != nil {
		o.fail(ctx, item, err)
		return
	}
	if err := o.complete(ctx, id, snap); err != nil {
		o.fail(ctx, item, err)
		return
	}
	metrics.ScrapeJobsTotal.WithLabelValues(mp, "success").Inc()
}

func (o *Orchestrator) scrape(ctx context.Context, bc browser.Context) (*domain.Snapshot, error) {
	if err := bc.WaitLoaded(ctx); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	if err := sleep(ctx, o.opts.SettleDelay); err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}

	if err := bc.Ping(ctx); err != nil {
		if err := bc.Inject(ctx); err != nil {
			return nil, fmt.Errorf("inject: %w", err)
		}
		err := retry.Do(
			func() error { return bc.Ping(ctx) },
			retry.Attempts(uint(o.opts.PingAttempts)),
			retry.Delay(o.opts.PingDelay),
			retry.MaxDelay(4*o.opts.PingDelay),
			retry.Context(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("extractor not responding: %w", err)
		}
	}

	type result struct {
		snap *domain.Snapshot
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		snap, err := bc.Extract(ctx)
		ch <- result{snap, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("extract: %w", r.err)
		}
		return r.snap, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("extract: %w", ctx.Err())
	}
}

// complete records the snapshot and applies it. The item is re-read because
// it may have changed or been removed while the page was loading.
func (o *Orchestrator) complete(ctx context.Context, id string, snap *domain.Snapshot) error {
	item, ok := o.items.Get(id)
	if !ok {
		o.logger.Info("item removed during scrape, discarding result", logger.String("item_id", id))
		return nil
	}

	if snap.Image == "" {
		snap.Image = o.items.Image(ctx, id)
	} else {
		o.items.RememberImage(ctx, id, snap.Image)
	}

	now := o.now()
	next := now.Add(time.Duration(item.UpdateIntervalHours) * time.Hour)
	previous := item.CurrentPrice
	wasAvailability := item.Availability
	availabilityChanged := wasAvailability != "" && wasAvailability != snap.Availability

	if remoteID, ok := o.items.RemoteID(id); ok {
		resp, err := o.recorder.RecordScrape(ctx, catalog.RemoteID(remoteID), catalog.RecordScrapeRequest{
			Price:        snap.Price,
			Currency:     snap.Currency,
			Availability: snap.Availability,
		})
		if err != nil {
			if catalog.IsTransient(err) {
				o.gate.Invalidate()
			}
			return fmt.Errorf("record scrape: %w", err)
		}
		if t := resp.NextRunAt.Ptr(); t != nil {
			next = *t
		}
		// a skewed server clock must not turn into a scrape loop
		if !next.After(now) {
			next = now.Add(o.opts.PastDueDelay + o.jitter(o.opts.MaxJitter))
		}
		if resp.PreviousPrice != nil {
			previous = resp.PreviousPrice
		}
		availabilityChanged = resp.AvailabilityChanged
	} else {
		o.logger.Warn("item has no remote id, keeping result local", logger.String("item_id", id))
	}

	updated, err := o.items.Update(ctx, id, func(it *domain.TrackedItem) {
		if snap.Price != nil {
			it.CurrentPrice = snap.Price
		}
		if snap.Currency != "" {
			it.Currency = snap.Currency
		}
		if snap.Name != "" && snap.Name != domain.UnknownProductName {
			it.Name = snap.Name
		}
		if snap.Image != "" {
			it.Image = snap.Image
		}
		it.Availability = snap.Availability
		it.LastUpdatedAt = now.UTC()
		n := next.UTC()
		it.NextRunAt = &n
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotTracked) {
			return nil
		}
		o.logger.Warn("failed to persist scrape result", logger.String("item_id", id), logger.Error(err))
	}

	if change, ok := domain.ComparePrice(previous, snap.Price); ok {
		if n, ok := notify.PriceChanged(updated, change, now); ok {
			o.notifier.Notify(ctx, n)
		}
	}
	if availabilityChanged {
		o.notifier.Notify(ctx, notify.AvailabilityChanged(updated, snap.Availability, now))
	}
	if o.events != nil {
		o.events.Broadcast(events.TypeProductUpdated, updated)
	}

	if err := o.sched.ScheduleAt(ctx, id, next); err != nil {
		o.logger.Warn("failed to reschedule item", logger.String("item_id", id), logger.Error(err))
	}
	o.logger.Info("scrape completed",
		logger.String("item_id", id),
		logger.Time("next_run_at", next.UTC()))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, item *domain.TrackedItem, err error) {
	metrics.ScrapeJobsTotal.WithLabelValues(string(item.Marketplace), "failed").Inc()
	o.logger.Warn("scrape failed, retrying later",
		logger.String("item_id", item.ID),
		logger.Duration("retry_in", o.opts.FailureRetry),
		logger.Error(err))

	if !o.items.Has(item.ID) {
		return
	}
	if err := o.sched.ScheduleIn(ctx, item.ID, o.opts.FailureRetry); err != nil {
		o.logger.Warn("failed to schedule retry", logger.String("item_id", item.ID), logger.Error(err))
	}
}

// teardown closes the browsing context after the teardown delay. It uses its
// own deadline since the job context may already have expired.
func (o *Orchestrator) teardown(id string, bc browser.Context) {
	time.Sleep(o.opts.TeardownDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bc.Close(ctx); err != nil {
		o.logger.Warn("failed to close browsing context", logger.String("item_id", id), logger.Error(err))
	}
	metrics.BrowsingContextsOpen.Dec()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
