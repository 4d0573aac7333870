// Package schedule keeps one durable alarm per tracked item and dispatches
// alarms as they come due.
package schedule

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/logger"
)

const handlePrefix = "scrape-product-"

// Handle is the stored name of an item's alarm. The naming scheme is private
// to this package; callers work with item ids.
type Handle string

// HandleFor returns the alarm handle of an item.
func HandleFor(itemID string) Handle {
	return Handle(handlePrefix + itemID)
}

// ItemID returns the item the handle belongs to. ok is false for alarms that
// are not per-item.
func (h Handle) ItemID() (string, bool) {
	id, ok := strings.CutPrefix(string(h), handlePrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Entry is a scheduled item run.
type Entry struct {
	ItemID string    `json:"itemId"`
	At     time.Time `json:"at"`
}

// AlarmHandler receives the id of every item whose alarm fired.
type AlarmHandler func(ctx context.Context, itemID string)

// Scheduler maps item ids to alarms in a Store and polls it for due alarms.
type Scheduler struct {
	store   Store
	logger  logger.Logger
	poll    time.Duration
	handler AlarmHandler
	now     func() time.Time
	stopCh  chan struct{}
}

func New(store Store, log logger.Logger, poll time.Duration) *Scheduler {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Scheduler{
		store:  store,
		logger: log,
		poll:   poll,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// SetHandler must be called before Start.
func (s *Scheduler) SetHandler(h AlarmHandler) {
	s.handler = h
}

// ScheduleAt sets the item's single alarm to at, replacing any previous one.
func (s *Scheduler) ScheduleAt(ctx context.Context, itemID string, at time.Time) error {
	if err := s.store.Put(ctx, string(HandleFor(itemID)), at.UTC()); err != nil {
		return fmt.Errorf("schedule %s: %w", itemID, err)
	}
	s.logger.Debug("alarm scheduled",
		logger.String("item_id", itemID),
		logger.Time("at", at.UTC()),
		logger.Duration("in", at.Sub(s.now())))
	return nil
}

// ScheduleIn sets the item's alarm to now+d.
func (s *Scheduler) ScheduleIn(ctx context.Context, itemID string, d time.Duration) error {
	return s.ScheduleAt(ctx, itemID, s.now().Add(d))
}

func (s *Scheduler) Unschedule(ctx context.Context, itemID string) error {
	if err := s.store.Remove(ctx, string(HandleFor(itemID))); err != nil {
		return fmt.Errorf("unschedule %s: %w", itemID, err)
	}
	return nil
}

// ClearItems removes every per-item alarm except those of items keep
// accepts, and returns how many were removed. A nil keep clears them all.
func (s *Scheduler) ClearItems(ctx context.Context, keep func(itemID string) bool) (int, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(all))
	for name := range all {
		id, ok := Handle(name).ItemID()
		if !ok || (keep != nil && keep(id)) {
			continue
		}
		names = append(names, name)
	}
	if err := s.store.Remove(ctx, names...); err != nil {
		return 0, err
	}
	return len(names), nil
}

// Entries lists the per-item alarms ordered by fire time.
func (s *Scheduler) Entries(ctx context.Context) ([]Entry, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for name, at := range all {
		if id, ok := Handle(name).ItemID(); ok {
			out = append(out, Entry{ItemID: id, At: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Next returns the item's fire time, if it has an alarm.
func (s *Scheduler) Next(ctx context.Context, itemID string) (time.Time, bool, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	at, ok := all[string(HandleFor(itemID))]
	return at, ok, nil
}

// Tick fires every due alarm once and returns how many fired.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.store.PopDue(ctx, s.now())
	if err != nil {
		s.logger.Warn("failed to read due alarms", logger.Error(err))
	}
	fired := 0
	for _, name := range due {
		id, ok := Handle(name).ItemID()
		if !ok {
			continue
		}
		fired++
		s.logger.Debug("alarm fired", logger.String("item_id", id))
		if s.handler != nil {
			s.handler(ctx, id)
		}
	}
	return fired
}

// Start begins polling for due alarms. Alarms that came due while the process
// was down fire on the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.handler == nil {
		return fmt.Errorf("scheduler started without an alarm handler")
	}
	s.Tick(ctx)

	ticker := time.NewTicker(s.poll)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop stops the poll loop
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Jitter returns a uniform random duration in [0, limit].
func Jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit + 1)
}
