// Package notify emits user-visible notifications with short-window
// deduplication.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/metrics"
)

type Kind string

const (
	KindTracked      Kind = "tracked"
	KindPrice        Kind = "price"
	KindAvailability Kind = "availability"
	KindError        Kind = "error"
	KindAlert        Kind = "alert"
)

const maxActive = 50

// Notification is one user-visible message.
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ItemID    string    `json:"itemId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sink delivers a notification somewhere the user will see it.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// IDFor builds the id of an item notification. Its first three underscore
// segments (kind and the item id) form the dedupe key.
func IDFor(kind Kind, itemID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", kind, itemID, at.UnixMilli())
}

// DedupeKey returns the first three underscore-delimited segments of id.
func DedupeKey(id string) string {
	parts := strings.SplitN(id, "_", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, "_")
}

type Notifier struct {
	mu        sync.Mutex
	window    time.Duration
	recent    map[string]time.Time // dedupe key -> last shown
	active    []Notification
	sinks     []Sink
	dashboard string
	logger    logger.Logger
	now       func() time.Time
}

func New(window time.Duration, dashboardURL string, log logger.Logger, sinks ...Sink) *Notifier {
	return &Notifier{
		window:    window,
		recent:    make(map[string]time.Time),
		sinks:     sinks,
		dashboard: dashboardURL,
		logger:    log,
		now:       time.Now,
	}
}

// Notify shows n unless a notification with the same dedupe key was shown
// within the window. It reports whether n was shown.
func (nt *Notifier) Notify(ctx context.Context, n Notification) bool {
	now := nt.now()
	if n.ID == "" {
		n.ID = "notif_" + uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now.UTC()
	}
	key := DedupeKey(n.ID)

	nt.mu.Lock()
	nt.prune(now)
	if last, ok := nt.recent[key]; ok && now.Sub(last) < nt.window {
		nt.mu.Unlock()
		metrics.NotificationsTotal.WithLabelValues("suppressed").Inc()
		nt.logger.Debug("notification suppressed",
			logger.String("key", key),
			logger.String("title", n.Title))
		return false
	}
	nt.recent[key] = now
	nt.active = append(nt.active, n)
	if len(nt.active) > maxActive {
		nt.active = nt.active[len(nt.active)-maxActive:]
	}
	sinks := nt.sinks
	nt.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues("shown").Inc()
	for _, s := range sinks {
		if err := s.Deliver(ctx, n); err != nil {
			nt.logger.Warn("notification delivery failed",
				logger.String("sink", s.Name()),
				logger.String("id", n.ID),
				logger.Error(err))
		}
	}
	return true
}

func (nt *Notifier) prune(now time.Time) {
	for k, t := range nt.recent {
		if now.Sub(t) >= nt.window {
			delete(nt.recent, k)
		}
	}
}

// Active returns the notifications not yet clicked, oldest first.
func (nt *Notifier) Active() []Notification {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	return append([]Notification(nil), nt.active...)
}

// Click clears the notification and returns the dashboard URL to open.
func (nt *Notifier) Click(ctx context.Context, id string) (string, bool) {
	nt.mu.Lock()
	found := false
	for i, n := range nt.active {
		if n.ID == id {
			nt.active = append(nt.active[:i], nt.active[i+1:]...)
			found = true
			break
		}
	}
	sinks := nt.sinks
	nt.mu.Unlock()

	if !found {
		return nt.dashboard, false
	}
	for _, s := range sinks {
		if c, ok := s.(Clearer); ok {
			c.Clear(ctx, id)
		}
	}
	return nt.dashboard, true
}

// Clearer is implemented by sinks that can retract a shown notification.
type Clearer interface {
	Clear(ctx context.Context, id string)
}
