// Package alerts polls the catalog service for server-side alerts, shows them
// as notifications and acknowledges them.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/catalog"
	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/notify"
)

type Source interface {
	PendingAlerts(ctx context.Context) ([]catalog.Alert, error)
	AckAlert(ctx context.Context, id catalog.RemoteID) error
}

type Gate interface {
	IsOnline(ctx context.Context) bool
}

type Poller struct {
	source   Source
	gate     Gate
	notifier *notify.Notifier
	logger   logger.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

func NewPoller(source Source, gate Gate, notifier *notify.Notifier, log logger.Logger, interval time.Duration) *Poller {
	return &Poller{
		source:   source,
		gate:     gate,
		notifier: notifier,
		logger:   log,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Poll delivers pending alerts and acknowledges each one. It returns how
// many were acknowledged. Polling is skipped while offline.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if !p.gate.IsOnline(ctx) {
		p.logger.Debug("alert poll skipped while offline")
		return 0, nil
	}

	pending, err := p.source.PendingAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("pending alerts: %w", err)
	}

	acked := 0
	for _, a := range pending {
		p.notifier.Notify(ctx, p.toNotification(a))
		if err := p.source.AckAlert(ctx, a.ID); err != nil {
			// unacked alerts come back on the next poll
			p.logger.Warn("failed to ack alert", logger.String("alert_id", string(a.ID)), logger.Error(err))
			continue
		}
		acked++
	}
	if acked > 0 {
		p.logger.Info("alerts delivered", logger.Int("count", acked))
	}
	return acked, nil
}

func (p *Poller) toNotification(a catalog.Alert) notify.Notification {
	at := p.now()
	if t := a.CreatedAt.Ptr(); t != nil {
		at = *t
	}

	title := a.Title
	if title == "" {
		title = "Price Alert"
	}
	message := a.Message
	if message == "" && a.DropPercent != nil {
		message = fmt.Sprintf("Price dropped by %.0f%%", *a.DropPercent)
	}

	var itemID string
	if a.URL != "" {
		if id, err := domain.GenerateID(a.URL); err == nil {
			itemID = id
		}
	}
	return notify.Notification{
		ID:      notify.IDFor(notify.KindAlert, "remote"+string(a.ID), at),
		Kind:    notify.KindAlert,
		Title:   title,
		Message: message,
		ItemID:  itemID,
	}
}

// Start polls on a fixed interval. The first poll happens one interval after
// Start so it does not race the initial connectivity check.
func (p *Poller) Start(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("alert poll interval must be positive, got %v", p.interval)
	}
	ticker := time.NewTicker(p.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := p.Poll(ctx); err != nil {
					p.logger.Warn("alert poll failed", logger.Error(err))
				}
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop stops polling
func (p *Poller) Stop() {
	close(p.stopCh)
}
