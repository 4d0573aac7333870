package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/MrSnakeDoc/quickbasket/internal/events"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, n Notification) error {
	s.logger.Info("notification",
		logger.String("id", n.ID),
		logger.String("kind", string(n.Kind)),
		logger.String("title", n.Title),
		logger.String("message", n.Message))
	return nil
}

// Broadcaster is the subset of *events.Hub the hub sink needs.
type Broadcaster interface {
	Broadcast(msgType string, data any)
}

// HubSink pushes notifications to connected extension pages.
type HubSink struct {
	bus Broadcaster
}

func NewHubSink(bus Broadcaster) *HubSink {
	return &HubSink{bus: bus}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Deliver(_ context.Context, n Notification) error {
	s.bus.Broadcast(events.TypeNotification, n)
	return nil
}

func (s *HubSink) Clear(_ context.Context, id string) {
	s.bus.Broadcast(events.TypeNotificationCleared, map[string]string{"id": id})
}

// TelegramSink forwards notifications to a Telegram chat.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink connects to the Bot API at endpoint (tgbotapi.APIEndpoint
// when empty).
func NewTelegramSink(token string, chatID int64, endpoint string) (*TelegramSink, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: 10 * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(_ context.Context, n Notification) error {
	msg := tgbotapi.NewMessage(s.chatID, n.Title+"\n"+n.Message)
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
