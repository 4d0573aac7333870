package notify

import (
	"fmt"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/domain"
)

const nameLimit = 50

func shortName(name string) string {
	r := []rune(name)
	if len(r) > nameLimit {
		return string(r[:nameLimit])
	}
	if name == "" {
		return "Product"
	}
	return name
}

// Tracked announces a newly tracked (or re-tracked) item.
func Tracked(item *domain.TrackedItem, at time.Time) Notification {
	return Notification{
		ID:      IDFor(KindTracked, item.ID, at),
		Kind:    KindTracked,
		Title:   "Product Tracked",
		Message: "Now tracking: " + shortName(item.Name),
		ItemID:  item.ID,
	}
}

// PriceChanged describes a price move. ok is false for unchanged prices.
func PriceChanged(item *domain.TrackedItem, c domain.PriceChange, at time.Time) (Notification, bool) {
	var title string
	switch c.Direction {
	case domain.PriceDown:
		title = fmt.Sprintf("Price Drop: %d%% off", c.Percent)
	case domain.PriceUp:
		title = fmt.Sprintf("Price Up: +%d%%", c.Percent)
	default:
		return Notification{}, false
	}
	return Notification{
		ID:    IDFor(KindPrice, item.ID, at),
		Kind:  KindPrice,
		Title: title,
		Message: fmt.Sprintf("%s: %.2f %s -> %.2f %s",
			shortName(item.Name), c.Old, item.Currency, c.New, item.Currency),
		ItemID: item.ID,
	}, true
}

// AvailabilityChanged describes a stock change.
func AvailabilityChanged(item *domain.TrackedItem, now domain.Availability, at time.Time) Notification {
	title := "Back in Stock"
	if now == domain.OutOfStock {
		title = "Out of Stock"
	}
	return Notification{
		ID:      IDFor(KindAvailability, item.ID, at),
		Kind:    KindAvailability,
		Title:   title,
		Message: shortName(item.Name),
		ItemID:  item.ID,
	}
}

// Failed reports a user-initiated operation that could not complete.
func Failed(title, message string) Notification {
	return Notification{Kind: KindError, Title: title, Message: message}
}
