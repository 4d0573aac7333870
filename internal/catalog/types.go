package catalog

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/MrSnakeDoc/quickbasket/internal/domain"
)

// ─────────────────────────────
// Scalar helpers
// ─────────────────────────────

// RemoteID is a catalog identifier. The service emits integers, older
// deployments emitted strings; both decode to the same value.
type RemoteID string

func (r *RemoteID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = RemoteID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("remote id: %w", err)
	}
	*r = RemoteID(string(b))
	return nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseRemoteTime parses catalog timestamps. Values without a zone designator
// are read as UTC rather than local time.
func ParseRemoteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformed, s)
}

// RemoteTime is a nullable catalog timestamp, always normalized to UTC.
type RemoteTime struct {
	time.Time
	Valid bool
}

func (t *RemoteTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*t = RemoteTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: timestamp is not a string", ErrMalformed)
	}
	parsed, err := ParseRemoteTime(s)
	if err != nil {
		return err
	}
	*t = RemoteTime{Time: parsed, Valid: true}
	return nil
}

func (t RemoteTime) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}

// Ptr returns nil for a missing timestamp.
func (t RemoteTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// ─────────────────────────────
// Requests
// ─────────────────────────────

type TrackRequest struct {
	URL          string              `json:"url"`
	Marketplace  domain.Marketplace  `json:"marketplace"`
	Title        string              `json:"title,omitempty"`
	Price        *float64            `json:"price"`
	Currency     string              `json:"currency,omitempty"`
	ImageURL     string              `json:"image_url,omitempty"`
	SKU          string              `json:"sku,omitempty"`
	Availability domain.Availability `json:"availability"`
}

type RecordScrapeRequest struct {
	Price        *float64            `json:"price"`
	Currency     string              `json:"currency,omitempty"`
	Availability domain.Availability `json:"availability"`
}

type updateIntervalRequest struct {
	UpdateInterval int `json:"update_interval"`
}

type ackRequest struct {
	Source string `json:"source"`
}

// ─────────────────────────────
// Responses
// ─────────────────────────────

type TrackResponse struct {
	TrackedProductID     RemoteID            `json:"tracked_product_id"`
	SnapshotID           RemoteID            `json:"snapshot_id"`
	NextRunAt            RemoteTime          `json:"next_run_at"`
	Availability         domain.Availability `json:"availability"`
	AvailabilityChanged  bool                `json:"availability_changed"`
	PreviousAvailability domain.Availability `json:"previous_availability"`
	Price                *float64            `json:"price"`
	AI                   json.RawMessage     `json:"ai,omitempty"`
}

func (r *TrackResponse) validate() error {
	if r.TrackedProductID == "" {
		return fmt.Errorf("%w: track response without tracked_product_id", ErrMalformed)
	}
	r.Availability = r.Availability.Normalize()
	if r.PreviousAvailability != "" {
		r.PreviousAvailability = r.PreviousAvailability.Normalize()
	}
	return nil
}

type PricePoint struct {
	Price     *float64   `json:"price"`
	FetchedAt RemoteTime `json:"fetched_at"`
}

type Product struct {
	ID               RemoteID            `json:"id"`
	Title            string              `json:"title"`
	Marketplace      domain.Marketplace  `json:"marketplace"`
	Currency         string              `json:"currency"`
	LastPrice        *float64            `json:"last_price"`
	MinPrice         *float64            `json:"min_price"`
	MaxPrice         *float64            `json:"max_price"`
	URL              string              `json:"url"`
	ImageURL         string              `json:"image_url"`
	Snapshots        int                 `json:"snapshots"`
	TrackedDays      int                 `json:"tracked_days"`
	LastUpdated      RemoteTime          `json:"last_updated"`
	NextRunAt        RemoteTime          `json:"next_run_at"`
	Change24h        *float64            `json:"change_24h"`
	UpdateInterval   int                 `json:"update_interval"`
	LastAvailability domain.Availability `json:"last_availability"`
	History          []PricePoint        `json:"history,omitempty"`
}

func (p *Product) validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: product without id", ErrMalformed)
	}
	if p.URL == "" {
		return fmt.Errorf("%w: product %s without url", ErrMalformed, p.ID)
	}
	return nil
}

// ToItem converts a catalog product into the local projection.
func (p *Product) ToItem() (*domain.TrackedItem, error) {
	url, err := domain.NormalizeURL(p.URL)
	if err != nil {
		return nil, err
	}
	id, err := domain.GenerateID(url)
	if err != nil {
		return nil, err
	}

	mp := p.Marketplace
	if mp == "" {
		mp = domain.DetectMarketplace(url)
	}
	name := p.Title
	if name == "" {
		name = domain.UnknownProductName
	}
	currency := p.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	interval := p.UpdateInterval
	if !domain.ValidInterval(interval) {
		interval = 24
	}
	updated := p.LastUpdated.Time
	if !p.LastUpdated.Valid {
		updated = time.Now().UTC()
	}

	return &domain.TrackedItem{
		ID:                  id,
		URL:                 url,
		Marketplace:         mp,
		Name:                name,
		Currency:            currency,
		CurrentPrice:        p.LastPrice,
		Availability:        p.LastAvailability.Normalize(),
		Image:               p.ImageURL,
		UpdateIntervalHours: interval,
		NextRunAt:           p.NextRunAt.Ptr(),
		LastUpdatedAt:       updated,
	}, nil
}

type IntervalResponse struct {
	UpdateInterval int        `json:"update_interval"`
	NextRunAt      RemoteTime `json:"next_run_at"`
}

type RecordScrapeResponse struct {
	NextRunAt            RemoteTime          `json:"next_run_at"`
	AvailabilityChanged  bool                `json:"availability_changed"`
	Availability         domain.Availability `json:"availability"`
	PreviousAvailability domain.Availability `json:"previous_availability"`
	// PreviousPrice is the last price the service had before this scrape.
	// Older deployments omit it.
	PreviousPrice *float64 `json:"previous_price,omitempty"`
}

func (r *RecordScrapeResponse) validate() error {
	r.Availability = r.Availability.Normalize()
	if r.PreviousAvailability != "" {
		r.PreviousAvailability = r.PreviousAvailability.Normalize()
	}
	return nil
}

type Alert struct {
	ID          RemoteID   `json:"id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Marketplace string     `json:"marketplace"`
	URL         string     `json:"url"`
	DropPercent *float64   `json:"drop_percent"`
	Message     string     `json:"message"`
	CreatedAt   RemoteTime `json:"created_at"`
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

// detailFrom extracts a readable message from FastAPI-style error bodies,
// where detail is either a string or a list of validation issues.
func detailFrom(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			return s
		}
		var issues []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(eb.Detail, &issues); err == nil && len(issues) > 0 {
			msgs := make([]string, 0, len(issues))
			for _, i := range issues {
				msgs = append(msgs, i.Msg)
			}
			return strings.Join(msgs, "; ")
		}
	}
	return eb.Error
}
