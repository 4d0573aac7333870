package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/catalog"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/notify"
)

type fakeSource struct {
	alerts  []catalog.Alert
	listErr error
	ackErr  map[catalog.RemoteID]error
	acked   []catalog.RemoteID
	calls   int
}

func (f *fakeSource) PendingAlerts(context.Context) ([]catalog.Alert, error) {
	f.calls++
	return f.alerts, f.listErr
}

func (f *fakeSource) AckAlert(_ context.Context, id catalog.RemoteID) error {
	if err := f.ackErr[id]; err != nil {
		return err
	}
	f.acked = append(f.acked, id)
	return nil
}

type fakeGate bool

func (g fakeGate) IsOnline(context.Context) bool { return bool(g) }

type memorySink struct{ got []notify.Notification }

func (m *memorySink) Name() string { return "memory" }
func (m *memorySink) Deliver(_ context.Context, n notify.Notification) error {
	m.got = append(m.got, n)
	return nil
}

func newPoller(src *fakeSource, online bool) (*Poller, *memorySink) {
	log := logger.New("error", false)
	sink := &memorySink{}
	return NewPoller(src, fakeGate(online), notify.New(5*time.Second, "", log, sink), log, time.Minute), sink
}

func TestPollNotifiesAndAcks(t *testing.T) {
	drop := 15.0
	src := &fakeSource{alerts: []catalog.Alert{
		{ID: "1", Title: "Widget is cheaper", Message: "Now 19.99", URL: "https://www.amazon.com/dp/B0ABCDEFGH"},
		{ID: "2", DropPercent: &drop},
	}}
	p, sink := newPoller(src, true)

	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(src.acked) != 2 {
		t.Errorf("acked = %d (%v), want 2", n, src.acked)
	}
	if len(sink.got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(sink.got))
	}
	if sink.got[0].ItemID != "amazon_B0ABCDEFGH" || sink.got[0].Kind != notify.KindAlert {
		t.Errorf("first = %+v", sink.got[0])
	}
	if sink.got[1].Title != "Price Alert" || sink.got[1].Message != "Price dropped by 15%" {
		t.Errorf("second = %+v", sink.got[1])
	}
}

func TestPollKeepsUnackedAlerts(t *testing.T) {
	src := &fakeSource{
		alerts: []catalog.Alert{{ID: "1", Title: "a"}, {ID: "2", Title: "b"}},
		ackErr: map[catalog.RemoteID]error{"1": errors.New("boom")},
	}
	p, _ := newPoller(src, true)

	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(src.acked) != 1 || src.acked[0] != "2" {
		t.Errorf("acked = %v", src.acked)
	}
}

func TestPollSkippedOffline(t *testing.T) {
	src := &fakeSource{alerts: []catalog.Alert{{ID: "1"}}}
	p, sink := newPoller(src, false)

	if n, err := p.Poll(context.Background()); n != 0 || err != nil {
		t.Errorf("Poll() = %d, %v", n, err)
	}
	if src.calls != 0 || len(sink.got) != 0 {
		t.Error("offline poll reached the catalog")
	}
}

func TestPollListError(t *testing.T) {
	src := &fakeSource{listErr: catalog.ErrUnavailable}
	p, _ := newPoller(src, true)
	if _, err := p.Poll(context.Background()); !errors.Is(err, catalog.ErrUnavailable) {
		t.Errorf("Poll() error = %v", err)
	}
}
