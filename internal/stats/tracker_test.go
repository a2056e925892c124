package stats

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nathanyu/donut-exchange/internal/domain"
)

func newTestTracker() *Tracker {
	return New(nil, slog.New(slog.DiscardHandler))
}

func tradeEvent(buyer, seller string, quantity int64) domain.Event {
	return domain.Event{
		Kind: domain.EventTradeExecuted,
		Trade: &domain.Trade{
			InstrumentID:   "glazed",
			Quantity:       quantity,
			BuyerOutletID:  buyer,
			SellerOutletID: seller,
		},
	}
}

func TestNotify_CountsBothLegs(t *testing.T) {
	tracker := newTestTracker()

	tracker.Notify(tradeEvent("outlet-a", "outlet-b", 10))
	tracker.Notify(tradeEvent("outlet-a", "outlet-c", 5))

	assert.Equal(t, int64(15), tracker.Volume("outlet-a"))
	assert.Equal(t, int64(10), tracker.Volume("outlet-b"))
	assert.Equal(t, int64(5), tracker.Volume("outlet-c"))
	assert.Zero(t, tracker.Volume("outlet-unknown"))
}

func TestNotify_SelfTradeCountsTwice(t *testing.T) {
	tracker := newTestTracker()

	tracker.Notify(tradeEvent("outlet-a", "outlet-a", 7))

	assert.Equal(t, int64(14), tracker.Volume("outlet-a"))
}

func TestNotify_IgnoresOtherEvents(t *testing.T) {
	tracker := newTestTracker()

	tracker.Notify(domain.Event{Kind: domain.EventOrderCreated, Order: &domain.Order{OrderID: "o-1"}})
	tracker.Notify(domain.Event{Kind: domain.EventTradeExecuted}) // nil trade

	assert.Empty(t, tracker.Top(0))
}

func TestTop_OrderingAndTiebreak(t *testing.T) {
	tracker := newTestTracker()

	tracker.Notify(tradeEvent("outlet-b", "outlet-c", 10)) // b: 10, c: 10
	tracker.Notify(tradeEvent("outlet-a", "outlet-c", 20)) // a: 20, c: 30

	top := tracker.Top(0)
	assert.Equal(t, []Entry{
		{OutletID: "outlet-c", Volume: 30},
		{OutletID: "outlet-a", Volume: 20},
		{OutletID: "outlet-b", Volume: 10},
	}, top)

	assert.Equal(t, top[:2], tracker.Top(2))
}

func TestTop_LimitLargerThanEntries(t *testing.T) {
	tracker := newTestTracker()

	tracker.Notify(tradeEvent("outlet-a", "outlet-b", 3))

	assert.Len(t, tracker.Top(10), 2)
}
