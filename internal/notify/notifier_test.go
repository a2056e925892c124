package notify

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/donut-exchange/internal/domain"
)

func newTestNotifier() *Notifier {
	return New(slog.New(slog.DiscardHandler))
}

func TestPublish_RegistrationOrder(t *testing.T) {
	n := newTestNotifier()

	var order []string
	n.Subscribe(SubscriberFunc(func(domain.Event) { order = append(order, "first") }))
	n.Subscribe(SubscriberFunc(func(domain.Event) { order = append(order, "second") }))
	n.Subscribe(SubscriberFunc(func(domain.Event) { order = append(order, "third") }))

	n.Publish(domain.Event{Kind: domain.EventOrderCreated})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestUnsubscribe(t *testing.T) {
	n := newTestNotifier()

	var got []int
	id1 := n.Subscribe(SubscriberFunc(func(domain.Event) { got = append(got, 1) }))
	n.Subscribe(SubscriberFunc(func(domain.Event) { got = append(got, 2) }))

	n.Unsubscribe(id1)
	n.Publish(domain.Event{Kind: domain.EventOrderUpdated})

	assert.Equal(t, []int{2}, got)

	// Unknown ids are a no-op.
	n.Unsubscribe(999)
	n.Publish(domain.Event{Kind: domain.EventOrderUpdated})
	assert.Equal(t, []int{2, 2}, got)
}

func TestPublish_PanicIsolation(t *testing.T) {
	n := newTestNotifier()

	var delivered int
	n.Subscribe(SubscriberFunc(func(domain.Event) { panic("bad subscriber") }))
	n.Subscribe(SubscriberFunc(func(domain.Event) { delivered++ }))

	require.NotPanics(t, func() {
		n.Publish(domain.Event{Kind: domain.EventTradeExecuted})
	})
	assert.Equal(t, 1, delivered)
}

func TestEventHelpers(t *testing.T) {
	n := newTestNotifier()

	var events []domain.Event
	n.Subscribe(SubscriberFunc(func(e domain.Event) { events = append(events, e) }))

	order := &domain.Order{OrderID: "o-1"}
	trade := &domain.Trade{TransactionID: "t-1"}

	n.OrderCreated(order)
	n.OrderUpdated(order)
	n.TradeExecuted(trade)
	n.Error("sweeper", "boom")

	require.Len(t, events, 4)
	assert.Equal(t, domain.EventOrderCreated, events[0].Kind)
	assert.Equal(t, order, events[0].Order)
	assert.Equal(t, domain.EventOrderUpdated, events[1].Kind)
	assert.Equal(t, domain.EventTradeExecuted, events[2].Kind)
	assert.Equal(t, trade, events[2].Trade)
	assert.Equal(t, domain.EventError, events[3].Kind)
	require.NotNil(t, events[3].Err)
	assert.Equal(t, "sweeper", events[3].Err.Source)
	assert.Equal(t, "boom", events[3].Err.Message)
}

func TestSubscribeDuringPublishUnaffected(t *testing.T) {
	n := newTestNotifier()

	var lateDelivered bool
	n.Subscribe(SubscriberFunc(func(domain.Event) {
		// A subscriber added mid-delivery only sees later events.
		n.Subscribe(SubscriberFunc(func(domain.Event) { lateDelivered = true }))
	}))

	n.Publish(domain.Event{Kind: domain.EventOrderCreated})
	assert.False(t, lateDelivered)

	n.Publish(domain.Event{Kind: domain.EventOrderCreated})
	assert.True(t, lateDelivered)
}
