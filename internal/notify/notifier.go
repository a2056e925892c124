package notify

import (
	"log/slog"
	"sync"

	"github.com/nathanyu/donut-exchange/internal/domain"
)

// Subscriber receives every event published after it subscribes.
// Delivery is synchronous on the publisher's goroutine; the matching
// engine publishes outside its book locks, so a subscriber may call
// back into engine read APIs. Slow subscribers delay the publisher.
type Subscriber interface {
	Notify(event domain.Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(event domain.Event)

// Notify implements Subscriber.
func (f SubscriberFunc) Notify(event domain.Event) { f(event) }

type subscription struct {
	id  int
	sub Subscriber
}

// Notifier fans events out to subscribers. Delivery is synchronous,
// in registration order, at least once per subscriber. A panicking
// subscriber is isolated and reported; it never breaks delivery to
// the rest.
type Notifier struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	logger *slog.Logger
}

// New creates a Notifier.
func New(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Subscribe registers a subscriber and returns its id for Unsubscribe.
func (n *Notifier) Subscribe(sub Subscriber) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	n.subs = append(n.subs, subscription{id: n.nextID, sub: sub})
	return n.nextID
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (n *Notifier) Unsubscribe(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every current subscriber.
func (n *Notifier) Publish(event domain.Event) {
	n.mu.RLock()
	subs := make([]subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	for _, s := range subs {
		n.deliver(s, event)
	}
}

func (n *Notifier) deliver(s subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("subscriber panicked",
				slog.Int("subscriber_id", s.id),
				slog.String("kind", string(event.Kind)),
				slog.Any("panic", r))
		}
	}()
	s.sub.Notify(event)
}

// OrderCreated publishes an order_created event.
func (n *Notifier) OrderCreated(order *domain.Order) {
	n.Publish(domain.Event{Kind: domain.EventOrderCreated, Order: order})
}

// OrderUpdated publishes an order_updated event.
func (n *Notifier) OrderUpdated(order *domain.Order) {
	n.Publish(domain.Event{Kind: domain.EventOrderUpdated, Order: order})
}

// TradeExecuted publishes a trade_executed event.
func (n *Notifier) TradeExecuted(trade *domain.Trade) {
	n.Publish(domain.Event{Kind: domain.EventTradeExecuted, Trade: trade})
}

// Error publishes an error event tagged with its source component.
func (n *Notifier) Error(source, message string) {
	n.Publish(domain.Event{
		Kind: domain.EventError,
		Err:  &domain.ErrInfo{Source: source, Message: message},
	})
}
