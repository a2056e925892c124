package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nathanyu/donut-exchange/internal/domain"
	"github.com/nathanyu/donut-exchange/internal/ledger"
	"github.com/nathanyu/donut-exchange/internal/middleware"
	"github.com/nathanyu/donut-exchange/internal/notify"
	"github.com/nathanyu/donut-exchange/internal/orderbook"
)

// shard serializes everything that touches one instrument's book.
// Different instruments are independent and match concurrently.
type shard struct {
	mu   sync.Mutex
	book *orderbook.Book
}

// maxRetainedTrades bounds the in-memory trade log. Older trades are
// discarded; sequence ids keep counting.
const maxRetainedTrades = 10_000

// Engine is the matching core. It owns every order status/quantity
// transition and all trade creation; the ledger is invoked only from
// settlement. Submission, cancellation, and the sweep for a given
// instrument run under that instrument's lock, so each book observes
// a total order of operations. Events are published only after that
// lock is released, so subscribers may call back into the engine.
type Engine struct {
	ledger   *ledger.Ledger
	notifier *notify.Notifier
	logger   *slog.Logger

	mu          sync.RWMutex
	instruments map[string]*domain.Instrument
	shards      map[string]*shard
	// orders keeps every order the engine has accepted, including
	// terminal ones, so they stay queryable after leaving the book.
	// Entries are retained for the life of the process. The pointers
	// are shared with the books; their fields are only touched under
	// the owning shard's lock.
	orders map[string]*domain.Order

	tradeMu  sync.RWMutex
	trades   []*domain.Trade
	tradeSeq uint64
}

// New creates a matching engine over the given ledger and notifier.
func New(l *ledger.Ledger, n *notify.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		ledger:      l,
		notifier:    n,
		logger:      logger,
		instruments: make(map[string]*domain.Instrument),
		shards:      make(map[string]*shard),
		orders:      make(map[string]*domain.Order),
	}
}

// RegisterInstrument adds a tradable instrument and its empty book.
func (e *Engine) RegisterInstrument(inst domain.Instrument) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.instruments[inst.InstrumentID]; exists {
		return fmt.Errorf("instrument %s already registered", inst.InstrumentID)
	}
	e.instruments[inst.InstrumentID] = &inst
	e.shards[inst.InstrumentID] = &shard{book: orderbook.New(inst.InstrumentID)}
	return nil
}

// Instruments returns all registered instruments.
func (e *Engine) Instruments() []*domain.Instrument {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*domain.Instrument, 0, len(e.instruments))
	for _, inst := range e.instruments {
		result = append(result, inst)
	}
	return result
}

// GetInstrument returns an instrument by id.
func (e *Engine) GetInstrument(instrumentID string) (*domain.Instrument, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	inst, exists := e.instruments[instrumentID]
	if !exists {
		return nil, fmt.Errorf("instrument %s: %w", instrumentID, domain.ErrUnknownInstrument)
	}
	return inst, nil
}

func (e *Engine) shardFor(instrumentID string) (*shard, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, exists := e.shards[instrumentID]
	return s, exists
}

// SubmitOrder validates and creates a limit order, matches it against
// the opposite side of the book under the instrument's lock, and
// returns the order together with any trades produced. A remainder
// rests on the book. Validation failures surface synchronously;
// settlement failures are only observable on the event stream.
func (e *Engine) SubmitOrder(ctx context.Context, side domain.Side, instrumentID string, quantity, price int64, outletID string) (*domain.Order, []*domain.Trade, error) {
	if side != domain.SideBuy && side != domain.SideSell {
		return nil, nil, &domain.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if quantity <= 0 {
		return nil, nil, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if price <= 0 {
		return nil, nil, &domain.ValidationError{Field: "price_per_unit", Reason: "must be positive"}
	}

	s, exists := e.shardFor(instrumentID)
	if !exists {
		return nil, nil, &domain.ValidationError{Field: "instrument_id", Reason: fmt.Sprintf("unknown instrument %s", instrumentID)}
	}
	if !e.ledger.Exists(outletID) {
		return nil, nil, fmt.Errorf("outlet %s: %w", outletID, domain.ErrUnknownOutlet)
	}

	now := time.Now()
	order := &domain.Order{
		OrderID:      uuid.New().String(),
		Side:         side,
		InstrumentID: instrumentID,
		Quantity:     quantity,
		PricePerUnit: price,
		Status:       domain.OrderStatusActive,
		OutletID:     outletID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	e.mu.Lock()
	e.orders[order.OrderID] = order
	e.mu.Unlock()

	middleware.OrdersTotal.WithLabelValues(string(side), instrumentID).Inc()
	e.notifier.OrderCreated(copyOrder(order))

	s.mu.Lock()
	trades, events := e.matchLocked(s.book, order, false)
	if order.Quantity > 0 && order.Status.Matchable() {
		s.book.Insert(order)
	}
	result := copyOrder(order)
	bidVol, askVol := s.book.Volumes()
	s.mu.Unlock()

	for _, event := range events {
		e.notifier.Publish(event)
	}

	middleware.BookVolume.WithLabelValues(instrumentID, "bid").Set(float64(bidVol))
	middleware.BookVolume.WithLabelValues(instrumentID, "ask").Set(float64(askVol))
	return result, trades, nil
}

// matchLocked walks the opposite side of the book with price/time
// priority. The caller holds the shard lock. When resting is true the
// taker is itself a resting order (the sweeper's crossed bid) and its
// fills are applied through the book; otherwise the taker is an
// incoming order that the caller rests afterwards if unfilled.
//
// Events produced while matching are returned, not published: the
// caller publishes them after releasing the shard lock so subscribers
// may call back into the engine without deadlocking.
//
// Each iteration either strictly decreases the taker's remaining
// quantity or exits the loop, so matching always terminates.
func (e *Engine) matchLocked(book *orderbook.Book, taker *domain.Order, resting bool) ([]*domain.Trade, []domain.Event) {
	var trades []*domain.Trade
	var events []domain.Event

	for taker.Quantity > 0 {
		maker := book.BestOpposite(taker.Side)
		if maker == nil {
			break
		}

		// Asks are sorted ascending and bids descending, so the first
		// non-crossing price ends the walk.
		if taker.Side == domain.SideBuy && maker.PricePerUnit > taker.PricePerUnit {
			break
		}
		if taker.Side == domain.SideSell && maker.PricePerUnit < taker.PricePerUnit {
			break
		}

		matchQty := min(taker.Quantity, maker.Quantity)
		matchPrice := maker.PricePerUnit // maker's price always wins

		buyOrder, sellOrder := taker, maker
		if taker.Side == domain.SideSell {
			buyOrder, sellOrder = maker, taker
		}

		trade, tradeEvents := e.executeTrade(buyOrder, sellOrder, matchQty, matchPrice)
		trades = append(trades, trade)
		events = append(events, tradeEvents...)

		events = append(events, e.applyFill(book, maker, matchQty, true))
		events = append(events, e.applyFill(book, taker, matchQty, resting))
	}

	return trades, events
}

// applyFill decrements an order's quantity by matchQty and transitions
// its status; zero remaining forces filled. Orders resting in the book
// are updated through it so terminal orders leave their sequence and
// partial fills keep their position. Returns the order_updated event
// for the caller to publish.
func (e *Engine) applyFill(book *orderbook.Book, order *domain.Order, matchQty int64, inBook bool) domain.Event {
	newQty := order.Quantity - matchQty
	newStatus := domain.OrderStatusPartiallyFilled
	if newQty == 0 {
		newStatus = domain.OrderStatusFilled
	}

	if inBook {
		if err := book.RemoveOrUpdate(order.OrderID, newQty, newStatus); err != nil {
			// Concurrent cancellation; the fill still applies to the order.
			e.logger.Warn("resting order vanished during fill",
				slog.String("order_id", order.OrderID))
			order.Quantity = newQty
			order.Status = newStatus
		}
	} else {
		order.Quantity = newQty
		order.Status = newStatus
	}
	order.UpdatedAt = time.Now()

	return domain.Event{Kind: domain.EventOrderUpdated, Order: copyOrder(order)}
}

// executeTrade settles one match: it records the immutable trade and
// applies both ledger legs atomically. A missing account skips
// settlement for the trade with an error event; it never rolls back
// the order bookkeeping already done. The trade (or error) event is
// returned for the caller to publish.
func (e *Engine) executeTrade(buyOrder, sellOrder *domain.Order, quantity, price int64) (*domain.Trade, []domain.Event) {
	totalAmount := quantity * price

	trade := &domain.Trade{
		TransactionID:  uuid.New().String(),
		InstrumentID:   buyOrder.InstrumentID,
		Quantity:       quantity,
		PricePerUnit:   price,
		TotalAmount:    totalAmount,
		BuyOrderID:     buyOrder.OrderID,
		SellOrderID:    sellOrder.OrderID,
		BuyerOutletID:  buyOrder.OutletID,
		SellerOutletID: sellOrder.OutletID,
		ExecutedAt:     time.Now(),
	}
	e.recordTrade(trade)

	if err := e.ledger.Settle(trade.BuyerOutletID, trade.SellerOutletID, trade.InstrumentID, quantity, totalAmount); err != nil {
		e.logger.Error("settlement failed",
			slog.String("transaction_id", trade.TransactionID),
			slog.String("error", err.Error()))
		return trade, []domain.Event{{
			Kind: domain.EventError,
			Err:  &domain.ErrInfo{Source: "engine.settle", Message: err.Error()},
		}}
	}

	middleware.TradesTotal.WithLabelValues(trade.InstrumentID).Inc()
	middleware.TradeVolume.WithLabelValues(trade.InstrumentID).Add(float64(quantity))

	e.logger.Info("trade executed",
		slog.String("transaction_id", trade.TransactionID),
		slog.String("instrument_id", trade.InstrumentID),
		slog.Int64("quantity", quantity),
		slog.Int64("price", price),
		slog.Int64("total", totalAmount))

	return trade, []domain.Event{{Kind: domain.EventTradeExecuted, Trade: trade}}
}

// recordTrade stamps the trade's sequence id and appends it to the
// log. The log is allowed to grow to twice maxRetainedTrades before
// the oldest half is dropped, keeping appends amortized constant.
func (e *Engine) recordTrade(trade *domain.Trade) {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()

	e.tradeSeq++
	trade.SequenceID = e.tradeSeq
	e.trades = append(e.trades, trade)
	if len(e.trades) >= 2*maxRetainedTrades {
		e.trades = append([]*domain.Trade(nil), e.trades[len(e.trades)-maxRetainedTrades:]...)
	}
}

// CancelOrder removes a matchable order from its book. Cancelling an
// order that is already terminal or unknown reports not found.
func (e *Engine) CancelOrder(orderID string) (*domain.Order, error) {
	return e.terminate(orderID, domain.OrderStatusCancelled)
}

// ExpireOrder is the external expiry path; same mechanics as cancel.
func (e *Engine) ExpireOrder(orderID string) (*domain.Order, error) {
	return e.terminate(orderID, domain.OrderStatusExpired)
}

func (e *Engine) terminate(orderID string, status domain.OrderStatus) (*domain.Order, error) {
	e.mu.RLock()
	order, exists := e.orders[orderID]
	e.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}

	s, _ := e.shardFor(order.InstrumentID)
	s.mu.Lock()

	if s.book.Get(orderID) == nil {
		// Already filled, cancelled, or expired.
		s.mu.Unlock()
		return nil, fmt.Errorf("order %s no longer resting: %w", orderID, domain.ErrNotFound)
	}

	if err := s.book.RemoveOrUpdate(orderID, order.Quantity, status); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	order.UpdatedAt = time.Now()
	result := copyOrder(order)
	s.mu.Unlock()

	e.notifier.OrderUpdated(copyOrder(result))
	return result, nil
}

// SweepInstrument runs exactly one matching pass over an instrument
// left crossed by out-of-band mutation, starting from the crossed best
// bid. It returns the number of trades produced. Convergence to an
// uncrossed book happens over successive sweep ticks, not within one.
func (e *Engine) SweepInstrument(instrumentID string) (int, error) {
	s, exists := e.shardFor(instrumentID)
	if !exists {
		return 0, fmt.Errorf("instrument %s: %w", instrumentID, domain.ErrUnknownInstrument)
	}

	s.mu.Lock()

	if !s.book.Crossed() {
		s.mu.Unlock()
		return 0, nil
	}

	// Best bid is the opposite side of a would-be sell.
	bid := s.book.BestOpposite(domain.SideSell)
	if bid == nil || !bid.Status.Matchable() {
		s.mu.Unlock()
		return 0, nil
	}

	e.logger.Info("crossed book found, rematching",
		slog.String("instrument_id", instrumentID),
		slog.String("bid_order_id", bid.OrderID))

	trades, events := e.matchLocked(s.book, bid, true)
	s.mu.Unlock()

	for _, event := range events {
		e.notifier.Publish(event)
	}

	middleware.SweepMatchesTotal.WithLabelValues(instrumentID).Add(float64(len(trades)))
	return len(trades), nil
}

// GetOrder returns a copy of any order the engine has seen, resting or
// terminal.
func (e *Engine) GetOrder(orderID string) (*domain.Order, error) {
	e.mu.RLock()
	order, exists := e.orders[orderID]
	e.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}

	// The shard lock orders the read against in-flight fills.
	s, _ := e.shardFor(order.InstrumentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOrder(order), nil
}

// GetOrderBook returns the resting orders for an instrument.
func (e *Engine) GetOrderBook(instrumentID string) (*domain.BookSnapshot, error) {
	s, exists := e.shardFor(instrumentID)
	if !exists {
		return nil, fmt.Errorf("instrument %s: %w", instrumentID, domain.ErrUnknownInstrument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Snapshot(), nil
}

// GetDepth returns an aggregated depth snapshot.
func (e *Engine) GetDepth(instrumentID string, depth int) (*domain.MarketDepth, error) {
	s, exists := e.shardFor(instrumentID)
	if !exists {
		return nil, fmt.Errorf("instrument %s: %w", instrumentID, domain.ErrUnknownInstrument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Depth(depth), nil
}

// GetBestBidAsk returns the top of book for an instrument.
func (e *Engine) GetBestBidAsk(instrumentID string) (*domain.BestBidAsk, error) {
	s, exists := e.shardFor(instrumentID)
	if !exists {
		return nil, fmt.Errorf("instrument %s: %w", instrumentID, domain.ErrUnknownInstrument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &domain.BestBidAsk{InstrumentID: instrumentID}
	result.BidPrice, result.HasBid = s.book.BestBid()
	result.AskPrice, result.HasAsk = s.book.BestAsk()
	return result, nil
}

// GetRecentTrades returns up to limit trades, most recent first.
func (e *Engine) GetRecentTrades(limit int) []*domain.Trade {
	return e.filterTrades("", limit)
}

// GetTradesByInstrument returns up to limit trades for one instrument,
// most recent first.
func (e *Engine) GetTradesByInstrument(instrumentID string, limit int) []*domain.Trade {
	return e.filterTrades(instrumentID, limit)
}

func (e *Engine) filterTrades(instrumentID string, limit int) []*domain.Trade {
	e.tradeMu.RLock()
	defer e.tradeMu.RUnlock()

	result := make([]*domain.Trade, 0, limit)
	for i := len(e.trades) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		t := e.trades[i]
		if instrumentID != "" && t.InstrumentID != instrumentID {
			continue
		}
		result = append(result, t)
	}
	return result
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	return &c
}
