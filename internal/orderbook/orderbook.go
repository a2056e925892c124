package orderbook

import (
	"container/list"
	"fmt"
	"sort"

	"github.com/nathanyu/donut-exchange/internal/domain"
)

// orderEntry maps an order to its linked list element for O(1) removal.
type orderEntry struct {
	order   *domain.Order
	element *list.Element
	level   *bookLevel
	side    *side
}

// bookLevel is a price level in one side of the book.
// It holds a doubly-linked list of orders at this price (FIFO, so
// price/time priority within a level is the list order).
type bookLevel struct {
	Price       int64
	TotalVolume int64
	Orders      *list.List // of *domain.Order
}

// side is one side (bid or ask) of an order book.
type side struct {
	Side      domain.Side
	LimitMap  map[int64]*bookLevel // price -> level
	bestPrice int64                // best bid (highest) or best ask (lowest)
	hasOrders bool
}

func newSide(s domain.Side) *side {
	return &side{
		Side:     s,
		LimitMap: make(map[int64]*bookLevel),
	}
}

// BestPrice returns the best price on this side, or false if empty.
func (s *side) BestPrice() (int64, bool) {
	return s.bestPrice, s.hasOrders
}

// peekBest returns the head order of the best price level, or nil.
func (s *side) peekBest() *domain.Order {
	if !s.hasOrders {
		return nil
	}
	level := s.LimitMap[s.bestPrice]
	front := level.Orders.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*domain.Order)
}

// addOrder appends an order to the tail of the price level's list.
// Orders arrive in createdAt order (insertion is serialized per
// instrument), so appending preserves time priority.
func (s *side) addOrder(order *domain.Order) *list.Element {
	level, exists := s.LimitMap[order.PricePerUnit]
	if !exists {
		level = &bookLevel{
			Price:  order.PricePerUnit,
			Orders: list.New(),
		}
		s.LimitMap[order.PricePerUnit] = level
	}

	level.TotalVolume += order.Quantity
	elem := level.Orders.PushBack(order)

	s.refreshBestPrice()
	return elem
}

// removeOrder removes an order from its price level.
func (s *side) removeOrder(entry *orderEntry) {
	level := entry.level
	level.Orders.Remove(entry.element)
	level.TotalVolume -= entry.order.Quantity

	if level.Orders.Len() == 0 {
		delete(s.LimitMap, level.Price)
	}

	s.refreshBestPrice()
}

// refreshBestPrice recalculates the best price.
func (s *side) refreshBestPrice() {
	if len(s.LimitMap) == 0 {
		s.hasOrders = false
		s.bestPrice = 0
		return
	}

	s.hasOrders = true
	if s.Side == domain.SideBuy {
		// Best bid = highest price
		best := int64(0)
		for price := range s.LimitMap {
			if price > best {
				best = price
			}
		}
		s.bestPrice = best
	} else {
		// Best ask = lowest price
		best := int64(1<<62 - 1)
		for price := range s.LimitMap {
			if price < best {
				best = price
			}
		}
		s.bestPrice = best
	}
}

// Book holds the full two-sided order book for a single instrument.
// Only matchable orders (active / partially filled) are members. The
// Book does no locking itself; the engine serializes access per
// instrument.
type Book struct {
	InstrumentID string
	bids         *side
	asks         *side
	orderMap     map[string]*orderEntry // orderID -> entry for O(1) lookup
}

// New creates an empty order book for an instrument.
func New(instrumentID string) *Book {
	return &Book{
		InstrumentID: instrumentID,
		bids:         newSide(domain.SideBuy),
		asks:         newSide(domain.SideSell),
		orderMap:     make(map[string]*orderEntry),
	}
}

func (b *Book) sideFor(s domain.Side) *side {
	if s == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order to the side matching order.Side.
func (b *Book) Insert(order *domain.Order) {
	sd := b.sideFor(order.Side)
	elem := sd.addOrder(order)
	b.orderMap[order.OrderID] = &orderEntry{
		order:   order,
		element: elem,
		level:   sd.LimitMap[order.PricePerUnit],
		side:    sd,
	}
}

// BestOpposite returns the first resting order on the side opposite
// takerSide: the lowest ask for a buy, the highest bid for a sell.
// Returns nil if that side is empty.
func (b *Book) BestOpposite(takerSide domain.Side) *domain.Order {
	return b.sideFor(takerSide.Opposite()).peekBest()
}

// BestBid returns the highest resting bid price, or false if none.
func (b *Book) BestBid() (int64, bool) { return b.bids.BestPrice() }

// BestAsk returns the lowest resting ask price, or false if none.
func (b *Book) BestAsk() (int64, bool) { return b.asks.BestPrice() }

// Crossed reports whether the best bid price is at or above the best
// ask price. A submission never leaves its book crossed; the sweeper
// checks for crossings introduced out of band.
func (b *Book) Crossed() bool {
	bid, okBid := b.bids.BestPrice()
	ask, okAsk := b.asks.BestPrice()
	return okBid && okAsk && bid >= ask
}

// Get returns the resting order with the given ID, or nil.
func (b *Book) Get(orderID string) *domain.Order {
	entry, exists := b.orderMap[orderID]
	if !exists {
		return nil
	}
	return entry.order
}

// RemoveOrUpdate applies the outcome of a fill or cancellation to a
// resting order. A terminal status removes the order from its
// sequence; otherwise the quantity is updated in place and the order
// keeps its position (time priority is earned at insertion and is not
// re-evaluated on partial fill).
//
// An unknown orderID reports domain.ErrNotFound and mutates nothing:
// concurrent cancellation makes this case routine, never fatal.
func (b *Book) RemoveOrUpdate(orderID string, newQuantity int64, newStatus domain.OrderStatus) error {
	entry, exists := b.orderMap[orderID]
	if !exists {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}

	if newStatus.Terminal() {
		entry.side.removeOrder(entry)
		delete(b.orderMap, orderID)
		entry.order.Quantity = newQuantity
		entry.order.Status = newStatus
		return nil
	}

	entry.level.TotalVolume -= entry.order.Quantity - newQuantity
	entry.order.Quantity = newQuantity
	entry.order.Status = newStatus
	return nil
}

// Volumes returns the total resting quantity on each side.
func (b *Book) Volumes() (bidVolume, askVolume int64) {
	for _, level := range b.bids.LimitMap {
		bidVolume += level.TotalVolume
	}
	for _, level := range b.asks.LimitMap {
		askVolume += level.TotalVolume
	}
	return bidVolume, askVolume
}

// Snapshot returns every resting order, bids sorted (price desc,
// createdAt asc) and asks (price asc, createdAt asc).
func (b *Book) Snapshot() *domain.BookSnapshot {
	return &domain.BookSnapshot{
		InstrumentID: b.InstrumentID,
		Bids:         collectEntries(b.bids, true),
		Asks:         collectEntries(b.asks, false),
	}
}

// Depth returns an aggregated view of up to depth price levels per side.
func (b *Book) Depth(depth int) *domain.MarketDepth {
	return &domain.MarketDepth{
		InstrumentID: b.InstrumentID,
		Bids:         aggregateLevels(b.bids, depth, true),
		Asks:         aggregateLevels(b.asks, depth, false),
	}
}

// collectEntries flattens one side into sorted book entries. Within a
// price level the linked list is already in time order.
func collectEntries(sd *side, descending bool) []domain.BookEntry {
	prices := sortedPrices(sd, descending, 0)

	var entries []domain.BookEntry
	for _, price := range prices {
		level := sd.LimitMap[price]
		for e := level.Orders.Front(); e != nil; e = e.Next() {
			o := e.Value.(*domain.Order)
			entries = append(entries, domain.BookEntry{
				OrderID:      o.OrderID,
				OutletID:     o.OutletID,
				Quantity:     o.Quantity,
				PricePerUnit: o.PricePerUnit,
				CreatedAt:    o.CreatedAt,
			})
		}
	}
	return entries
}

// aggregateLevels collects price levels sorted by price.
// For bids: descending (highest first). For asks: ascending (lowest first).
func aggregateLevels(sd *side, depth int, descending bool) []domain.PriceLevel {
	prices := sortedPrices(sd, descending, depth)

	levels := make([]domain.PriceLevel, len(prices))
	for i, price := range prices {
		level := sd.LimitMap[price]
		levels[i] = domain.PriceLevel{
			Price:      price,
			Quantity:   level.TotalVolume,
			OrderCount: level.Orders.Len(),
		}
	}
	return levels
}

func sortedPrices(sd *side, descending bool, limit int) []int64 {
	prices := make([]int64, 0, len(sd.LimitMap))
	for price := range sd.LimitMap {
		prices = append(prices, price)
	}

	if descending {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}

	if limit > 0 && len(prices) > limit {
		prices = prices[:limit]
	}
	return prices
}
