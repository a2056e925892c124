package domain

import "time"

// Side represents the order side (buy or sell).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusActive          OrderStatus = "active"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// Matchable reports whether an order in this status may still trade.
func (s OrderStatus) Matchable() bool {
	return s == OrderStatusActive || s == OrderStatusPartiallyFilled
}

// Terminal reports whether this status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusExpired
}

// Order represents a limit order on the exchange.
// Prices are in cents (int64) to avoid floating-point issues.
type Order struct {
	OrderID      string      `json:"order_id"`
	Side         Side        `json:"side"`
	InstrumentID string      `json:"instrument_id"`
	Quantity     int64       `json:"quantity"`       // remaining open quantity, never increases
	PricePerUnit int64       `json:"price_per_unit"` // in cents, e.g. 200 = $2.00
	Status       OrderStatus `json:"status"`
	OutletID     string      `json:"outlet_id"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Trade is the immutable settlement record for one match.
type Trade struct {
	TransactionID  string    `json:"transaction_id"`
	InstrumentID   string    `json:"instrument_id"`
	Quantity       int64     `json:"quantity"`
	PricePerUnit   int64     `json:"price_per_unit"`
	TotalAmount    int64     `json:"total_amount"` // quantity * price, in cents
	BuyOrderID     string    `json:"buy_order_id"`
	SellOrderID    string    `json:"sell_order_id"`
	BuyerOutletID  string    `json:"buyer_outlet_id"`
	SellerOutletID string    `json:"seller_outlet_id"`
	ExecutedAt     time.Time `json:"executed_at"`
	SequenceID     uint64    `json:"sequence_id"`
}

// Outlet is a market participant: a retail outlet with a cash balance
// and the inventory it has accumulated through buying.
type Outlet struct {
	OutletID   string           `json:"outlet_id"`
	OutletName string           `json:"outlet_name"`
	Location   string           `json:"location"`
	Balance    int64            `json:"balance"` // in cents, may go negative (no solvency check)
	Inventory  map[string]int64 `json:"inventory"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Instrument is a tradable good (a donut type).
type Instrument struct {
	InstrumentID string `json:"instrument_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
}

// BookEntry is one resting order as exposed in an order book snapshot.
type BookEntry struct {
	OrderID      string    `json:"order_id"`
	OutletID     string    `json:"outlet_id"`
	Quantity     int64     `json:"quantity"`
	PricePerUnit int64     `json:"price_per_unit"`
	CreatedAt    time.Time `json:"created_at"`
}

// BookSnapshot is the full resting state of one instrument's book.
// Bids are sorted (price desc, createdAt asc), asks (price asc, createdAt asc).
type BookSnapshot struct {
	InstrumentID string      `json:"instrument_id"`
	Bids         []BookEntry `json:"bids"`
	Asks         []BookEntry `json:"asks"`
}

// PriceLevel is an aggregated price level in a depth snapshot.
type PriceLevel struct {
	Price      int64 `json:"price"`
	Quantity   int64 `json:"quantity"`
	OrderCount int   `json:"order_count"`
}

// MarketDepth is an aggregated view of one instrument's book.
type MarketDepth struct {
	InstrumentID string       `json:"instrument_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// BestBidAsk is the top of book for one instrument. A zero price with
// HasBid/HasAsk false means that side is empty.
type BestBidAsk struct {
	InstrumentID string `json:"instrument_id"`
	BidPrice     int64  `json:"bid_price"`
	AskPrice     int64  `json:"ask_price"`
	HasBid       bool   `json:"has_bid"`
	HasAsk       bool   `json:"has_ask"`
}

// EventKind discriminates notifier events.
type EventKind string

const (
	EventOrderCreated  EventKind = "order_created"
	EventOrderUpdated  EventKind = "order_updated"
	EventTradeExecuted EventKind = "trade_executed"
	EventError         EventKind = "error"
)

// Event is a single notification emitted by the matching core.
// Exactly one of Order, Trade, or Err is set, according to Kind.
type Event struct {
	Kind  EventKind `json:"kind"`
	Order *Order    `json:"order,omitempty"`
	Trade *Trade    `json:"trade,omitempty"`
	Err   *ErrInfo  `json:"error,omitempty"`
}

// ErrInfo carries an error reported through the event stream, tagged
// with the component that produced it.
type ErrInfo struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}
