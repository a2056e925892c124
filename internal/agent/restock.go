package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nathanyu/donut-exchange/internal/domain"
	"github.com/nathanyu/donut-exchange/internal/engine"
	"github.com/nathanyu/donut-exchange/internal/ledger"
)

// DefaultRestockInterval is how often restocking strategies run.
const DefaultRestockInterval = 3 * time.Second

// Threshold is one tier of a restocking strategy: keep stock at
// TargetStock while asks are available at or below MaxPrice.
// Tiers are ordered by MaxPrice ascending, cheapest first.
type Threshold struct {
	MaxPrice    int64 `json:"max_price"`
	TargetStock int64 `json:"target_stock"`
}

// Strategy is the tiers an outlet applies to one instrument.
type Strategy struct {
	InstrumentID string      `json:"instrument_id"`
	Thresholds   []Threshold `json:"thresholds"`
}

// Config is an outlet's full restocking configuration.
type Config struct {
	OutletID   string     `json:"outlet_id"`
	Strategies []Strategy `json:"strategies"`
	Enabled    bool       `json:"enabled"`
}

// DefaultThresholds is the stock ladder applied when no explicit
// config is set: buy aggressively while goods are cheap, keep a floor
// of stock even at high prices.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{MaxPrice: 160, TargetStock: 40},
		{MaxPrice: 200, TargetStock: 30},
		{MaxPrice: 240, TargetStock: 20},
		{MaxPrice: 300, TargetStock: 10},
	}
}

// Restocker is the demand side of the market: a policy agent that
// watches each configured outlet's inventory and places buy orders
// when stock falls below its thresholds. It is an ordinary external
// caller of the matching core, holding no lock of its own beyond the
// config map.
type Restocker struct {
	engine *engine.Engine
	ledger *ledger.Ledger
	logger *slog.Logger

	mu      sync.RWMutex
	configs map[string]*Config

	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRestocker creates the restocking agent. A non-positive interval
// uses DefaultRestockInterval.
func NewRestocker(e *engine.Engine, l *ledger.Ledger, logger *slog.Logger, interval time.Duration) *Restocker {
	if interval <= 0 {
		interval = DefaultRestockInterval
	}
	return &Restocker{
		engine:   e,
		ledger:   l,
		logger:   logger,
		configs:  make(map[string]*Config),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// SetConfig installs or replaces an outlet's restocking config.
func (r *Restocker) SetConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.OutletID] = &cfg
}

// GetConfig returns an outlet's config, or nil if none is set.
func (r *Restocker) GetConfig(outletID string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, exists := r.configs[outletID]
	if !exists {
		return nil
	}
	c := *cfg
	return &c
}

// SetEnabled toggles an outlet's restocking without touching its
// strategies. Unknown outlets are ignored.
func (r *Restocker) SetEnabled(outletID string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, exists := r.configs[outletID]; exists {
		cfg.Enabled = enabled
	}
}

// InitializeDefaults installs the default ladder for every non-factory
// outlet across every registered instrument.
func (r *Restocker) InitializeDefaults() {
	for _, outlet := range r.ledger.ListOutlets() {
		if outlet.OutletID == SupplierOutletID {
			continue
		}

		var strategies []Strategy
		for _, inst := range r.engine.Instruments() {
			strategies = append(strategies, Strategy{
				InstrumentID: inst.InstrumentID,
				Thresholds:   DefaultThresholds(),
			})
		}
		r.SetConfig(Config{OutletID: outlet.OutletID, Strategies: strategies, Enabled: true})
	}
}

// Start begins the restocking loop.
func (r *Restocker) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop ends the loop, letting a pass in flight finish.
func (r *Restocker) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Restocker) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("restocker started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ticker.C:
			r.executeAll()
		case <-r.done:
			r.logger.Info("restocker stopped")
			return
		}
	}
}

func (r *Restocker) executeAll() {
	r.mu.RLock()
	configs := make([]*Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		if cfg.Enabled {
			c := *cfg
			configs = append(configs, &c)
		}
	}
	r.mu.RUnlock()

	for _, cfg := range configs {
		outlet, err := r.ledger.GetOutlet(cfg.OutletID)
		if err != nil {
			r.logger.Warn("restock skipped", slog.String("outlet_id", cfg.OutletID), slog.String("error", err.Error()))
			continue
		}
		for _, strategy := range cfg.Strategies {
			r.executeStrategy(outlet, strategy)
		}
	}
}

// executeStrategy checks each tier in price order and places at most
// one buy: the first tier short on stock with affordable asks wins.
func (r *Restocker) executeStrategy(outlet *domain.Outlet, strategy Strategy) {
	stock, err := r.ledger.GetInventory(outlet.OutletID, strategy.InstrumentID)
	if err != nil {
		return
	}

	for _, tier := range strategy.Thresholds {
		if stock >= tier.TargetStock {
			continue
		}

		book, err := r.engine.GetOrderBook(strategy.InstrumentID)
		if err != nil {
			return
		}

		var available int64
		var bestPrice int64
		for _, ask := range book.Asks {
			if ask.PricePerUnit > tier.MaxPrice {
				break // asks sorted ascending
			}
			if bestPrice == 0 {
				bestPrice = ask.PricePerUnit
			}
			available += ask.Quantity
		}
		if available == 0 {
			continue
		}

		needed := tier.TargetStock - stock
		maxAffordable := outlet.Balance / bestPrice
		if maxAffordable <= 0 {
			continue
		}

		buyQty := min(needed, available, maxAffordable)
		if buyQty <= 0 {
			continue
		}

		// Bid at the tier's max price; matching fills from the
		// cheapest asks first at their own prices.
		_, trades, err := r.engine.SubmitOrder(context.Background(), domain.SideBuy, strategy.InstrumentID, buyQty, tier.MaxPrice, outlet.OutletID)
		if err != nil {
			r.logger.Warn("restock order rejected",
				slog.String("outlet_id", outlet.OutletID),
				slog.String("instrument_id", strategy.InstrumentID),
				slog.String("error", err.Error()))
			return
		}

		r.logger.Info("restock order placed",
			slog.String("outlet_id", outlet.OutletID),
			slog.String("instrument_id", strategy.InstrumentID),
			slog.Int64("quantity", buyQty),
			slog.Int64("max_price", tier.MaxPrice),
			slog.Int("immediate_matches", len(trades)))
		return
	}
}
