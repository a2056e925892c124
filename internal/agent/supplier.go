package agent

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nathanyu/donut-exchange/internal/domain"
	"github.com/nathanyu/donut-exchange/internal/engine"
	"github.com/nathanyu/donut-exchange/internal/ledger"
)

// SupplierOutletID is the ledger account the factory trades under.
const SupplierOutletID = "supplier-factory"

const (
	baseSupplyPrice     int64 = 200 // cents
	supplyPriceVariance int64 = 50
	minSupplyQty        int64 = 10
	maxSupplyQty        int64 = 50
	supplyChance              = 0.7

	// Auto-regulation: production pauses while the factory has more
	// resting sell orders than pauseThreshold and resumes once the
	// count falls back to resumeThreshold.
	pauseThreshold  = 20
	resumeThreshold = 10

	// DefaultSupplyInterval is how often the factory supplies goods.
	DefaultSupplyInterval = 5 * time.Second
)

// Supplier is the factory side of the market: a policy agent that
// periodically places randomized sell orders for every instrument.
// It sells from an unlimited external source, matching the one-sided
// inventory model.
type Supplier struct {
	engine *engine.Engine
	ledger *ledger.Ledger
	logger *slog.Logger

	interval time.Duration
	paused   bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSupplier creates the factory agent. A non-positive interval uses
// DefaultSupplyInterval.
func NewSupplier(e *engine.Engine, l *ledger.Ledger, logger *slog.Logger, interval time.Duration) *Supplier {
	if interval <= 0 {
		interval = DefaultSupplyInterval
	}
	return &Supplier{
		engine:   e,
		ledger:   l,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start ensures the factory outlet exists and begins the supply loop.
func (s *Supplier) Start() {
	if !s.ledger.Exists(SupplierOutletID) {
		if _, err := s.ledger.CreateOutlet(SupplierOutletID, "Donut Factory", "Industrial District", 100_000_000); err != nil {
			s.logger.Error("create supplier outlet", slog.String("error", err.Error()))
		}
	}

	s.wg.Add(1)
	go s.run()
}

// Stop ends the supply loop, letting a pass in flight finish.
func (s *Supplier) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Supplier) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("supplier started", slog.Duration("interval", s.interval))
	s.supplyOnce()

	for {
		select {
		case <-ticker.C:
			s.supplyOnce()
		case <-s.done:
			s.logger.Info("supplier stopped")
			return
		}
	}
}

// supplyOnce places one round of randomized sell orders, subject to
// the production throttle.
func (s *Supplier) supplyOnce() {
	if !s.regulate() {
		return
	}

	for _, inst := range s.engine.Instruments() {
		if rand.Float64() > supplyChance {
			continue
		}

		price := baseSupplyPrice + rand.Int64N(2*supplyPriceVariance+1) - supplyPriceVariance
		quantity := minSupplyQty + rand.Int64N(maxSupplyQty-minSupplyQty+1)

		_, trades, err := s.engine.SubmitOrder(context.Background(), domain.SideSell, inst.InstrumentID, quantity, price, SupplierOutletID)
		if err != nil {
			s.logger.Warn("factory supply rejected",
				slog.String("instrument_id", inst.InstrumentID),
				slog.String("error", err.Error()))
			continue
		}

		s.logger.Info("factory supplied",
			slog.String("instrument_id", inst.InstrumentID),
			slog.Int64("quantity", quantity),
			slog.Int64("price", price),
			slog.Int("immediate_matches", len(trades)))
	}
}

// regulate updates the pause state from the factory's resting order
// count and reports whether production may run this round.
func (s *Supplier) regulate() bool {
	active := s.activeOrders()

	if s.paused {
		if active <= resumeThreshold {
			s.paused = false
			s.logger.Info("factory production resumed", slog.Int("active_orders", active))
		}
	} else if active > pauseThreshold {
		s.paused = true
		s.logger.Info("factory production paused", slog.Int("active_orders", active))
	}

	return !s.paused
}

func (s *Supplier) activeOrders() int {
	count := 0
	for _, inst := range s.engine.Instruments() {
		book, err := s.engine.GetOrderBook(inst.InstrumentID)
		if err != nil {
			continue
		}
		for _, entry := range book.Asks {
			if entry.OutletID == SupplierOutletID {
				count++
			}
		}
	}
	return count
}
