package sweeper

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nathanyu/donut-exchange/internal/engine"
	"github.com/nathanyu/donut-exchange/internal/notify"
)

// DefaultInterval is how often books are checked for crossings.
const DefaultInterval = 5 * time.Second

// Sweeper periodically re-checks every instrument's book for orders
// left crossed by out-of-band mutation and re-invokes the matching
// engine on them. One goroutine consumes the ticker, so passes are
// strictly sequential: a tick that fires while a pass is still
// running is dropped by the ticker, never queued. Stop prevents
// further ticks without aborting a pass in flight.
type Sweeper struct {
	engine   *engine.Engine
	notifier *notify.Notifier
	logger   *slog.Logger
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a sweeper. A non-positive interval uses DefaultInterval.
func New(e *engine.Engine, n *notify.Notifier, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		engine:   e,
		notifier: n,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a goroutine.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the loop to exit and waits for the current pass, if
// any, to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.done:
			s.logger.Info("sweeper stopped")
			return
		}
	}
}

// sweepOnce runs one matching pass per crossed instrument. Failures
// are reported on the event stream and never terminate the loop.
func (s *Sweeper) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("sweep panic: %v", r)
			s.logger.Error(msg)
			s.notifier.Error("sweeper", msg)
		}
	}()

	for _, inst := range s.engine.Instruments() {
		matched, err := s.engine.SweepInstrument(inst.InstrumentID)
		if err != nil {
			s.logger.Warn("sweep failed",
				slog.String("instrument_id", inst.InstrumentID),
				slog.String("error", err.Error()))
			s.notifier.Error("sweeper", err.Error())
			continue
		}
		if matched > 0 {
			s.logger.Info("sweep matched crossed orders",
				slog.String("instrument_id", inst.InstrumentID),
				slog.Int("trades", matched))
		}
	}
}
