package stats

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nathanyu/donut-exchange/internal/domain"
)

// LeaderboardKey is the Redis sorted set mirroring realized volume.
const LeaderboardKey = "exchange:volume:leaderboard"

// Entry is one leaderboard row.
type Entry struct {
	OutletID string `json:"outlet_id"`
	Volume   int64  `json:"volume"`
}

// Tracker accumulates per-outlet realized trade volume from the event
// stream. Both legs count: a trade adds its quantity to the buyer and
// the seller. When a Redis client is configured the totals are
// mirrored into a sorted set for external leaderboard consumers; the
// in-memory totals remain the source of truth and the mirror is best
// effort.
//
// Tracker implements notify.Subscriber; wire it with
// notifier.Subscribe(tracker).
type Tracker struct {
	mu      sync.RWMutex
	volumes map[string]int64

	rdb    *redis.Client // may be nil
	logger *slog.Logger
}

// New creates a tracker. rdb may be nil to disable the Redis mirror.
func New(rdb *redis.Client, logger *slog.Logger) *Tracker {
	return &Tracker{
		volumes: make(map[string]int64),
		rdb:     rdb,
		logger:  logger,
	}
}

// Notify implements the notifier's Subscriber interface.
func (t *Tracker) Notify(event domain.Event) {
	if event.Kind != domain.EventTradeExecuted || event.Trade == nil {
		return
	}
	trade := event.Trade

	t.mu.Lock()
	t.volumes[trade.BuyerOutletID] += trade.Quantity
	t.volumes[trade.SellerOutletID] += trade.Quantity
	t.mu.Unlock()

	t.mirror(trade.BuyerOutletID, trade.Quantity)
	t.mirror(trade.SellerOutletID, trade.Quantity)
}

func (t *Tracker) mirror(outletID string, quantity int64) {
	if t.rdb == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := t.rdb.ZIncrBy(ctx, LeaderboardKey, float64(quantity), outletID).Err(); err != nil {
		t.logger.Warn("leaderboard mirror failed",
			slog.String("outlet_id", outletID),
			slog.String("error", err.Error()))
	}
}

// Volume returns an outlet's accumulated trade volume.
func (t *Tracker) Volume(outletID string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.volumes[outletID]
}

// Top returns the n highest-volume outlets, descending; outlet id
// breaks ties so the order is stable.
func (t *Tracker) Top(n int) []Entry {
	t.mu.RLock()
	entries := make([]Entry, 0, len(t.volumes))
	for id, vol := range t.volumes {
		entries = append(entries, Entry{OutletID: id, Volume: vol})
	}
	t.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Volume != entries[j].Volume {
			return entries[i].Volume > entries[j].Volume
		}
		return entries[i].OutletID < entries[j].OutletID
	})

	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
