package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/nathanyu/donut-exchange/internal/domain"
)

// Ledger holds every outlet's cash balance and inventory. All
// mutation goes through a single mutex so both legs of a trade become
// visible together, never one at a time.
//
// Two behaviors are deliberate and must not be "fixed":
//   - No solvency check. A debit is applied even when it takes the
//     buyer's balance negative; the simulated agents depend on trades
//     never being rejected at settlement.
//   - Inventory accounting is one-sided. Settlement credits the
//     buyer's inventory and never debits the seller's: sellers supply
//     from an externally tracked (effectively unlimited) source, so
//     inventory only ever accumulates on the buying side and is never
//     negative.
type Ledger struct {
	mu      sync.RWMutex
	outlets map[string]*domain.Outlet
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		outlets: make(map[string]*domain.Outlet),
	}
}

// CreateOutlet registers an outlet with a starting balance.
func (l *Ledger) CreateOutlet(outletID, name, location string, startingBalance int64) (*domain.Outlet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.outlets[outletID]; exists {
		return nil, fmt.Errorf("outlet %s already exists", outletID)
	}

	o := &domain.Outlet{
		OutletID:   outletID,
		OutletName: name,
		Location:   location,
		Balance:    startingBalance,
		Inventory:  make(map[string]int64),
		CreatedAt:  time.Now(),
	}
	l.outlets[outletID] = o
	return copyOutlet(o), nil
}

// Exists reports whether an outlet has a ledger account.
func (l *Ledger) Exists(outletID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, exists := l.outlets[outletID]
	return exists
}

// GetOutlet returns a copy of an outlet's account.
func (l *Ledger) GetOutlet(outletID string) (*domain.Outlet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, exists := l.outlets[outletID]
	if !exists {
		return nil, fmt.Errorf("outlet %s: %w", outletID, domain.ErrUnknownOutlet)
	}
	return copyOutlet(o), nil
}

// ListOutlets returns copies of all accounts.
func (l *Ledger) ListOutlets() []*domain.Outlet {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*domain.Outlet, 0, len(l.outlets))
	for _, o := range l.outlets {
		result = append(result, copyOutlet(o))
	}
	return result
}

// GetBalance returns an outlet's cash balance in cents.
func (l *Ledger) GetBalance(outletID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, exists := l.outlets[outletID]
	if !exists {
		return 0, fmt.Errorf("outlet %s: %w", outletID, domain.ErrUnknownOutlet)
	}
	return o.Balance, nil
}

// GetInventory returns how many units of an instrument an outlet holds.
func (l *Ledger) GetInventory(outletID, instrumentID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, exists := l.outlets[outletID]
	if !exists {
		return 0, fmt.Errorf("outlet %s: %w", outletID, domain.ErrUnknownOutlet)
	}
	return o.Inventory[instrumentID], nil
}

// Credit adds amount (cents) to an outlet's cash balance.
func (l *Ledger) Credit(outletID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, exists := l.outlets[outletID]
	if !exists {
		return fmt.Errorf("outlet %s: %w", outletID, domain.ErrUnknownOutlet)
	}
	o.Balance += amount
	return nil
}

// Debit subtracts amount (cents) from an outlet's cash balance. The
// balance may go negative.
func (l *Ledger) Debit(outletID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, exists := l.outlets[outletID]
	if !exists {
		return fmt.Errorf("outlet %s: %w", outletID, domain.ErrUnknownOutlet)
	}
	o.Balance -= amount
	return nil
}

// Settle applies one trade's financial effects atomically: debit the
// buyer's cash, credit the seller's cash, credit the buyer's
// inventory. If either account is missing, nothing is applied and the
// error names the missing side; the caller reports it and keeps going.
func (l *Ledger) Settle(buyerID, sellerID, instrumentID string, quantity, totalAmount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buyer, buyerOK := l.outlets[buyerID]
	seller, sellerOK := l.outlets[sellerID]
	if !buyerOK {
		return fmt.Errorf("buyer %s: %w", buyerID, domain.ErrUnknownOutlet)
	}
	if !sellerOK {
		return fmt.Errorf("seller %s: %w", sellerID, domain.ErrUnknownOutlet)
	}

	buyer.Balance -= totalAmount
	seller.Balance += totalAmount
	buyer.Inventory[instrumentID] += quantity
	return nil
}

func copyOutlet(o *domain.Outlet) *domain.Outlet {
	inv := make(map[string]int64, len(o.Inventory))
	for k, v := range o.Inventory {
		inv[k] = v
	}
	return &domain.Outlet{
		OutletID:   o.OutletID,
		OutletName: o.OutletName,
		Location:   o.Location,
		Balance:    o.Balance,
		Inventory:  inv,
		CreatedAt:  o.CreatedAt,
	}
}
