// Package engine owns the accounts, their venue connections, and the
// per-(account, venue) workers that drive the trading cycle.
package engine

import (
	"fmt"
	"sync"

	"github.com/quanthive/tradegate/internal/safety"
	"github.com/quanthive/tradegate/internal/venue"
	"github.com/quanthive/tradegate/pkg/types"
)

// Role distinguishes the single master account from user accounts.
type Role string

const (
	RoleMaster Role = "MASTER"
	RoleUser   Role = "USER"
)

// Connection binds one venue adapter and its circuit breaker to one
// account. Connections are never shared across accounts.
type Connection struct {
	VenueID   string
	AccountID string
	Adapter   venue.Adapter
	Breaker   *safety.Breaker
}

// Account holds one trading account's per-venue balance snapshots,
// open positions, and venue connections. Credentials live inside the
// adapters and are never exposed past construction.
type Account struct {
	ID   string
	Role Role

	mu          sync.RWMutex
	balances    map[string]float64        // keyed by venue
	positions   map[string]types.Position // keyed by venue/symbol
	connections map[string]*Connection
}

// NewAccount creates an account with no connections.
func NewAccount(id string, role Role) *Account {
	return &Account{
		ID:          id,
		Role:        role,
		balances:    make(map[string]float64),
		positions:   make(map[string]types.Position),
		connections: make(map[string]*Connection),
	}
}

// AddConnection attaches a venue connection. Duplicate venues for the
// same account are an error.
func (a *Account) AddConnection(conn *Connection) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.connections[conn.VenueID]; ok {
		return fmt.Errorf("account %s already connected to %s", a.ID, conn.VenueID)
	}
	a.connections[conn.VenueID] = conn
	return nil
}

// Connection returns the connection for a venue, if configured.
func (a *Account) Connection(venueID string) (*Connection, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	conn, ok := a.connections[venueID]
	return conn, ok
}

// Venues returns the venue IDs this account is connected to.
func (a *Account) Venues() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.connections))
	for id := range a.connections {
		out = append(out, id)
	}
	return out
}

// Balance returns the latest balance snapshot for one venue. Sizing
// on a venue must read that venue's cash, never a sibling's.
func (a *Account) Balance(venueID string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balances[venueID]
}

// SetBalance updates the balance snapshot for one venue.
func (a *Account) SetBalance(venueID string, balance float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[venueID] = balance
}

func positionKey(venueID, symbol string) string {
	return venueID + "/" + symbol
}

// Positions returns a copy of the open positions for one venue.
func (a *Account) Positions(venueID string) []types.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.Position, 0)
	for key, p := range a.positions {
		if key == positionKey(venueID, p.Symbol) {
			out = append(out, p)
		}
	}
	return out
}

// AllPositions returns a copy of every open position.
func (a *Account) AllPositions() []types.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	return out
}

// SetPosition records or replaces an open position.
func (a *Account) SetPosition(venueID string, p types.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions[positionKey(venueID, p.Symbol)] = p
}

// RemovePosition deletes a closed position.
func (a *Account) RemovePosition(venueID, symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.positions, positionKey(venueID, symbol))
}

// Equity returns the cash across every venue plus the USD value of
// open positions.
func (a *Account) Equity() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := 0.0
	for _, b := range a.balances {
		total += b
	}
	for _, p := range a.positions {
		total += p.USDValue
	}
	return total
}
