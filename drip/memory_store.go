package drip

import (
	"context"
	"sync"
	"time"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/pkg/errors"
)

// MemoryStore is a process-local ClaimStore used when no database is configured.
// Claims are lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	claims map[int64]*types.DripRecord
	latest map[string]int64 // identity -> id of the latest claim
}

// NewMemoryStore creates an empty in-memory claim store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims: make(map[int64]*types.DripRecord),
		latest: make(map[string]int64),
	}
}

// ReserveClaim checks the cooldown and stores the claim under a single lock.
func (m *MemoryStore) ReserveClaim(_ context.Context, record *types.DripRecord, window time.Duration) (int64, error) {
	if record == nil || record.Identity == "" {
		return 0, ErrMissingIdentity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.latest[record.Identity]; ok {
		last := m.claims[id].CreatedAt
		if !CanClaim(last, record.CreatedAt, window) {
			return 0, &commonerrors.CooldownError{LastClaimAt: last, NextClaimAt: last.Add(window)}
		}
	}

	m.nextID++
	stored := *record
	stored.ID = m.nextID
	stored.TxHash = ""
	m.claims[stored.ID] = &stored
	m.latest[record.Identity] = stored.ID

	return stored.ID, nil
}

// CompleteClaim stores the transaction hash of a reserved claim.
func (m *MemoryStore) CompleteClaim(_ context.Context, id int64, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	claim, ok := m.claims[id]
	if !ok {
		return errors.Errorf("claim %d not found", id)
	}
	claim.TxHash = txHash
	return nil
}

// ReleaseClaim removes a reservation that was never completed and restores the previous claim as latest.
func (m *MemoryStore) ReleaseClaim(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	claim, ok := m.claims[id]
	if !ok || claim.TxHash != "" {
		return errors.Errorf("claim %d not found", id)
	}
	delete(m.claims, id)

	if m.latest[claim.Identity] == id {
		delete(m.latest, claim.Identity)
		for otherID, other := range m.claims {
			if other.Identity != claim.Identity {
				continue
			}
			if current, ok := m.latest[claim.Identity]; !ok || m.claims[current].CreatedAt.Before(other.CreatedAt) {
				m.latest[claim.Identity] = otherID
			}
		}
	}

	return nil
}

// LatestClaim returns a copy of the identity's most recent claim.
func (m *MemoryStore) LatestClaim(_ context.Context, identity string) (*types.DripRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.latest[identity]
	if !ok {
		return nil, false
	}
	claim := *m.claims[id]
	return &claim, true
}
