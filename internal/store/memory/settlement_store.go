// Package memory provides in-process stores for single-node deployments and
// tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// SettlementStore keeps settlement records in a map keyed by auction id.
type SettlementStore struct {
	mu      sync.RWMutex
	records map[string]domain.SettlementRecord
}

// NewSettlementStore creates an empty SettlementStore.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{records: make(map[string]domain.SettlementRecord)}
}

// Get returns the record for auctionID or domain.ErrNotFound.
func (s *SettlementStore) Get(_ context.Context, auctionID string) (domain.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[auctionID]
	if !ok {
		return domain.SettlementRecord{}, domain.ErrNotFound
	}
	return clone(rec), nil
}

// Save inserts or replaces the record.
func (s *SettlementStore) Save(_ context.Context, rec domain.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.AuctionID] = clone(rec)
	return nil
}

// ListPending returns records that are not complete, oldest first.
func (s *SettlementStore) ListPending(_ context.Context) ([]domain.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SettlementRecord
	for _, rec := range s.records {
		if !rec.Terminal() {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func clone(rec domain.SettlementRecord) domain.SettlementRecord {
	refs := make([]domain.TxRef, len(rec.TxRefs))
	copy(refs, rec.TxRefs)
	rec.TxRefs = refs
	return rec
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
