package invoice

import (
	"sort"
	"sync"
	"time"
)

// Store is the invoice store: primary key by id, secondary index by
// content hash for dedupe, and a per-supplier created_at index backing
// the rate limit.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*Invoice
	byHash     map[string]string      // content hash -> invoice id
	bySupplier map[string][]time.Time // supplier id -> creation times
	order      []string               // insertion order for listing
}

func NewStore() *Store {
	return &Store{
		byID:       make(map[string]*Invoice),
		byHash:     make(map[string]string),
		bySupplier: make(map[string][]time.Time),
	}
}

// Put inserts a new invoice and maintains all indexes.
func (s *Store) Put(inv *Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[inv.ID]; !exists {
		s.order = append(s.order, inv.ID)
	}
	s.byID[inv.ID] = inv
	s.byHash[inv.ContentHash] = inv.ID
	s.bySupplier[inv.SupplierID] = append(s.bySupplier[inv.SupplierID], inv.CreatedAt)
}

// Remove deletes an invoice. Only compensating rollback may call this.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	delete(s.byHash, inv.ContentHash)
	times := s.bySupplier[inv.SupplierID]
	for i, t := range times {
		if t.Equal(inv.CreatedAt) {
			s.bySupplier[inv.SupplierID] = append(times[:i], times[i+1:]...)
			break
		}
	}
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) Get(id string) (*Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.byID[id]
	return inv, ok
}

// HasID reports id uniqueness for invariant checks.
func (s *Store) HasID(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// HasHash reports whether a content hash is already present.
func (s *Store) HasHash(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHash[hash]
	return ok
}

// CountSupplierSince counts invoices the supplier created at or after
// the cutoff. Backs the per-supplier rate limit.
func (s *Store) CountSupplierSince(supplierID string, cutoff time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.bySupplier[supplierID] {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}

// Filter narrows a listing.
type Filter struct {
	SupplierID string
	BuyerID    string
	Status     Status
}

// List returns invoices in insertion order, optionally filtered.
func (s *Store) List(f Filter) []*Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Invoice, 0, len(s.order))
	for _, id := range s.order {
		inv := s.byID[id]
		if f.SupplierID != "" && inv.SupplierID != f.SupplierID {
			continue
		}
		if f.BuyerID != "" && inv.BuyerID != f.BuyerID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		out = append(out, inv)
	}
	return out
}

// PendingOlderThan returns ids of PENDING invoices created before the
// cutoff, sorted by id for a reproducible sweep order.
func (s *Store) PendingOlderThan(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, inv := range s.byID {
		if inv.Status == StatusPending && inv.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len is the number of stored invoices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
