package domain

import (
	"math/big"
	"sort"
	"time"
)

// CatalogSnapshot is a point-in-time view of every order the catalog could
// read. It is built once and never modified after publication.
type CatalogSnapshot struct {
	Orders    map[string]OrderRecord `json:"orders"`
	Counter   *big.Int               `json:"counter"`
	FetchedAt time.Time              `json:"fetched_at"`
	Partial   bool                   `json:"partial"`
	FailedIDs []string               `json:"failed_ids,omitempty"`

	Active    []string `json:"active"`
	Completed []string `json:"completed"`
	Cancelled []string `json:"cancelled"`
}

// Get returns the order with the given id.
func (s *CatalogSnapshot) Get(id *big.Int) (OrderRecord, bool) {
	if s == nil || id == nil {
		return OrderRecord{}, false
	}
	o, ok := s.Orders[id.String()]
	return o, ok
}

// List returns all orders sorted by ascending order id.
func (s *CatalogSnapshot) List() []OrderRecord {
	if s == nil {
		return nil
	}
	out := make([]OrderRecord, 0, len(s.Orders))
	for _, o := range s.Orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OrderID.Cmp(out[j].OrderID) < 0
	})
	return out
}

// Classify fills the Active/Completed/Cancelled id lists from raw status.
// Expiry is deliberately ignored here.
func (s *CatalogSnapshot) Classify() {
	s.Active, s.Completed, s.Cancelled = nil, nil, nil
	for _, o := range s.List() {
		switch o.Status {
		case OrderStatusActive:
			s.Active = append(s.Active, o.Key())
		case OrderStatusCompleted:
			s.Completed = append(s.Completed, o.Key())
		case OrderStatusCancelled:
			s.Cancelled = append(s.Cancelled, o.Key())
		}
	}
}
