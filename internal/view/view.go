// Package view is the deterministic filter/sort pipeline over a catalog
// snapshot. Everything here is pure: the same snapshot, query and clock
// always produce the same ordering.
package view

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// OwnerFilter selects orders by their relation to the viewer.
type OwnerFilter string

const (
	OwnerAll    OwnerFilter = "all"
	OwnerMine   OwnerFilter = "mine"
	OwnerOthers OwnerFilter = "others"
)

// StatusFilter selects one display status, or all of them.
type StatusFilter string

const (
	StatusAll       StatusFilter = "all"
	StatusActive    StatusFilter = StatusFilter(domain.DisplayActive)
	StatusInactive  StatusFilter = StatusFilter(domain.DisplayInactive)
	StatusCompleted StatusFilter = StatusFilter(domain.DisplayCompleted)
	StatusCancelled StatusFilter = StatusFilter(domain.DisplayCancelled)
)

// SortField names the ordering key.
type SortField string

const (
	SortID         SortField = "id"
	SortSellUSD    SortField = "sell_usd"
	SortLegCount   SortField = "legs"
	SortFill       SortField = "fill"
	SortOwner      SortField = "owner"
	SortStatus     SortField = "status"
	SortExpiration SortField = "expiration"
)

// Direction is ascending or descending.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ClassFilter keeps orders touching Class (sell token or any buy leg).
// Exclude inverts the match. An empty Class disables the stage.
type ClassFilter struct {
	Class   string
	Exclude bool
}

// Query is the full selector set for one Apply call.
type Query struct {
	Class     ClassFilter
	Owner     OwnerFilter
	Status    StatusFilter
	Sort      SortField
	Direction Direction
	Viewer    common.Address
	Now       time.Time
}

// TokenClasses answers class membership for the token-class stage.
type TokenClasses interface {
	AddressOf(index *big.Int) (common.Address, bool)
	InClass(addr common.Address, class string) bool
}

// SellUSDFunc returns the USD value of an order's sell side; ok is false
// when no price is available.
type SellUSDFunc func(o domain.OrderRecord) (usd float64, ok bool)

// Apply filters then sorts the snapshot. Orders are first put in ascending
// id order so ties keep a stable, reproducible position.
func Apply(snap *domain.CatalogSnapshot, q Query, classes TokenClasses, sellUSD SellUSDFunc) []domain.OrderRecord {
	all := snap.List()
	out := make([]domain.OrderRecord, 0, len(all))
	for _, o := range all {
		if !matchClass(o, q.Class, classes) {
			continue
		}
		if !matchOwner(o, q.Owner, q.Viewer) {
			continue
		}
		if !matchStatus(o, q.Status, q.Now) {
			continue
		}
		out = append(out, o)
	}

	less := lessFunc(q.Sort, sellUSD)
	if less == nil {
		if q.Direction == Desc {
			reverse(out)
		}
		return out
	}
	if q.Direction == Desc {
		sort.SliceStable(out, func(i, j int) bool { return less(out[j], out[i]) })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

func matchClass(o domain.OrderRecord, f ClassFilter, classes TokenClasses) bool {
	if f.Class == "" || classes == nil {
		return true
	}
	hit := classes.InClass(o.SellToken, f.Class)
	for _, leg := range o.BuyLegs {
		if hit {
			break
		}
		if addr, ok := classes.AddressOf(leg.TokenIndex); ok {
			hit = classes.InClass(addr, f.Class)
		}
	}
	return hit != f.Exclude
}

func matchOwner(o domain.OrderRecord, f OwnerFilter, viewer common.Address) bool {
	switch f {
	case OwnerMine:
		return sameAddress(o.Owner, viewer)
	case OwnerOthers:
		return !sameAddress(o.Owner, viewer)
	default:
		return true
	}
}

// sameAddress compares case-insensitively. common.Address is already
// case-normalised bytes, so byte equality is enough.
func sameAddress(a, b common.Address) bool {
	return a == b
}

func matchStatus(o domain.OrderRecord, f StatusFilter, now time.Time) bool {
	if f == "" || f == StatusAll {
		return true
	}
	return StatusFilter(o.DisplayStatus(now)) == f
}

func lessFunc(field SortField, sellUSD SellUSDFunc) func(a, b domain.OrderRecord) bool {
	switch field {
	case SortSellUSD:
		value := func(o domain.OrderRecord) float64 {
			if sellUSD == nil {
				return 0
			}
			if v, ok := sellUSD(o); ok {
				return v
			}
			return 0
		}
		return func(a, b domain.OrderRecord) bool { return value(a) < value(b) }
	case SortLegCount:
		return func(a, b domain.OrderRecord) bool { return len(a.BuyLegs) < len(b.BuyLegs) }
	case SortFill:
		return func(a, b domain.OrderRecord) bool { return a.FillFraction() < b.FillFraction() }
	case SortOwner:
		return func(a, b domain.OrderRecord) bool {
			return strings.ToLower(a.Owner.Hex()) < strings.ToLower(b.Owner.Hex())
		}
	case SortStatus:
		return func(a, b domain.OrderRecord) bool { return a.Status < b.Status }
	case SortExpiration:
		return func(a, b domain.OrderRecord) bool { return a.ExpirationTime < b.ExpirationTime }
	default:
		return nil
	}
}

func reverse(s []domain.OrderRecord) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// ParseOwner validates an owner filter from user input. Empty means all.
func ParseOwner(s string) (OwnerFilter, error) {
	switch f := OwnerFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return OwnerAll, nil
	case OwnerAll, OwnerMine, OwnerOthers:
		return f, nil
	default:
		return "", fmt.Errorf("view: unknown owner filter %q", s)
	}
}

// ParseStatus validates a status filter. Empty means active.
func ParseStatus(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return StatusActive, nil
	case StatusAll, StatusActive, StatusInactive, StatusCompleted, StatusCancelled:
		return f, nil
	default:
		return "", fmt.Errorf("view: unknown status filter %q", s)
	}
}

// ParseSort validates a sort field and direction. Empty means id ascending.
func ParseSort(field, dir string) (SortField, Direction, error) {
	f := SortField(strings.ToLower(strings.TrimSpace(field)))
	switch f {
	case "":
		f = SortID
	case SortID, SortSellUSD, SortLegCount, SortFill, SortOwner, SortStatus, SortExpiration:
	default:
		return "", "", fmt.Errorf("view: unknown sort field %q", field)
	}
	d := Direction(strings.ToLower(strings.TrimSpace(dir)))
	switch d {
	case "":
		d = Asc
	case Asc, Desc:
	default:
		return "", "", fmt.Errorf("view: unknown sort direction %q", dir)
	}
	return f, d, nil
}
