// Package tokens is the static token directory: it maps the contract's
// token index table to addresses and resolves addresses to descriptors.
package tokens

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// NativeSentinel is the conventional placeholder address for the chain's
// gas token. The zero address is the other accepted spelling.
var NativeSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

const unknownTicker = "UNKNOWN"

// Entry is one configured token.
type Entry struct {
	Index       int64
	Address     string
	Ticker      string
	Decimals    int32
	DisplayName string
	Domain      string
	Classes     []string
	Native      bool
}

// Directory is an immutable lookup table. All methods are safe for
// concurrent use.
type Directory struct {
	byIndex map[string]common.Address
	indexOf map[common.Address]*big.Int
	byAddr  map[common.Address]domain.TokenDescriptor
	native  domain.TokenDescriptor
}

// IsNative reports whether addr is one of the native-token spellings.
func IsNative(addr common.Address) bool {
	return addr == (common.Address{}) || addr == NativeSentinel
}

// New builds a directory from the configured entries. Entries flagged Native
// (or using a native sentinel address) collapse into one canonical
// descriptor addressed by the zero address.
func New(entries []Entry) *Directory {
	d := &Directory{
		byIndex: make(map[string]common.Address, len(entries)),
		indexOf: make(map[common.Address]*big.Int, len(entries)),
		byAddr:  make(map[common.Address]domain.TokenDescriptor, len(entries)),
		native: domain.TokenDescriptor{
			Ticker:      "NATIVE",
			Decimals:    18,
			DisplayName: "Native token",
			Native:      true,
			Known:       true,
		},
	}

	for _, e := range entries {
		addr := common.HexToAddress(strings.TrimSpace(e.Address))
		native := e.Native || IsNative(addr)
		desc := domain.TokenDescriptor{
			Address:     addr,
			Ticker:      e.Ticker,
			Decimals:    e.Decimals,
			DisplayName: e.DisplayName,
			Domain:      e.Domain,
			Classes:     append([]string(nil), e.Classes...),
			Native:      native,
			Known:       true,
		}
		if native {
			desc.Address = common.Address{}
			d.native = desc
			addr = common.Address{}
		} else {
			d.byAddr[addr] = desc
		}
		idx := big.NewInt(e.Index)
		d.byIndex[idx.String()] = addr
		d.indexOf[addr] = idx
	}
	return d
}

// Canonical maps both native sentinels onto the zero address and returns
// every other address unchanged.
func (d *Directory) Canonical(addr common.Address) common.Address {
	if IsNative(addr) {
		return common.Address{}
	}
	return addr
}

// Resolve returns the descriptor for addr. Unknown addresses get a
// placeholder with 18 decimals; Resolve never fails.
func (d *Directory) Resolve(addr common.Address) domain.TokenDescriptor {
	if IsNative(addr) {
		return d.native
	}
	if desc, ok := d.byAddr[addr]; ok {
		return desc
	}
	return placeholder(addr)
}

// AddressOf maps a contract token index to an address.
func (d *Directory) AddressOf(index *big.Int) (common.Address, bool) {
	if index == nil {
		return common.Address{}, false
	}
	addr, ok := d.byIndex[index.String()]
	return addr, ok
}

// ByIndex resolves a contract token index straight to a descriptor.
func (d *Directory) ByIndex(index *big.Int) domain.TokenDescriptor {
	addr, ok := d.AddressOf(index)
	if !ok {
		desc := placeholder(common.Address{})
		if index != nil {
			desc.DisplayName = "Unknown token #" + index.String()
		}
		return desc
	}
	return d.Resolve(addr)
}

// IndexOf is the inverse of AddressOf. Native sentinels resolve to the
// native token's index.
func (d *Directory) IndexOf(addr common.Address) (*big.Int, bool) {
	idx, ok := d.indexOf[d.Canonical(addr)]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(idx), true
}

// InClass reports whether the token at addr belongs to class.
func (d *Directory) InClass(addr common.Address, class string) bool {
	return d.Resolve(addr).InClass(class)
}

// All returns every known non-native descriptor plus the native one.
func (d *Directory) All() []domain.TokenDescriptor {
	out := make([]domain.TokenDescriptor, 0, len(d.byAddr)+1)
	out = append(out, d.native)
	for _, desc := range d.byAddr {
		out = append(out, desc)
	}
	return out
}

func placeholder(addr common.Address) domain.TokenDescriptor {
	return domain.TokenDescriptor{
		Address:     addr,
		Ticker:      unknownTicker,
		Decimals:    18,
		DisplayName: "Unknown token",
	}
}
