// Package valuation prices orders and counter-offers in USD and computes
// discount/premium figures against market and backing references. Missing
// prices never fail a call; they surface as nil values.
package valuation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/tokens"
)

var hundred = decimal.NewFromInt(100)

// Directory is the token lookup the valuator depends on.
type Directory interface {
	Resolve(addr common.Address) domain.TokenDescriptor
	AddressOf(index *big.Int) (common.Address, bool)
}

// BackingRef says one unit of a token is redeemable for PerToken units of
// BackingToken.
type BackingRef struct {
	BackingToken common.Address
	PerToken     decimal.Decimal
}

// Config carries the canonical price overrides and backing data.
type Config struct {
	// StablePegs are always priced at exactly 1 USD.
	StablePegs []common.Address
	// NativeAlias is the wrapped counterpart whose quote prices the native
	// gas token.
	NativeAlias common.Address
	Backing     map[common.Address]BackingRef
}

// Valuator is stateless apart from its configuration.
type Valuator struct {
	dir     Directory
	pegs    map[common.Address]struct{}
	alias   common.Address
	backing map[common.Address]BackingRef
}

// New builds a Valuator.
func New(dir Directory, cfg Config) *Valuator {
	pegs := make(map[common.Address]struct{}, len(cfg.StablePegs))
	for _, p := range cfg.StablePegs {
		pegs[p] = struct{}{}
	}
	backing := make(map[common.Address]BackingRef, len(cfg.Backing))
	for k, v := range cfg.Backing {
		backing[k] = v
	}
	return &Valuator{dir: dir, pegs: pegs, alias: cfg.NativeAlias, backing: backing}
}

// Value is the USD breakdown of an order. Nil means "unknown".
type Value struct {
	SellUSD   *float64   `json:"sell_usd"`
	BuyUSD    []*float64 `json:"buy_usd"`
	MinBuyUSD *float64   `json:"min_buy_usd"`
}

// Discount compares what the seller receives against market and backing
// references, in percent. Positive means the buyer pays a premium.
type Discount struct {
	VsMarketPct  *float64 `json:"vs_market_pct"`
	VsBackingPct *float64 `json:"vs_backing_pct"`
}

// Price returns the USD price of token after canonical overrides: stable
// pegs are 1.0 and the native token uses its wrapped alias.
func (v *Valuator) Price(token common.Address, prices domain.PriceSnapshot) (decimal.Decimal, bool) {
	if tokens.IsNative(token) {
		if v.alias == (common.Address{}) {
			return decimal.Zero, false
		}
		token = v.alias
	}
	if _, ok := v.pegs[token]; ok {
		return decimal.NewFromInt(1), true
	}
	q, ok := prices.Quote(token)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(q.PriceUSD), true
}

// Units converts a smallest-unit amount of token to display units.
func (v *Valuator) Units(token common.Address, raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -v.dir.Resolve(token).Decimals)
}

func (v *Valuator) usd(token common.Address, raw *big.Int, prices domain.PriceSnapshot) (decimal.Decimal, bool) {
	p, ok := v.Price(token, prices)
	if !ok {
		return decimal.Zero, false
	}
	return v.Units(token, raw).Mul(p), true
}

func (v *Valuator) legToken(leg domain.BuyLeg) (common.Address, bool) {
	return v.dir.AddressOf(leg.TokenIndex)
}

// breakdown is Value kept in decimal form for further arithmetic.
type breakdown struct {
	sell   decimal.Decimal
	sellOK bool
	legs   []decimal.Decimal
	legsOK []bool
	minBuy decimal.Decimal
	minOK  bool
}

func (v *Valuator) breakdown(o domain.OrderRecord, prices domain.PriceSnapshot) breakdown {
	b := breakdown{
		legs:   make([]decimal.Decimal, len(o.BuyLegs)),
		legsOK: make([]bool, len(o.BuyLegs)),
	}
	b.sell, b.sellOK = v.usd(o.SellToken, o.SellAmount, prices)
	for i, leg := range o.BuyLegs {
		addr, ok := v.legToken(leg)
		if !ok {
			continue
		}
		b.legs[i], b.legsOK[i] = v.usd(addr, leg.Amount, prices)
		if !b.legsOK[i] {
			continue
		}
		if !b.minOK || b.legs[i].LessThan(b.minBuy) {
			b.minBuy, b.minOK = b.legs[i], true
		}
	}
	return b
}

// ValueOf prices the order's full sell amount and every buy leg. MinBuyUSD
// is the cheapest priced leg, the worst case for the seller; it is nil when
// no leg has a price.
func (v *Valuator) ValueOf(o domain.OrderRecord, prices domain.PriceSnapshot) Value {
	b := v.breakdown(o, prices)
	out := Value{BuyUSD: make([]*float64, len(o.BuyLegs))}
	if b.sellOK {
		out.SellUSD = ptr(b.sell)
	}
	for i := range b.legs {
		if b.legsOK[i] {
			out.BuyUSD[i] = ptr(b.legs[i])
		}
	}
	if b.minOK {
		out.MinBuyUSD = ptr(b.minBuy)
	}
	return out
}

// SellUSD is the sort key used by the view pipeline.
func (v *Valuator) SellUSD(prices domain.PriceSnapshot) func(o domain.OrderRecord) (float64, bool) {
	return func(o domain.OrderRecord) (float64, bool) {
		usd, ok := v.usd(o.SellToken, o.SellAmount, prices)
		if !ok {
			return 0, false
		}
		return usd.InexactFloat64(), true
	}
}

// Discount computes both discount figures. Either is nil when it cannot be
// computed; a zero denominator always yields nil.
func (v *Valuator) Discount(o domain.OrderRecord, prices domain.PriceSnapshot) Discount {
	b := v.breakdown(o, prices)
	var d Discount
	if b.sellOK && b.minOK && !b.sell.IsZero() {
		d.VsMarketPct = ptr(pct(b.minBuy, b.sell))
	}
	d.VsBackingPct = v.backingDiscount(o, b, prices)
	return d
}

// backingDiscount compares the buy side with the sell token's backing
// value. It is nil whenever any leg lives in a different settlement domain
// than the sell token.
func (v *Valuator) backingDiscount(o domain.OrderRecord, b breakdown, prices domain.PriceSnapshot) *float64 {
	ref, ok := v.backing[o.SellToken]
	if !ok || ref.PerToken.IsZero() {
		return nil
	}
	if v.crossDomain(o) {
		return nil
	}
	backed := v.Units(o.SellToken, o.SellAmount).Mul(ref.PerToken)
	if backed.IsZero() {
		return nil
	}

	for _, leg := range o.BuyLegs {
		addr, ok := v.legToken(leg)
		if ok && addr == ref.BackingToken {
			paid := v.Units(addr, leg.Amount)
			return ptr(pct(paid, backed))
		}
	}

	backingPrice, ok := v.Price(ref.BackingToken, prices)
	if !ok || !b.minOK {
		return nil
	}
	backedUSD := backed.Mul(backingPrice)
	if backedUSD.IsZero() {
		return nil
	}
	return ptr(pct(b.minBuy, backedUSD))
}

func (v *Valuator) crossDomain(o domain.OrderRecord) bool {
	sellDomain := v.dir.Resolve(o.SellToken).Domain
	for _, leg := range o.BuyLegs {
		addr, ok := v.legToken(leg)
		if !ok {
			continue
		}
		legDomain := v.dir.Resolve(addr).Domain
		if sellDomain != "" && legDomain != "" && legDomain != sellDomain {
			return true
		}
	}
	return false
}

// OfferValue prices a counter-offer.
type OfferValue struct {
	// OfferedUSD sums the priced offered amounts; nil if none is priced.
	OfferedUSD *float64 `json:"offered_usd"`
	// SellReceived is the share of the sell amount the offer buys, in
	// smallest units, using the funding leg's fraction of its maximum.
	SellReceived *big.Int `json:"sell_received"`
	ReceivedUSD  *float64 `json:"received_usd"`
}

// ValueOfOffer prices intent against o. The funding leg is the first leg
// with a positive offered amount.
func (v *Valuator) ValueOfOffer(o domain.OrderRecord, intent domain.TradeIntent, prices domain.PriceSnapshot) OfferValue {
	var out OfferValue
	total, priced := decimal.Zero, false
	for token, amt := range intent.Offered {
		if amt == nil || amt.Sign() <= 0 {
			continue
		}
		if usd, ok := v.usd(token, amt, prices); ok {
			total, priced = total.Add(usd), true
		}
	}
	if priced {
		out.OfferedUSD = ptr(total)
	}

	for _, leg := range o.BuyLegs {
		addr, ok := v.legToken(leg)
		if !ok {
			continue
		}
		amt := offered(intent, addr)
		if amt == nil || amt.Sign() <= 0 || leg.Amount == nil || leg.Amount.Sign() == 0 {
			continue
		}
		received := new(big.Int).Mul(o.SellAmount, amt)
		received.Quo(received, leg.Amount)
		out.SellReceived = received
		if usd, ok := v.usd(o.SellToken, received, prices); ok {
			out.ReceivedUSD = ptr(usd)
		}
		break
	}
	return out
}

func offered(intent domain.TradeIntent, addr common.Address) *big.Int {
	if amt, ok := intent.Offered[addr]; ok {
		return amt
	}
	if tokens.IsNative(addr) {
		if amt, ok := intent.Offered[tokens.NativeSentinel]; ok {
			return amt
		}
		return intent.Offered[common.Address{}]
	}
	return nil
}

// pct is (a-b)/b*100; callers guarantee b != 0.
func pct(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Div(b).Mul(hundred)
}

func ptr(d decimal.Decimal) *float64 {
	f := d.InexactFloat64()
	return &f
}

// QuoteTargets lists the addresses the price feed must be asked for to
// value orders: sell and leg tokens with the native token mapped to its
// alias, pegged tokens dropped, and backing tokens added.
func (v *Valuator) QuoteTargets(orders []domain.OrderRecord) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	add := func(a common.Address) {
		if tokens.IsNative(a) {
			if v.alias == (common.Address{}) {
				return
			}
			a = v.alias
		}
		if _, pegged := v.pegs[a]; pegged {
			return
		}
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, o := range orders {
		add(o.SellToken)
		if ref, ok := v.backing[o.SellToken]; ok {
			add(ref.BackingToken)
		}
		for _, leg := range o.BuyLegs {
			if addr, ok := v.legToken(leg); ok {
				add(addr)
			}
		}
	}
	return out
}
