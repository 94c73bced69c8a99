package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/executor"
	"github.com/alanyoungcy/otcdesk/internal/valuation"
	"github.com/alanyoungcy/otcdesk/internal/view"
)

// PriceSource returns spot prices for a set of tokens. Missing prices are
// simply absent from the snapshot.
type PriceSource interface {
	Snapshot(ctx context.Context, tokens []common.Address) domain.PriceSnapshot
}

// Valuator prices orders and counter-offers.
type Valuator interface {
	ValueOf(o domain.OrderRecord, prices domain.PriceSnapshot) valuation.Value
	Discount(o domain.OrderRecord, prices domain.PriceSnapshot) valuation.Discount
	SellUSD(prices domain.PriceSnapshot) func(o domain.OrderRecord) (float64, bool)
	QuoteTargets(orders []domain.OrderRecord) []common.Address
	ValueOfOffer(o domain.OrderRecord, intent domain.TradeIntent, prices domain.PriceSnapshot) valuation.OfferValue
}

// TokenDirectory resolves token indexes and addresses to descriptors.
type TokenDirectory interface {
	view.TokenClasses
	Resolve(addr common.Address) domain.TokenDescriptor
	ByIndex(index *big.Int) domain.TokenDescriptor
}

// OrderHandler serves the order book views.
type OrderHandler struct {
	catalog  SnapshotSource
	prices   PriceSource
	valuator Valuator
	tokens   TokenDirectory
	archive  domain.OrderArchive
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrderHandler creates an OrderHandler. archive may be nil.
func NewOrderHandler(catalog SnapshotSource, prices PriceSource, valuator Valuator, tokens TokenDirectory, archive domain.OrderArchive, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		catalog:  catalog,
		prices:   prices,
		valuator: valuator,
		tokens:   tokens,
		archive:  archive,
		logger:   logger,
		now:      time.Now,
	}
}

type legView struct {
	Token     domain.TokenDescriptor `json:"token"`
	Amount    string                 `json:"amount"`
	Remaining string                 `json:"remaining"`
}

type orderView struct {
	OrderID       string                 `json:"order_id"`
	Owner         common.Address         `json:"owner"`
	SellToken     domain.TokenDescriptor `json:"sell_token"`
	SellAmount    string                 `json:"sell_amount"`
	Legs          []legView              `json:"legs"`
	Status        string                 `json:"status"`
	DisplayStatus domain.DisplayStatus   `json:"display_status"`
	Fill          float64                `json:"fill"`
	Expiration    time.Time              `json:"expiration"`
	LastUpdate    time.Time              `json:"last_update"`
	Value         valuation.Value        `json:"value"`
	Discount      valuation.Discount     `json:"discount"`
}

type listOrdersResponse struct {
	Orders    []orderView `json:"orders"`
	Total     int         `json:"total"`
	Partial   bool        `json:"partial"`
	FetchedAt time.Time   `json:"fetched_at"`
}

func (h *OrderHandler) render(o domain.OrderRecord, prices domain.PriceSnapshot, now time.Time) orderView {
	maxes := executor.MaxLegAmounts(o)
	legs := make([]legView, len(o.BuyLegs))
	for i, leg := range o.BuyLegs {
		legs[i] = legView{
			Token:     h.tokens.ByIndex(leg.TokenIndex),
			Amount:    leg.Amount.String(),
			Remaining: maxes[i].String(),
		}
	}
	return orderView{
		OrderID:       o.Key(),
		Owner:         o.Owner,
		SellToken:     h.tokens.Resolve(o.SellToken),
		SellAmount:    o.SellAmount.String(),
		Legs:          legs,
		Status:        o.Status.String(),
		DisplayStatus: o.DisplayStatus(now),
		Fill:          o.FillFraction(),
		Expiration:    time.Unix(o.ExpirationTime, 0).UTC(),
		LastUpdate:    time.Unix(o.LastUpdateTime, 0).UTC(),
		Value:         h.valuator.ValueOf(o, prices),
		Discount:      h.valuator.Discount(o, prices),
	}
}

// parseQuery turns query parameters into a view.Query. A class prefixed
// with "!" excludes orders touching that class.
func parseQuery(r *http.Request, now time.Time) (view.Query, error) {
	q := r.URL.Query()
	owner, err := view.ParseOwner(q.Get("owner"))
	if err != nil {
		return view.Query{}, err
	}
	status, err := view.ParseStatus(q.Get("status"))
	if err != nil {
		return view.Query{}, err
	}
	sort, dir, err := view.ParseSort(q.Get("sort"), q.Get("dir"))
	if err != nil {
		return view.Query{}, err
	}
	viewer, err := parseViewer(r)
	if err != nil {
		return view.Query{}, err
	}
	if owner != view.OwnerAll && viewer == (common.Address{}) {
		return view.Query{}, errors.New("owner filter requires viewer")
	}

	class := strings.TrimSpace(q.Get("class"))
	exclude := strings.HasPrefix(class, "!")
	return view.Query{
		Class:     view.ClassFilter{Class: strings.TrimPrefix(class, "!"), Exclude: exclude},
		Owner:     owner,
		Status:    status,
		Sort:      sort,
		Direction: dir,
		Viewer:    viewer,
		Now:       now,
	}, nil
}

// ListOrders filters and sorts the current snapshot.
// GET /api/orders?class=stable&owner=mine&status=active&sort=sell_usd&dir=desc&viewer=0x...&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "order book not loaded yet")
		return
	}
	now := h.now()
	query, err := parseQuery(r, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var prices domain.PriceSnapshot
	var sellUSD view.SellUSDFunc
	if query.Sort == view.SortSellUSD {
		prices = h.prices.Snapshot(r.Context(), h.valuator.QuoteTargets(snap.List()))
		sellUSD = h.valuator.SellUSD(prices)
	}
	ordered := view.Apply(snap, query, h.tokens, sellUSD)

	opts := parseListOpts(r)
	page := ordered[min(opts.Offset, len(ordered)):]
	page = page[:min(opts.Limit, len(page))]
	if query.Sort != view.SortSellUSD {
		prices = h.prices.Snapshot(r.Context(), h.valuator.QuoteTargets(page))
	}

	out := make([]orderView, len(page))
	for i, o := range page {
		out[i] = h.render(o, prices, now)
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{
		Orders:    out,
		Total:     len(ordered),
		Partial:   snap.Partial,
		FetchedAt: snap.FetchedAt,
	})
}

// GetOrder returns one order with valuation. Orders missing from the
// snapshot fall back to the archive when one is configured.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, ok := h.catalog.Snapshot().Get(id)
	if !ok && h.archive != nil {
		archived, aerr := h.archive.Get(r.Context(), id.String())
		switch {
		case aerr == nil:
			o, ok = archived, true
		case !errors.Is(aerr, domain.ErrNotFound):
			h.logger.ErrorContext(r.Context(), "handler: archive lookup failed",
				slog.String("order_id", id.String()),
				slog.String("error", aerr.Error()),
			)
		}
	}
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	prices := h.prices.Snapshot(r.Context(), h.valuator.QuoteTargets([]domain.OrderRecord{o}))
	writeJSON(w, http.StatusOK, h.render(o, prices, h.now()))
}

// OwnerHistory lists archived order versions for one owner, latest version
// per order.
// GET /api/owners/{owner}/orders?limit=50&offset=0
func (h *OrderHandler) OwnerHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotImplemented, "order archive is not enabled")
		return
	}
	owner, err := parseAddress(pathParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := h.archive.ListByOwner(r.Context(), strings.ToLower(owner.Hex()), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: owner history failed",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	now := h.now()
	out := make([]orderView, len(orders))
	for i, o := range orders {
		out[i] = h.render(o, domain.PriceSnapshot{}, now)
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}
