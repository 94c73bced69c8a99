package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/executor"
)

// TradeExecutor runs one trade attempt to completion.
type TradeExecutor interface {
	Execute(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error)
}

// TradeHandler accepts counter-offers and the proportional-fill helper.
type TradeHandler struct {
	exec     TradeExecutor
	keys     *executor.Idempotency
	catalog  SnapshotSource
	prices   PriceSource
	valuator Valuator
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler. keys may be nil to disable
// Idempotency-Key handling.
func NewTradeHandler(exec TradeExecutor, keys *executor.Idempotency, catalog SnapshotSource, prices PriceSource, valuator Valuator, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		exec:     exec,
		keys:     keys,
		catalog:  catalog,
		prices:   prices,
		valuator: valuator,
		logger:   logger,
	}
}

// intentRequest carries amounts as decimal strings keyed by token address.
type intentRequest struct {
	OrderID string            `json:"order_id"`
	Offered map[string]string `json:"offered"`
}

func (req intentRequest) intent() (domain.TradeIntent, error) {
	id, err := parseOrderID(req.OrderID)
	if err != nil {
		return domain.TradeIntent{}, err
	}
	offered := make(map[common.Address]*big.Int, len(req.Offered))
	for token, amt := range req.Offered {
		addr, err := parseAddress(token)
		if err != nil {
			return domain.TradeIntent{}, err
		}
		v, err := parseAmount(amt)
		if err != nil {
			return domain.TradeIntent{}, err
		}
		offered[addr] = v
	}
	return domain.TradeIntent{OrderID: id, Offered: offered}, nil
}

type tradeResponse struct {
	Result domain.TradeResult `json:"result"`
	Error  *tradeErrorBody    `json:"error,omitempty"`
}

type tradeErrorBody struct {
	Kind    executor.Kind `json:"kind"`
	Message string        `json:"message"`
}

// statusFor maps a failure kind to the HTTP status the client sees.
func statusFor(kind executor.Kind) int {
	switch kind {
	case executor.KindWalletNotConnected:
		return http.StatusServiceUnavailable
	case executor.KindInvalidIntent, executor.KindSameToken:
		return http.StatusBadRequest
	case executor.KindUserRejected:
		return http.StatusForbidden
	case executor.KindSettlementReverted:
		return http.StatusUnprocessableEntity
	case executor.KindConfirmationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Execute runs a trade and waits for its confirmation. A repeated
// Idempotency-Key within the guard's TTL is rejected with 409.
// POST /api/trades
func (h *TradeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	intent, err := req.intent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if h.keys != nil && !h.keys.Claim(key) {
		writeError(w, http.StatusConflict, "duplicate Idempotency-Key")
		return
	}

	result, err := h.exec.Execute(r.Context(), intent)
	if err == nil {
		writeJSON(w, http.StatusOK, tradeResponse{Result: result})
		return
	}

	te := executor.Classify(err)
	// Release the key when nothing reached the ledger.
	if h.keys != nil && result.ExecuteTx == nil && result.ApprovalTx == nil {
		h.keys.Release(key)
	}
	h.logger.WarnContext(r.Context(), "handler: trade failed",
		slog.String("attempt_id", result.AttemptID),
		slog.String("kind", string(te.Kind)),
		slog.String("error", te.Message),
	)
	writeJSON(w, statusFor(te.Kind), tradeResponse{
		Result: result,
		Error:  &tradeErrorBody{Kind: te.Kind, Message: te.Message},
	})
}

type rescaleRequest struct {
	OrderID  string `json:"order_id"`
	LegIndex int    `json:"leg_index"`
	Amount   string `json:"amount"`
}

// Rescale applies the proportional-fill rule: editing one leg moves every
// other leg to the same fraction of its own maximum.
// POST /api/trades/rescale
func (h *TradeHandler) Rescale(w http.ResponseWriter, r *http.Request) {
	var req rescaleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := parseOrderID(req.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, ok := h.catalog.Snapshot().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	amounts, err := executor.Rescale(o, req.LegIndex, amount)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidIntent) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": id.String(),
		"amounts":  amountStrings(amounts),
		"max":      amountStrings(executor.MaxLegAmounts(o)),
	})
}

// Quote prices a counter-offer without submitting it.
// POST /api/trades/quote
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	intent, err := req.intent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, ok := h.catalog.Snapshot().Get(intent.OrderID)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	targets := h.valuator.QuoteTargets([]domain.OrderRecord{o})
	prices := h.prices.Snapshot(r.Context(), targets)
	writeJSON(w, http.StatusOK, h.valuator.ValueOfOffer(o, intent, prices))
}
