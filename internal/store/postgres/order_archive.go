package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// OrderArchive implements domain.OrderArchive. Every distinct
// (order_id, last_update_time) pair observed by the catalog is one row.
type OrderArchive struct {
	pool *pgxpool.Pool
}

// NewOrderArchive creates an OrderArchive on pool.
func NewOrderArchive(pool *pgxpool.Pool) *OrderArchive {
	return &OrderArchive{pool: pool}
}

type legJSON struct {
	TokenIndex string `json:"token_index"`
	Amount     string `json:"amount"`
}

const insertVersion = `
	INSERT INTO order_versions (
		order_id, last_update_time, owner, sell_token, sell_amount,
		buy_legs, expiration_time, status, remaining_pct, observed_at
	) VALUES ($1::numeric, $2, $3, $4, $5::numeric, $6, $7, $8, $9::numeric, $10)
	ON CONFLICT (order_id, last_update_time) DO NOTHING`

// UpsertBatch records any new versions among orders in one round trip.
func (a *OrderArchive) UpsertBatch(ctx context.Context, orders []domain.OrderRecord, observedAt time.Time) error {
	if len(orders) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range orders {
		legs, err := encodeLegs(o.BuyLegs)
		if err != nil {
			return fmt.Errorf("postgres: encode legs for %s: %w", o.OrderID, err)
		}
		batch.Queue(insertVersion,
			o.OrderID.String(), o.LastUpdateTime,
			strings.ToLower(o.Owner.Hex()), strings.ToLower(o.SellToken.Hex()),
			o.SellAmount.String(), legs, o.ExpirationTime, int16(o.Status),
			o.RemainingExecutionPercentage.String(), observedAt,
		)
	}
	if err := a.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: archive %d orders: %w", len(orders), err)
	}
	return nil
}

const versionColumns = `
	order_id::text, owner, sell_token, sell_amount::text, buy_legs,
	expiration_time, status, remaining_pct::text, last_update_time`

// Get returns the latest archived version of orderID.
func (a *OrderArchive) Get(ctx context.Context, orderID string) (domain.OrderRecord, error) {
	row := a.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM order_versions
		 WHERE order_id = $1::numeric ORDER BY last_update_time DESC LIMIT 1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OrderRecord{}, fmt.Errorf("postgres: order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("postgres: get order %s: %w", orderID, err)
	}
	return o, nil
}

// ListByOwner returns the latest version of every order owner created,
// highest id first.
func (a *OrderArchive) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.OrderRecord, error) {
	var w where
	w.add("owner = $%d", strings.ToLower(owner))
	w.timeRange("observed_at", opts)
	query := `SELECT DISTINCT ON (order_id) ` + versionColumns + ` FROM order_versions` + w.sql() +
		` ORDER BY order_id DESC, last_update_time DESC` + w.page(opts)

	rows, err := a.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", owner, err)
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (domain.OrderRecord, error) {
	var (
		id, owner, sellToken, sellAmount, remaining string
		legs                                        []byte
		status                                      int16
		o                                           domain.OrderRecord
	)
	if err := row.Scan(&id, &owner, &sellToken, &sellAmount, &legs,
		&o.ExpirationTime, &status, &remaining, &o.LastUpdateTime); err != nil {
		return domain.OrderRecord{}, err
	}
	var err error
	if o.OrderID, err = parseBig(id); err != nil {
		return domain.OrderRecord{}, err
	}
	if o.SellAmount, err = parseBig(sellAmount); err != nil {
		return domain.OrderRecord{}, err
	}
	if o.RemainingExecutionPercentage, err = parseBig(remaining); err != nil {
		return domain.OrderRecord{}, err
	}
	if o.BuyLegs, err = decodeLegs(legs); err != nil {
		return domain.OrderRecord{}, err
	}
	o.Owner = common.HexToAddress(owner)
	o.SellToken = common.HexToAddress(sellToken)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func encodeLegs(legs []domain.BuyLeg) ([]byte, error) {
	out := make([]legJSON, len(legs))
	for i, l := range legs {
		out[i] = legJSON{TokenIndex: l.TokenIndex.String(), Amount: l.Amount.String()}
	}
	return json.Marshal(out)
}

func decodeLegs(raw []byte) ([]domain.BuyLeg, error) {
	var in []legJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode buy legs: %w", err)
	}
	out := make([]domain.BuyLeg, len(in))
	for i, l := range in {
		idx, err := parseBig(l.TokenIndex)
		if err != nil {
			return nil, err
		}
		amt, err := parseBig(l.Amount)
		if err != nil {
			return nil, err
		}
		out[i] = domain.BuyLeg{TokenIndex: idx, Amount: amt}
	}
	return out, nil
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

var _ domain.OrderArchive = (*OrderArchive)(nil)
