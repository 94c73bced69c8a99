package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// Logs replays events of q.Kind from q.FromBlock to the current head in
// windows of LogChunkBlocks. Logs that do not decode are skipped.
func (c *Client) Logs(ctx context.Context, q domain.LogQuery) ([]domain.LogEntry, uint64, error) {
	event, ok := exchangeABI.Events[string(q.Kind)]
	if !ok {
		return nil, 0, fmt.Errorf("chain: logs: unknown event %q", q.Kind)
	}

	head, err := c.Head(ctx)
	if err != nil {
		return nil, 0, err
	}
	if q.FromBlock > head {
		return nil, head, nil
	}

	topics := [][]common.Hash{{event.ID}}
	if q.Actor != nil {
		topics = append(topics, nil, []common.Hash{common.BytesToHash(q.Actor.Bytes())})
	}

	var out []domain.LogEntry
	times := make(map[uint64]time.Time)
	for from := q.FromBlock; from <= head; from += c.cfg.LogChunkBlocks {
		to := from + c.cfg.LogChunkBlocks - 1
		if to > head {
			to = head
		}
		filter := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{c.cfg.Contract},
			Topics:    topics,
		}

		var raw []types.Log
		err := c.do(ctx, "filterLogs", func(ctx context.Context) error {
			var err error
			raw, err = c.backend.FilterLogs(ctx, filter)
			return err
		})
		if err != nil {
			return nil, 0, classify("filterLogs", err)
		}

		for _, lg := range raw {
			entry, err := decodeLog(q.Kind, lg)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping undecodable log",
					slog.String("tx", lg.TxHash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			ts, ok := times[lg.BlockNumber]
			if !ok {
				ts, err = c.blockTime(ctx, lg.BlockNumber)
				if err != nil {
					return nil, 0, err
				}
				times[lg.BlockNumber] = ts
			}
			entry.Timestamp = ts
			out = append(out, entry)
		}
	}
	return out, head, nil
}

func decodeLog(kind domain.LedgerEventKind, lg types.Log) (domain.LogEntry, error) {
	if len(lg.Topics) != 3 {
		return domain.LogEntry{}, fmt.Errorf("%w: %d topics", domain.ErrMalformedRecord, len(lg.Topics))
	}
	entry := domain.LogEntry{
		Kind:        kind,
		OrderID:     new(big.Int).SetBytes(lg.Topics[1].Bytes()),
		Actor:       common.BytesToAddress(lg.Topics[2].Bytes()),
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}
	if kind == domain.EventOrderExecuted {
		vals, err := exchangeABI.Unpack(string(kind), lg.Data)
		if err != nil || len(vals) != 2 {
			return domain.LogEntry{}, fmt.Errorf("%w: OrderExecuted data: %v", domain.ErrMalformedRecord, err)
		}
		idx, ok1 := vals[0].(*big.Int)
		amt, ok2 := vals[1].(*big.Int)
		if !ok1 || !ok2 {
			return domain.LogEntry{}, fmt.Errorf("%w: OrderExecuted data types", domain.ErrMalformedRecord)
		}
		entry.TokenIndex = idx
		entry.Amount = amt
	}
	return entry, nil
}
