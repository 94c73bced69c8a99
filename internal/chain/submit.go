package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// gasHeadroomPct is added on top of the node's gas estimate.
const gasHeadroomPct = 20

// Submit signs and broadcasts call as an EIP-1559 transaction from the
// connected wallet. A revert during gas estimation is returned as
// ErrSettlementReverted carrying the node's message; nothing is sent.
func (c *Client) Submit(ctx context.Context, call domain.TxCall) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, fmt.Errorf("chain: submit: %w", domain.ErrWalletNotConnected)
	}
	from := c.signer.Address()
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	var (
		nonce uint64
		tip   *big.Int
		head  *types.Header
		gas   uint64
	)
	err := c.do(ctx, "pendingNonce", func(ctx context.Context) error {
		var err error
		nonce, err = c.backend.PendingNonceAt(ctx, from)
		return err
	})
	if err != nil {
		return common.Hash{}, classify("pendingNonce", err)
	}
	err = c.do(ctx, "gasTipCap", func(ctx context.Context) error {
		var err error
		tip, err = c.backend.SuggestGasTipCap(ctx)
		return err
	})
	if err != nil {
		return common.Hash{}, classify("gasTipCap", err)
	}
	err = c.do(ctx, "headerByNumber", func(ctx context.Context) error {
		var err error
		head, err = c.backend.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return common.Hash{}, classify("headerByNumber", err)
	}

	to := call.To
	err = c.do(ctx, "estimateGas", func(ctx context.Context) error {
		var err error
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  call.Data,
		})
		return err
	})
	if err != nil {
		return common.Hash{}, classify("estimateGas", err)
	}
	gas += gas * gasHeadroomPct / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(c.cfg.ChainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap(head, tip),
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	})

	signed, err := c.signer.SignTx(ctx, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign: %w", err)
	}

	err = c.do(ctx, "sendTransaction", func(ctx context.Context) error {
		return c.backend.SendTransaction(ctx, signed)
	})
	if err != nil {
		return common.Hash{}, classify("sendTransaction", err)
	}

	c.logger.InfoContext(ctx, "transaction submitted",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return signed.Hash(), nil
}

// feeCap is 2*baseFee + tip, the usual headroom for one full base fee doubling.
func feeCap(head *types.Header, tip *big.Int) *big.Int {
	out := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		out.Add(out, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return out
}

// AwaitReceipt polls for the receipt of tx until it is mined or timeout
// elapses. Transient lookup failures are retried; the timeout surfaces as
// ErrConfirmationTimeout.
func (c *Client) AwaitReceipt(ctx context.Context, tx common.Hash, timeout time.Duration) (domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		var rcpt *types.Receipt
		err := c.do(ctx, "transactionReceipt", func(ctx context.Context) error {
			var err error
			rcpt, err = c.backend.TransactionReceipt(ctx, tx)
			return err
		})
		switch {
		case err == nil && rcpt != nil:
			return domain.Receipt{
				TxHash:      rcpt.TxHash,
				BlockNumber: rcpt.BlockNumber.Uint64(),
				Success:     rcpt.Status == types.ReceiptStatusSuccessful,
				GasUsed:     rcpt.GasUsed,
			}, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			c.logger.DebugContext(ctx, "receipt lookup failed, retrying",
				slog.String("tx", tx.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return domain.Receipt{}, fmt.Errorf("chain: await %s after %s: %w", tx.Hex(), timeout, domain.ErrConfirmationTimeout)
			}
			return domain.Receipt{}, fmt.Errorf("chain: await %s: %w", tx.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
