package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker/v2"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// isRevert reports whether err is a ledger-level rejection rather than a
// network failure.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}

// breakerSuccess tells the breaker which outcomes do not count against the
// endpoint's health.
func breakerSuccess(err error) bool {
	return err == nil || isRevert(err) || errors.Is(err, ethereum.NotFound)
}

// classify maps a raw RPC error onto the domain taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("chain: %s: %w: %w", op, domain.ErrTransport, err)
	case isRevert(err):
		return fmt.Errorf("chain: %s: %w: %w", op, domain.ErrSettlementReverted, err)
	default:
		return fmt.Errorf("chain: %s: %w: %w", op, domain.ErrTransport, err)
	}
}
