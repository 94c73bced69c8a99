package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// Kind is the caller-facing failure class of a trade attempt.
type Kind string

const (
	KindWalletNotConnected  Kind = "walletNotConnected"
	KindInvalidIntent       Kind = "invalidIntent"
	KindSameToken           Kind = "sameTokenOnBothSides"
	KindUserRejected        Kind = "userRejected"
	KindSettlementReverted  Kind = "settlementReverted"
	KindConfirmationTimeout Kind = "confirmationTimeout"
	KindUnknown             Kind = "unknown"
)

var kindSentinels = map[Kind]error{
	KindWalletNotConnected:  domain.ErrWalletNotConnected,
	KindInvalidIntent:       domain.ErrInvalidIntent,
	KindSameToken:           domain.ErrSameToken,
	KindUserRejected:        domain.ErrUserRejected,
	KindSettlementReverted:  domain.ErrSettlementReverted,
	KindConfirmationTimeout: domain.ErrConfirmationTimeout,
}

const userRejectedMessage = "Transaction was rejected in the wallet."

// rejectionPhrases are the wallet-layer spellings of a declined signature.
var rejectionPhrases = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
	"action_rejected",
	"code=4001",
	"code: 4001",
	`"code":4001`,
}

// TradeError is returned by Execute. errors.Is matches both the domain
// sentinel for Kind and the wrapped cause.
type TradeError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("executor: %s: %s", e.Kind, e.Message)
}

func (e *TradeError) Unwrap() []error {
	var out []error
	if s, ok := kindSentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func invalid(format string, args ...any) *TradeError {
	return &TradeError{Kind: KindInvalidIntent, Message: fmt.Sprintf(format, args...)}
}

// isUserRejection matches the known wallet rejection phrases.
func isUserRejection(err error) bool {
	if errors.Is(err, domain.ErrUserRejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rejectionPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Classify maps any error from the ledger boundary onto a TradeError.
// Rejections get a normalised message; reverts keep the node's reason.
func Classify(err error) *TradeError {
	if err == nil {
		return nil
	}
	var te *TradeError
	if errors.As(err, &te) {
		return te
	}
	switch {
	case errors.Is(err, domain.ErrWalletNotConnected):
		return &TradeError{Kind: KindWalletNotConnected, Message: "Connect a wallet to trade.", Err: err}
	case isUserRejection(err):
		return &TradeError{Kind: KindUserRejected, Message: userRejectedMessage, Err: err}
	case errors.Is(err, domain.ErrInvalidIntent):
		return &TradeError{Kind: KindInvalidIntent, Message: err.Error(), Err: err}
	case errors.Is(err, domain.ErrSameToken):
		return &TradeError{Kind: KindSameToken, Message: "Cannot pay with the token being sold.", Err: err}
	case errors.Is(err, domain.ErrSettlementReverted):
		return &TradeError{Kind: KindSettlementReverted, Message: "Settlement reverted: " + revertReason(err), Err: err}
	case errors.Is(err, domain.ErrConfirmationTimeout):
		return &TradeError{
			Kind:    KindConfirmationTimeout,
			Message: "Transaction not confirmed in time; its final state is unknown.",
			Err:     err,
		}
	default:
		return &TradeError{Kind: KindUnknown, Message: err.Error(), Err: err}
	}
}

// revertReason extracts the text after "execution reverted:" if present.
func revertReason(err error) string {
	msg := err.Error()
	const marker = "execution reverted"
	i := strings.Index(strings.ToLower(msg), marker)
	if i < 0 {
		return msg
	}
	reason := strings.TrimLeft(msg[i+len(marker):], ": ")
	if reason == "" {
		return marker
	}
	return reason
}
