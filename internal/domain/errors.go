package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock held by another owner")

	// Ledger boundary.
	ErrTransport       = errors.New("ledger transport failure")
	ErrMalformedRecord = errors.New("malformed ledger record")
	ErrOrderNotFound   = errors.New("order not found")

	// Trade execution.
	ErrWalletNotConnected  = errors.New("wallet not connected")
	ErrInvalidIntent       = errors.New("invalid trade intent")
	ErrSameToken           = errors.New("same token on both sides")
	ErrUserRejected        = errors.New("user rejected the request")
	ErrSettlementReverted  = errors.New("settlement reverted")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)
