package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Validation errors: the request itself is malformed.
var (
	ErrLengthMismatch = errors.New("prices and listing prices differ in length")
	ErrWrongAmount    = errors.New("payment does not equal listing price")
)

// Authorization errors: the caller lacks the required capability.
var (
	ErrNotOwner  = errors.New("caller is not the ticket owner")
	ErrNotSeller = errors.New("caller is not the listing seller")
)

// Policy violations: the operation is well-formed but forbidden by the
// anti-scalping rules.
var (
	ErrCapExceeded          = errors.New("price exceeds resale cap")
	ErrResaleLimitExceeded  = errors.New("resale limit reached")
	ErrHoldingLimitExceeded = errors.New("holding limit reached")
	ErrSelfTrade            = errors.New("seller cannot buy their own listing")
)

// ErrNotListed is returned when an operation targets a ticket with no
// active listing.
var ErrNotListed = errors.New("ticket is not listed")

// ErrTransferFailed wraps a failure of the external payment transfer.
// The whole operation is rolled back when it occurs.
var ErrTransferFailed = errors.New("payment transfer failed")

// ErrReentrantCall is returned when a guarded operation is invoked from
// within another guarded operation (e.g. a payment hook calling back
// into buy_ticket).
var ErrReentrantCall = errors.New("reentrant call rejected")
