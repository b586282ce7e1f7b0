package service

import "errors"

// Sentinel errors for the ledger service. Every operation either succeeds
// entirely or returns one of these (possibly wrapped) with no state applied.
var (
	ErrInvalidReference    = errors.New("content not found")
	ErrInsufficientPayment = errors.New("payment below content price")
	ErrUnauthorized        = errors.New("caller not authorized")
	ErrNoFunds             = errors.New("no earnings to withdraw")
	ErrAlreadyGranted      = errors.New("caller already has access")
	ErrContentInactive     = errors.New("content is not active")
	ErrInvalidContentType  = errors.New("invalid content type")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrTransferFailed      = errors.New("earnings transfer failed")
)
