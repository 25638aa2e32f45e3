package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidAmount          = errors.New("investment amount out of bounds")
	ErrDepositsNotAccepted    = errors.New("market is not accepting deposits")
	ErrNotTokenOwner          = errors.New("caller does not own the position token")
	ErrAlreadyWithdrawn       = errors.New("investment already withdrawn")
	ErrNotMatured             = errors.New("investment not yet matured")
	ErrInvalidMarketConfig    = errors.New("invalid market configuration")
	ErrInvalidMultisigConfig  = errors.New("invalid multisig configuration")
	ErrNotSigner              = errors.New("caller is not a multisig signer")
	ErrMissingCapability      = errors.New("caller lacks required capability")
	ErrTransactionNotFound    = errors.New("custody transaction not found")
	ErrTransactionExecuted    = errors.New("custody transaction already executed")
	ErrAlreadySigned          = errors.New("signer already signed this transaction")
	ErrInsufficientSignatures = errors.New("insufficient signatures")
	ErrInsufficientFunds      = errors.New("insufficient balance")
	ErrInvalidTransactionType = errors.New("invalid custody transaction type")
	ErrFundsAlreadyCollected  = errors.New("pooled funds already collected")
	ErrFundsNotCollected      = errors.New("pooled funds not collected")
	ErrLockHeld               = errors.New("lock already held")
)
