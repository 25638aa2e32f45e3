package domain

import (
	"context"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Capability names checked through the CapabilityGateway.
const (
	CapabilityAdmin        = "admin"
	CapabilityPauser       = "pauser"
	CapabilitySigner       = "signer"
	CapabilityRiskOperator = "risk_operator"
)

// ValueTransfer is the trusted fungible-ledger collaborator that holds the
// pooled stable asset. Pull and Push are atomic with respect to their own
// balance checks and return ErrInsufficientFunds when the source balance is
// short.
type ValueTransfer interface {
	// Pull moves amount from the given address into the pool.
	Pull(ctx context.Context, from common.Address, amount *big.Int) error
	// Push moves amount from the pool to the given address.
	Push(ctx context.Context, to common.Address, amount *big.Int) error
	// PoolBalance reports the current pooled balance.
	PoolBalance(ctx context.Context) (*big.Int, error)
}

// OwnershipToken issues one non-transferable token per position. There is no
// transfer operation: ownership can only be created by Mint and destroyed by
// Burn.
type OwnershipToken interface {
	Mint(ctx context.Context, owner common.Address, positionID uint64) error
	Burn(ctx context.Context, positionID uint64) error
	OwnerOf(ctx context.Context, positionID uint64) (common.Address, error)
}

// CapabilityGateway answers role checks for callers. Role storage lives
// outside the core; the ledger and registry only ask whether a caller holds
// a named capability.
type CapabilityGateway interface {
	Has(ctx context.Context, addr common.Address, capability string) (bool, error)
	Grant(ctx context.Context, addr common.Address, capability string) error
	Revoke(ctx context.Context, addr common.Address, capability string) error
}

// SignalBus publishes and subscribes to lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed locks used to serialize custody
// operations across instances. Acquire returns an unlock function, or
// ErrLockHeld when the lock is taken.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads report objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
