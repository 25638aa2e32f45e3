package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Records are append-mostly: lifecycle
// transitions flip flags exactly once and nothing is ever deleted.
type PositionStore interface {
	// Create inserts a new position and returns its sequential identifier.
	Create(ctx context.Context, pos Position) (uint64, error)
	GetByID(ctx context.Context, id uint64) (Position, error)
	ListByInvestor(ctx context.Context, investor common.Address, opts ListOpts) ([]Position, error)
	List(ctx context.Context, opts ListOpts) ([]Position, error)
	MarkWithdrawn(ctx context.Context, id uint64, at time.Time) error
	MarkMatured(ctx context.Context, id uint64, actualReturn *big.Int) error
	MarkCollected(ctx context.Context, id uint64, by common.Address, at time.Time) error
}

// TransactionStore persists custody transactions keyed by their derived
// identifier, their per-signer signature sets, and the pending index mapping
// a position to its in-flight collect/return transaction.
type TransactionStore interface {
	Create(ctx context.Context, tx Transaction) error
	GetByID(ctx context.Context, id common.Hash) (Transaction, error)
	AddSignature(ctx context.Context, id common.Hash, signer common.Address, at time.Time) error
	MarkExecuted(ctx context.Context, id common.Hash, by common.Address, at time.Time) error
	SetPending(ctx context.Context, positionID uint64, txType TransactionType, id common.Hash) error
	ClearPending(ctx context.Context, positionID uint64, txType TransactionType) error
	PendingFor(ctx context.Context, positionID uint64, txType TransactionType) (common.Hash, bool, error)
	ListPending(ctx context.Context) ([]Transaction, error)
	List(ctx context.Context, opts ListOpts) ([]Transaction, error)
}

// MultisigStore persists the singleton signer-set configuration.
type MultisigStore interface {
	Get(ctx context.Context) (MultisigConfig, error)
	Save(ctx context.Context, cfg MultisigConfig) error
}

// MarketStore persists the singleton market configuration and running
// deposit/withdrawal totals.
type MarketStore interface {
	Get(ctx context.Context) (MarketConfig, error)
	Save(ctx context.Context, cfg MarketConfig) error
	AddDeposited(ctx context.Context, amount *big.Int) error
	AddWithdrawn(ctx context.Context, amount *big.Int) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
