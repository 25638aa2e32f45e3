// Package custody implements the propose/sign/execute workflow that gates
// movement of pooled funds behind M-of-N signer approval. Transactions are
// keyed by a deterministic identifier derived from the position, action
// type, signer-rotation nonce, and a per-deployment domain separator.
package custody

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// executeLockTTL bounds how long the distributed execution lock is held when
// a LockManager is configured.
const executeLockTTL = 30 * time.Second

// SignerRegistry is the slice of the multisig registry the workflow needs.
// Membership is decided against the full config so signature thresholds and
// the rotation nonce come from the same read.
type SignerRegistry interface {
	Config(ctx context.Context) (domain.MultisigConfig, error)
}

// Workflow is the custody state machine. Per (position, type) the states are
// none → pending → executed; there is no transition back. All preconditions
// are checked before any mutation, so a failing call leaves every record,
// including signature counts, untouched.
type Workflow struct {
	mu        sync.Mutex
	txs       domain.TransactionStore
	positions domain.PositionStore
	registry  SignerRegistry
	bank      domain.ValueTransfer
	audit     domain.AuditStore
	bus       domain.SignalBus
	locks     domain.LockManager
	domainSep common.Hash
	logger    *slog.Logger
	now       func() time.Time
}

// NewWorkflow creates a Workflow. bus and locks may be nil; the local mutex
// alone serializes calls within a single instance, and the lock manager adds
// cross-instance serialization when provided.
func NewWorkflow(
	txs domain.TransactionStore,
	positions domain.PositionStore,
	registry SignerRegistry,
	bank domain.ValueTransfer,
	audit domain.AuditStore,
	bus domain.SignalBus,
	locks domain.LockManager,
	domainSep common.Hash,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		txs:       txs,
		positions: positions,
		registry:  registry,
		bank:      bank,
		audit:     audit,
		bus:       bus,
		locks:     locks,
		domainSep: domainSep,
		logger:    logger.With(slog.String("component", "custody")),
		now:       time.Now,
	}
}

// DomainSeparator returns the separator bound into every derived identifier.
func (w *Workflow) DomainSeparator() common.Hash {
	return w.domainSep
}

// Propose opens (or re-signs) a custody transaction for a position. The
// caller must be a current signer. If a transaction already exists at the
// derived identifier and has not executed, the call counts as an additional
// signature instead of a new proposal. A fresh proposal records the
// proposer's own signature immediately.
func (w *Workflow) Propose(ctx context.Context, caller common.Address, positionID uint64, txType domain.TransactionType) (domain.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, err := w.requireSignerConfig(ctx, caller)
	if err != nil {
		return domain.Transaction{}, err
	}

	pos, err := w.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("custody: load position %d: %w", positionID, err)
	}

	switch txType {
	case domain.TxCollect:
		if pos.FundsCollected {
			return domain.Transaction{}, domain.ErrFundsAlreadyCollected
		}
		if pos.IsWithdrawn {
			return domain.Transaction{}, domain.ErrAlreadyWithdrawn
		}
	case domain.TxReturn:
		if !pos.FundsCollected {
			return domain.Transaction{}, domain.ErrFundsNotCollected
		}
		if pos.IsWithdrawn {
			return domain.Transaction{}, domain.ErrAlreadyWithdrawn
		}
	default:
		// SET_RETURNS is applied through the ledger's privileged maturation
		// path, never proposed here.
		return domain.Transaction{}, domain.ErrInvalidTransactionType
	}

	id := DeriveTxID(positionID, txType, cfg.Nonce, w.domainSep)
	now := w.now().UTC()

	existing, err := w.txs.GetByID(ctx, id)
	switch {
	case err == nil:
		if existing.Executed {
			return domain.Transaction{}, domain.ErrTransactionExecuted
		}
		return w.addSignature(ctx, existing, caller, now)
	case errors.Is(err, domain.ErrNotFound):
		// fall through to create
	default:
		return domain.Transaction{}, fmt.Errorf("custody: load transaction: %w", err)
	}

	tx := domain.Transaction{
		ID:         id,
		PositionID: positionID,
		Type:       txType,
		Proposer:   caller,
		ProposedAt: now,
		Signatures: map[common.Address]time.Time{caller: now},
	}
	if err := w.txs.Create(ctx, tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("custody: create transaction: %w", err)
	}
	if err := w.txs.SetPending(ctx, positionID, txType, id); err != nil {
		return domain.Transaction{}, fmt.Errorf("custody: set pending index: %w", err)
	}

	w.logAudit(ctx, "custody_proposed", map[string]any{
		"tx_id":       id.Hex(),
		"position_id": positionID,
		"tx_type":     string(txType),
		"proposer":    caller.Hex(),
	})
	w.publish(ctx, "custody_proposed", tx)

	w.logger.InfoContext(ctx, "custody transaction proposed",
		slog.String("tx_id", id.Hex()),
		slog.Uint64("position_id", positionID),
		slog.String("tx_type", string(txType)),
	)
	return tx, nil
}

// Sign adds the caller's signature to a pending transaction. Each signer may
// sign at most once; the signature set is the only state this call changes.
func (w *Workflow) Sign(ctx context.Context, caller common.Address, id common.Hash) (domain.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.requireSignerConfig(ctx, caller); err != nil {
		return domain.Transaction{}, err
	}

	tx, err := w.getTx(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.Executed {
		return domain.Transaction{}, domain.ErrTransactionExecuted
	}
	return w.addSignature(ctx, tx, caller, w.now().UTC())
}

// Execute finalizes a transaction once the signature count has reached the
// current threshold, then dispatches the fund movement by type. COLLECT
// pushes the position's principal to the executing signer and marks the
// position collected; RETURN pulls principal plus the expected return from
// the executing signer back into the pool. The return amount is computed
// from the expected return even when maturation has fixed a different actual
// figure.
func (w *Workflow) Execute(ctx context.Context, caller common.Address, id common.Hash) (domain.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, "custody:execute:"+id.Hex(), executeLockTTL)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("custody: acquire execution lock: %w", err)
		}
		defer unlock()
	}

	cfg, err := w.requireSignerConfig(ctx, caller)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx, err := w.getTx(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.Executed {
		return domain.Transaction{}, domain.ErrTransactionExecuted
	}
	if tx.SignatureCount() < cfg.Threshold {
		return domain.Transaction{}, domain.ErrInsufficientSignatures
	}

	pos, err := w.positions.GetByID(ctx, tx.PositionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("custody: load position %d: %w", tx.PositionID, err)
	}

	now := w.now().UTC()
	switch tx.Type {
	case domain.TxCollect:
		if err := w.executeCollect(ctx, &tx, pos, caller, now); err != nil {
			return domain.Transaction{}, err
		}
	case domain.TxReturn:
		if err := w.executeReturn(ctx, &tx, pos, caller, now); err != nil {
			return domain.Transaction{}, err
		}
	default:
		return domain.Transaction{}, domain.ErrInvalidTransactionType
	}

	tx.Executed = true
	tx.ExecutedBy = &caller
	tx.ExecutedAt = &now

	w.logAudit(ctx, "custody_executed", map[string]any{
		"tx_id":       id.Hex(),
		"position_id": tx.PositionID,
		"tx_type":     string(tx.Type),
		"executed_by": caller.Hex(),
	})
	w.publish(ctx, "custody_executed", tx)

	w.logger.InfoContext(ctx, "custody transaction executed",
		slog.String("tx_id", id.Hex()),
		slog.Uint64("position_id", tx.PositionID),
		slog.String("tx_type", string(tx.Type)),
	)
	return tx, nil
}

// executeCollect moves the position's principal from the pool to the
// executing signer. The pool balance is checked before any mutation.
func (w *Workflow) executeCollect(ctx context.Context, tx *domain.Transaction, pos domain.Position, caller common.Address, now time.Time) error {
	bal, err := w.bank.PoolBalance(ctx)
	if err != nil {
		return fmt.Errorf("custody: pool balance: %w", err)
	}
	if bal.Cmp(pos.Amount) < 0 {
		return domain.ErrInsufficientFunds
	}

	if err := w.bank.Push(ctx, caller, pos.Amount); err != nil {
		return fmt.Errorf("custody: push collected funds: %w", err)
	}

	if err := w.positions.MarkCollected(ctx, pos.ID, caller, now); err != nil {
		w.compensatePull(ctx, caller, pos.Amount, "collect_persist_failed")
		return fmt.Errorf("custody: mark collected: %w", err)
	}
	if err := w.txs.MarkExecuted(ctx, tx.ID, caller, now); err != nil {
		return fmt.Errorf("custody: mark executed: %w", err)
	}
	if err := w.txs.ClearPending(ctx, pos.ID, domain.TxCollect); err != nil {
		return fmt.Errorf("custody: clear pending index: %w", err)
	}
	return nil
}

// executeReturn pulls principal plus expected return from the executing
// signer back into the pool.
func (w *Workflow) executeReturn(ctx context.Context, tx *domain.Transaction, pos domain.Position, caller common.Address, now time.Time) error {
	total := new(big.Int).Add(pos.Amount, pos.ExpectedReturn)

	if err := w.bank.Pull(ctx, caller, total); err != nil {
		return fmt.Errorf("custody: pull returned funds: %w", err)
	}

	if err := w.txs.MarkExecuted(ctx, tx.ID, caller, now); err != nil {
		w.compensatePush(ctx, caller, total, "return_persist_failed")
		return fmt.Errorf("custody: mark executed: %w", err)
	}
	if err := w.txs.ClearPending(ctx, pos.ID, domain.TxReturn); err != nil {
		return fmt.Errorf("custody: clear pending index: %w", err)
	}
	return nil
}

// Transaction returns a custody transaction by identifier.
func (w *Workflow) Transaction(ctx context.Context, id common.Hash) (domain.Transaction, error) {
	return w.getTx(ctx, id)
}

// Pending lists every pending (unexecuted) transaction.
func (w *Workflow) Pending(ctx context.Context) ([]domain.Transaction, error) {
	txs, err := w.txs.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("custody: list pending: %w", err)
	}
	return txs, nil
}

// History lists transactions, newest first.
func (w *Workflow) History(ctx context.Context, opts domain.ListOpts) ([]domain.Transaction, error) {
	txs, err := w.txs.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("custody: list transactions: %w", err)
	}
	return txs, nil
}

func (w *Workflow) requireSignerConfig(ctx context.Context, caller common.Address) (domain.MultisigConfig, error) {
	cfg, err := w.registry.Config(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MultisigConfig{}, domain.ErrNotSigner
		}
		return domain.MultisigConfig{}, fmt.Errorf("custody: load signer config: %w", err)
	}
	if !cfg.HasSigner(caller) {
		return domain.MultisigConfig{}, domain.ErrNotSigner
	}
	return cfg, nil
}

func (w *Workflow) getTx(ctx context.Context, id common.Hash) (domain.Transaction, error) {
	tx, err := w.txs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("custody: load transaction: %w", err)
	}
	return tx, nil
}

func (w *Workflow) addSignature(ctx context.Context, tx domain.Transaction, signer common.Address, now time.Time) (domain.Transaction, error) {
	if tx.SignedBy(signer) {
		return domain.Transaction{}, domain.ErrAlreadySigned
	}
	if err := w.txs.AddSignature(ctx, tx.ID, signer, now); err != nil {
		return domain.Transaction{}, fmt.Errorf("custody: add signature: %w", err)
	}
	tx.Signatures[signer] = now

	w.logAudit(ctx, "custody_signed", map[string]any{
		"tx_id":      tx.ID.Hex(),
		"signer":     signer.Hex(),
		"signatures": tx.SignatureCount(),
	})

	w.logger.InfoContext(ctx, "custody transaction signed",
		slog.String("tx_id", tx.ID.Hex()),
		slog.String("signer", signer.Hex()),
		slog.Int("signatures", tx.SignatureCount()),
	)
	return tx, nil
}

// compensatePull claws funds back after a persistence failure on COLLECT.
func (w *Workflow) compensatePull(ctx context.Context, from common.Address, amount *big.Int, reason string) {
	if err := w.bank.Pull(ctx, from, amount); err != nil {
		w.logger.ErrorContext(ctx, "custody: compensation pull failed",
			slog.String("from", from.Hex()),
			slog.String("amount", amount.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// compensatePush refunds pulled funds after a persistence failure on RETURN.
func (w *Workflow) compensatePush(ctx context.Context, to common.Address, amount *big.Int, reason string) {
	if err := w.bank.Push(ctx, to, amount); err != nil {
		w.logger.ErrorContext(ctx, "custody: compensation push failed",
			slog.String("to", to.Hex()),
			slog.String("amount", amount.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Workflow) logAudit(ctx context.Context, event string, detail map[string]any) {
	if err := w.audit.Log(ctx, event, detail); err != nil {
		w.logger.WarnContext(ctx, "custody: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Workflow) publish(ctx context.Context, event string, tx domain.Transaction) {
	if w.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":       event,
		"tx_id":       tx.ID.Hex(),
		"position_id": tx.PositionID,
		"tx_type":     string(tx.Type),
		"signatures":  tx.SignatureCount(),
	})
	if err := w.bus.Publish(ctx, "custody", payload); err != nil {
		w.logger.WarnContext(ctx, "custody: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
