// Package ledger owns position records and the market-wide configuration.
// It exposes the deposit, withdrawal, and maturation operations of the money
// market.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// MaturationEntry pairs a position with the actual return fixed for it at
// maturation.
type MaturationEntry struct {
	PositionID   uint64
	ActualReturn *big.Int
}

// Ledger manages the position lifecycle. Top-level calls are serialized by
// an internal mutex; every field of a position has exactly one writer path,
// guarded by the precondition checks in each operation.
type Ledger struct {
	mu        sync.Mutex
	positions domain.PositionStore
	market    domain.MarketStore
	tokens    domain.OwnershipToken
	bank      domain.ValueTransfer
	caps      domain.CapabilityGateway
	audit     domain.AuditStore
	bus       domain.SignalBus
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Ledger with all required dependencies. bus may be nil when
// event publishing is disabled.
func New(
	positions domain.PositionStore,
	market domain.MarketStore,
	tokens domain.OwnershipToken,
	bank domain.ValueTransfer,
	caps domain.CapabilityGateway,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		positions: positions,
		market:    market,
		tokens:    tokens,
		bank:      bank,
		caps:      caps,
		audit:     audit,
		bus:       bus,
		logger:    logger.With(slog.String("component", "ledger")),
		now:       time.Now,
	}
}

// Create opens a new position for investor. Maturity and expected return are
// stamped from the market config as of now; later config changes do not
// touch the position. The deposit pull and the bookkeeping are all-or-none:
// the pull happens first, and any persistence failure refunds it.
func (l *Ledger) Create(ctx context.Context, investor common.Address, amount *big.Int) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.market.Get(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: load market config: %w", err)
	}
	if !cfg.AcceptingDeposits {
		return domain.Position{}, domain.ErrDepositsNotAccepted
	}
	if amount == nil || amount.Cmp(cfg.MinInvestment) < 0 || amount.Cmp(cfg.MaxInvestment) > 0 {
		return domain.Position{}, domain.ErrInvalidAmount
	}

	now := l.now().UTC()
	pos := domain.Position{
		Investor:       investor,
		Amount:         new(big.Int).Set(amount),
		DepositTime:    now,
		LockDuration:   cfg.LockDuration,
		MaturityTime:   now.Add(cfg.LockDuration),
		ExpectedReturn: ExpectedReturn(amount, cfg.ExpectedRateBps, cfg.LockDuration),
		ActualReturn:   big.NewInt(0),
	}

	if err := l.bank.Pull(ctx, investor, amount); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: pull deposit: %w", err)
	}

	id, err := l.positions.Create(ctx, pos)
	if err != nil {
		l.refund(ctx, investor, amount, "position_create_failed")
		return domain.Position{}, fmt.Errorf("ledger: create position: %w", err)
	}
	pos.ID = id

	if err := l.tokens.Mint(ctx, investor, id); err != nil {
		l.refund(ctx, investor, amount, "token_mint_failed")
		return domain.Position{}, fmt.Errorf("ledger: mint ownership token: %w", err)
	}

	if err := l.market.AddDeposited(ctx, amount); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: update totals: %w", err)
	}

	l.logAudit(ctx, "position_created", map[string]any{
		"position_id": id,
		"investor":    investor.Hex(),
		"amount":      amount.String(),
		"maturity":    pos.MaturityTime.Format(time.RFC3339),
	})
	l.publish(ctx, "position_created", map[string]any{
		"position_id":     id,
		"investor":        investor.Hex(),
		"amount":          amount.String(),
		"expected_return": pos.ExpectedReturn.String(),
	})

	l.logger.InfoContext(ctx, "position created",
		slog.Uint64("position_id", id),
		slog.String("investor", investor.Hex()),
		slog.String("amount", amount.String()),
	)
	return pos, nil
}

// Withdraw closes a matured position and pays out principal plus return.
// Exactly one successful withdrawal is possible per position. Withdrawal
// does not check FundsCollected: if pooled funds are out on custody the
// payout push fails with ErrInsufficientFunds and nothing is mutated;
// resolving that requires executing a RETURN first.
func (l *Ledger) Withdraw(ctx context.Context, positionID uint64, caller common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load position %d: %w", positionID, err)
	}

	if pos.IsWithdrawn {
		return nil, domain.ErrAlreadyWithdrawn
	}
	owner, err := l.tokens.OwnerOf(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: resolve token owner: %w", err)
	}
	if owner != caller {
		return nil, domain.ErrNotTokenOwner
	}
	now := l.now().UTC()
	if now.Before(pos.MaturityTime) {
		return nil, domain.ErrNotMatured
	}

	payout := pos.Payout()

	// Push first: an insufficient pool balance surfaces here with no state
	// changed. The withdrawn flag commits before the call returns, and the
	// mutex excludes a second withdrawal interleaving with this one.
	if err := l.bank.Push(ctx, caller, payout); err != nil {
		return nil, fmt.Errorf("ledger: push payout: %w", err)
	}

	if err := l.positions.MarkWithdrawn(ctx, positionID, now); err != nil {
		l.clawback(ctx, caller, payout, "withdraw_persist_failed")
		return nil, fmt.Errorf("ledger: mark withdrawn: %w", err)
	}
	if err := l.tokens.Burn(ctx, positionID); err != nil {
		return nil, fmt.Errorf("ledger: burn ownership token: %w", err)
	}
	if err := l.market.AddWithdrawn(ctx, payout); err != nil {
		return nil, fmt.Errorf("ledger: update totals: %w", err)
	}

	l.logAudit(ctx, "position_withdrawn", map[string]any{
		"position_id": positionID,
		"caller":      caller.Hex(),
		"payout":      payout.String(),
	})
	l.publish(ctx, "position_withdrawn", map[string]any{
		"position_id": positionID,
		"payout":      payout.String(),
	})

	l.logger.InfoContext(ctx, "position withdrawn",
		slog.Uint64("position_id", positionID),
		slog.String("payout", payout.String()),
	)
	return payout, nil
}

// MarkMatured fixes actual returns for the given positions. The caller must
// hold the risk_operator capability. Entries whose position is not yet at
// maturity, or already matured, are skipped rather than failing the batch;
// the returned slice holds the IDs that were matured.
func (l *Ledger) MarkMatured(ctx context.Context, caller common.Address, entries []MaturationEntry) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.caps.Has(ctx, caller, domain.CapabilityRiskOperator)
	if err != nil {
		return nil, fmt.Errorf("ledger: capability check: %w", err)
	}
	if !ok {
		return nil, domain.ErrMissingCapability
	}

	now := l.now().UTC()
	var matured []uint64
	for _, e := range entries {
		pos, err := l.positions.GetByID(ctx, e.PositionID)
		if err != nil {
			return matured, fmt.Errorf("ledger: load position %d: %w", e.PositionID, err)
		}
		if pos.IsMatured || now.Before(pos.MaturityTime) {
			continue
		}
		if err := l.positions.MarkMatured(ctx, e.PositionID, e.ActualReturn); err != nil {
			return matured, fmt.Errorf("ledger: mark matured %d: %w", e.PositionID, err)
		}
		matured = append(matured, e.PositionID)
	}

	if len(matured) > 0 {
		l.logAudit(ctx, "positions_matured", map[string]any{
			"caller":  caller.Hex(),
			"matured": matured,
		})
	}
	return matured, nil
}

// Position returns a position by ID.
func (l *Ledger) Position(ctx context.Context, id uint64) (domain.Position, error) {
	pos, err := l.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: load position %d: %w", id, err)
	}
	return pos, nil
}

// PositionsByInvestor lists positions owned by investor.
func (l *Ledger) PositionsByInvestor(ctx context.Context, investor common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := l.positions.ListByInvestor(ctx, investor, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list positions: %w", err)
	}
	return positions, nil
}

// MarketConfig returns the current market configuration.
func (l *Ledger) MarketConfig(ctx context.Context) (domain.MarketConfig, error) {
	cfg, err := l.market.Get(ctx)
	if err != nil {
		return domain.MarketConfig{}, fmt.Errorf("ledger: load market config: %w", err)
	}
	return cfg, nil
}

// UpdateMarketConfig replaces the admin-controlled market parameters. The
// running totals are preserved; only lock duration, rate, bounds, and the
// accepting-deposits flag change. Open positions keep their stamped values.
func (l *Ledger) UpdateMarketConfig(ctx context.Context, caller common.Address, update domain.MarketConfig) (domain.MarketConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.caps.Has(ctx, caller, domain.CapabilityAdmin)
	if err != nil {
		return domain.MarketConfig{}, fmt.Errorf("ledger: capability check: %w", err)
	}
	if !ok {
		return domain.MarketConfig{}, domain.ErrMissingCapability
	}
	if err := update.Validate(); err != nil {
		return domain.MarketConfig{}, err
	}

	current, err := l.market.Get(ctx)
	if err != nil {
		return domain.MarketConfig{}, fmt.Errorf("ledger: load market config: %w", err)
	}
	update.TotalDeposited = current.TotalDeposited
	update.TotalWithdrawn = current.TotalWithdrawn
	update.UpdatedAt = l.now().UTC()

	if err := l.market.Save(ctx, update); err != nil {
		return domain.MarketConfig{}, fmt.Errorf("ledger: save market config: %w", err)
	}

	l.logAudit(ctx, "market_config_updated", map[string]any{
		"caller":             caller.Hex(),
		"lock_duration":      update.LockDuration.String(),
		"rate_bps":           update.ExpectedRateBps,
		"accepting_deposits": update.AcceptingDeposits,
	})
	return update, nil
}

// refund pushes a pulled deposit back after a persistence failure.
func (l *Ledger) refund(ctx context.Context, to common.Address, amount *big.Int, reason string) {
	if err := l.bank.Push(ctx, to, amount); err != nil {
		l.logger.ErrorContext(ctx, "ledger: refund failed",
			slog.String("to", to.Hex()),
			slog.String("amount", amount.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
	l.logAudit(ctx, reason, map[string]any{
		"to":     to.Hex(),
		"amount": amount.String(),
	})
}

// clawback pulls a pushed payout back after a persistence failure.
func (l *Ledger) clawback(ctx context.Context, from common.Address, amount *big.Int, reason string) {
	if err := l.bank.Pull(ctx, from, amount); err != nil {
		l.logger.ErrorContext(ctx, "ledger: clawback failed",
			slog.String("from", from.Hex()),
			slog.String("amount", amount.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) logAudit(ctx context.Context, event string, detail map[string]any) {
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "ledger: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) publish(ctx context.Context, event string, detail map[string]any) {
	if l.bus == nil {
		return
	}
	detail["event"] = event
	payload, _ := json.Marshal(detail)
	if err := l.bus.Publish(ctx, "positions", payload); err != nil {
		l.logger.WarnContext(ctx, "ledger: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
