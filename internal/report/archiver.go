// Package report builds point-in-time snapshots of the money market and
// uploads them to blob storage.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// Snapshot is the archived report payload. Amounts are decimal strings in
// minor units.
type Snapshot struct {
	GeneratedAt    time.Time           `json:"generated_at"`
	Market         MarketSummary       `json:"market"`
	PoolBalance    string              `json:"pool_balance"`
	Positions      []PositionRecord    `json:"positions"`
	Transactions   []TransactionRecord `json:"transactions"`
	PendingTxCount int                 `json:"pending_tx_count"`
}

// MarketSummary captures the market configuration and running totals.
type MarketSummary struct {
	LockSeconds       int64  `json:"lock_seconds"`
	ExpectedRateBps   int64  `json:"expected_rate_bps"`
	MinInvestment     string `json:"min_investment"`
	MaxInvestment     string `json:"max_investment"`
	AcceptingDeposits bool   `json:"accepting_deposits"`
	TotalDeposited    string `json:"total_deposited"`
	TotalWithdrawn    string `json:"total_withdrawn"`
}

// PositionRecord is the archived form of a position.
type PositionRecord struct {
	ID             uint64     `json:"id"`
	Investor       string     `json:"investor"`
	Amount         string     `json:"amount"`
	DepositTime    time.Time  `json:"deposit_time"`
	MaturityTime   time.Time  `json:"maturity_time"`
	ExpectedReturn string     `json:"expected_return"`
	ActualReturn   string     `json:"actual_return"`
	IsMatured      bool       `json:"is_matured"`
	IsWithdrawn    bool       `json:"is_withdrawn"`
	FundsCollected bool       `json:"funds_collected"`
	WithdrawnAt    *time.Time `json:"withdrawn_at,omitempty"`
}

// TransactionRecord is the archived form of a custody transaction.
type TransactionRecord struct {
	ID         string     `json:"id"`
	PositionID uint64     `json:"position_id"`
	Type       string     `json:"type"`
	Proposer   string     `json:"proposer"`
	ProposedAt time.Time  `json:"proposed_at"`
	Signatures int        `json:"signatures"`
	Executed   bool       `json:"executed"`
	ExecutedBy *string    `json:"executed_by,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// Archiver assembles snapshots from the stores and uploads them as JSON.
type Archiver struct {
	writer    domain.BlobWriter
	positions domain.PositionStore
	txs       domain.TransactionStore
	market    domain.MarketStore
	bank      domain.ValueTransfer
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver with all required dependencies.
func NewArchiver(
	writer domain.BlobWriter,
	positions domain.PositionStore,
	txs domain.TransactionStore,
	market domain.MarketStore,
	bank domain.ValueTransfer,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		txs:       txs,
		market:    market,
		bank:      bank,
		audit:     audit,
		logger:    logger.With(slog.String("component", "report")),
		now:       time.Now,
	}
}

// Archive builds a full snapshot and uploads it under
// reports/<date>/snapshot-<timestamp>.json. It returns the object path.
func (a *Archiver) Archive(ctx context.Context) (string, error) {
	snap, err := a.Build(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal snapshot: %w", err)
	}

	path := fmt.Sprintf("reports/%s/snapshot-%s.json",
		snap.GeneratedAt.Format("2006-01-02"),
		snap.GeneratedAt.Format("20060102T150405Z"))

	if err := a.writer.Put(ctx, path, bytes.NewReader(payload), "application/json"); err != nil {
		return "", fmt.Errorf("report: upload snapshot: %w", err)
	}

	if auditErr := a.audit.Log(ctx, "report_archived", map[string]any{
		"path":      path,
		"positions": len(snap.Positions),
		"bytes":     len(payload),
	}); auditErr != nil {
		a.logger.WarnContext(ctx, "report: audit log failed",
			slog.String("error", auditErr.Error()),
		)
	}

	a.logger.InfoContext(ctx, "snapshot archived",
		slog.String("path", path),
		slog.Int("positions", len(snap.Positions)),
	)
	return path, nil
}

// Build assembles a snapshot without uploading it.
func (a *Archiver) Build(ctx context.Context) (Snapshot, error) {
	cfg, err := a.market.Get(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("report: load market config: %w", err)
	}

	positions, err := a.positions.List(ctx, domain.ListOpts{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("report: list positions: %w", err)
	}

	txs, err := a.txs.List(ctx, domain.ListOpts{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("report: list transactions: %w", err)
	}

	balance, err := a.bank.PoolBalance(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("report: pool balance: %w", err)
	}

	snap := Snapshot{
		GeneratedAt: a.now().UTC(),
		Market: MarketSummary{
			LockSeconds:       int64(cfg.LockDuration / time.Second),
			ExpectedRateBps:   cfg.ExpectedRateBps,
			MinInvestment:     cfg.MinInvestment.String(),
			MaxInvestment:     cfg.MaxInvestment.String(),
			AcceptingDeposits: cfg.AcceptingDeposits,
			TotalDeposited:    cfg.TotalDeposited.String(),
			TotalWithdrawn:    cfg.TotalWithdrawn.String(),
		},
		PoolBalance: balance.String(),
	}

	for _, p := range positions {
		snap.Positions = append(snap.Positions, PositionRecord{
			ID:             p.ID,
			Investor:       p.Investor.Hex(),
			Amount:         p.Amount.String(),
			DepositTime:    p.DepositTime,
			MaturityTime:   p.MaturityTime,
			ExpectedReturn: p.ExpectedReturn.String(),
			ActualReturn:   p.ActualReturn.String(),
			IsMatured:      p.IsMatured,
			IsWithdrawn:    p.IsWithdrawn,
			FundsCollected: p.FundsCollected,
			WithdrawnAt:    p.WithdrawnAt,
		})
	}

	for _, tx := range txs {
		rec := TransactionRecord{
			ID:         tx.ID.Hex(),
			PositionID: tx.PositionID,
			Type:       string(tx.Type),
			Proposer:   tx.Proposer.Hex(),
			ProposedAt: tx.ProposedAt,
			Signatures: tx.SignatureCount(),
			Executed:   tx.Executed,
			ExecutedAt: tx.ExecutedAt,
		}
		if tx.ExecutedBy != nil {
			by := tx.ExecutedBy.Hex()
			rec.ExecutedBy = &by
		}
		if !tx.Executed {
			snap.PendingTxCount++
		}
		snap.Transactions = append(snap.Transactions, rec)
	}

	return snap, nil
}
