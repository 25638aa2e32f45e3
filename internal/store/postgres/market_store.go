package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// MarketStore persists the singleton market configuration and running
// deposit/withdrawal totals.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Get returns the market configuration, or ErrNotFound before bootstrap.
func (s *MarketStore) Get(ctx context.Context) (domain.MarketConfig, error) {
	const query = `
		SELECT lock_seconds, expected_rate_bps,
			min_investment::text, max_investment::text, accepting_deposits,
			total_deposited::text, total_withdrawn::text, updated_at
		FROM market_config WHERE id = 1`

	var cfg domain.MarketConfig
	var lockSeconds int64
	var minInv, maxInv, deposited, withdrawn string
	err := s.pool.QueryRow(ctx, query).Scan(
		&lockSeconds, &cfg.ExpectedRateBps,
		&minInv, &maxInv, &cfg.AcceptingDeposits,
		&deposited, &withdrawn, &cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MarketConfig{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MarketConfig{}, fmt.Errorf("postgres: get market config: %w", err)
	}

	cfg.LockDuration = time.Duration(lockSeconds) * time.Second
	if cfg.MinInvestment, err = parseNumeric(minInv); err != nil {
		return domain.MarketConfig{}, err
	}
	if cfg.MaxInvestment, err = parseNumeric(maxInv); err != nil {
		return domain.MarketConfig{}, err
	}
	if cfg.TotalDeposited, err = parseNumeric(deposited); err != nil {
		return domain.MarketConfig{}, err
	}
	if cfg.TotalWithdrawn, err = parseNumeric(withdrawn); err != nil {
		return domain.MarketConfig{}, err
	}
	return cfg, nil
}

// Save replaces the market parameters while preserving the running totals
// carried on cfg.
func (s *MarketStore) Save(ctx context.Context, cfg domain.MarketConfig) error {
	const query = `
		INSERT INTO market_config (
			id, lock_seconds, expected_rate_bps, min_investment, max_investment,
			accepting_deposits, total_deposited, total_withdrawn, updated_at
		) VALUES (1, $1, $2, $3::numeric, $4::numeric, $5, $6::numeric, $7::numeric, $8)
		ON CONFLICT (id) DO UPDATE SET
			lock_seconds = EXCLUDED.lock_seconds,
			expected_rate_bps = EXCLUDED.expected_rate_bps,
			min_investment = EXCLUDED.min_investment,
			max_investment = EXCLUDED.max_investment,
			accepting_deposits = EXCLUDED.accepting_deposits,
			total_deposited = EXCLUDED.total_deposited,
			total_withdrawn = EXCLUDED.total_withdrawn,
			updated_at = EXCLUDED.updated_at`

	deposited := cfg.TotalDeposited
	if deposited == nil {
		deposited = big.NewInt(0)
	}
	withdrawn := cfg.TotalWithdrawn
	if withdrawn == nil {
		withdrawn = big.NewInt(0)
	}

	_, err := s.pool.Exec(ctx, query,
		int64(cfg.LockDuration/time.Second), cfg.ExpectedRateBps,
		cfg.MinInvestment.String(), cfg.MaxInvestment.String(),
		cfg.AcceptingDeposits, deposited.String(), withdrawn.String(), cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save market config: %w", err)
	}
	return nil
}

// AddDeposited bumps the running deposit total.
func (s *MarketStore) AddDeposited(ctx context.Context, amount *big.Int) error {
	const query = `
		UPDATE market_config
		SET total_deposited = total_deposited + $1::numeric, updated_at = NOW()
		WHERE id = 1`

	tag, err := s.pool.Exec(ctx, query, amount.String())
	if err != nil {
		return fmt.Errorf("postgres: add deposited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddWithdrawn bumps the running withdrawal total.
func (s *MarketStore) AddWithdrawn(ctx context.Context, amount *big.Int) error {
	const query = `
		UPDATE market_config
		SET total_withdrawn = total_withdrawn + $1::numeric, updated_at = NOW()
		WHERE id = 1`

	tag, err := s.pool.Exec(ctx, query, amount.String())
	if err != nil {
		return fmt.Errorf("postgres: add withdrawn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
