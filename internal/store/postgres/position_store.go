package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, investor, amount::text, deposit_time, lock_seconds,
	maturity_time, expected_return::text, actual_return::text,
	is_matured, is_withdrawn, withdrawn_at,
	funds_collected, collected_by, collected_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var investor string
	var amount, expected, actual string
	var lockSeconds int64
	var collectedBy *string

	err := row.Scan(
		&p.ID, &investor, &amount, &p.DepositTime, &lockSeconds,
		&p.MaturityTime, &expected, &actual,
		&p.IsMatured, &p.IsWithdrawn, &p.WithdrawnAt,
		&p.FundsCollected, &collectedBy, &p.CollectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, err
	}

	p.Investor = common.HexToAddress(investor)
	p.LockDuration = time.Duration(lockSeconds) * time.Second
	p.CollectedBy = parseAddr(collectedBy)
	if p.Amount, err = parseNumeric(amount); err != nil {
		return domain.Position{}, err
	}
	if p.ExpectedReturn, err = parseNumeric(expected); err != nil {
		return domain.Position{}, err
	}
	if p.ActualReturn, err = parseNumeric(actual); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position and returns its sequential identifier.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) (uint64, error) {
	const query = `
		INSERT INTO positions (
			investor, amount, deposit_time, lock_seconds, maturity_time,
			expected_return, actual_return, updated_at
		) VALUES (
			$1, $2::numeric, $3, $4, $5,
			$6::numeric, $7::numeric, NOW()
		)
		RETURNING id`

	var id uint64
	err := s.pool.QueryRow(ctx, query,
		p.Investor.Hex(), p.Amount.String(), p.DepositTime,
		int64(p.LockDuration/time.Second), p.MaturityTime,
		p.ExpectedReturn.String(), p.ActualReturn.String(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create position: %w", err)
	}
	return id, nil
}

// GetByID returns the position with the given identifier.
func (s *PositionStore) GetByID(ctx context.Context, id uint64) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

// ListByInvestor returns positions owned by investor in ID order.
func (s *PositionStore) ListByInvestor(ctx context.Context, investor common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE investor = $1 ORDER BY id`
	args := []any{investor.Hex()}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by investor: %w", err)
	}
	return scanPositionRows(rows)
}

// List returns all positions in ID order.
func (s *PositionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions ORDER BY id`
	args := []any{}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return scanPositionRows(rows)
}

// MarkWithdrawn flips the withdrawn flag exactly once.
func (s *PositionStore) MarkWithdrawn(ctx context.Context, id uint64, at time.Time) error {
	const query = `
		UPDATE positions
		SET is_withdrawn = TRUE, withdrawn_at = $2, updated_at = NOW()
		WHERE id = $1 AND NOT is_withdrawn`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark position %d withdrawn: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkMatured fixes the actual return exactly once.
func (s *PositionStore) MarkMatured(ctx context.Context, id uint64, actualReturn *big.Int) error {
	const query = `
		UPDATE positions
		SET is_matured = TRUE, actual_return = $2::numeric, updated_at = NOW()
		WHERE id = $1 AND NOT is_matured`

	tag, err := s.pool.Exec(ctx, query, id, actualReturn.String())
	if err != nil {
		return fmt.Errorf("postgres: mark position %d matured: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkCollected records that pooled funds for the position moved to custody.
func (s *PositionStore) MarkCollected(ctx context.Context, id uint64, by common.Address, at time.Time) error {
	const query = `
		UPDATE positions
		SET funds_collected = TRUE, collected_by = $2, collected_at = $3, updated_at = NOW()
		WHERE id = $1 AND NOT funds_collected`

	tag, err := s.pool.Exec(ctx, query, id, by.Hex(), at)
	if err != nil {
		return fmt.Errorf("postgres: mark position %d collected: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// applyListOpts appends LIMIT/OFFSET clauses for pagination.
func applyListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
