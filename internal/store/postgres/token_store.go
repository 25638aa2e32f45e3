package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// TokenStore implements domain.OwnershipToken over the ownership_tokens
// table. Tokens are non-transferable: a row is created by Mint, soft-deleted
// by Burn, and ownership never changes in between.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a new TokenStore backed by the given pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Mint issues the position's ownership token to owner.
func (s *TokenStore) Mint(ctx context.Context, owner common.Address, positionID uint64) error {
	const query = `INSERT INTO ownership_tokens (position_id, owner) VALUES ($1, $2)`

	if _, err := s.pool.Exec(ctx, query, positionID, owner.Hex()); err != nil {
		return fmt.Errorf("postgres: mint token for position %d: %w", positionID, err)
	}
	return nil
}

// Burn destroys the position's ownership token.
func (s *TokenStore) Burn(ctx context.Context, positionID uint64) error {
	const query = `
		UPDATE ownership_tokens
		SET burned_at = NOW()
		WHERE position_id = $1 AND burned_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, positionID)
	if err != nil {
		return fmt.Errorf("postgres: burn token for position %d: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// OwnerOf returns the current holder, or ErrNotFound once the token is
// burned or never existed.
func (s *TokenStore) OwnerOf(ctx context.Context, positionID uint64) (common.Address, error) {
	const query = `SELECT owner FROM ownership_tokens WHERE position_id = $1 AND burned_at IS NULL`

	var owner string
	err := s.pool.QueryRow(ctx, query, positionID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.Address{}, domain.ErrNotFound
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("postgres: owner of position %d: %w", positionID, err)
	}
	return common.HexToAddress(owner), nil
}
