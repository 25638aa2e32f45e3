package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CapabilityStore implements domain.CapabilityGateway over the capabilities
// table. Grants and revokes are idempotent.
type CapabilityStore struct {
	pool *pgxpool.Pool
}

// NewCapabilityStore creates a new CapabilityStore backed by the given pool.
func NewCapabilityStore(pool *pgxpool.Pool) *CapabilityStore {
	return &CapabilityStore{pool: pool}
}

// Has reports whether addr holds the named capability.
func (s *CapabilityStore) Has(ctx context.Context, addr common.Address, capability string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM capabilities WHERE address = $1 AND capability = $2)`

	var has bool
	if err := s.pool.QueryRow(ctx, query, addr.Hex(), capability).Scan(&has); err != nil {
		return false, fmt.Errorf("postgres: check capability: %w", err)
	}
	return has, nil
}

// Grant gives addr the named capability.
func (s *CapabilityStore) Grant(ctx context.Context, addr common.Address, capability string) error {
	const query = `
		INSERT INTO capabilities (address, capability)
		VALUES ($1, $2)
		ON CONFLICT (address, capability) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, addr.Hex(), capability); err != nil {
		return fmt.Errorf("postgres: grant capability: %w", err)
	}
	return nil
}

// Revoke removes the named capability from addr.
func (s *CapabilityStore) Revoke(ctx context.Context, addr common.Address, capability string) error {
	const query = `DELETE FROM capabilities WHERE address = $1 AND capability = $2`

	if _, err := s.pool.Exec(ctx, query, addr.Hex(), capability); err != nil {
		return fmt.Errorf("postgres: revoke capability: %w", err)
	}
	return nil
}
