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

// MultisigStore persists the singleton signer set.
type MultisigStore struct {
	pool *pgxpool.Pool
}

// NewMultisigStore creates a new MultisigStore backed by the given pool.
func NewMultisigStore(pool *pgxpool.Pool) *MultisigStore {
	return &MultisigStore{pool: pool}
}

// Get returns the current signer set, or ErrNotFound before the first
// configuration.
func (s *MultisigStore) Get(ctx context.Context) (domain.MultisigConfig, error) {
	const query = `SELECT signers, threshold, nonce, updated_at FROM multisig_config WHERE id = 1`

	var cfg domain.MultisigConfig
	var signers []string
	err := s.pool.QueryRow(ctx, query).Scan(&signers, &cfg.Threshold, &cfg.Nonce, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MultisigConfig{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MultisigConfig{}, fmt.Errorf("postgres: get multisig config: %w", err)
	}

	cfg.Signers = make([]common.Address, len(signers))
	for i, raw := range signers {
		cfg.Signers[i] = common.HexToAddress(raw)
	}
	return cfg, nil
}

// Save replaces the singleton signer set.
func (s *MultisigStore) Save(ctx context.Context, cfg domain.MultisigConfig) error {
	const query = `
		INSERT INTO multisig_config (id, signers, threshold, nonce, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			signers = EXCLUDED.signers,
			threshold = EXCLUDED.threshold,
			nonce = EXCLUDED.nonce,
			updated_at = EXCLUDED.updated_at`

	signers := make([]string, len(cfg.Signers))
	for i, a := range cfg.Signers {
		signers[i] = a.Hex()
	}
	if _, err := s.pool.Exec(ctx, query, signers, cfg.Threshold, cfg.Nonce, cfg.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: save multisig config: %w", err)
	}
	return nil
}
