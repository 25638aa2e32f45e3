package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// poolAccount is the reserved account key holding the pooled balance.
const poolAccount = "pool"

// BankStore implements domain.ValueTransfer over the pool_accounts table.
// Each movement runs in a transaction: the debit carries its own balance
// check and the credit upserts, so a short source balance rolls back both
// legs and surfaces ErrInsufficientFunds.
type BankStore struct {
	pool *pgxpool.Pool
}

// NewBankStore creates a new BankStore backed by the given pool.
func NewBankStore(pool *pgxpool.Pool) *BankStore {
	return &BankStore{pool: pool}
}

// Pull moves amount from the given address into the pool.
func (s *BankStore) Pull(ctx context.Context, from common.Address, amount *big.Int) error {
	return s.transfer(ctx, from.Hex(), poolAccount, amount)
}

// Push moves amount from the pool to the given address.
func (s *BankStore) Push(ctx context.Context, to common.Address, amount *big.Int) error {
	return s.transfer(ctx, poolAccount, to.Hex(), amount)
}

// PoolBalance reports the current pooled balance.
func (s *BankStore) PoolBalance(ctx context.Context) (*big.Int, error) {
	return s.balanceOf(ctx, poolAccount)
}

// Credit adds funds to an account outside any transfer. Used to seed
// investor balances and to settle external yield into signer accounts.
func (s *BankStore) Credit(ctx context.Context, addr common.Address, amount *big.Int) error {
	const query = `
		INSERT INTO pool_accounts (address, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE SET balance = pool_accounts.balance + EXCLUDED.balance`

	if _, err := s.pool.Exec(ctx, query, addr.Hex(), amount.String()); err != nil {
		return fmt.Errorf("postgres: credit account: %w", err)
	}
	return nil
}

// BalanceOf reports an account's balance. Unknown accounts hold zero.
func (s *BankStore) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	return s.balanceOf(ctx, addr.Hex())
}

func (s *BankStore) balanceOf(ctx context.Context, account string) (*big.Int, error) {
	const query = `SELECT balance::text FROM pool_accounts WHERE address = $1`

	var balance string
	err := s.pool.QueryRow(ctx, query, account).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: balance of %s: %w", account, err)
	}
	return parseNumeric(balance)
}

func (s *BankStore) transfer(ctx context.Context, from, to string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	const debit = `
		UPDATE pool_accounts
		SET balance = balance - $2::numeric
		WHERE address = $1 AND balance >= $2::numeric`
	tag, err := tx.Exec(ctx, debit, from, amount.String())
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}

	const credit = `
		INSERT INTO pool_accounts (address, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE SET balance = pool_accounts.balance + EXCLUDED.balance`
	if _, err := tx.Exec(ctx, credit, to, amount.String()); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transfer: %w", err)
	}
	return nil
}
