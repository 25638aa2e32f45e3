package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
// Transactions, their signature sets, and the pending index live in three
// tables joined by the derived transaction identifier.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const txSelectCols = `id, position_id, tx_type, proposer, proposed_at,
	executed, executed_by, executed_at`

func scanTxRow(row pgx.Row) (domain.Transaction, error) {
	var tx domain.Transaction
	var id, proposer string
	var txType string
	var executedBy *string

	err := row.Scan(
		&id, &tx.PositionID, &txType, &proposer, &tx.ProposedAt,
		&tx.Executed, &executedBy, &tx.ExecutedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, err
	}

	tx.ID = common.HexToHash(id)
	tx.Type = domain.TransactionType(txType)
	tx.Proposer = common.HexToAddress(proposer)
	tx.ExecutedBy = parseAddr(executedBy)
	tx.Signatures = make(map[common.Address]time.Time)
	return tx, nil
}

// loadSignatures fills the signature sets for the given transactions in one
// round trip.
func (s *TransactionStore) loadSignatures(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	ids := make([]string, len(txs))
	byID := make(map[common.Hash]*domain.Transaction, len(txs))
	for i := range txs {
		ids[i] = txs[i].ID.Hex()
		byID[txs[i].ID] = &txs[i]
	}

	const query = `SELECT tx_id, signer, signed_at FROM custody_signatures WHERE tx_id = ANY($1)`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("postgres: load signatures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var txID, signer string
		var signedAt time.Time
		if err := rows.Scan(&txID, &signer, &signedAt); err != nil {
			return fmt.Errorf("postgres: scan signature: %w", err)
		}
		if tx, ok := byID[common.HexToHash(txID)]; ok {
			tx.Signatures[common.HexToAddress(signer)] = signedAt
		}
	}
	return rows.Err()
}

// Create inserts a transaction and its proposer signature atomically.
func (s *TransactionStore) Create(ctx context.Context, tx domain.Transaction) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	const insertTx = `
		INSERT INTO custody_transactions (id, position_id, tx_type, proposer, proposed_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err = pgTx.Exec(ctx, insertTx,
		tx.ID.Hex(), tx.PositionID, string(tx.Type), tx.Proposer.Hex(), tx.ProposedAt)
	if err != nil {
		return fmt.Errorf("postgres: create transaction: %w", err)
	}

	const insertSig = `
		INSERT INTO custody_signatures (tx_id, signer, signed_at)
		VALUES ($1, $2, $3)`
	for signer, at := range tx.Signatures {
		if _, err := pgTx.Exec(ctx, insertSig, tx.ID.Hex(), signer.Hex(), at); err != nil {
			return fmt.Errorf("postgres: create transaction signature: %w", err)
		}
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create transaction: %w", err)
	}
	return nil
}

// GetByID returns the transaction with its full signature set.
func (s *TransactionStore) GetByID(ctx context.Context, id common.Hash) (domain.Transaction, error) {
	query := `SELECT ` + txSelectCols + ` FROM custody_transactions WHERE id = $1`
	tx, err := scanTxRow(s.pool.QueryRow(ctx, query, id.Hex()))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction: %w", err)
	}

	txs := []domain.Transaction{tx}
	if err := s.loadSignatures(ctx, txs); err != nil {
		return domain.Transaction{}, err
	}
	return txs[0], nil
}

// AddSignature records a signer's approval. A duplicate signer returns
// ErrAlreadySigned.
func (s *TransactionStore) AddSignature(ctx context.Context, id common.Hash, signer common.Address, at time.Time) error {
	const query = `
		INSERT INTO custody_signatures (tx_id, signer, signed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tx_id, signer) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, id.Hex(), signer.Hex(), at)
	if err != nil {
		return fmt.Errorf("postgres: add signature: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadySigned
	}
	return nil
}

// MarkExecuted freezes the transaction exactly once.
func (s *TransactionStore) MarkExecuted(ctx context.Context, id common.Hash, by common.Address, at time.Time) error {
	const query = `
		UPDATE custody_transactions
		SET executed = TRUE, executed_by = $2, executed_at = $3
		WHERE id = $1 AND NOT executed`

	tag, err := s.pool.Exec(ctx, query, id.Hex(), by.Hex(), at)
	if err != nil {
		return fmt.Errorf("postgres: mark transaction executed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetPending points the (position, type) slot at the given transaction.
func (s *TransactionStore) SetPending(ctx context.Context, positionID uint64, txType domain.TransactionType, id common.Hash) error {
	const query = `
		INSERT INTO custody_pending (position_id, tx_type, tx_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (position_id, tx_type) DO UPDATE SET tx_id = EXCLUDED.tx_id`

	if _, err := s.pool.Exec(ctx, query, positionID, string(txType), id.Hex()); err != nil {
		return fmt.Errorf("postgres: set pending: %w", err)
	}
	return nil
}

// ClearPending empties the (position, type) slot.
func (s *TransactionStore) ClearPending(ctx context.Context, positionID uint64, txType domain.TransactionType) error {
	const query = `DELETE FROM custody_pending WHERE position_id = $1 AND tx_type = $2`
	if _, err := s.pool.Exec(ctx, query, positionID, string(txType)); err != nil {
		return fmt.Errorf("postgres: clear pending: %w", err)
	}
	return nil
}

// PendingFor reports the in-flight transaction for a position and type.
func (s *TransactionStore) PendingFor(ctx context.Context, positionID uint64, txType domain.TransactionType) (common.Hash, bool, error) {
	const query = `SELECT tx_id FROM custody_pending WHERE position_id = $1 AND tx_type = $2`

	var id string
	err := s.pool.QueryRow(ctx, query, positionID, string(txType)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("postgres: pending for position %d: %w", positionID, err)
	}
	return common.HexToHash(id), true, nil
}

// ListPending returns all unexecuted transactions in proposal order.
func (s *TransactionStore) ListPending(ctx context.Context) ([]domain.Transaction, error) {
	query := `SELECT ` + txSelectCols + ` FROM custody_transactions WHERE NOT executed ORDER BY proposed_at`
	return s.queryTxs(ctx, query)
}

// List returns transactions newest first with pagination.
func (s *TransactionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + txSelectCols + ` FROM custody_transactions ORDER BY proposed_at DESC`
	args := []any{}
	query, args = applyListOpts(query, args, opts)
	return s.queryTxs(ctx, query, args...)
}

func (s *TransactionStore) queryTxs(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}

	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTxRow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadSignatures(ctx, txs); err != nil {
		return nil, err
	}
	return txs, nil
}
