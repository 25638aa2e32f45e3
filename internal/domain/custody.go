package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransactionType identifies the custody action a transaction authorizes.
type TransactionType string

const (
	// TxCollect moves a position's pooled principal out to a signer for
	// deployment at an external venue.
	TxCollect TransactionType = "collect"
	// TxReturn moves principal plus yield back into the pool.
	TxReturn TransactionType = "return"
	// TxSetReturns records actual returns at maturation. It is applied
	// through the ledger's privileged maturation path rather than the
	// propose/sign/execute workflow.
	TxSetReturns TransactionType = "set_returns"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxCollect, TxReturn, TxSetReturns:
		return true
	}
	return false
}

// Transaction is a pending or executed custody approval. It is keyed by a
// deterministic identifier derived from the position, type, rotation nonce
// and deployment domain separator, so re-proposing under an unchanged nonce
// lands on the same record.
type Transaction struct {
	ID         common.Hash
	PositionID uint64
	Type       TransactionType
	Proposer   common.Address
	ProposedAt time.Time
	Executed   bool
	ExecutedBy *common.Address
	ExecutedAt *time.Time
	// Signatures is the per-signer approval set. A signer appears at most
	// once; once the transaction is executed the set is frozen.
	Signatures map[common.Address]time.Time
}

// SignatureCount returns the number of distinct signers that approved the
// transaction.
func (t Transaction) SignatureCount() int {
	return len(t.Signatures)
}

// SignedBy reports whether addr has already signed.
func (t Transaction) SignedBy(addr common.Address) bool {
	_, ok := t.Signatures[addr]
	return ok
}
