// Package memory implements the domain store and collaborator interfaces
// with in-process maps. It backs the "memory" storage mode for local
// development and serves as the fixture layer for service tests.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{nextID: 1, byID: make(map[uint64]domain.Position)}
}

func clonePosition(p domain.Position) domain.Position {
	out := p
	out.Amount = new(big.Int).Set(p.Amount)
	out.ExpectedReturn = new(big.Int).Set(p.ExpectedReturn)
	out.ActualReturn = new(big.Int).Set(p.ActualReturn)
	if p.WithdrawnAt != nil {
		t := *p.WithdrawnAt
		out.WithdrawnAt = &t
	}
	if p.CollectedBy != nil {
		a := *p.CollectedBy
		out.CollectedBy = &a
	}
	if p.CollectedAt != nil {
		t := *p.CollectedAt
		out.CollectedAt = &t
	}
	return out
}

// Create inserts pos and returns the allocated sequential identifier.
func (s *PositionStore) Create(_ context.Context, pos domain.Position) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	pos.ID = id
	s.byID[id] = clonePosition(pos)
	return id, nil
}

// GetByID returns a copy of the position with the given ID.
func (s *PositionStore) GetByID(_ context.Context, id uint64) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(pos), nil
}

// ListByInvestor returns positions owned by investor in ID order.
func (s *PositionStore) ListByInvestor(_ context.Context, investor common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.byID {
		if p.Investor == investor {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

// List returns all positions in ID order.
func (s *PositionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, clonePosition(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

// MarkWithdrawn flips the withdrawn flag.
func (s *PositionStore) MarkWithdrawn(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.IsWithdrawn = true
	pos.WithdrawnAt = &at
	s.byID[id] = pos
	return nil
}

// MarkMatured fixes the actual return and the matured flag.
func (s *PositionStore) MarkMatured(_ context.Context, id uint64, actualReturn *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.IsMatured = true
	pos.ActualReturn = new(big.Int).Set(actualReturn)
	s.byID[id] = pos
	return nil
}

// MarkCollected records that pooled funds for the position moved to custody.
func (s *PositionStore) MarkCollected(_ context.Context, id uint64, by common.Address, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.FundsCollected = true
	pos.CollectedBy = &by
	pos.CollectedAt = &at
	s.byID[id] = pos
	return nil
}

type pendingKey struct {
	positionID uint64
	txType     domain.TransactionType
}

// TransactionStore is an in-memory domain.TransactionStore.
type TransactionStore struct {
	mu      sync.Mutex
	byID    map[common.Hash]domain.Transaction
	pending map[pendingKey]common.Hash
}

// NewTransactionStore creates an empty TransactionStore.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		byID:    make(map[common.Hash]domain.Transaction),
		pending: make(map[pendingKey]common.Hash),
	}
}

func cloneTx(tx domain.Transaction) domain.Transaction {
	out := tx
	out.Signatures = make(map[common.Address]time.Time, len(tx.Signatures))
	for k, v := range tx.Signatures {
		out.Signatures[k] = v
	}
	if tx.ExecutedBy != nil {
		a := *tx.ExecutedBy
		out.ExecutedBy = &a
	}
	if tx.ExecutedAt != nil {
		t := *tx.ExecutedAt
		out.ExecutedAt = &t
	}
	return out
}

// Create inserts tx keyed by its derived identifier.
func (s *TransactionStore) Create(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[tx.ID] = cloneTx(tx)
	return nil
}

// GetByID returns a copy of the transaction with the given identifier.
func (s *TransactionStore) GetByID(_ context.Context, id common.Hash) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return cloneTx(tx), nil
}

// AddSignature records one signer's approval.
func (s *TransactionStore) AddSignature(_ context.Context, id common.Hash, signer common.Address, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if _, dup := tx.Signatures[signer]; dup {
		return domain.ErrAlreadySigned
	}
	tx.Signatures[signer] = at
	return nil
}

// MarkExecuted freezes the transaction.
func (s *TransactionStore) MarkExecuted(_ context.Context, id common.Hash, by common.Address, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	tx.Executed = true
	tx.ExecutedBy = &by
	tx.ExecutedAt = &at
	s.byID[id] = tx
	return nil
}

// SetPending records the in-flight transaction for (positionID, txType).
func (s *TransactionStore) SetPending(_ context.Context, positionID uint64, txType domain.TransactionType, id common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pendingKey{positionID, txType}] = id
	return nil
}

// ClearPending removes the in-flight marker for (positionID, txType).
func (s *TransactionStore) ClearPending(_ context.Context, positionID uint64, txType domain.TransactionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pendingKey{positionID, txType})
	return nil
}

// PendingFor returns the in-flight transaction ID for (positionID, txType).
func (s *TransactionStore) PendingFor(_ context.Context, positionID uint64, txType domain.TransactionType) (common.Hash, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pending[pendingKey{positionID, txType}]
	return id, ok, nil
}

// ListPending returns every unexecuted transaction, oldest first.
func (s *TransactionStore) ListPending(_ context.Context) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range s.byID {
		if !tx.Executed {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedAt.Before(out[j].ProposedAt) })
	return out, nil
}

// List returns transactions newest first.
func (s *TransactionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, 0, len(s.byID))
	for _, tx := range s.byID {
		out = append(out, cloneTx(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedAt.After(out[j].ProposedAt) })
	return paginate(out, opts), nil
}

// MultisigStore is an in-memory domain.MultisigStore.
type MultisigStore struct {
	mu  sync.Mutex
	cfg *domain.MultisigConfig
}

// NewMultisigStore creates an unconfigured MultisigStore.
func NewMultisigStore() *MultisigStore {
	return &MultisigStore{}
}

// Get returns the stored config, or ErrNotFound before the first Save.
func (s *MultisigStore) Get(_ context.Context) (domain.MultisigConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return domain.MultisigConfig{}, domain.ErrNotFound
	}
	out := *s.cfg
	out.Signers = append([]common.Address(nil), s.cfg.Signers...)
	return out, nil
}

// Save replaces the stored config.
func (s *MultisigStore) Save(_ context.Context, cfg domain.MultisigConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Signers = append([]common.Address(nil), cfg.Signers...)
	s.cfg = &cfg
	return nil
}

// MarketStore is an in-memory domain.MarketStore.
type MarketStore struct {
	mu  sync.Mutex
	cfg *domain.MarketConfig
}

// NewMarketStore creates an unconfigured MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{}
}

func cloneMarket(c domain.MarketConfig) domain.MarketConfig {
	out := c
	out.MinInvestment = new(big.Int).Set(c.MinInvestment)
	out.MaxInvestment = new(big.Int).Set(c.MaxInvestment)
	out.TotalDeposited = new(big.Int).Set(c.TotalDeposited)
	out.TotalWithdrawn = new(big.Int).Set(c.TotalWithdrawn)
	return out
}

// Get returns the stored config, or ErrNotFound before the first Save.
func (s *MarketStore) Get(_ context.Context) (domain.MarketConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return domain.MarketConfig{}, domain.ErrNotFound
	}
	return cloneMarket(*s.cfg), nil
}

// Save replaces the stored config.
func (s *MarketStore) Save(_ context.Context, cfg domain.MarketConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.TotalDeposited == nil {
		cfg.TotalDeposited = big.NewInt(0)
	}
	if cfg.TotalWithdrawn == nil {
		cfg.TotalWithdrawn = big.NewInt(0)
	}
	c := cloneMarket(cfg)
	s.cfg = &c
	return nil
}

// AddDeposited increments the running deposit total.
func (s *MarketStore) AddDeposited(_ context.Context, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return domain.ErrNotFound
	}
	s.cfg.TotalDeposited.Add(s.cfg.TotalDeposited, amount)
	return nil
}

// AddWithdrawn increments the running withdrawal total.
func (s *MarketStore) AddWithdrawn(_ context.Context, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return domain.ErrNotFound
	}
	s.cfg.TotalWithdrawn.Add(s.cfg.TotalWithdrawn, amount)
	return nil
}

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries newest first. Since is inclusive and Until exclusive,
// matching the SQL-backed store.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts), nil
}

// CapabilityGateway is an in-memory domain.CapabilityGateway.
type CapabilityGateway struct {
	mu    sync.Mutex
	grant map[common.Address]map[string]bool
}

// NewCapabilityGateway creates an empty CapabilityGateway.
func NewCapabilityGateway() *CapabilityGateway {
	return &CapabilityGateway{grant: make(map[common.Address]map[string]bool)}
}

// Has reports whether addr holds capability.
func (g *CapabilityGateway) Has(_ context.Context, addr common.Address, capability string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grant[addr][capability], nil
}

// Grant gives addr the capability.
func (g *CapabilityGateway) Grant(_ context.Context, addr common.Address, capability string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grant[addr] == nil {
		g.grant[addr] = make(map[string]bool)
	}
	g.grant[addr][capability] = true
	return nil
}

// Revoke removes the capability from addr.
func (g *CapabilityGateway) Revoke(_ context.Context, addr common.Address, capability string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.grant[addr], capability)
	return nil
}

// TokenRegistry is an in-memory domain.OwnershipToken. Tokens are
// non-transferable: ownership can only be created by Mint and destroyed by
// Burn.
type TokenRegistry struct {
	mu     sync.Mutex
	owners map[uint64]common.Address
}

// NewTokenRegistry creates an empty TokenRegistry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{owners: make(map[uint64]common.Address)}
}

// Mint issues the token for positionID to owner.
func (t *TokenRegistry) Mint(_ context.Context, owner common.Address, positionID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owners[positionID] = owner
	return nil
}

// Burn destroys the token for positionID.
func (t *TokenRegistry) Burn(_ context.Context, positionID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.owners[positionID]; !ok {
		return domain.ErrNotFound
	}
	delete(t.owners, positionID)
	return nil
}

// OwnerOf returns the current holder of positionID's token.
func (t *TokenRegistry) OwnerOf(_ context.Context, positionID uint64) (common.Address, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.owners[positionID]
	if !ok {
		return common.Address{}, domain.ErrNotFound
	}
	return owner, nil
}

// Bank is an in-memory domain.ValueTransfer: per-address balances plus the
// pooled balance, with atomic balance-checked moves.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	pool     *big.Int
}

// NewBank creates a Bank with an empty pool.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[common.Address]*big.Int),
		pool:     big.NewInt(0),
	}
}

// Credit seeds an address balance. Test and dev-mode helper.
func (b *Bank) Credit(addr common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.balances[addr]
	if !ok {
		bal = big.NewInt(0)
		b.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

// BalanceOf returns the balance of addr.
func (b *Bank) BalanceOf(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.balances[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// Pull moves amount from an address into the pool.
func (b *Bank) Pull(_ context.Context, from common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}
	bal.Sub(bal, amount)
	b.pool.Add(b.pool, amount)
	return nil
}

// Push moves amount from the pool to an address.
func (b *Bank) Push(_ context.Context, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}
	b.pool.Sub(b.pool, amount)
	bal, ok := b.balances[to]
	if !ok {
		bal = big.NewInt(0)
		b.balances[to] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// PoolBalance returns the pooled balance.
func (b *Bank) PoolBalance(_ context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.pool), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
