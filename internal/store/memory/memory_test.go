package memory

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

var (
	alice = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

func newPosition(investor common.Address, amount int64) domain.Position {
	now := time.Now().UTC()
	return domain.Position{
		Investor:       investor,
		Amount:         big.NewInt(amount),
		DepositTime:    now,
		LockDuration:   30 * 24 * time.Hour,
		MaturityTime:   now.Add(30 * 24 * time.Hour),
		ExpectedReturn: big.NewInt(20),
		ActualReturn:   big.NewInt(0),
	}
}

func TestPositionStoreSequentialIDs(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	id1, err := s.Create(ctx, newPosition(alice, 2000))
	require.NoError(t, err)
	id2, err := s.Create(ctx, newPosition(alice, 3000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)

	_, err = s.GetByID(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStoreCopiesAreIsolated(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	id, err := s.Create(ctx, newPosition(alice, 2000))
	require.NoError(t, err)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	got.Amount.SetInt64(1)

	again, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2000), again.Amount)
}

func TestPositionStoreListByInvestor(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, newPosition(alice, 2000))
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, newPosition(bob, 5000))
	require.NoError(t, err)

	mine, err := s.ListByInvestor(ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, uint64(1), mine[0].ID)

	page, err := s.ListByInvestor(ctx, alice, domain.ListOpts{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(3), page[0].ID)
}

func TestPositionStoreLifecycleFlags(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := s.Create(ctx, newPosition(alice, 2000))
	require.NoError(t, err)

	require.NoError(t, s.MarkCollected(ctx, id, bob, now))
	require.NoError(t, s.MarkMatured(ctx, id, big.NewInt(25)))
	require.NoError(t, s.MarkWithdrawn(ctx, id, now))

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.FundsCollected)
	require.NotNil(t, got.CollectedBy)
	assert.Equal(t, bob, *got.CollectedBy)
	assert.True(t, got.IsMatured)
	assert.Equal(t, big.NewInt(25), got.ActualReturn)
	assert.True(t, got.IsWithdrawn)
	require.NotNil(t, got.WithdrawnAt)

	assert.ErrorIs(t, s.MarkWithdrawn(ctx, 99, now), domain.ErrNotFound)
	assert.ErrorIs(t, s.MarkMatured(ctx, 99, big.NewInt(1)), domain.ErrNotFound)
	assert.ErrorIs(t, s.MarkCollected(ctx, 99, bob, now), domain.ErrNotFound)
}

func TestTransactionStorePendingIndex(t *testing.T) {
	s := NewTransactionStore()
	ctx := context.Background()
	id := common.HexToHash("0xaa")

	_, ok, err := s.PendingFor(ctx, 1, domain.TxCollect)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetPending(ctx, 1, domain.TxCollect, id))
	got, ok, err := s.PendingFor(ctx, 1, domain.TxCollect)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	// The index is keyed per transaction type.
	_, ok, err = s.PendingFor(ctx, 1, domain.TxReturn)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ClearPending(ctx, 1, domain.TxCollect))
	_, ok, err = s.PendingFor(ctx, 1, domain.TxCollect)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactionStoreSignatures(t *testing.T) {
	s := NewTransactionStore()
	ctx := context.Background()
	now := time.Now().UTC()
	id := common.HexToHash("0xbb")

	require.NoError(t, s.Create(ctx, domain.Transaction{
		ID:         id,
		PositionID: 1,
		Type:       domain.TxCollect,
		Proposer:   alice,
		ProposedAt: now,
		Signatures: map[common.Address]time.Time{alice: now},
	}))

	require.NoError(t, s.AddSignature(ctx, id, bob, now))
	assert.ErrorIs(t, s.AddSignature(ctx, id, bob, now), domain.ErrAlreadySigned)
	assert.ErrorIs(t, s.AddSignature(ctx, common.HexToHash("0xcc"), bob, now), domain.ErrNotFound)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Signatures, 2)

	require.NoError(t, s.MarkExecuted(ctx, id, bob, now))
	got, err = s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Executed)
	require.NotNil(t, got.ExecutedBy)
	assert.Equal(t, bob, *got.ExecutedBy)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarketStoreTotals(t *testing.T) {
	s := NewMarketStore()
	ctx := context.Background()

	_, err := s.Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.AddDeposited(ctx, big.NewInt(1)), domain.ErrNotFound)

	require.NoError(t, s.Save(ctx, domain.MarketConfig{
		LockDuration:    30 * 24 * time.Hour,
		ExpectedRateBps: 1200,
		MinInvestment:   big.NewInt(1000),
		MaxInvestment:   big.NewInt(100000),
	}))

	require.NoError(t, s.AddDeposited(ctx, big.NewInt(2000)))
	require.NoError(t, s.AddDeposited(ctx, big.NewInt(3000)))
	require.NoError(t, s.AddWithdrawn(ctx, big.NewInt(500)))

	cfg, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5000), cfg.TotalDeposited)
	assert.Equal(t, big.NewInt(500), cfg.TotalWithdrawn)
}

func TestCapabilityGatewayGrantRevoke(t *testing.T) {
	g := NewCapabilityGateway()
	ctx := context.Background()

	ok, err := g.Has(ctx, alice, domain.CapabilityAdmin)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Grant(ctx, alice, domain.CapabilityAdmin))
	ok, err = g.Has(ctx, alice, domain.CapabilityAdmin)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, g.Revoke(ctx, alice, domain.CapabilityAdmin))
	ok, err = g.Has(ctx, alice, domain.CapabilityAdmin)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenRegistryMintBurn(t *testing.T) {
	r := NewTokenRegistry()
	ctx := context.Background()

	require.NoError(t, r.Mint(ctx, alice, 1))
	owner, err := r.OwnerOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	require.NoError(t, r.Burn(ctx, 1))
	_, err = r.OwnerOf(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, r.Burn(ctx, 1), domain.ErrNotFound)
}

func TestBankMoves(t *testing.T) {
	b := NewBank()
	ctx := context.Background()

	b.Credit(alice, big.NewInt(5000))
	assert.ErrorIs(t, b.Pull(ctx, alice, big.NewInt(6000)), domain.ErrInsufficientFunds)

	require.NoError(t, b.Pull(ctx, alice, big.NewInt(2000)))
	pool, err := b.PoolBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2000), pool)
	assert.Equal(t, big.NewInt(3000), b.BalanceOf(alice))

	assert.ErrorIs(t, b.Push(ctx, bob, big.NewInt(2001)), domain.ErrInsufficientFunds)
	require.NoError(t, b.Push(ctx, bob, big.NewInt(500)))
	assert.Equal(t, big.NewInt(500), b.BalanceOf(bob))

	pool, err = b.PoolBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1500), pool)
}

func TestAuditStoreListTimeWindow(t *testing.T) {
	s := NewAuditStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		s.now = func() time.Time { return at }
		require.NoError(t, s.Log(ctx, "custody_signed", map[string]any{"seq": i}))
	}

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, int64(4), all[0].ID)

	// Since is inclusive, Until exclusive.
	since := base.Add(1 * time.Hour)
	until := base.Add(3 * time.Hour)
	window, err := s.List(ctx, domain.ListOpts{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, int64(3), window[0].ID)
	assert.Equal(t, int64(2), window[1].ID)

	onlySince, err := s.List(ctx, domain.ListOpts{Since: &until})
	require.NoError(t, err)
	require.Len(t, onlySince, 1)
	assert.Equal(t, int64(4), onlySince[0].ID)

	// Pagination applies after the window filter.
	paged, err := s.List(ctx, domain.ListOpts{Since: &since, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, int64(3), paged[0].ID)
}
