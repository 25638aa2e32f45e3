package custody

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
	"github.com/eden-finance/nigerian-money-market/internal/multisig"
	"github.com/eden-finance/nigerian-money-market/internal/store/memory"
)

var (
	signerA  = common.HexToAddress("0x2000000000000000000000000000000000000001")
	signerB  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	signerC  = common.HexToAddress("0x2000000000000000000000000000000000000003")
	signerD  = common.HexToAddress("0x2000000000000000000000000000000000000004")
	outsider = common.HexToAddress("0x2000000000000000000000000000000000000005")
	admin    = common.HexToAddress("0x2000000000000000000000000000000000000006")
	investor = common.HexToAddress("0x2000000000000000000000000000000000000007")
)

type custodyFixture struct {
	workflow  *Workflow
	registry  *multisig.Registry
	positions *memory.PositionStore
	txs       *memory.TransactionStore
	bank      *memory.Bank
	caps      *memory.CapabilityGateway
	clock     time.Time
}

// newFixture wires signers {A,B,C} at threshold 2 and one open position of
// 2000 units over a 30-day lock at 1200 bps (expected return 19), with the
// principal already pulled into the pool.
func newFixture(t *testing.T) (*custodyFixture, domain.Position) {
	t.Helper()
	ctx := context.Background()

	f := &custodyFixture{
		positions: memory.NewPositionStore(),
		txs:       memory.NewTransactionStore(),
		bank:      memory.NewBank(),
		caps:      memory.NewCapabilityGateway(),
		clock:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	audit := memory.NewAuditStore()
	logger := slog.Default()

	require.NoError(t, f.caps.Grant(ctx, admin, domain.CapabilityAdmin))

	f.registry = multisig.NewRegistry(memory.NewMultisigStore(), f.caps, audit, nil, logger)
	_, err := f.registry.Configure(ctx, admin, []common.Address{signerA, signerB, signerC}, 2)
	require.NoError(t, err)

	sep := DomainSeparator(42220, "workflow-test")
	f.workflow = NewWorkflow(f.txs, f.positions, f.registry, f.bank, audit, nil, nil, sep, logger)
	f.workflow.now = func() time.Time { return f.clock }

	pos := domain.Position{
		Investor:       investor,
		Amount:         big.NewInt(2000),
		DepositTime:    f.clock,
		LockDuration:   30 * 24 * time.Hour,
		MaturityTime:   f.clock.Add(30 * 24 * time.Hour),
		ExpectedReturn: big.NewInt(19),
		ActualReturn:   big.NewInt(0),
	}
	id, err := f.positions.Create(ctx, pos)
	require.NoError(t, err)
	pos.ID = id

	f.bank.Credit(investor, big.NewInt(2000))
	require.NoError(t, f.bank.Pull(ctx, investor, big.NewInt(2000)))

	return f, pos
}

func (f *custodyFixture) poolBalance(t *testing.T) int64 {
	t.Helper()
	bal, err := f.bank.PoolBalance(context.Background())
	require.NoError(t, err)
	return bal.Int64()
}

func TestCollectLifecycle(t *testing.T) {
	f, pos := newFixture(t)
	ctx := context.Background()

	// A proposes and is counted as the first signature.
	tx, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.SignatureCount())
	assert.Equal(t, signerA, tx.Proposer)

	// Below threshold: execution refused, nothing moves.
	_, err = f.workflow.Execute(ctx, signerC, tx.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientSignatures)
	assert.Equal(t, int64(2000), f.poolBalance(t))

	// B signs, reaching the threshold of 2.
	tx, err = f.workflow.Sign(ctx, signerB, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, tx.SignatureCount())

	// Any signer may execute; C collects.
	tx, err = f.workflow.Execute(ctx, signerC, tx.ID)
	require.NoError(t, err)
	assert.True(t, tx.Executed)
	require.NotNil(t, tx.ExecutedBy)
	assert.Equal(t, signerC, *tx.ExecutedBy)

	assert.Zero(t, f.poolBalance(t))
	assert.Equal(t, int64(2000), f.bank.BalanceOf(signerC).Int64())

	reread, err := f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, reread.FundsCollected)
	require.NotNil(t, reread.CollectedBy)
	assert.Equal(t, signerC, *reread.CollectedBy)

	// Pending-collect marker cleared on execution.
	_, pending, err := f.txs.PendingFor(ctx, pos.ID, domain.TxCollect)
	require.NoError(t, err)
	assert.False(t, pending)

	_, err = f.workflow.Execute(ctx, signerA, tx.ID)
	assert.ErrorIs(t, err, domain.ErrTransactionExecuted)
}

func TestReturnLifecycleUsesExpectedReturn(t *testing.T) {
	f, pos := newFixture(t)
	ctx := context.Background()

	collect, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	require.NoError(t, err)
	_, err = f.workflow.Sign(ctx, signerB, collect.ID)
	require.NoError(t, err)
	_, err = f.workflow.Execute(ctx, signerA, collect.ID)
	require.NoError(t, err)

	// Maturation fixes a different actual return; the RETURN amount is still
	// computed from the expected return.
	f.clock = f.clock.Add(31 * 24 * time.Hour)
	require.NoError(t, f.positions.MarkMatured(ctx, pos.ID, big.NewInt(75)))

	ret, err := f.workflow.Propose(ctx, signerB, pos.ID, domain.TxReturn)
	require.NoError(t, err)
	_, err = f.workflow.Sign(ctx, signerC, ret.ID)
	require.NoError(t, err)

	// Executing signer funds the return out of pocket: 2000 + 19.
	f.bank.Credit(signerA, big.NewInt(19))
	_, err = f.workflow.Execute(ctx, signerA, ret.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(2019), f.poolBalance(t))
	assert.Zero(t, f.bank.BalanceOf(signerA).Int64())

	_, pending, err := f.txs.PendingFor(ctx, pos.ID, domain.TxReturn)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestProposePreconditions(t *testing.T) {
	f, pos := newFixture(t)
	ctx := context.Background()

	_, err := f.workflow.Propose(ctx, outsider, pos.ID, domain.TxCollect)
	assert.ErrorIs(t, err, domain.ErrNotSigner)

	_, err = f.workflow.Propose(ctx, signerA, pos.ID, domain.TxReturn)
	assert.ErrorIs(t, err, domain.ErrFundsNotCollected)

	_, err = f.workflow.Propose(ctx, signerA, pos.ID, domain.TxSetReturns)
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionType)

	collect, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	require.NoError(t, err)
	_, err = f.workflow.Sign(ctx, signerB, collect.ID)
	require.NoError(t, err)
	_, err = f.workflow.Execute(ctx, signerA, collect.ID)
	require.NoError(t, err)

	_, err = f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	assert.ErrorIs(t, err, domain.ErrFundsAlreadyCollected)
}

func TestProposeTwiceReusesTransaction(t *testing.T) {
	f, pos := newFixture(t)
	ctx := context.Background()

	first, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	require.NoError(t, err)

	// Same (position, type) under an unchanged nonce lands on the same
	// record and counts as B's signature.
	second, err := f.workflow.Propose(ctx, signerB, pos.ID, domain.TxCollect)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.SignatureCount())
	assert.Equal(t, signerA, second.Proposer)

	// The proposer re-proposing is a duplicate signature.
	_, err = f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	assert.ErrorIs(t, err, domain.ErrAlreadySigned)
}

func TestSignGuards(t *testing.T) {
	f, pos := newFixture(t)
	ctx := context.Background()

	tx, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	require.NoError(t, err)

	_, err = f.workflow.Sign(ctx, outsider, tx.ID)
	assert.ErrorIs(t, err, domain.ErrNotSigner)

	_, err = f.workflow.Sign(ctx, signerA, tx.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadySigned)

	unknown := DeriveTxID(999, domain.TxCollect, 1, f.workflow.DomainSeparator())
	_, err = f.workflow.Sign(ctx, signerB, unknown)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	_, err = f.workflow.Sign(ctx, signerB, tx.ID)
	require.NoError(t, err)
	_, err = f.workflow.Execute(ctx, signerB, tx.ID)
	require.NoError(t, err)

	_, err = f.workflow.Sign(ctx, signerC, tx.ID)
	assert.ErrorIs(t, err, domain.ErrTransactionExecuted)
}

func TestExecuteCollectInsufficientPoolBalance(t *testing.T) {
	f, pos := newFixture(t)
	ctx := context.Background()

	tx, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	require.NoError(t, err)
	_, err = f.workflow.Sign(ctx, signerB, tx.ID)
	require.NoError(t, err)

	// Drain the pool below the position's principal.
	require.NoError(t, f.bank.Push(ctx, outsider, big.NewInt(1500)))

	_, err = f.workflow.Execute(ctx, signerA, tx.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// The transaction stays pending and retains its signatures.
	reread, err := f.workflow.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, reread.Executed)
	assert.Equal(t, 2, reread.SignatureCount())
}

func TestExecuteReturnFailsWhenCallerCannotFund(t *testing.T) {
	f, pos := newFixture(t)
	ctx := context.Background()

	collect, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	require.NoError(t, err)
	_, err = f.workflow.Sign(ctx, signerB, collect.ID)
	require.NoError(t, err)
	_, err = f.workflow.Execute(ctx, signerB, collect.ID)
	require.NoError(t, err)

	ret, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxReturn)
	require.NoError(t, err)
	_, err = f.workflow.Sign(ctx, signerC, ret.ID)
	require.NoError(t, err)

	// signerA holds nothing: the pull fails and the transaction stays open.
	_, err = f.workflow.Execute(ctx, signerA, ret.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	reread, err := f.workflow.Transaction(ctx, ret.ID)
	require.NoError(t, err)
	assert.False(t, reread.Executed)
}

func TestRotationChangesDerivedIdentifiers(t *testing.T) {
	f, pos := newFixture(t)
	ctx := context.Background()

	before, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	require.NoError(t, err)

	// Rotate to a new signer set; the nonce increments.
	_, err = f.registry.Configure(ctx, admin, []common.Address{signerA, signerB, signerD}, 2)
	require.NoError(t, err)

	after, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)
	assert.Equal(t, 1, after.SignatureCount())

	// The orphaned proposal is still on record but a removed signer cannot
	// touch anything anymore.
	_, err = f.workflow.Sign(ctx, signerC, before.ID)
	assert.ErrorIs(t, err, domain.ErrNotSigner)
}

func TestProposeOnWithdrawnPosition(t *testing.T) {
	f, pos := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.positions.MarkWithdrawn(ctx, pos.ID, f.clock))

	_, err := f.workflow.Propose(ctx, signerA, pos.ID, domain.TxCollect)
	assert.ErrorIs(t, err, domain.ErrAlreadyWithdrawn)
}

// fixedConfigRegistry serves a static signer set, exercising the workflow
// against the narrowest registry surface it accepts.
type fixedConfigRegistry struct {
	cfg domain.MultisigConfig
}

func (r fixedConfigRegistry) Config(context.Context) (domain.MultisigConfig, error) {
	return r.cfg, nil
}

func TestWorkflowAcceptsConfigOnlyRegistry(t *testing.T) {
	ctx := context.Background()
	positions := memory.NewPositionStore()
	txs := memory.NewTransactionStore()
	bank := memory.NewBank()

	reg := fixedConfigRegistry{cfg: domain.MultisigConfig{
		Signers:   []common.Address{signerA, signerB},
		Threshold: 2,
		Nonce:     1,
	}}
	sep := DomainSeparator(42220, "workflow-test")
	w := NewWorkflow(txs, positions, reg, bank, memory.NewAuditStore(), nil, nil, sep, slog.Default())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := domain.Position{
		Investor:       investor,
		Amount:         big.NewInt(1000),
		DepositTime:    now,
		LockDuration:   30 * 24 * time.Hour,
		MaturityTime:   now.Add(30 * 24 * time.Hour),
		ExpectedReturn: big.NewInt(9),
		ActualReturn:   big.NewInt(0),
	}
	id, err := positions.Create(ctx, pos)
	require.NoError(t, err)

	bank.Credit(investor, big.NewInt(1000))
	require.NoError(t, bank.Pull(ctx, investor, big.NewInt(1000)))

	tx, err := w.Propose(ctx, signerA, id, domain.TxCollect)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.SignatureCount())

	_, err = w.Propose(ctx, outsider, id, domain.TxCollect)
	assert.ErrorIs(t, err, domain.ErrNotSigner)
}
