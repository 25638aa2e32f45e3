package multisig

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
	"github.com/eden-finance/nigerian-money-market/internal/store/memory"
)

var admin = common.HexToAddress("0x3000000000000000000000000000000000000001")

func addrs(n int) []common.Address {
	out := make([]common.Address, n)
	for i := range out {
		out[i] = common.HexToAddress(fmt.Sprintf("0x30000000000000000000000000000000000000%02x", 0x10+i))
	}
	return out
}

func newRegistry(t *testing.T) (*Registry, *memory.CapabilityGateway) {
	t.Helper()
	caps := memory.NewCapabilityGateway()
	require.NoError(t, caps.Grant(context.Background(), admin, domain.CapabilityAdmin))
	r := NewRegistry(memory.NewMultisigStore(), caps, memory.NewAuditStore(), nil, slog.Default())
	return r, caps
}

func TestConfigureValidation(t *testing.T) {
	dup := addrs(3)
	dup[2] = dup[0]
	withZero := addrs(3)
	withZero[1] = common.Address{}

	tests := []struct {
		name      string
		signers   []common.Address
		threshold int
	}{
		{"one signer", addrs(1), 2},
		{"eleven signers", addrs(11), 2},
		{"threshold below two", addrs(3), 1},
		{"threshold above signer count", addrs(3), 4},
		{"duplicate signer", dup, 2},
		{"zero address signer", withZero, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRegistry(t)
			_, err := r.Configure(context.Background(), admin, tt.signers, tt.threshold)
			assert.ErrorIs(t, err, domain.ErrInvalidMultisigConfig)
		})
	}
}

func TestConfigureRequiresAdmin(t *testing.T) {
	r, _ := newRegistry(t)
	notAdmin := common.HexToAddress("0x3000000000000000000000000000000000000099")
	_, err := r.Configure(context.Background(), notAdmin, addrs(3), 2)
	assert.ErrorIs(t, err, domain.ErrMissingCapability)
}

func TestConfigureGrantsAndRevokesSignerCapability(t *testing.T) {
	r, caps := newRegistry(t)
	ctx := context.Background()

	first := addrs(3)
	cfg, err := r.Configure(ctx, admin, first, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.Nonce)

	for _, s := range first {
		ok, err := caps.Has(ctx, s, domain.CapabilitySigner)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Rotate to a partially overlapping set.
	second := addrs(5)[2:] // drops first[0], first[1]
	cfg, err = r.Configure(ctx, admin, second, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cfg.Nonce)

	ok, err := caps.Has(ctx, first[0], domain.CapabilitySigner)
	require.NoError(t, err)
	assert.False(t, ok)
	for _, s := range second {
		ok, err := caps.Has(ctx, s, domain.CapabilitySigner)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	isSigner, err := r.IsSigner(ctx, first[0])
	require.NoError(t, err)
	assert.False(t, isSigner)
	isSigner, err = r.IsSigner(ctx, second[0])
	require.NoError(t, err)
	assert.True(t, isSigner)
}

func TestIsSignerBeforeConfiguration(t *testing.T) {
	r, _ := newRegistry(t)
	ok, err := r.IsSigner(context.Background(), admin)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigValidateBounds(t *testing.T) {
	cfg := domain.MultisigConfig{Signers: addrs(4), Threshold: 4}
	assert.NoError(t, cfg.Validate())
	cfg.Threshold = 2
	assert.NoError(t, cfg.Validate())
	cfg.Signers = addrs(10)
	cfg.Threshold = 10
	assert.NoError(t, cfg.Validate())
}
