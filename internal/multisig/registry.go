// Package multisig owns the signer set and approval threshold that gate
// custody of pooled funds. Rotations increment a nonce consumed by the
// custody transaction identifier derivation.
package multisig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// Registry manages the multisig signer configuration. All mutating calls are
// serialized by an internal mutex so each operation is a discrete transition
// against the stored config.
type Registry struct {
	mu     sync.Mutex
	store  domain.MultisigStore
	caps   domain.CapabilityGateway
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a Registry with all required dependencies. bus may be
// nil when event publishing is disabled.
func NewRegistry(
	store domain.MultisigStore,
	caps domain.CapabilityGateway,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		store:  store,
		caps:   caps,
		audit:  audit,
		bus:    bus,
		logger: logger.With(slog.String("component", "multisig")),
		now:    time.Now,
	}
}

// Configure installs a new signer set and threshold. The caller must hold
// the admin capability. On success the previous signers lose the signer
// capability, the new set gains it, and the rotation nonce increments,
// which changes every subsequently derived custody transaction identifier.
func (r *Registry) Configure(ctx context.Context, caller common.Address, signers []common.Address, threshold int) (domain.MultisigConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok, err := r.caps.Has(ctx, caller, domain.CapabilityAdmin)
	if err != nil {
		return domain.MultisigConfig{}, fmt.Errorf("multisig: capability check: %w", err)
	}
	if !ok {
		return domain.MultisigConfig{}, domain.ErrMissingCapability
	}

	prev, err := r.store.Get(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.MultisigConfig{}, fmt.Errorf("multisig: load config: %w", err)
	}

	cfg := domain.MultisigConfig{
		Signers:   signers,
		Threshold: threshold,
		Nonce:     prev.Nonce + 1,
		UpdatedAt: r.now().UTC(),
	}
	if err := cfg.Validate(); err != nil {
		return domain.MultisigConfig{}, err
	}

	for _, s := range prev.Signers {
		if err := r.caps.Revoke(ctx, s, domain.CapabilitySigner); err != nil {
			return domain.MultisigConfig{}, fmt.Errorf("multisig: revoke signer %s: %w", s.Hex(), err)
		}
	}
	for _, s := range signers {
		if err := r.caps.Grant(ctx, s, domain.CapabilitySigner); err != nil {
			return domain.MultisigConfig{}, fmt.Errorf("multisig: grant signer %s: %w", s.Hex(), err)
		}
	}

	if err := r.store.Save(ctx, cfg); err != nil {
		return domain.MultisigConfig{}, fmt.Errorf("multisig: save config: %w", err)
	}

	if auditErr := r.audit.Log(ctx, "multisig_rotated", map[string]any{
		"caller":    caller.Hex(),
		"signers":   len(signers),
		"threshold": threshold,
		"nonce":     cfg.Nonce,
	}); auditErr != nil {
		r.logger.WarnContext(ctx, "multisig: audit log failed",
			slog.String("error", auditErr.Error()),
		)
	}

	if r.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":        "multisig_rotated",
			"nonce":        cfg.Nonce,
			"threshold":    threshold,
			"signer_count": len(signers),
		})
		if pubErr := r.bus.Publish(ctx, "custody", payload); pubErr != nil {
			r.logger.WarnContext(ctx, "multisig: publish event failed",
				slog.String("error", pubErr.Error()),
			)
		}
	}

	r.logger.InfoContext(ctx, "signer set rotated",
		slog.Int("signers", len(signers)),
		slog.Int("threshold", threshold),
		slog.Uint64("nonce", cfg.Nonce),
	)
	return cfg, nil
}

// Config returns the current signer configuration.
func (r *Registry) Config(ctx context.Context) (domain.MultisigConfig, error) {
	cfg, err := r.store.Get(ctx)
	if err != nil {
		return domain.MultisigConfig{}, fmt.Errorf("multisig: load config: %w", err)
	}
	return cfg, nil
}

// IsSigner reports whether addr is in the current signer set. A registry
// that has never been configured has no signers.
func (r *Registry) IsSigner(ctx context.Context, addr common.Address) (bool, error) {
	cfg, err := r.store.Get(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("multisig: load config: %w", err)
	}
	return cfg.HasSigner(addr), nil
}
