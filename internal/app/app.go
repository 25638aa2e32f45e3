// Package app provides the top-level application lifecycle for the money
// market service. It wires together stores, collaborators, services, and the
// HTTP/WebSocket API, and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/eden-finance/nigerian-money-market/internal/config"
	"github.com/eden-finance/nigerian-money-market/internal/custody"
	"github.com/eden-finance/nigerian-money-market/internal/domain"
	"github.com/eden-finance/nigerian-money-market/internal/ledger"
	"github.com/eden-finance/nigerian-money-market/internal/multisig"
	"github.com/eden-finance/nigerian-money-market/internal/notify"
	"github.com/eden-finance/nigerian-money-market/internal/report"
	"github.com/eden-finance/nigerian-money-market/internal/server"
	"github.com/eden-finance/nigerian-money-market/internal/server/handler"
	"github.com/eden-finance/nigerian-money-market/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, seeds bootstrap state, starts the API server
// and background consumers, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("storage", a.cfg.Storage.Backend),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.bootstrap(ctx, deps); err != nil {
		return fmt.Errorf("app: bootstrap: %w", err)
	}

	// --- Services ---
	ldg := ledger.New(
		deps.PositionStore, deps.MarketStore, deps.Tokens, deps.Bank,
		deps.Caps, deps.AuditStore, deps.SignalBus, a.logger,
	)
	registry := multisig.NewRegistry(
		deps.MultisigStore, deps.Caps, deps.AuditStore, deps.SignalBus, a.logger,
	)
	workflow := custody.NewWorkflow(
		deps.TransactionStore, deps.PositionStore, registry, deps.Bank,
		deps.AuditStore, deps.SignalBus, deps.LockManager,
		custody.DomainSeparator(a.cfg.Custody.ChainID, a.cfg.Custody.InstanceID),
		a.logger,
	)

	var archiver *report.Archiver
	if deps.BlobWriter != nil {
		archiver = report.NewArchiver(
			deps.BlobWriter, deps.PositionStore, deps.TransactionStore,
			deps.MarketStore, deps.Bank, deps.AuditStore, a.logger,
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	// --- WebSocket hub ---
	var wsHub *ws.Hub
	if a.cfg.Server.Enabled {
		wsHub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			if err := wsHub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: ws hub: %w", err)
			}
			return nil
		})
	}

	// --- Notification watcher ---
	watcher := notify.NewWatcher(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: notify watcher: %w", err)
		}
		return nil
	})

	// --- HTTP server ---
	if a.cfg.Server.Enabled {
		var reports handler.ReportService
		if archiver != nil {
			reports = archiver
		}
		srv := server.NewServer(
			server.Config{
				Port:        a.cfg.Server.Port,
				CORSOrigins: a.cfg.Server.CORSOrigins,
				APIKey:      a.cfg.Server.APIKey,
			},
			server.Handlers{
				Health:    handler.NewHealthHandler(a.logger),
				Positions: handler.NewPositionHandler(ldg, a.logger),
				Market:    handler.NewMarketHandler(ldg, a.logger),
				Custody:   handler.NewCustodyHandler(workflow, a.logger),
				Multisig:  handler.NewMultisigHandler(registry, a.logger),
				Reports:   handler.NewReportHandler(reports, a.logger),
				Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
			},
			wsHub,
			a.logger,
		)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// bootstrap seeds capability grants, the market configuration, and the
// initial signer set. Every step is idempotent, so restarting the service
// re-applies the seeds harmlessly.
func (a *App) bootstrap(ctx context.Context, deps *Dependencies) error {
	for _, raw := range a.cfg.Capabilities.Admins {
		if err := grantSeed(ctx, deps.Caps, raw, domain.CapabilityAdmin); err != nil {
			return err
		}
	}
	for _, raw := range a.cfg.Capabilities.RiskOperators {
		if err := grantSeed(ctx, deps.Caps, raw, domain.CapabilityRiskOperator); err != nil {
			return err
		}
	}

	// Market config: install the bootstrap parameters only when no config
	// exists yet. Later changes go through the admin API.
	if _, err := deps.MarketStore.Get(ctx); errors.Is(err, domain.ErrNotFound) {
		minInv, err := a.cfg.MinInvestment()
		if err != nil {
			return err
		}
		maxInv, err := a.cfg.MaxInvestment()
		if err != nil {
			return err
		}
		cfg := domain.MarketConfig{
			LockDuration:      a.cfg.Market.LockDuration.Duration,
			ExpectedRateBps:   a.cfg.Market.ExpectedRateBps,
			MinInvestment:     minInv,
			MaxInvestment:     maxInv,
			AcceptingDeposits: a.cfg.Market.AcceptingDeposits,
			TotalDeposited:    big.NewInt(0),
			TotalWithdrawn:    big.NewInt(0),
			UpdatedAt:         time.Now().UTC(),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := deps.MarketStore.Save(ctx, cfg); err != nil {
			return fmt.Errorf("seed market config: %w", err)
		}
		a.logger.InfoContext(ctx, "market config seeded",
			slog.Int64("expected_rate_bps", cfg.ExpectedRateBps),
		)
	} else if err != nil {
		return fmt.Errorf("load market config: %w", err)
	}

	// Multisig: install the bootstrap signer set only when none exists.
	// Rotations afterwards go through the registry.
	if len(a.cfg.Multisig.Signers) > 0 {
		if _, err := deps.MultisigStore.Get(ctx); errors.Is(err, domain.ErrNotFound) {
			cfg := domain.MultisigConfig{
				Signers:   a.cfg.SignerAddresses(),
				Threshold: a.cfg.Multisig.Threshold,
				Nonce:     1,
				UpdatedAt: time.Now().UTC(),
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			for _, s := range cfg.Signers {
				if err := deps.Caps.Grant(ctx, s, domain.CapabilitySigner); err != nil {
					return fmt.Errorf("grant signer %s: %w", s.Hex(), err)
				}
			}
			if err := deps.MultisigStore.Save(ctx, cfg); err != nil {
				return fmt.Errorf("seed multisig config: %w", err)
			}
			a.logger.InfoContext(ctx, "signer set seeded",
				slog.Int("signers", len(cfg.Signers)),
				slog.Int("threshold", cfg.Threshold),
			)
		} else if err != nil {
			return fmt.Errorf("load multisig config: %w", err)
		}
	}

	return nil
}

// grantSeed grants a capability to a configured hex address.
func grantSeed(ctx context.Context, caps domain.CapabilityGateway, raw, capability string) error {
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("malformed %s address %q", capability, raw)
	}
	if err := caps.Grant(ctx, common.HexToAddress(raw), capability); err != nil {
		return fmt.Errorf("grant %s to %s: %w", capability, raw, err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
