package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// MarketService defines the ledger methods the market handler requires.
type MarketService interface {
	MarketConfig(ctx context.Context) (domain.MarketConfig, error)
	UpdateMarketConfig(ctx context.Context, caller common.Address, update domain.MarketConfig) (domain.MarketConfig, error)
}

// MarketHandler serves the market configuration endpoints.
type MarketHandler struct {
	market MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(market MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		market: market,
		logger: logger,
	}
}

// marketResponse is the wire form of the market configuration.
type marketResponse struct {
	LockSeconds       int64     `json:"lock_seconds"`
	ExpectedRateBps   int64     `json:"expected_rate_bps"`
	MinInvestment     string    `json:"min_investment"`
	MaxInvestment     string    `json:"max_investment"`
	AcceptingDeposits bool      `json:"accepting_deposits"`
	TotalDeposited    string    `json:"total_deposited"`
	TotalWithdrawn    string    `json:"total_withdrawn"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toMarketResponse(cfg domain.MarketConfig) marketResponse {
	return marketResponse{
		LockSeconds:       int64(cfg.LockDuration / time.Second),
		ExpectedRateBps:   cfg.ExpectedRateBps,
		MinInvestment:     cfg.MinInvestment.String(),
		MaxInvestment:     cfg.MaxInvestment.String(),
		AcceptingDeposits: cfg.AcceptingDeposits,
		TotalDeposited:    cfg.TotalDeposited.String(),
		TotalWithdrawn:    cfg.TotalWithdrawn.String(),
		UpdatedAt:         cfg.UpdatedAt,
	}
}

// GetMarket returns the current market configuration and running totals.
// GET /api/market
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.market.MarketConfig(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(cfg))
}

// updateMarketRequest is the admin market-update body.
type updateMarketRequest struct {
	LockSeconds       int64  `json:"lock_seconds"`
	ExpectedRateBps   int64  `json:"expected_rate_bps"`
	MinInvestment     string `json:"min_investment"`
	MaxInvestment     string `json:"max_investment"`
	AcceptingDeposits bool   `json:"accepting_deposits"`
}

// UpdateMarket replaces the market parameters. Admin only.
// PUT /api/market
func (h *MarketHandler) UpdateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Caller-Address header required")
		return
	}

	var req updateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	minInv, ok := parseAmount(req.MinInvestment)
	if !ok {
		writeError(w, http.StatusBadRequest, "min_investment must be a positive decimal string")
		return
	}
	maxInv, ok := parseAmount(req.MaxInvestment)
	if !ok {
		writeError(w, http.StatusBadRequest, "max_investment must be a positive decimal string")
		return
	}

	update := domain.MarketConfig{
		LockDuration:      time.Duration(req.LockSeconds) * time.Second,
		ExpectedRateBps:   req.ExpectedRateBps,
		MinInvestment:     minInv,
		MaxInvestment:     maxInv,
		AcceptingDeposits: req.AcceptingDeposits,
	}

	cfg, err := h.market.UpdateMarketConfig(r.Context(), caller, update)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: update market failed",
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(cfg))
}
