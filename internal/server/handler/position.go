package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
	"github.com/eden-finance/nigerian-money-market/internal/ledger"
)

// PositionService defines the ledger methods the position handler requires.
type PositionService interface {
	Create(ctx context.Context, investor common.Address, amount *big.Int) (domain.Position, error)
	Withdraw(ctx context.Context, positionID uint64, caller common.Address) (*big.Int, error)
	MarkMatured(ctx context.Context, caller common.Address, entries []ledger.MaturationEntry) ([]uint64, error)
	Position(ctx context.Context, id uint64) (domain.Position, error)
	PositionsByInvestor(ctx context.Context, investor common.Address, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position lifecycle endpoints.
type PositionHandler struct {
	ledger PositionService
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(ledger PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		ledger: ledger,
		logger: logger,
	}
}

// positionResponse is the wire form of a position. Amounts are decimal
// strings in minor units.
type positionResponse struct {
	ID             uint64     `json:"id"`
	Investor       string     `json:"investor"`
	Amount         string     `json:"amount"`
	DepositTime    time.Time  `json:"deposit_time"`
	MaturityTime   time.Time  `json:"maturity_time"`
	ExpectedReturn string     `json:"expected_return"`
	ActualReturn   string     `json:"actual_return"`
	IsMatured      bool       `json:"is_matured"`
	IsWithdrawn    bool       `json:"is_withdrawn"`
	FundsCollected bool       `json:"funds_collected"`
	WithdrawnAt    *time.Time `json:"withdrawn_at,omitempty"`
}

func toPositionResponse(p domain.Position) positionResponse {
	return positionResponse{
		ID:             p.ID,
		Investor:       p.Investor.Hex(),
		Amount:         p.Amount.String(),
		DepositTime:    p.DepositTime,
		MaturityTime:   p.MaturityTime,
		ExpectedReturn: p.ExpectedReturn.String(),
		ActualReturn:   p.ActualReturn.String(),
		IsMatured:      p.IsMatured,
		IsWithdrawn:    p.IsWithdrawn,
		FundsCollected: p.FundsCollected,
		WithdrawnAt:    p.WithdrawnAt,
	}
}

// createPositionRequest is the deposit request body.
type createPositionRequest struct {
	Investor string `json:"investor"`
	Amount   string `json:"amount"`
}

// CreatePosition opens a new position.
// POST /api/positions
func (h *PositionHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	investor, ok := parseAddress(req.Investor)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid investor address")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal string")
		return
	}

	pos, err := h.ledger.Create(r.Context(), investor, amount)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create position failed",
			slog.String("investor", investor.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPositionResponse(pos))
}

// GetPosition returns a single position by identifier.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := h.ledger.Position(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []positionResponse `json:"positions"`
}

// ListPositions returns positions for a given investor.
// GET /api/positions?investor=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	investor, ok := parseAddress(r.URL.Query().Get("investor"))
	if !ok {
		writeError(w, http.StatusBadRequest, "investor query parameter required")
		return
	}

	positions, err := h.ledger.PositionsByInvestor(r.Context(), investor, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("investor", investor.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	resp := listPositionsResponse{Positions: make([]positionResponse, 0, len(positions))}
	for _, p := range positions {
		resp.Positions = append(resp.Positions, toPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// WithdrawPosition pays out a matured position to its owner.
// POST /api/positions/{id}/withdraw
func (h *PositionHandler) WithdrawPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Caller-Address header required")
		return
	}

	payout, err := h.ledger.Withdraw(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"position_id": id,
		"payout":      payout.String(),
	})
}

// maturationRequest is the batch maturation request body.
type maturationRequest struct {
	Entries []struct {
		PositionID   uint64 `json:"position_id"`
		ActualReturn string `json:"actual_return"`
	} `json:"entries"`
}

// MaturePositions fixes actual returns for a batch of matured positions.
// POST /api/positions/mature
func (h *PositionHandler) MaturePositions(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Caller-Address header required")
		return
	}

	var req maturationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "entries must not be empty")
		return
	}

	entries := make([]ledger.MaturationEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		actual, ok := new(big.Int).SetString(e.ActualReturn, 10)
		if !ok || actual.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "actual_return must be a non-negative decimal string")
			return
		}
		entries = append(entries, ledger.MaturationEntry{
			PositionID:   e.PositionID,
			ActualReturn: actual,
		})
	}

	matured, err := h.ledger.MarkMatured(r.Context(), caller, entries)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if matured == nil {
		matured = []uint64{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"matured": matured})
}
