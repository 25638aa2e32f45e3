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

// MultisigService defines the registry methods the multisig handler requires.
type MultisigService interface {
	Configure(ctx context.Context, caller common.Address, signers []common.Address, threshold int) (domain.MultisigConfig, error)
	Config(ctx context.Context) (domain.MultisigConfig, error)
}

// MultisigHandler serves the signer-set endpoints.
type MultisigHandler struct {
	registry MultisigService
	logger   *slog.Logger
}

// NewMultisigHandler creates a MultisigHandler with the given service and logger.
func NewMultisigHandler(registry MultisigService, logger *slog.Logger) *MultisigHandler {
	return &MultisigHandler{
		registry: registry,
		logger:   logger,
	}
}

// multisigResponse is the wire form of the signer configuration.
type multisigResponse struct {
	Signers   []string  `json:"signers"`
	Threshold int       `json:"threshold"`
	Nonce     uint64    `json:"nonce"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toMultisigResponse(cfg domain.MultisigConfig) multisigResponse {
	resp := multisigResponse{
		Signers:   make([]string, 0, len(cfg.Signers)),
		Threshold: cfg.Threshold,
		Nonce:     cfg.Nonce,
		UpdatedAt: cfg.UpdatedAt,
	}
	for _, s := range cfg.Signers {
		resp.Signers = append(resp.Signers, s.Hex())
	}
	return resp
}

// GetConfig returns the current signer configuration.
// GET /api/multisig
func (h *MultisigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.registry.Config(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMultisigResponse(cfg))
}

// configureRequest is the rotation body.
type configureRequest struct {
	Signers   []string `json:"signers"`
	Threshold int      `json:"threshold"`
}

// Configure installs a new signer set and threshold. Admin only.
// PUT /api/multisig
func (h *MultisigHandler) Configure(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Caller-Address header required")
		return
	}

	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	signers := make([]common.Address, 0, len(req.Signers))
	for _, raw := range req.Signers {
		addr, ok := parseAddress(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid signer address: "+raw)
			return
		}
		signers = append(signers, addr)
	}

	cfg, err := h.registry.Configure(r.Context(), caller, signers, req.Threshold)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: configure multisig failed",
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMultisigResponse(cfg))
}
