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

// CustodyService defines the workflow methods the custody handler requires.
type CustodyService interface {
	Propose(ctx context.Context, caller common.Address, positionID uint64, txType domain.TransactionType) (domain.Transaction, error)
	Sign(ctx context.Context, caller common.Address, id common.Hash) (domain.Transaction, error)
	Execute(ctx context.Context, caller common.Address, id common.Hash) (domain.Transaction, error)
	Transaction(ctx context.Context, id common.Hash) (domain.Transaction, error)
	Pending(ctx context.Context) ([]domain.Transaction, error)
	History(ctx context.Context, opts domain.ListOpts) ([]domain.Transaction, error)
}

// CustodyHandler serves the propose/sign/execute custody endpoints.
type CustodyHandler struct {
	custody CustodyService
	logger  *slog.Logger
}

// NewCustodyHandler creates a CustodyHandler with the given service and logger.
func NewCustodyHandler(custody CustodyService, logger *slog.Logger) *CustodyHandler {
	return &CustodyHandler{
		custody: custody,
		logger:  logger,
	}
}

// transactionResponse is the wire form of a custody transaction.
type transactionResponse struct {
	ID         string     `json:"id"`
	PositionID uint64     `json:"position_id"`
	Type       string     `json:"type"`
	Proposer   string     `json:"proposer"`
	ProposedAt time.Time  `json:"proposed_at"`
	Signatures []string   `json:"signatures"`
	Executed   bool       `json:"executed"`
	ExecutedBy *string    `json:"executed_by,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

func toTransactionResponse(tx domain.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:         tx.ID.Hex(),
		PositionID: tx.PositionID,
		Type:       string(tx.Type),
		Proposer:   tx.Proposer.Hex(),
		ProposedAt: tx.ProposedAt,
		Signatures: make([]string, 0, len(tx.Signatures)),
		Executed:   tx.Executed,
		ExecutedAt: tx.ExecutedAt,
	}
	for signer := range tx.Signatures {
		resp.Signatures = append(resp.Signatures, signer.Hex())
	}
	if tx.ExecutedBy != nil {
		by := tx.ExecutedBy.Hex()
		resp.ExecutedBy = &by
	}
	return resp
}

// proposeRequest is the propose body.
type proposeRequest struct {
	PositionID uint64 `json:"position_id"`
	Type       string `json:"type"`
}

// Propose creates (or co-signs) a custody transaction for a position.
// POST /api/custody/propose
func (h *CustodyHandler) Propose(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Caller-Address header required")
		return
	}

	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tx, err := h.custody.Propose(r.Context(), caller, req.PositionID, domain.TransactionType(req.Type))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: propose failed",
			slog.String("caller", caller.Hex()),
			slog.Uint64("position_id", req.PositionID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

// Sign adds the caller's approval to a pending transaction.
// POST /api/custody/{id}/sign
func (h *CustodyHandler) Sign(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Caller-Address header required")
		return
	}
	id := common.HexToHash(r.PathValue("id"))

	tx, err := h.custody.Sign(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

// Execute applies a transaction that has reached its signature threshold.
// POST /api/custody/{id}/execute
func (h *CustodyHandler) Execute(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Caller-Address header required")
		return
	}
	id := common.HexToHash(r.PathValue("id"))

	tx, err := h.custody.Execute(r.Context(), caller, id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: execute failed",
			slog.String("caller", caller.Hex()),
			slog.String("tx_id", id.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

// GetTransaction returns a custody transaction by identifier.
// GET /api/custody/{id}
func (h *CustodyHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := common.HexToHash(r.PathValue("id"))

	tx, err := h.custody.Transaction(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

// listTransactionsResponse wraps transaction list responses.
type listTransactionsResponse struct {
	Transactions []transactionResponse `json:"transactions"`
}

// ListTransactions returns custody transactions, optionally only the
// unexecuted ones.
// GET /api/custody?pending=true
func (h *CustodyHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var (
		txs []domain.Transaction
		err error
	)
	if r.URL.Query().Get("pending") == "true" {
		txs, err = h.custody.Pending(r.Context())
	} else {
		txs, err = h.custody.History(r.Context(), parseListOpts(r))
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := listTransactionsResponse{Transactions: make([]transactionResponse, 0, len(txs))}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, resp)
}
