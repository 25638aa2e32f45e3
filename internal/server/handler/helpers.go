package handler

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinel errors to HTTP status codes and
// sends the JSON error response. Unknown errors become a generic 500 so
// internals never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidMarketConfig),
		errors.Is(err, domain.ErrInvalidMultisigConfig),
		errors.Is(err, domain.ErrInvalidTransactionType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotSigner),
		errors.Is(err, domain.ErrNotTokenOwner),
		errors.Is(err, domain.ErrMissingCapability):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrDepositsNotAccepted),
		errors.Is(err, domain.ErrAlreadyWithdrawn),
		errors.Is(err, domain.ErrNotMatured),
		errors.Is(err, domain.ErrTransactionExecuted),
		errors.Is(err, domain.ErrAlreadySigned),
		errors.Is(err, domain.ErrInsufficientSignatures),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrFundsAlreadyCollected),
		errors.Is(err, domain.ErrFundsNotCollected),
		errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID extracts a numeric path parameter using Go 1.22+ routing.
func pathID(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(r.PathValue(name), 10, 64)
}

// parseAddress validates and parses a hex address field.
func parseAddress(raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseAmount parses a positive decimal string in minor units.
func parseAmount(raw string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() <= 0 {
		return nil, false
	}
	return n, true
}

// callerAddress reads the acting address from the X-Caller-Address header.
// The service trusts the API gateway to have authenticated the caller; the
// header only identifies which authenticated principal is acting.
func callerAddress(r *http.Request) (common.Address, bool) {
	return parseAddress(r.Header.Get("X-Caller-Address"))
}
