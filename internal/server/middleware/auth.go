package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// callerHeader names the gateway-set header identifying which authenticated
// principal is acting. Handlers read it after this middleware has vetted it.
const callerHeader = "X-Caller-Address"

// Auth returns middleware that gates API requests behind a static key and
// screens the caller identity header. The key may arrive as a Bearer token
// in the Authorization header or in X-API-Key; an empty configured key
// disables the gate. A present but malformed X-Caller-Address is rejected
// before any handler runs, and well-formed ones are rewritten to checksum
// form so every downstream consumer sees one canonical spelling per
// principal.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" {
				cred := credential(r)
				if cred == "" {
					writeAuthError(w, http.StatusUnauthorized, "missing authentication token")
					return
				}

				// Constant-time comparison to prevent timing attacks.
				if subtle.ConstantTimeCompare([]byte(cred), []byte(apiKey)) != 1 {
					writeAuthError(w, http.StatusUnauthorized, "invalid authentication token")
					return
				}
			}

			if raw := r.Header.Get(callerHeader); raw != "" {
				if !common.IsHexAddress(raw) {
					writeAuthError(w, http.StatusBadRequest, "malformed caller address")
					return
				}
				r.Header.Set(callerHeader, common.HexToAddress(raw).Hex())
			}

			next.ServeHTTP(w, r)
		})
	}
}

// credential extracts the presented API key from the Authorization header
// (Bearer scheme) or the X-API-Key header.
func credential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeAuthError sends a JSON error body with the given status.
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
