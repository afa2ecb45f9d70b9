package webhook

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"

	"coldchain-collect/internal/serversync"
)

// maxBodyBytes caps inbound webhook payloads.
const maxBodyBytes = 1 << 20

// SignatureMiddleware verifies the HMAC signature on inbound webhook
// calls. An unconfigured secret is a deployment fault, not a caller
// fault, so it answers 500; a missing or wrong signature answers 401.
func SignatureMiddleware(secret string, logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				logger.Printf("webhook: signature secret not configured")
				http.Error(w, "webhook not configured", http.StatusInternalServerError)
				return
			}
			signature := strings.TrimSpace(r.Header.Get(serversync.SignatureHeader))
			if signature == "" {
				http.Error(w, "missing signature", http.StatusUnauthorized)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				http.Error(w, "read body error", http.StatusBadRequest)
				return
			}
			_ = r.Body.Close()
			if len(body) > maxBodyBytes {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			if !serversync.VerifySignature([]byte(secret), body, signature) {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
