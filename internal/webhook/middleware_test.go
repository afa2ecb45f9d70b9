package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coldchain-collect/internal/serversync"
)

func TestSignatureMiddleware_NoSecretConfigured(t *testing.T) {
	guard := SignatureMiddleware("", nil)
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/user", strings.NewReader("{}"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestSignatureMiddleware_MissingSignature(t *testing.T) {
	guard := SignatureMiddleware("secret", nil)
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/user", strings.NewReader("{}"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestSignatureMiddleware_InvalidSignature(t *testing.T) {
	guard := SignatureMiddleware("secret", nil)
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/user", strings.NewReader("{}"))
	req.Header.Set(serversync.SignatureHeader, "deadbeef")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestSignatureMiddleware_ValidSignaturePassesBodyThrough(t *testing.T) {
	body := `{"id":"srv-1"}`
	guard := SignatureMiddleware("secret", nil)
	var seen string
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		seen = string(data)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/user", strings.NewReader(body))
	req.Header.Set(serversync.SignatureHeader, serversync.Sign([]byte("secret"), []byte(body)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if seen != body {
		t.Fatalf("body not passed through: %q", seen)
	}
}
