package serversync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeServer struct {
	logins    int32
	updates   int32
	rejectAll bool
	staleOnce bool
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email != "ops@lab.test" || creds.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := atomic.AddInt32(&s.logins, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": fmt.Sprintf("tok-%d", n)})
	})
	mux.HandleFunc("/collect-request-update", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.updates, 1)
		token := r.Header.Get("Authorization")
		if s.rejectAll {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if s.staleOnce && token == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if token == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestAPINotifier(t *testing.T, url string) *APINotifier {
	t.Helper()
	notifier, err := NewAPINotifier(url, "", "", "ops@lab.test", "pw", nil, WithAPIRetry(1, time.Millisecond))
	if err != nil {
		t.Fatalf("new api notifier: %v", err)
	}
	return notifier
}

func TestAPINotifier_CachesToken(t *testing.T) {
	fake := &fakeServer{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	notifier := newTestAPINotifier(t, server.URL)
	ctx := context.Background()
	if err := notifier.Notify(ctx, testUpdate()); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	if err := notifier.Notify(ctx, testUpdate()); err != nil {
		t.Fatalf("second notify: %v", err)
	}
	if fake.logins != 1 {
		t.Fatalf("expected one login for two notifies, got %d", fake.logins)
	}
}

func TestAPINotifier_ReauthenticatesOnceOn401(t *testing.T) {
	fake := &fakeServer{staleOnce: true}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	notifier := newTestAPINotifier(t, server.URL)
	if err := notifier.Notify(context.Background(), testUpdate()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if fake.logins != 2 {
		t.Fatalf("expected re-login after 401, got %d logins", fake.logins)
	}
}

func TestAPINotifier_AuthErrorWhenTokenKeepsFailing(t *testing.T) {
	fake := &fakeServer{rejectAll: true}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	notifier := newTestAPINotifier(t, server.URL)
	err := notifier.Notify(context.Background(), testUpdate())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if fake.logins != 2 {
		t.Fatalf("expected exactly two logins, got %d", fake.logins)
	}
}

func TestAPINotifier_LoginRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	notifier := newTestAPINotifier(t, server.URL)
	err := notifier.Notify(context.Background(), testUpdate())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestAPINotifier_RequiresCredentials(t *testing.T) {
	if _, err := NewAPINotifier("http://server.test", "", "", "", "", nil); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestTokenCache_Expiry(t *testing.T) {
	cache := &tokenCache{ttl: time.Minute}
	now := time.Now()
	cache.put("tok", now)
	if _, ok := cache.get(now.Add(30 * time.Second)); !ok {
		t.Fatal("token should still be valid")
	}
	if _, ok := cache.get(now.Add(2 * time.Minute)); ok {
		t.Fatal("token should have expired")
	}
	cache.put("tok", now)
	cache.invalidate()
	if _, ok := cache.get(now); ok {
		t.Fatal("token should be gone after invalidate")
	}
}
