package serversync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"coldchain-collect/internal/observability/metrics"
)

// Conservative token lifetime: refresh before the server's one-hour expiry.
const defaultTokenTTL = 55 * time.Minute

// AuthError means the external server rejected our credentials or token
// even after one re-authentication cycle.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("sync api: authentication failed with status %d", e.Status)
}

// tokenCache is process-wide shared state with an invalidate-then-refetch
// discipline. Concurrent refreshes after a 401 may duplicate login calls;
// last writer wins and the value is always a valid token or absent.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	ttl       time.Duration
}

func (c *tokenCache) get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || now.After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *tokenCache) put(token string, now time.Time) {
	c.mu.Lock()
	c.token = token
	c.expiresAt = now.Add(c.ttl)
	c.mu.Unlock()
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// APINotifier delivers updates to the external server's authenticated
// API, logging in with configured credentials and caching the bearer
// token.
type APINotifier struct {
	baseURL    string
	loginPath  string
	updatePath string
	email      string
	password   string
	client     *http.Client
	tokens     *tokenCache
	retries    int
	retryDelay time.Duration
	logger     *log.Logger
}

// APIOption configures the API notifier.
type APIOption func(*APINotifier)

// WithAPIClient overrides the HTTP client.
func WithAPIClient(client *http.Client) APIOption {
	return func(n *APINotifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithAPIRetry overrides the bounded fixed-delay retry policy.
func WithAPIRetry(retries int, delay time.Duration) APIOption {
	return func(n *APINotifier) {
		if retries >= 0 {
			n.retries = retries
		}
		if delay > 0 {
			n.retryDelay = delay
		}
	}
}

// WithTokenTTL overrides the cached-token lifetime.
func WithTokenTTL(ttl time.Duration) APIOption {
	return func(n *APINotifier) {
		if ttl > 0 {
			n.tokens.ttl = ttl
		}
	}
}

// NewAPINotifier constructs an API notifier.
func NewAPINotifier(baseURL, loginPath, updatePath, email, password string, logger *log.Logger, opts ...APIOption) (*APINotifier, error) {
	if baseURL == "" {
		return nil, errors.New("sync api: empty server url")
	}
	if email == "" || password == "" {
		return nil, errors.New("sync api: credentials not configured")
	}
	if loginPath == "" {
		loginPath = "/login"
	}
	if updatePath == "" {
		updatePath = "/collect-request-update"
	}
	if logger == nil {
		logger = log.Default()
	}
	notifier := &APINotifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		loginPath:  loginPath,
		updatePath: updatePath,
		email:      email,
		password:   password,
		client:     &http.Client{Timeout: 30 * time.Second},
		tokens:     &tokenCache{ttl: defaultTokenTTL},
		retries:    2,
		retryDelay: time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	return notifier, nil
}

// Notify implements Notifier. On a 401 the cached token is invalidated
// and the call retried with a fresh token exactly once.
func (n *APINotifier) Notify(ctx context.Context, update Update) error {
	if n == nil {
		return errors.New("sync api: nil notifier")
	}
	if err := n.deliver(ctx, update); err != nil {
		metrics.IncSyncDelivery("api", metrics.ResultError)
		return err
	}
	metrics.IncSyncDelivery("api", metrics.ResultSuccess)
	return nil
}

func (n *APINotifier) deliver(ctx context.Context, update Update) error {
	body, err := json.Marshal(update)
	if err != nil {
		return err
	}

	token, err := n.token(ctx)
	if err != nil {
		return err
	}
	status, err := n.post(ctx, body, token, true)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		n.logger.Printf("sync api: token expired, re-authenticating")
		n.tokens.invalidate()
		token, err = n.token(ctx)
		if err != nil {
			return err
		}
		// One retry with the fresh token, no network retry loop this time.
		status, err = n.post(ctx, body, token, false)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return &AuthError{Status: status}
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("sync api: http %d", status)
	}
	n.logger.Printf("sync api: delivered action=%s requests=%d", update.Action, len(update.CollectRequests))
	return nil
}

// token returns the cached bearer token or logs in for a fresh one.
func (n *APINotifier) token(ctx context.Context) (string, error) {
	now := time.Now()
	if cached, ok := n.tokens.get(now); ok {
		return cached, nil
	}

	credentials, err := json.Marshal(map[string]string{
		"email":    n.email,
		"password": n.password,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+n.loginPath, bytes.NewReader(credentials))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			if resp.StatusCode >= 500 {
				lastErr = fmt.Errorf("sync api: login http %d", resp.StatusCode)
				continue
			}
			return "", &AuthError{Status: resp.StatusCode}
		}

		var payload struct {
			AccessToken string `json:"access_token"`
		}
		err = json.NewDecoder(resp.Body).Decode(&payload)
		_ = resp.Body.Close()
		if err != nil {
			return "", err
		}
		if payload.AccessToken == "" {
			return "", errors.New("sync api: no access token in login response")
		}
		n.tokens.put(payload.AccessToken, time.Now())
		return payload.AccessToken, nil
	}
	return "", lastErr
}

// post sends the update once (or with the connection retry loop when
// withRetry is set) and returns the final HTTP status.
func (n *APINotifier) post(ctx context.Context, body []byte, token string, withRetry bool) (int, error) {
	retries := 0
	if withRetry {
		retries = n.retries
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.retryDelay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+n.updatePath, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("sync api: http %d", resp.StatusCode)
			continue
		}
		return resp.StatusCode, nil
	}
	return 0, lastErr
}
