package serversync

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"coldchain-collect/internal/observability/metrics"
)

// SignatureHeader carries the hex HMAC-SHA256 of the exact POST body.
const SignatureHeader = "X-Webhook-Signature"

// WebhookNotifier delivers updates as signed webhooks. When the URL or
// secret is unconfigured it skips silently: sync is best-effort
// infrastructure, not a blocking requirement of the lifecycle.
type WebhookNotifier struct {
	url        string
	secret     []byte
	client     *http.Client
	retries    int
	retryDelay time.Duration
	logger     *log.Logger
}

// WebhookOption configures the webhook notifier.
type WebhookOption func(*WebhookNotifier)

// WithWebhookClient overrides the HTTP client.
func WithWebhookClient(client *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithWebhookRetry overrides the bounded fixed-delay retry policy.
func WithWebhookRetry(retries int, delay time.Duration) WebhookOption {
	return func(n *WebhookNotifier) {
		if retries >= 0 {
			n.retries = retries
		}
		if delay > 0 {
			n.retryDelay = delay
		}
	}
}

// NewWebhookNotifier constructs a webhook notifier. An empty url or
// secret is allowed; Notify becomes a logged no-op.
func NewWebhookNotifier(url, secret string, logger *log.Logger, opts ...WebhookOption) *WebhookNotifier {
	if logger == nil {
		logger = log.Default()
	}
	notifier := &WebhookNotifier{
		url:        url,
		secret:     []byte(secret),
		client:     &http.Client{Timeout: 30 * time.Second},
		retries:    2,
		retryDelay: time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	return notifier
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares an incoming signature against the expected
// value in constant time.
func VerifySignature(secret, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, update Update) error {
	if n == nil {
		return errors.New("webhook notifier: nil notifier")
	}
	if n.url == "" || len(n.secret) == 0 {
		n.logger.Printf("sync webhook: url or secret not configured, skipping action=%s requests=%d", update.Action, len(update.CollectRequests))
		return nil
	}
	if err := n.deliver(ctx, update); err != nil {
		metrics.IncSyncDelivery("webhook", metrics.ResultError)
		return err
	}
	metrics.IncSyncDelivery("webhook", metrics.ResultSuccess)
	return nil
}

func (n *WebhookNotifier) deliver(ctx context.Context, update Update) error {
	body, err := json.Marshal(update)
	if err != nil {
		return err
	}
	signature := Sign(n.secret, body)

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, signature)

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("sync webhook: http %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			break
		}
	}
	return lastErr
}
