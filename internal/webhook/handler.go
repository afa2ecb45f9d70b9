package webhook

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	accounts "coldchain-collect/internal/accounts/domain"
	accountspg "coldchain-collect/internal/accounts/infrastructure/postgres"
	collect "coldchain-collect/internal/collect/domain"
	collectpg "coldchain-collect/internal/collect/infrastructure/postgres"
	"coldchain-collect/internal/observability/metrics"
)

// Handler serves the inbound webhook routes the external logistics
// server pushes to. Every id in a payload is the server's own id;
// local records are correlated through server_id columns.
type Handler struct {
	db     *sql.DB
	logger *log.Logger
}

// NewHandler constructs a webhook handler.
func NewHandler(db *sql.DB, logger *log.Logger) (*Handler, error) {
	if db == nil {
		return nil, errors.New("webhook: nil db")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{db: db, logger: logger}, nil
}

// Register mounts all webhook routes on the mux behind the signature
// middleware.
func (h *Handler) Register(mux *http.ServeMux, secret string) {
	guard := SignatureMiddleware(secret, h.logger)
	mux.Handle("/webhook/logistics-request", guard(http.HandlerFunc(h.LogisticsRequest)))
	mux.Handle("/webhook/collect-request-update", guard(http.HandlerFunc(h.CollectRequestUpdate)))
	mux.Handle("/webhook/referrer", guard(http.HandlerFunc(h.Referrer)))
	mux.Handle("/webhook/user", guard(http.HandlerFunc(h.User)))
}

type userPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type referrerPayload struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type requestPayload struct {
	ID               string           `json:"id"`
	Status           string           `json:"status"`
	Barcodes         []string         `json:"barcodes"`
	StartedAt        string           `json:"started_at"`
	EndedAt          string           `json:"ended_at"`
	ExtraInformation json.RawMessage  `json:"extra_information"`
	SampleCollector  *userPayload     `json:"sample_collector"`
	Referrer         *referrerPayload `json:"referrer"`
}

type logisticsPayload struct {
	Action         string         `json:"action"`
	CollectRequest requestPayload `json:"collect_request"`
}

type itemResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// LogisticsRequest handles create/update/delete pushes for collect
// requests originating on the external server.
func (h *Handler) LogisticsRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload logisticsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		metrics.IncWebhookInbound("logistics-request", metrics.ResultError)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.CollectRequest.ID == "" {
		metrics.IncWebhookInbound("logistics-request", metrics.ResultError)
		http.Error(w, "collect_request.id is required", http.StatusBadRequest)
		return
	}

	var err error
	switch payload.Action {
	case "create":
		err = h.createRequest(r, payload.CollectRequest)
	case "update":
		err = h.updateRequest(r, payload.CollectRequest)
	case "delete":
		err = h.deleteRequest(r, payload.CollectRequest.ID)
	default:
		metrics.IncWebhookInbound("logistics-request", metrics.ResultError)
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.IncWebhookInbound("logistics-request", metrics.ResultError)
		respondError(w, err)
		return
	}
	metrics.IncWebhookInbound("logistics-request", metrics.ResultSuccess)
	respondJSON(w, map[string]string{"status": "ok"})
}

// CollectRequestUpdate handles batched status pushes. Each item is
// applied independently and reported back per id.
func (h *Handler) CollectRequestUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		CollectRequests []requestPayload `json:"collect_requests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		metrics.IncWebhookInbound("collect-request-update", metrics.ResultError)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(payload.CollectRequests) == 0 {
		metrics.IncWebhookInbound("collect-request-update", metrics.ResultError)
		http.Error(w, "collect_requests is required", http.StatusBadRequest)
		return
	}

	results := make([]itemResult, 0, len(payload.CollectRequests))
	for _, item := range payload.CollectRequests {
		if err := h.updateRequest(r, item); err != nil {
			results = append(results, itemResult{ID: item.ID, Error: err.Error()})
			continue
		}
		results = append(results, itemResult{ID: item.ID, OK: true})
	}
	metrics.IncWebhookInbound("collect-request-update", metrics.ResultSuccess)
	respondJSON(w, map[string]any{"results": results})
}

// Referrer handles referrer upserts.
func (h *Handler) Referrer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload referrerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ID == "" {
		metrics.IncWebhookInbound("referrer", metrics.ResultError)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if _, err := h.upsertReferrer(r, &payload); err != nil {
		metrics.IncWebhookInbound("referrer", metrics.ResultError)
		respondError(w, err)
		return
	}
	metrics.IncWebhookInbound("referrer", metrics.ResultSuccess)
	respondJSON(w, map[string]string{"status": "ok"})
}

// User handles user upserts.
func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload userPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ID == "" {
		metrics.IncWebhookInbound("user", metrics.ResultError)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if _, err := h.upsertUser(r, &payload); err != nil {
		metrics.IncWebhookInbound("user", metrics.ResultError)
		respondError(w, err)
		return
	}
	metrics.IncWebhookInbound("user", metrics.ResultSuccess)
	respondJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) createRequest(r *http.Request, payload requestPayload) error {
	ctx := r.Context()
	if payload.SampleCollector == nil || payload.SampleCollector.ID == "" {
		return errors.New("sample_collector is required")
	}
	user, err := h.upsertUser(r, payload.SampleCollector)
	if err != nil {
		return err
	}
	req := &collect.CollectRequest{
		ID:       newID(),
		UserID:   user.ID,
		ServerID: payload.ID,
		Status:   collect.StatusPending,
		Barcodes: payload.Barcodes,
	}
	if payload.Referrer != nil && payload.Referrer.ID != "" {
		ref, err := h.upsertReferrer(r, payload.Referrer)
		if err != nil {
			return err
		}
		req.ReferrerID = ref.ID
	}
	if status := collect.Status(payload.Status); status != "" {
		if !status.Valid() {
			return errors.New("unknown status")
		}
		req.Status = status
	}
	if len(payload.ExtraInformation) > 0 {
		if err := json.Unmarshal(payload.ExtraInformation, &req.Extra); err != nil {
			return errors.New("invalid extra_information")
		}
	}

	requests := collectpg.NewCollectRequestRepository(h.db)
	if existing, err := requests.GetByServerID(ctx, payload.ID); err == nil && existing != nil {
		// Replayed create: treat as update.
		return h.applyUpdate(ctx, requests, existing, payload)
	}
	return requests.Create(ctx, req)
}

func (h *Handler) updateRequest(r *http.Request, payload requestPayload) error {
	ctx := r.Context()
	requests := collectpg.NewCollectRequestRepository(h.db)
	req, err := requests.GetByServerID(ctx, payload.ID)
	if err != nil {
		return err
	}
	if payload.SampleCollector != nil && payload.SampleCollector.ID != "" {
		user, err := h.upsertUser(r, payload.SampleCollector)
		if err != nil {
			return err
		}
		req.UserID = user.ID
	}
	if payload.Referrer != nil && payload.Referrer.ID != "" {
		ref, err := h.upsertReferrer(r, payload.Referrer)
		if err != nil {
			return err
		}
		req.ReferrerID = ref.ID
	}
	return h.applyUpdate(ctx, requests, req, payload)
}

func (h *Handler) applyUpdate(ctx context.Context, requests *collectpg.CollectRequestRepository, req *collect.CollectRequest, payload requestPayload) error {
	if payload.Status != "" {
		status := collect.Status(payload.Status)
		if !status.Valid() {
			return errors.New("unknown status")
		}
		req.Status = status
	}
	if len(payload.Barcodes) > 0 {
		req.Barcodes = collect.MergeBarcodes(req.Barcodes, payload.Barcodes)
	}
	if payload.StartedAt != "" {
		ts, err := parseServerTime(payload.StartedAt)
		if err != nil {
			return err
		}
		req.StartedAt = &ts
	}
	if payload.EndedAt != "" {
		ts, err := parseServerTime(payload.EndedAt)
		if err != nil {
			return err
		}
		req.EndedAt = &ts
	}
	if len(payload.ExtraInformation) > 0 {
		if err := json.Unmarshal(payload.ExtraInformation, &req.Extra); err != nil {
			return errors.New("invalid extra_information")
		}
	}
	return requests.UpdateFromServer(ctx, req)
}

func (h *Handler) deleteRequest(r *http.Request, serverID string) error {
	ctx := r.Context()
	requests := collectpg.NewCollectRequestRepository(h.db)
	req, err := requests.GetByServerID(ctx, serverID)
	if err != nil {
		return err
	}
	return requests.Delete(ctx, req.ID)
}

func (h *Handler) upsertUser(r *http.Request, payload *userPayload) (*accounts.User, error) {
	users := accountspg.NewUserRepository(h.db)
	stored, _, err := users.UpsertByServerID(r.Context(), &accounts.User{
		ID:       newID(),
		ServerID: payload.ID,
		Name:     payload.Name,
		Email:    payload.Email,
		Role:     payload.Role,
	})
	return stored, err
}

func (h *Handler) upsertReferrer(r *http.Request, payload *referrerPayload) (*accounts.Referrer, error) {
	referrers := accountspg.NewReferrerRepository(h.db)
	stored, _, err := referrers.UpsertByServerID(r.Context(), &accounts.Referrer{
		ID:        newID(),
		ServerID:  payload.ID,
		Name:      payload.Name,
		Address:   payload.Address,
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
	})
	return stored, err
}

func respondJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, collect.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusUnprocessableEntity)
}

func parseServerTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.New("invalid timestamp")
}

func newID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return hex.EncodeToString(buf[:])
}
