package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"coldchain-collect/internal/auth"
	collectapp "coldchain-collect/internal/collect/application"
)

// AdminHandler provides the administrative collect request endpoints.
type AdminHandler struct {
	service *collectapp.AssignmentService
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(service *collectapp.AssignmentService) (*AdminHandler, error) {
	if service == nil {
		return nil, errors.New("collect admin handler: nil service")
	}
	return &AdminHandler{service: service}, nil
}

// ServeHTTP handles /api/v1/admin/ subroutes.
func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/admin/collect-requests":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCreate(w, r)
	case r.URL.Path == "/api/v1/admin/operators":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleOperators(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/admin/collect-requests/"):
		h.handleItem(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *AdminHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/admin/collect-requests/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.handleDelete(w, r, id)
	case len(parts) == 2 && parts[1] == "assign" && r.Method == http.MethodPost:
		h.handleAssign(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *AdminHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OperatorID string   `json:"operator_id"`
		ReferrerID string   `json:"referrer_id"`
		Barcodes   []string `json:"barcodes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if body.OperatorID == "" {
		http.Error(w, "operator_id is required", http.StatusBadRequest)
		return
	}
	req, err := h.service.Create(r.Context(), actorFrom(r), collectapp.CreateCommand{
		OperatorID: body.OperatorID,
		ReferrerID: body.ReferrerID,
		Barcodes:   body.Barcodes,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	respondJSON(w, newRequestView(req))
}

func (h *AdminHandler) handleAssign(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		OperatorID string `json:"operator_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if body.OperatorID == "" {
		http.Error(w, "operator_id is required", http.StatusBadRequest)
		return
	}
	if err := h.service.Assign(r.Context(), actorFrom(r), id, body.OperatorID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (h *AdminHandler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Delete(r.Context(), actorFrom(r), id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (h *AdminHandler) handleOperators(w http.ResponseWriter, r *http.Request) {
	operators, err := h.service.Operators(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	type operatorView struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	views := make([]operatorView, 0, len(operators))
	for _, op := range operators {
		views = append(views, operatorView{ID: op.ID, Name: op.Name, Email: op.Email})
	}
	respondJSON(w, map[string]any{"operators": views})
}

func actorFrom(r *http.Request) collectapp.Actor {
	return collectapp.Actor{
		ID:        auth.SubjectFromContext(r.Context()),
		Role:      string(auth.RoleFromContext(r.Context())),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
