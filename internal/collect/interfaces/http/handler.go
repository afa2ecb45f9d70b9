package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	accounts "coldchain-collect/internal/accounts/domain"
	"coldchain-collect/internal/auth"
	collectapp "coldchain-collect/internal/collect/application"
	collect "coldchain-collect/internal/collect/domain"
	collectpg "coldchain-collect/internal/collect/infrastructure/postgres"
	"coldchain-collect/internal/ingestion"
	ingestapp "coldchain-collect/internal/ingestion/application"
	"coldchain-collect/internal/observability/metrics"
	"coldchain-collect/internal/reports"
)

const timeLayout = time.RFC3339

// maxUploadBytes caps the temperature-log upload.
const maxUploadBytes = 16 << 20

// Handler provides the operator-facing collect request endpoints.
type Handler struct {
	service *collectapp.OperationService
}

// NewHandler constructs a handler.
func NewHandler(service *collectapp.OperationService) (*Handler, error) {
	if service == nil {
		return nil, errors.New("collect handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles /api/v1/collect-requests and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/collect-requests":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/collect-requests/end":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleEnd(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/collect-requests/"):
		h.handleItem(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/collect-requests/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleDetails(w, r, id)
	case len(parts) == 2 && parts[1] == "select" && r.Method == http.MethodPost:
		h.handleSelect(w, r, id)
	case len(parts) == 2 && parts[1] == "start" && r.Method == http.MethodPost:
		h.handleStart(w, r, id)
	case len(parts) == 2 && parts[1] == "report" && r.Method == http.MethodGet:
		h.handleReport(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	operatorID := auth.SubjectFromContext(r.Context())
	filter := collectpg.ListFilter{
		ReferrerID: r.URL.Query().Get("referrer_id"),
		Progress:   r.URL.Query().Get("progress"),
	}
	if raw := r.URL.Query().Get("date_from"); raw != "" {
		ts, err := time.Parse(timeLayout, raw)
		if err != nil {
			http.Error(w, "invalid date_from", http.StatusBadRequest)
			return
		}
		filter.DateFrom = &ts
	}
	if raw := r.URL.Query().Get("date_to"); raw != "" {
		ts, err := time.Parse(timeLayout, raw)
		if err != nil {
			http.Error(w, "invalid date_to", http.StatusBadRequest)
			return
		}
		filter.DateTo = &ts
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	list, err := h.service.AssignedRequests(r.Context(), operatorID, filter)
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]requestView, 0, len(list))
	for i := range list {
		views = append(views, newRequestView(&list[i]))
	}
	respondJSON(w, map[string]any{"collect_requests": views})
}

func (h *Handler) handleDetails(w http.ResponseWriter, r *http.Request, id string) {
	operatorID := auth.SubjectFromContext(r.Context())
	details, err := h.service.Details(r.Context(), operatorID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, newDetailsView(details))
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request, id string) {
	operatorID := auth.SubjectFromContext(r.Context())
	req, err := h.service.Select(r.Context(), operatorID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, newRequestView(req))
}

type startBody struct {
	Barcodes         []string      `json:"barcodes"`
	StartingLocation *locationBody `json:"starting_location"`
}

type locationBody struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request, id string) {
	operatorID := auth.SubjectFromContext(r.Context())
	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	cmd := collectapp.StartCommand{
		OperatorID: operatorID,
		RequestID:  id,
		Barcodes:   body.Barcodes,
	}
	if body.StartingLocation != nil {
		loc, err := collect.NewLocation(body.StartingLocation.Latitude, body.StartingLocation.Longitude, body.StartingLocation.Accuracy, time.Now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd.StartingLocation = loc
	}
	req, err := h.service.Start(r.Context(), cmd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, newRequestView(req))
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	operatorID := auth.SubjectFromContext(r.Context())
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "read file error", http.StatusBadRequest)
		return
	}
	if len(data) > maxUploadBytes {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	ids := r.Form["request_ids[]"]
	if len(ids) == 0 {
		ids = r.Form["request_ids"]
	}
	if len(ids) == 0 {
		http.Error(w, "request_ids is required", http.StatusBadRequest)
		return
	}

	cmd := ingestapp.EndCommand{
		OperatorID: operatorID,
		RequestIDs: ids,
		FileName:   header.Filename,
		FileData:   data,
	}
	if raw := r.FormValue("ending_location"); raw != "" {
		var body locationBody
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			http.Error(w, "invalid ending_location", http.StatusBadRequest)
			return
		}
		loc, err := collect.NewLocation(body.Latitude, body.Longitude, body.Accuracy, time.Now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd.EndingLocation = loc
	}

	result, err := h.service.EndCollections(r.Context(), cmd)
	if err != nil {
		respondEndError(w, err)
		return
	}
	respondJSON(w, result)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	operatorID := auth.SubjectFromContext(r.Context())
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pdf"
	}
	if format != "pdf" && format != "xlsx" {
		http.Error(w, "format must be pdf or xlsx", http.StatusBadRequest)
		return
	}

	started := time.Now()
	details, err := h.service.Details(r.Context(), operatorID, id)
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(started))
		respondError(w, err)
		return
	}
	report := reports.CollectionReport{
		Request:  details.Request,
		Operator: details.Operator,
		Referrer: details.Referrer,
		Logs:     details.Logs,
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case "pdf":
		data, err = reports.BuildCollectionPDF(report)
		contentType = "application/pdf"
	case "xlsx":
		data, err = reports.BuildCollectionXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveReportExport(format, metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="collection-`+id+`.`+format+`"`)
	_, _ = w.Write(data)
}

type requestView struct {
	ID        string                   `json:"id"`
	ServerID  string                   `json:"server_id,omitempty"`
	UserID    string                   `json:"user_id"`
	Referrer  string                   `json:"referrer_id,omitempty"`
	DeviceID  string                   `json:"device_id,omitempty"`
	Status    string                   `json:"status"`
	StartedAt string                   `json:"started_at,omitempty"`
	EndedAt   string                   `json:"ended_at,omitempty"`
	Barcodes  []string                 `json:"barcodes"`
	Extra     collect.ExtraInformation `json:"extra_information"`
	CreatedAt string                   `json:"created_at"`
}

type logView struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

type detailsView struct {
	requestView
	OperatorName string    `json:"operator_name,omitempty"`
	ReferrerName string    `json:"referrer_name,omitempty"`
	Logs         []logView `json:"temperature_logs"`
}

func newRequestView(req *collect.CollectRequest) requestView {
	view := requestView{
		ID:        req.ID,
		ServerID:  req.ServerID,
		UserID:    req.UserID,
		Referrer:  req.ReferrerID,
		DeviceID:  req.DeviceID,
		Status:    string(req.Status),
		Barcodes:  req.Barcodes,
		Extra:     req.Extra,
		CreatedAt: req.CreatedAt.UTC().Format(timeLayout),
	}
	if view.Barcodes == nil {
		view.Barcodes = []string{}
	}
	if req.StartedAt != nil {
		view.StartedAt = req.StartedAt.UTC().Format(timeLayout)
	}
	if req.EndedAt != nil {
		view.EndedAt = req.EndedAt.UTC().Format(timeLayout)
	}
	return view
}

func newDetailsView(details *collectapp.RequestDetails) detailsView {
	view := detailsView{
		requestView: newRequestView(details.Request),
		Logs:        make([]logView, 0, len(details.Logs)),
	}
	if details.Operator != nil {
		view.OperatorName = details.Operator.Name
	}
	if details.Referrer != nil {
		view.ReferrerName = details.Referrer.Name
	}
	for _, log := range details.Logs {
		view.Logs = append(view.Logs, logView{Value: log.Value, Timestamp: log.Timestamp.UTC().Format(timeLayout)})
	}
	return view
}

func respondJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collect.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, accounts.ErrNotFound):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, collect.ErrNotAssigned):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, collect.ErrActiveCollection),
		errors.Is(err, collect.ErrStateConflict),
		errors.Is(err, collect.ErrAlreadyStarted),
		errors.Is(err, collect.ErrAlreadyEnded),
		errors.Is(err, collect.ErrNotStarted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondEndError(w http.ResponseWriter, err error) {
	var malformed *ingestion.MalformedFileError
	switch {
	case errors.As(err, &malformed), errors.Is(err, ingestion.ErrMACNotFound):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		respondError(w, err)
	}
}
