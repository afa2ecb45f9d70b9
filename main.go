package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"coldchain-collect/internal/audit"
	"coldchain-collect/internal/auth"
	"coldchain-collect/internal/blobstore"
	collectapp "coldchain-collect/internal/collect/application"
	collecthttp "coldchain-collect/internal/collect/interfaces/http"
	"coldchain-collect/internal/eventing"
	eventingrepo "coldchain-collect/internal/eventing/infrastructure/postgres"
	"coldchain-collect/internal/ingestion"
	ingestapp "coldchain-collect/internal/ingestion/application"
	"coldchain-collect/internal/observability/metrics"
	"coldchain-collect/internal/serversync"
	"coldchain-collect/internal/webhook"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	syncCfg, err := serversync.LoadConfig()
	if err != nil {
		logger.Fatalf("sync config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	blobs, err := blobstore.NewFileStore(cfg.StorageRoot)
	if err != nil {
		logger.Fatalf("blob store error: %v", err)
	}

	loc, err := time.LoadLocation(cfg.ReferenceTimezone)
	if err != nil {
		logger.Fatalf("reference timezone error: %v", err)
	}

	ingestor, err := ingestapp.NewIngestor(db, blobs, logger, ingestapp.WithTimezone(loc))
	if err != nil {
		logger.Fatalf("ingestor error: %v", err)
	}
	operations, err := collectapp.NewOperationService(db, ingestor, logger)
	if err != nil {
		logger.Fatalf("operation service error: %v", err)
	}
	assignments, err := collectapp.NewAssignmentService(db, auditRepo, logger)
	if err != nil {
		logger.Fatalf("assignment service error: %v", err)
	}

	collectHandler, err := collecthttp.NewHandler(operations)
	if err != nil {
		logger.Fatalf("collect handler error: %v", err)
	}
	adminHandler, err := collecthttp.NewAdminHandler(assignments)
	if err != nil {
		logger.Fatalf("admin handler error: %v", err)
	}
	webhookHandler, err := webhook.NewHandler(db, logger)
	if err != nil {
		logger.Fatalf("webhook handler error: %v", err)
	}

	notifier := buildNotifier(syncCfg, logger)
	worker, err := eventing.NewWorker(
		eventingrepo.NewOutboxStore(db),
		notifier,
		syncCfg.WorkerBatch,
		syncCfg.WorkerPoll,
		syncCfg.MaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatalf("outbox worker error: %v", err)
	}
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker.Run(workerCtx)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/webhook/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/collect-requests", collectHandler)
	mux.Handle("/api/v1/collect-requests/", collectHandler)
	mux.Handle("/api/v1/admin/", adminHandler)
	webhookHandler.Register(mux, cfg.InboundWebhookSecret)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

// buildNotifier wires the outbound channels: the signed webhook always
// (it degrades to a logged skip when unconfigured) and the bearer-token
// API when credentials are present.
func buildNotifier(cfg serversync.Config, logger *log.Logger) serversync.Notifier {
	client := &http.Client{Timeout: cfg.RequestTimeout}
	channels := serversync.MultiNotifier{
		serversync.NewWebhookNotifier(
			cfg.WebhookURL,
			cfg.WebhookSecret,
			logger,
			serversync.WithWebhookClient(client),
			serversync.WithWebhookRetry(cfg.Retries, cfg.RetryDelay),
		),
	}
	if cfg.APIConfigured() {
		api, err := serversync.NewAPINotifier(
			cfg.ServerURL,
			cfg.LoginPath,
			cfg.UpdatePath,
			cfg.Email,
			cfg.Password,
			logger,
			serversync.WithAPIClient(client),
			serversync.WithAPIRetry(cfg.Retries, cfg.RetryDelay),
		)
		if err != nil {
			logger.Fatalf("api notifier error: %v", err)
		}
		channels = append(channels, api)
	} else {
		logger.Printf("sync api: credentials not configured, api channel disabled")
	}
	return channels
}

type config struct {
	DatabaseURL          string
	HTTPAddr             string
	StorageRoot          string
	ReferenceTimezone    string
	JWTSecret            string
	InboundWebhookSecret string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8080"),
		StorageRoot:          getenvDefault("STORAGE_ROOT", "./storage"),
		ReferenceTimezone:    getenvDefault("REFERENCE_TIMEZONE", ingestion.DefaultTimezone),
		JWTSecret:            getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		InboundWebhookSecret: getenvDefault("WEBHOOK_SECRET", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
