package application

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log"
	"time"

	accounts "coldchain-collect/internal/accounts/domain"
	accountspg "coldchain-collect/internal/accounts/infrastructure/postgres"
	collect "coldchain-collect/internal/collect/domain"
	collectpg "coldchain-collect/internal/collect/infrastructure/postgres"
	devices "coldchain-collect/internal/devices/domain"
	devicepg "coldchain-collect/internal/devices/infrastructure/postgres"
	"coldchain-collect/internal/eventing"
	eventingpg "coldchain-collect/internal/eventing/infrastructure/postgres"
	ingestapp "coldchain-collect/internal/ingestion/application"
	"coldchain-collect/internal/observability/metrics"
	"coldchain-collect/internal/serversync"
)

// StartCommand carries the operator's start-of-collection input.
type StartCommand struct {
	OperatorID       string
	RequestID        string
	Barcodes         []string
	StartingLocation *collect.Location
}

// RequestDetails is one request with its parties and correlated
// temperature readings.
type RequestDetails struct {
	Request  *collect.CollectRequest
	Operator *accounts.User
	Referrer *accounts.Referrer
	Logs     []devices.TemperatureLog
}

// OperationService runs the operator-facing lifecycle: listing, select,
// start and the delegated batch end. Each transition commits its outbox
// notification in the same transaction as the state change.
type OperationService struct {
	db       *sql.DB
	ingestor *ingestapp.Ingestor
	logger   *log.Logger
}

// NewOperationService constructs the lifecycle service.
func NewOperationService(db *sql.DB, ingestor *ingestapp.Ingestor, logger *log.Logger) (*OperationService, error) {
	if db == nil {
		return nil, errors.New("collect: nil db")
	}
	if ingestor == nil {
		return nil, errors.New("collect: nil ingestor")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &OperationService{db: db, ingestor: ingestor, logger: logger}, nil
}

// AssignedRequests lists the operator's collect requests.
func (s *OperationService) AssignedRequests(ctx context.Context, operatorID string, filter collectpg.ListFilter) ([]collect.CollectRequest, error) {
	if operatorID == "" {
		return nil, errors.New("collect: missing operator id")
	}
	requests := collectpg.NewCollectRequestRepository(s.db)
	return requests.ListByOperator(ctx, operatorID, filter)
}

// Details returns one assigned request with the temperature readings
// recorded between its start and end.
func (s *OperationService) Details(ctx context.Context, operatorID, id string) (*RequestDetails, error) {
	requests := collectpg.NewCollectRequestRepository(s.db)
	req, err := requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != operatorID {
		return nil, collect.ErrNotAssigned
	}
	details := &RequestDetails{Request: req}
	if req.DeviceID != "" && req.StartedAt != nil && req.EndedAt != nil {
		logs := devicepg.NewTemperatureLogRepository(s.db)
		details.Logs, err = logs.QueryRange(ctx, req.DeviceID, *req.StartedAt, *req.EndedAt)
		if err != nil {
			return nil, err
		}
	}
	users := accountspg.NewUserRepository(s.db)
	if user, err := users.Get(ctx, req.UserID); err == nil {
		details.Operator = user
	}
	if req.ReferrerID != "" {
		referrers := accountspg.NewReferrerRepository(s.db)
		if ref, err := referrers.Get(ctx, req.ReferrerID); err == nil {
			details.Referrer = ref
		}
	}
	return details, nil
}

// Select marks a request as the operator's current en-route collection.
// One active collection per operator; a second select is rejected with
// ErrActiveCollection.
func (s *OperationService) Select(ctx context.Context, operatorID, id string) (*collect.CollectRequest, error) {
	req, err := s.transition(ctx, "select", func(ctx context.Context, requests *collectpg.CollectRequestRepository) (*collect.CollectRequest, string, error) {
		req, err := requests.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if err := collect.CanSelect(req, operatorID); err != nil {
			return nil, "", err
		}
		active, err := requests.FindActiveByOperator(ctx, operatorID, id)
		if err != nil {
			return nil, "", err
		}
		if active != nil {
			return nil, "", collect.ErrActiveCollection
		}
		if err := requests.MarkSelected(ctx, id); err != nil {
			return nil, "", err
		}
		req.Status = collect.StatusOnTheWay
		return req, serversync.ActionSelected, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Printf("collect select: request=%s operator=%s", id, operatorID)
	return req, nil
}

// Start records the pickup: the request moves to picked_up, barcodes are
// merged in, the starting location is attached and started_at is set
// exactly once. A picked-up request no longer counts as en route, so the
// operator may select the next pickup.
func (s *OperationService) Start(ctx context.Context, cmd StartCommand) (*collect.CollectRequest, error) {
	req, err := s.transition(ctx, "start", func(ctx context.Context, requests *collectpg.CollectRequestRepository) (*collect.CollectRequest, string, error) {
		req, err := requests.Get(ctx, cmd.RequestID)
		if err != nil {
			return nil, "", err
		}
		if err := collect.CanStart(req, cmd.OperatorID); err != nil {
			return nil, "", err
		}
		started := time.Now().UTC()
		req.Status = collect.StatusPickedUp
		req.StartedAt = &started
		req.Barcodes = collect.MergeBarcodes(req.Barcodes, cmd.Barcodes)
		if cmd.StartingLocation != nil {
			loc := *cmd.StartingLocation
			req.Extra.StartingLocation = &loc
		}
		if err := requests.MarkStarted(ctx, req); err != nil {
			return nil, "", err
		}
		return req, serversync.ActionStarted, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Printf("collect start: request=%s operator=%s barcodes=%d", cmd.RequestID, cmd.OperatorID, len(req.Barcodes))
	return req, nil
}

// EndCollections finalizes a batch of requests against one uploaded
// temperature-log file.
func (s *OperationService) EndCollections(ctx context.Context, cmd ingestapp.EndCommand) (*ingestapp.EndResult, error) {
	return s.ingestor.EndCollections(ctx, cmd)
}

// transition runs one state change and its outbox write in a single
// transaction.
func (s *OperationService) transition(ctx context.Context, action string, apply func(context.Context, *collectpg.CollectRequestRepository) (*collect.CollectRequest, string, error)) (*collect.CollectRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	requests := collectpg.NewCollectRequestRepository(tx)
	req, syncAction, err := apply(ctx, requests)
	if err != nil {
		metrics.IncLifecycle(action, metrics.ResultError)
		return nil, err
	}

	if req.ServerID != "" {
		payload, err := buildPayload(ctx, tx, req)
		if err != nil {
			s.logger.Printf("collect %s: payload for %s skipped: %v", action, req.ID, err)
		} else {
			publisher, err := eventing.NewPublisher(eventingpg.NewOutboxStore(tx))
			if err != nil {
				return nil, err
			}
			update := serversync.Update{Action: syncAction, CollectRequests: []serversync.RequestPayload{payload}}
			if err := publisher.Publish(ctx, update); err != nil {
				metrics.IncLifecycle(action, metrics.ResultError)
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.IncLifecycle(action, metrics.ResultError)
		return nil, err
	}
	committed = true
	metrics.IncLifecycle(action, metrics.ResultSuccess)
	return req, nil
}

func buildPayload(ctx context.Context, tx *sql.Tx, req *collect.CollectRequest) (serversync.RequestPayload, error) {
	identity := serversync.PayloadIdentity{RequestServerID: req.ServerID}
	users := accountspg.NewUserRepository(tx)
	if user, err := users.Get(ctx, req.UserID); err == nil {
		identity.OperatorServerID = user.ServerID
	}
	if req.ReferrerID != "" {
		referrers := accountspg.NewReferrerRepository(tx)
		if ref, err := referrers.Get(ctx, req.ReferrerID); err == nil {
			identity.ReferrerServerID = ref.ServerID
		}
	}
	return serversync.BuildRequestPayload(req, identity)
}

func newID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return hex.EncodeToString(buf[:])
}
