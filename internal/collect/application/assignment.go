package application

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	accounts "coldchain-collect/internal/accounts/domain"
	accountspg "coldchain-collect/internal/accounts/infrastructure/postgres"
	"coldchain-collect/internal/audit"
	collect "coldchain-collect/internal/collect/domain"
	collectpg "coldchain-collect/internal/collect/infrastructure/postgres"
)

// CreateCommand is the admin's create-request input.
type CreateCommand struct {
	OperatorID string
	ReferrerID string
	Barcodes   []string
}

// Actor identifies the admin performing an action, for the audit trail.
type Actor struct {
	ID        string
	Role      string
	IP        string
	UserAgent string
}

// AssignmentService covers the administrative side: creating requests,
// moving them between operators and removing them. Every action leaves
// an audit entry.
type AssignmentService struct {
	db     *sql.DB
	audits audit.Logger
	logger *log.Logger
}

// NewAssignmentService constructs the admin service.
func NewAssignmentService(db *sql.DB, audits audit.Logger, logger *log.Logger) (*AssignmentService, error) {
	if db == nil {
		return nil, errors.New("collect: nil db")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &AssignmentService{db: db, audits: audits, logger: logger}, nil
}

// Create registers a new collect request assigned to an operator.
func (s *AssignmentService) Create(ctx context.Context, actor Actor, cmd CreateCommand) (*collect.CollectRequest, error) {
	if cmd.OperatorID == "" {
		return nil, errors.New("collect: missing operator id")
	}
	users := accountspg.NewUserRepository(s.db)
	if _, err := users.Get(ctx, cmd.OperatorID); err != nil {
		return nil, fmt.Errorf("collect: operator %s: %w", cmd.OperatorID, err)
	}

	req := &collect.CollectRequest{
		ID:         newID(),
		UserID:     cmd.OperatorID,
		ReferrerID: cmd.ReferrerID,
		Status:     collect.StatusPending,
		Barcodes:   cmd.Barcodes,
	}
	requests := collectpg.NewCollectRequestRepository(s.db)
	if err := requests.Create(ctx, req); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "collect_request.create", req.ID, map[string]any{
		"operator_id": cmd.OperatorID,
		"referrer_id": cmd.ReferrerID,
		"barcodes":    len(cmd.Barcodes),
	})
	return req, nil
}

// Assign moves a request to another operator.
func (s *AssignmentService) Assign(ctx context.Context, actor Actor, id, operatorID string) error {
	if operatorID == "" {
		return errors.New("collect: missing operator id")
	}
	users := accountspg.NewUserRepository(s.db)
	if _, err := users.Get(ctx, operatorID); err != nil {
		return fmt.Errorf("collect: operator %s: %w", operatorID, err)
	}
	requests := collectpg.NewCollectRequestRepository(s.db)
	if err := requests.Assign(ctx, id, operatorID); err != nil {
		return err
	}
	s.record(ctx, actor, "collect_request.assign", id, map[string]any{
		"operator_id": operatorID,
	})
	return nil
}

// Delete removes a request.
func (s *AssignmentService) Delete(ctx context.Context, actor Actor, id string) error {
	requests := collectpg.NewCollectRequestRepository(s.db)
	if err := requests.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "collect_request.delete", id, nil)
	return nil
}

// Operators lists the users a request can be assigned to.
func (s *AssignmentService) Operators(ctx context.Context) ([]accounts.User, error) {
	users := accountspg.NewUserRepository(s.db)
	return users.ListOperators(ctx)
}

func (s *AssignmentService) record(ctx context.Context, actor Actor, action, resourceID string, metadata map[string]any) {
	if s.audits == nil {
		return
	}
	var raw json.RawMessage
	if metadata != nil {
		raw, _ = json.Marshal(metadata)
	}
	entry := audit.Entry{
		Actor:        actor.ID,
		Role:         actor.Role,
		Action:       action,
		ResourceType: "collect_request",
		ResourceID:   resourceID,
		Metadata:     raw,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
	}
	if err := s.audits.Log(ctx, entry); err != nil {
		s.logger.Printf("audit: %s %s: %v", action, resourceID, err)
	}
}
