package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
)

// Repository is the append-only sink the audit trail is written to
type Repository interface {
	Create(ctx context.Context, log *entities.AuditLog) error
}

// Service records state transitions. Recording is best-effort: a failed
// write is logged and swallowed so it never blocks a financial transition.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new audit service
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record appends an audit entry for the given transition
func (s *Service) Record(ctx context.Context, actorID uuid.UUID, action entities.AuditAction, resourceType string, resourceID *uuid.UUID, description string, metadata map[string]interface{}) {
	log := &entities.AuditLog{
		ID:           uuid.New(),
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Description:  description,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, log); err != nil {
		s.logger.Error("failed to write audit log",
			zap.Error(err),
			zap.String("action", string(action)),
			zap.String("actor_id", actorID.String()),
		)
	}
}

// RecordTransaction audits a transaction state transition
func (s *Service) RecordTransaction(ctx context.Context, userID uuid.UUID, action entities.AuditAction, txID uuid.UUID, description string, metadata map[string]interface{}) {
	s.Record(ctx, userID, action, "transaction", &txID, description, metadata)
}
