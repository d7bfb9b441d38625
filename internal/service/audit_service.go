package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/psds-microservice/presence-service/internal/model"
	"gorm.io/gorm"
)

// AuditService is the gorm-backed audit sink.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService creates the sink.
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

var _ AuditSink = (*AuditService)(nil)

// Record writes one audit event.
func (s *AuditService) Record(ctx context.Context, e AuditEntry) error {
	ent := &model.AuditEvent{
		ID:       uuid.New().String(),
		UserID:   e.UserID,
		Category: e.Category,
		Type:     e.Type,
		Action:   e.Action,
		Status:   e.Status,
		Error:    e.Error,
		Metadata: e.Metadata,
	}
	if err := s.db.WithContext(ctx).Create(ent).Error; err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}
