// Package audit writes the append-only audit trail. Logging is best-effort:
// a failed audit write must never fail the primary operation.
package audit

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	EventPlanLimitExceeded         = "PLAN_LIMIT_EXCEEDED"
	EventSubscriptionUpdated       = "SUBSCRIPTION_UPDATED"
	EventSubscriptionAutoDowngrade = "SUBSCRIPTION_AUTO_DOWNGRADE"
	EventSubscriptionWebhook       = "SUBSCRIPTION_WEBHOOK_EVENT"
)

// Log is one audit trail row.
type Log struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	AccountID   *uuid.UUID   `gorm:"type:uuid;index"`
	EventType   string       `gorm:"type:varchar(64);not null"`
	Description string       `gorm:"type:text;not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Log) TableName() string { return "audit_logs" }

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit"),
		genID: p.GenID,
	}
}

// Record appends an audit row. Failures are logged and discarded.
func (s *Service) Record(ctx context.Context, accountID *uuid.UUID, eventType, description string) {
	if s == nil || s.db == nil {
		return
	}
	row := Log{
		ID:          s.genID.Generate(),
		AccountID:   accountID,
		EventType:   eventType,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Warn("audit write failed",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

var Module = fx.Module("audit",
	fx.Provide(NewService),
)
