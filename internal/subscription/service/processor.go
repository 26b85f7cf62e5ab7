// Package service ingests billing provider webhooks and keeps account
// subscription state consistent under redelivery, reordering, and concurrent
// delivery of the same event.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	"github.com/gosuraksha/entitlements/internal/audit"
	"github.com/gosuraksha/entitlements/internal/clock"
	"github.com/gosuraksha/entitlements/internal/config"
	"github.com/gosuraksha/entitlements/internal/observability/metrics"
	"github.com/gosuraksha/entitlements/internal/plan"
	"github.com/gosuraksha/entitlements/internal/subscription/domain"
	"github.com/gosuraksha/entitlements/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProcessorParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Accounts accountdomain.Repository
	Audit    *audit.Service
	Metrics  *metrics.Metrics
	GenID    *snowflake.Node
	Clock    clock.Clock
}

type Processor struct {
	db       *gorm.DB
	log      *zap.Logger
	secret   string
	accounts accountdomain.Repository
	audit    *audit.Service
	metrics  *metrics.Metrics
	genID    *snowflake.Node
	clock    clock.Clock
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		db:       p.DB,
		log:      p.Log.Named("subscription"),
		secret:   p.Config.WebhookSecret,
		accounts: p.Accounts,
		audit:    p.Audit,
		metrics:  p.Metrics,
		genID:    p.GenID,
		clock:    p.Clock,
	}
}

// Ingest verifies, parses, and applies one webhook delivery.
func (p *Processor) Ingest(ctx context.Context, provider string, header http.Header, body []byte) (domain.Result, error) {
	if err := VerifyRequest(p.secret, header, body); err != nil {
		p.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return domain.Result{}, err
	}

	event, err := ParseEvent(provider, body)
	if err != nil {
		p.log.Warn("webhook body rejected", zap.String("provider", provider), zap.Error(err))
		return domain.Result{}, err
	}

	return p.Apply(ctx, event)
}

// Apply records the event in the ledger and, when it is the newest event for
// the subject, applies it to the account. The row lock taken by
// FindForUpdate serializes concurrent deliveries; the unique event id index
// makes redelivery idempotent regardless of interleaving.
func (p *Processor) Apply(ctx context.Context, event domain.CanonicalEvent) (domain.Result, error) {
	var result domain.Result

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := p.accounts.FindForUpdate(ctx, tx, event.AccountID)
		if err != nil {
			return err
		}

		ledger := domain.Event{
			ID:               p.genID.Generate(),
			EventID:          event.EventID,
			Provider:         event.Provider,
			EventType:        event.EventType,
			AccountID:        event.AccountID,
			Plan:             event.Plan,
			Status:           event.Status,
			ExpiresAt:        event.ExpiresAt,
			EventAt:          event.EventAt,
			ProcessingStatus: domain.ProcessingReceived,
			Payload:          event.Payload,
			CreatedAt:        p.clock.Now(),
		}
		if err := tx.Create(&ledger).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateEvent
			}
			return err
		}

		// Strictly older than the last applied event means a delayed delivery
		// that newer state has already superseded. Equal timestamps still
		// apply: distinct events may share a provider timestamp.
		if account.LastSubscriptionEventAt != nil && event.EventAt.Before(*account.LastSubscriptionEventAt) {
			if err := p.markProcessed(ctx, tx, ledger.ID, domain.ProcessingOutOfOrder); err != nil {
				return err
			}
			result = domain.Result{
				EventID:          event.EventID,
				ProcessingStatus: domain.ProcessingOutOfOrder,
				Plan:             account.Plan,
				Status:           statusString(account.SubscriptionStatus),
			}
			return nil
		}

		firstUpgrade := !account.FirstUpgradeUsed &&
			!plan.Paid(plan.Normalize(account.Plan)) &&
			plan.Paid(plan.Normalize(event.Plan))

		update := accountdomain.SubscriptionUpdate{
			Plan:      event.Plan,
			Status:    accountdomain.Status(event.Status),
			ExpiresAt: event.ExpiresAt,
			EventAt:   event.EventAt,
		}
		if err := p.accounts.ApplySubscription(ctx, tx, account, update, firstUpgrade); err != nil {
			return err
		}
		if err := p.markProcessed(ctx, tx, ledger.ID, domain.ProcessingApplied); err != nil {
			return err
		}

		result = domain.Result{
			EventID:          event.EventID,
			ProcessingStatus: domain.ProcessingApplied,
			Plan:             event.Plan,
			Status:           event.Status,
		}
		return nil
	})

	if errors.Is(err, domain.ErrDuplicateEvent) {
		p.metrics.WebhookDuplicate(ctx, event.EventType)
		p.log.Info("duplicate event acknowledged",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
		)
		return domain.Result{
			EventID:          event.EventID,
			ProcessingStatus: domain.ProcessingDuplicate,
			Plan:             event.Plan,
			Status:           event.Status,
			Idempotent:       true,
		}, nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	p.record(ctx, event, result)
	return result, nil
}

func (p *Processor) markProcessed(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.ProcessingStatus) error {
	return tx.WithContext(ctx).
		Model(&domain.Event{}).
		Where("id = ?", id).
		Update("processing_status", status).Error
}

func (p *Processor) record(ctx context.Context, event domain.CanonicalEvent, result domain.Result) {
	accountID := event.AccountID
	switch result.ProcessingStatus {
	case domain.ProcessingApplied:
		p.metrics.WebhookApplied(ctx, event.EventType)
		p.audit.Record(ctx, &accountID, audit.EventSubscriptionUpdated, fmt.Sprintf(
			"event_id=%s type=%s plan=%s status=%s event_at=%s",
			event.EventID, event.EventType, event.Plan, event.Status,
			event.EventAt.Format(time.RFC3339),
		))
		p.log.Info("subscription event applied",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.String("account_id", accountID.String()),
			zap.String("plan", event.Plan),
			zap.String("status", event.Status),
		)
	case domain.ProcessingOutOfOrder:
		p.metrics.WebhookIgnored(ctx, event.EventType)
		p.audit.Record(ctx, &accountID, audit.EventSubscriptionWebhook, fmt.Sprintf(
			"event_id=%s type=%s ignored=out_of_order event_at=%s",
			event.EventID, event.EventType, event.EventAt.Format(time.RFC3339),
		))
		p.log.Info("subscription event ignored as out of order",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.String("account_id", accountID.String()),
		)
	}
}

func statusString(status *string) string {
	if status == nil {
		return ""
	}
	return *status
}
