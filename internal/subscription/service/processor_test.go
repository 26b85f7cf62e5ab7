package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	accountrepo "github.com/gosuraksha/entitlements/internal/account/repository"
	"github.com/gosuraksha/entitlements/internal/audit"
	"github.com/gosuraksha/entitlements/internal/clock"
	"github.com/gosuraksha/entitlements/internal/config"
	"github.com/gosuraksha/entitlements/internal/observability/metrics"
	"github.com/gosuraksha/entitlements/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&accountdomain.Account{}, &domain.Event{}, &audit.Log{}); err != nil {
		t.Fatal(err)
	}
	return db
}

func newTestProcessor(t *testing.T, db *gorm.DB, clk clock.Clock) *Processor {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	log := zap.NewNop()
	return NewProcessor(ProcessorParams{
		DB:       db,
		Log:      log,
		Config:   config.Config{WebhookSecret: "s3cret"},
		Accounts: accountrepo.Provide(clk),
		Audit:    audit.NewService(audit.Params{DB: db, Log: log, GenID: node}),
		Metrics:  metrics.Noop(),
		GenID:    node,
		Clock:    clk,
	})
}

func seedAccount(t *testing.T, db *gorm.DB) *accountdomain.Account {
	t.Helper()
	account := &accountdomain.Account{
		ID:        uuid.New(),
		Plan:      "GO_FREE",
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
		UpdatedAt: time.Now().UTC(),
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatal(err)
	}
	return account
}

func upgradeEvent(accountID uuid.UUID, eventID string, eventAt time.Time) domain.CanonicalEvent {
	expires := eventAt.Add(30 * 24 * time.Hour)
	return domain.CanonicalEvent{
		EventID:   eventID,
		Provider:  "revenuecat",
		EventType: "INITIAL_PURCHASE",
		AccountID: accountID,
		Plan:      "GO_PRO",
		Status:    "ACTIVE",
		ExpiresAt: &expires,
		EventAt:   eventAt,
		Payload:   "{}",
	}
}

func TestApplyUpgrade(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	proc := newTestProcessor(t, db, clk)
	account := seedAccount(t, db)

	event := upgradeEvent(account.ID, "evt_1", clk.Now())
	result, err := proc.Apply(context.Background(), event)
	assert.NoError(t, err)
	assert.Equal(t, domain.ProcessingApplied, result.ProcessingStatus)
	assert.Equal(t, "GO_PRO", result.Plan)
	assert.False(t, result.Idempotent)

	var got accountdomain.Account
	assert.NoError(t, db.First(&got, "id = ?", account.ID).Error)
	assert.Equal(t, "GO_PRO", got.Plan)
	assert.Equal(t, "ACTIVE", *got.SubscriptionStatus)
	assert.True(t, got.FirstUpgradeUsed)
	if assert.NotNil(t, got.LastSubscriptionEventAt) {
		assert.Equal(t, event.EventAt.Unix(), got.LastSubscriptionEventAt.Unix())
	}

	var ledger domain.Event
	assert.NoError(t, db.First(&ledger, "event_id = ?", "evt_1").Error)
	assert.Equal(t, domain.ProcessingApplied, ledger.ProcessingStatus)
}

func TestApplyDuplicateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	proc := newTestProcessor(t, db, clk)
	account := seedAccount(t, db)

	event := upgradeEvent(account.ID, "evt_123", clk.Now())
	_, err := proc.Apply(context.Background(), event)
	assert.NoError(t, err)

	// Redelivery of the same event id acknowledges without reapplying.
	result, err := proc.Apply(context.Background(), event)
	assert.NoError(t, err)
	assert.Equal(t, domain.ProcessingDuplicate, result.ProcessingStatus)
	assert.True(t, result.Idempotent)

	var count int64
	assert.NoError(t, db.Model(&domain.Event{}).Where("event_id = ?", "evt_123").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyOutOfOrderIsIgnored(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	proc := newTestProcessor(t, db, clk)
	account := seedAccount(t, db)

	newer := upgradeEvent(account.ID, "evt_new", clk.Now())
	_, err := proc.Apply(context.Background(), newer)
	assert.NoError(t, err)

	// A delayed cancellation that predates the applied upgrade must not win.
	older := domain.CanonicalEvent{
		EventID:   "evt_old",
		Provider:  "revenuecat",
		EventType: "CANCELLATION",
		AccountID: account.ID,
		Plan:      "GO_PRO",
		Status:    "CANCELED",
		ExpiresAt: newer.ExpiresAt,
		EventAt:   newer.EventAt.Add(-time.Hour),
		Payload:   "{}",
	}
	result, err := proc.Apply(context.Background(), older)
	assert.NoError(t, err)
	assert.Equal(t, domain.ProcessingOutOfOrder, result.ProcessingStatus)
	assert.Equal(t, "GO_PRO", result.Plan)

	var got accountdomain.Account
	assert.NoError(t, db.First(&got, "id = ?", account.ID).Error)
	assert.Equal(t, "ACTIVE", *got.SubscriptionStatus)

	var ledger domain.Event
	assert.NoError(t, db.First(&ledger, "event_id = ?", "evt_old").Error)
	assert.Equal(t, domain.ProcessingOutOfOrder, ledger.ProcessingStatus)
}

func TestApplyEqualTimestampStillApplies(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	proc := newTestProcessor(t, db, clk)
	account := seedAccount(t, db)

	first := upgradeEvent(account.ID, "evt_a", clk.Now())
	_, err := proc.Apply(context.Background(), first)
	assert.NoError(t, err)

	second := upgradeEvent(account.ID, "evt_b", clk.Now())
	second.Plan = "GO_ULTRA"
	result, err := proc.Apply(context.Background(), second)
	assert.NoError(t, err)
	assert.Equal(t, domain.ProcessingApplied, result.ProcessingStatus)

	var got accountdomain.Account
	assert.NoError(t, db.First(&got, "id = ?", account.ID).Error)
	assert.Equal(t, "GO_ULTRA", got.Plan)
}

func TestFirstUpgradeSetOnce(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	proc := newTestProcessor(t, db, clk)
	account := seedAccount(t, db)

	_, err := proc.Apply(context.Background(), upgradeEvent(account.ID, "evt_1", clk.Now()))
	assert.NoError(t, err)

	// Expire, then upgrade again. The flag survives the round trip.
	expire := domain.CanonicalEvent{
		EventID:   "evt_2",
		Provider:  "revenuecat",
		EventType: "EXPIRATION",
		AccountID: account.ID,
		Plan:      "GO_FREE",
		Status:    "EXPIRED",
		EventAt:   clk.Now().Add(time.Hour),
		Payload:   "{}",
	}
	_, err = proc.Apply(context.Background(), expire)
	assert.NoError(t, err)

	_, err = proc.Apply(context.Background(), upgradeEvent(account.ID, "evt_3", clk.Now().Add(2*time.Hour)))
	assert.NoError(t, err)

	var got accountdomain.Account
	assert.NoError(t, db.First(&got, "id = ?", account.ID).Error)
	assert.True(t, got.FirstUpgradeUsed)
}

func TestApplyUnknownAccount(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	proc := newTestProcessor(t, db, clk)

	_, err := proc.Apply(context.Background(), upgradeEvent(uuid.New(), "evt_x", clk.Now()))
	assert.ErrorIs(t, err, accountdomain.ErrNotFound)
}

func TestIngestEndToEnd(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))
	proc := newTestProcessor(t, db, clk)
	account := seedAccount(t, db)

	eventAt := clk.Now().UnixMilli()
	expiry := clk.Now().Add(30 * 24 * time.Hour).UnixMilli()
	body := []byte(fmt.Sprintf(`{"event":{
		"id": "evt_http",
		"type": "INITIAL_PURCHASE",
		"app_user_id": %q,
		"product_id": "gosuraksha_pro_monthly",
		"event_timestamp_ms": %d,
		"expiration_at_ms": %d
	}}`, account.ID, eventAt, expiry))

	header := http.Header{}
	header.Set("X-RevenueCat-Signature", sign("s3cret", body))

	result, err := proc.Ingest(context.Background(), "revenuecat", header, body)
	assert.NoError(t, err)
	assert.Equal(t, domain.ProcessingApplied, result.ProcessingStatus)

	badHeader := http.Header{}
	badHeader.Set("X-RevenueCat-Signature", sign("wrong", body))
	_, err = proc.Ingest(context.Background(), "revenuecat", badHeader, body)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}
