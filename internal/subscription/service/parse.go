package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosuraksha/entitlements/internal/plan"
	"github.com/gosuraksha/entitlements/internal/subscription/domain"
)

// providerEvent matches the RevenueCat webhook body. Fields may arrive at the
// top level or nested under "event" depending on the sender version.
type providerEvent struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	AppUserID      string   `json:"app_user_id"`
	ProductID      string   `json:"product_id"`
	NewProductID   string   `json:"new_product_id"`
	EntitlementIDs []string `json:"entitlement_ids"`

	EventTimestampMS json.RawMessage `json:"event_timestamp_ms"`
	PurchasedAtMS    json.RawMessage `json:"purchased_at_ms"`
	ExpirationAtMS   json.RawMessage `json:"expiration_at_ms"`
	ExpirationAt     json.RawMessage `json:"expiration_at"`
}

type providerEnvelope struct {
	Event *providerEvent `json:"event"`
	providerEvent
}

// ParseEvent normalizes one provider webhook body into a CanonicalEvent.
// Ordering comes from the event timestamp, identity from the event id; a body
// missing either is rejected rather than guessed at.
func ParseEvent(provider string, body []byte) (domain.CanonicalEvent, error) {
	var envelope providerEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	event := envelope.providerEvent
	if envelope.Event != nil {
		event = *envelope.Event
	}

	if strings.TrimSpace(event.ID) == "" {
		return domain.CanonicalEvent{}, fmt.Errorf("%w: missing event id", domain.ErrMalformedEvent)
	}

	accountID, err := uuid.Parse(strings.TrimSpace(event.AppUserID))
	if err != nil {
		return domain.CanonicalEvent{}, domain.ErrMissingSubject
	}

	eventAt, ok := parseTimestamp(event.EventTimestampMS)
	if !ok {
		eventAt, ok = parseTimestamp(event.PurchasedAtMS)
	}
	if !ok {
		return domain.CanonicalEvent{}, fmt.Errorf("%w: missing event timestamp", domain.ErrMalformedEvent)
	}

	var expiresAt *time.Time
	if ts, ok := parseTimestamp(event.ExpirationAtMS); ok {
		expiresAt = &ts
	} else if ts, ok := parseTimestamp(event.ExpirationAt); ok {
		expiresAt = &ts
	}

	tier := planFromEvent(event)
	status := statusFromEvent(event.Type, expiresAt, eventAt)

	// An active paid plan without an expiry would make the lazy downgrade
	// undecidable, so the event is rejected at the door.
	if status == "ACTIVE" && plan.Paid(tier) && expiresAt == nil {
		return domain.CanonicalEvent{}, fmt.Errorf("%w: active paid plan without expiry", domain.ErrMalformedEvent)
	}

	return domain.CanonicalEvent{
		EventID:   strings.TrimSpace(event.ID),
		Provider:  provider,
		EventType: strings.ToUpper(strings.TrimSpace(event.Type)),
		AccountID: accountID,
		Plan:      string(tier),
		Status:    status,
		ExpiresAt: expiresAt,
		EventAt:   eventAt,
		Payload:   string(body),
	}, nil
}

// planFromEvent infers the tier from product and entitlement identifiers.
// Store product names vary per platform, so matching is by token, broadest
// tier first.
func planFromEvent(event providerEvent) plan.Tier {
	haystack := strings.ToUpper(strings.Join(append(
		[]string{event.ProductID, event.NewProductID},
		event.EntitlementIDs...,
	), " "))

	for _, token := range []string{"ULTRA", "ENTERPRISE"} {
		if strings.Contains(haystack, token) {
			return plan.TierUltra
		}
	}
	for _, token := range []string{"PRO", "PAID", "PREMIUM"} {
		if strings.Contains(haystack, token) {
			return plan.TierPro
		}
	}
	return plan.TierFree
}

func statusFromEvent(eventType string, expiresAt *time.Time, eventAt time.Time) string {
	upper := strings.ToUpper(strings.TrimSpace(eventType))
	switch {
	// UNCANCELLATION restores auto-renew and must not match the CANCEL token.
	case strings.Contains(upper, "UNCANCEL"):
		return "ACTIVE"
	case strings.Contains(upper, "CANCEL"):
		return "CANCELED"
	case strings.Contains(upper, "BILLING_ISSUE"):
		return "GRACE"
	case strings.Contains(upper, "EXPIR"):
		return "EXPIRED"
	case expiresAt != nil && !expiresAt.After(eventAt):
		return "EXPIRED"
	default:
		return "ACTIVE"
	}
}

// parseTimestamp accepts epoch milliseconds, epoch seconds, or an RFC 3339
// string. Values above 1e11 are read as milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return epochToTime(number)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	if number, err := strconv.ParseFloat(text, 64); err == nil {
		return epochToTime(number)
	}
	if ts, err := time.Parse(time.RFC3339, text); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

func epochToTime(number float64) (time.Time, bool) {
	if number <= 0 {
		return time.Time{}, false
	}
	millis := int64(number)
	if millis < 1e11 {
		millis *= 1000
	}
	return time.UnixMilli(millis).UTC(), true
}
