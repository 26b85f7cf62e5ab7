package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	"github.com/gosuraksha/entitlements/internal/counterstore"
	"github.com/gosuraksha/entitlements/internal/plan"
	"github.com/gosuraksha/entitlements/internal/quota"
	subscriptiondomain "github.com/gosuraksha/entitlements/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorPlanLimitExceeded(t *testing.T) {
	exceeded := &quota.ExceededError{
		Plan:      plan.TierFree,
		LimitType: plan.LimitThreatDaily,
		Window:    "daily",
		Limit:     3,
		Reason:    "plan_limit_exceeded",
		Upgrade: plan.Upgrade{
			RecommendedPlan: plan.TierPro,
			Benefits:        []string{"Higher threat scan limits"},
		},
	}

	status, payload := mapError(exceeded)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "PLAN_LIMIT_EXCEEDED", payload.Code)
	assert.Equal(t, "GO_FREE", payload.Plan)
	assert.Equal(t, "THREAT_DAILY", payload.LimitType)
	assert.Equal(t, "daily", payload.Window)
	if assert.NotNil(t, payload.Limit) {
		assert.Equal(t, 3, *payload.Limit)
	}
	if assert.NotNil(t, payload.Upgrade) {
		assert.Equal(t, plan.TierPro, payload.Upgrade.RecommendedPlan)
	}
}

func TestMapErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "counter store down fails closed",
			err:    fmt.Errorf("%w: dial tcp refused", counterstore.ErrUnavailable),
			status: http.StatusServiceUnavailable,
			code:   "RATE_LIMITER_UNAVAILABLE",
		},
		{
			name:   "bad webhook signature",
			err:    subscriptiondomain.ErrInvalidSignature,
			status: http.StatusUnauthorized,
			code:   "INVALID_SIGNATURE",
		},
		{
			name:   "malformed event",
			err:    fmt.Errorf("%w: missing event id", subscriptiondomain.ErrMalformedEvent),
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "unknown limit kind",
			err:    quota.ErrUnknownLimitKind,
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "account not found",
			err:    accountdomain.ErrNotFound,
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
		{
			name:   "guardrail denial",
			err:    &quota.GuardrailError{Reason: "email_scan_cooldown_active"},
			status: http.StatusTooManyRequests,
			code:   "RATE_LIMITED",
		},
		{
			name:   "unexpected error",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   "INTERNAL_ERROR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, payload.Code)
		})
	}
}

func TestMapErrorUnavailableMessageIsStable(t *testing.T) {
	// Clients key off this exact message.
	_, payload := mapError(counterstore.ErrUnavailable)
	assert.Equal(t, "Rate limiter unavailable", payload.Message)
}
