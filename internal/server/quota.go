package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	"github.com/gosuraksha/entitlements/internal/plan"
	"github.com/gosuraksha/entitlements/internal/quota"
)

type enforceRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	LimitType string `json:"limit_type" binding:"required"`
}

// EnforceQuota admits or denies one action for an account. Allow is a bare
// 204; denials surface through the error middleware as a 429 with upgrade
// guidance.
func (s *Server) EnforceQuota(c *gin.Context) {
	var req enforceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	kind, ok := plan.ParseLimitKind(req.LimitType)
	if !ok {
		AbortWithError(c, quota.ErrUnknownLimitKind)
		return
	}

	ctx := c.Request.Context()

	// Load settles any lapsed paid plan first, so enforcement never runs
	// against a stale tier.
	account, err := s.resolver.Load(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.enforcer.Enforce(ctx, account, kind); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type subscriptionResponse struct {
	AccountID           string         `json:"account_id"`
	Plan                string         `json:"plan"`
	Status              *string        `json:"status"`
	ExpiresAt           *time.Time     `json:"expires_at"`
	FirstUpgradeUsed    bool           `json:"first_upgrade_used"`
	AIImageLifetimeUsed int            `json:"ai_image_lifetime_used"`
	Features            []string       `json:"features"`
	Limits              map[string]int `json:"limits"`
}

// GetSubscription returns the effective subscription snapshot for an account.
func (s *Server) GetSubscription(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.resolver.Load(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.snapshot(account))
}

func (s *Server) snapshot(account *accountdomain.Account) subscriptionResponse {
	tier := plan.Normalize(account.Plan)

	features := make([]string, 0)
	for _, f := range plan.Features(tier) {
		features = append(features, string(f))
	}

	limits := make(map[string]int)
	for _, kind := range plan.Kinds() {
		if ceiling, limited := s.policy.LimitFor(tier, kind); limited {
			limits[string(kind)] = ceiling
		}
	}
	// Structural ceiling enforced by the app against the stored contact
	// count, not by the counter store.
	if ceiling, limited := s.policy.LimitFor(tier, plan.LimitTrustedContactMax); limited {
		limits[string(plan.LimitTrustedContactMax)] = ceiling
	}

	return subscriptionResponse{
		AccountID:           account.ID.String(),
		Plan:                string(tier),
		Status:              account.SubscriptionStatus,
		ExpiresAt:           account.SubscriptionExpiresAt,
		FirstUpgradeUsed:    account.FirstUpgradeUsed,
		AIImageLifetimeUsed: account.AIImageLifetimeUsed,
		Features:            features,
		Limits:              limits,
	}
}
