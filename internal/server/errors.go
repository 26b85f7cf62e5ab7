package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	"github.com/gosuraksha/entitlements/internal/counterstore"
	"github.com/gosuraksha/entitlements/internal/plan"
	"github.com/gosuraksha/entitlements/internal/quota"
	subscriptiondomain "github.com/gosuraksha/entitlements/internal/subscription/domain"
	"gorm.io/gorm"
)

var ErrInvalidRequest = errors.New("invalid_request")

type errorPayload struct {
	Code      string        `json:"code"`
	Message   string        `json:"message,omitempty"`
	Plan      string        `json:"plan,omitempty"`
	LimitType string        `json:"limit_type,omitempty"`
	Window    string        `json:"window,omitempty"`
	Limit     *int          `json:"limit,omitempty"`
	Upgrade   *plan.Upgrade `json:"upgrade,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last handler error as JSON. Handlers
// push domain errors with AbortWithError and never write error bodies
// themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if exceeded, ok := quota.AsExceeded(err); ok {
		limit := exceeded.Limit
		upgrade := exceeded.Upgrade
		return http.StatusTooManyRequests, errorPayload{
			Code:      "PLAN_LIMIT_EXCEEDED",
			Plan:      string(exceeded.Plan),
			LimitType: string(exceeded.LimitType),
			Window:    exceeded.Window,
			Limit:     &limit,
			Upgrade:   &upgrade,
		}
	}

	var guardrail *quota.GuardrailError
	if errors.As(err, &guardrail) {
		return http.StatusTooManyRequests, errorPayload{
			Code:    "RATE_LIMITED",
			Message: guardrail.Reason,
		}
	}

	switch {
	case errors.Is(err, counterstore.ErrUnavailable):
		// Fail closed: without the counter store no admission decision is
		// trustworthy, so the action is refused rather than waved through.
		return http.StatusServiceUnavailable, errorPayload{
			Code:    "RATE_LIMITER_UNAVAILABLE",
			Message: "Rate limiter unavailable",
		}
	case errors.Is(err, subscriptiondomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Code:    "INVALID_SIGNATURE",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, subscriptiondomain.ErrMalformedEvent),
		errors.Is(err, subscriptiondomain.ErrMissingSubject),
		errors.Is(err, quota.ErrUnknownLimitKind),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		}
	case errors.Is(err, accountdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Code:    "NOT_FOUND",
			Message: "account not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Code:    "INTERNAL_ERROR",
			Message: "internal server error",
		}
	}
}
