package quota

import (
	"errors"

	"github.com/gosuraksha/entitlements/internal/plan"
)

var ErrUnknownLimitKind = errors.New("unknown_limit_kind")

// ExceededError carries everything the boundary layer needs to shape the
// client-facing 429: the plan, the denied dimension, and upgrade guidance.
type ExceededError struct {
	Plan      plan.Tier
	LimitType plan.LimitKind
	Window    string
	Limit     int
	Reason    string
	Upgrade   plan.Upgrade
}

func (e *ExceededError) Error() string {
	return "plan_limit_exceeded"
}

// AsExceeded unwraps an ExceededError from an error chain.
func AsExceeded(err error) (*ExceededError, bool) {
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		return exceeded, true
	}
	return nil, false
}
