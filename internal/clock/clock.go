package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock time so bucket boundaries and expiry checks can
// be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func System() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(System),
)
