package corpus

import (
	"context"

	"go.uber.org/fx"
)

type Grabber interface {
	Name() string
	// grab every seed input this source currently holds
	Grab(ctx context.Context) ([][]byte, error)
}

// seeds above this size are skipped
const MaxSeedSize = 1 << 20

var Module = fx.Options(
	fx.Provide(NewConfiguredGrabbers),
	fx.Provide(NewCollector),
)
