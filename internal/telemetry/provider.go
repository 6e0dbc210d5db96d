package telemetry

import (
	"context"
	"time"
)

// VarianceSource streams estimator variance records at a fixed period. The
// returned channel is closed when ctx is cancelled or the stream ends.
type VarianceSource interface {
	StreamVariance(ctx context.Context, period time.Duration) (<-chan Variance, error)
}
