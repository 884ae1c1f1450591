package telemetry

import (
	"context"
	"fmt"
	"time"
)

// Point is a single numeric observation written to the time-series store.
type Point struct {
	TenantID   int64
	DeviceID   int64
	MetricKey  string
	Value      float64
	ObservedAt time.Time
}

// Writer stores telemetry points. Storage is append-only.
type Writer interface {
	WritePoints(ctx context.Context, points []Point) error
}

// PartialFailure reports that some points of a write were not stored.
type PartialFailure struct {
	Failed int
	Total  int
	Err    error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("telemetry: %d of %d points not written: %v", e.Failed, e.Total, e.Err)
}

func (e *PartialFailure) Unwrap() error {
	return e.Err
}
