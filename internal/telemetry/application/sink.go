package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"factory-telemetry/internal/observability/metrics"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

// Sink writes one message's points to the time-series store.
type Sink struct {
	writer telemetry.Writer
	logger *zap.Logger
}

// NewSink constructs a Sink.
func NewSink(writer telemetry.Writer, logger *zap.Logger) (*Sink, error) {
	if writer == nil {
		return nil, errors.New("timeseries sink: nil writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{writer: writer, logger: logger}, nil
}

// Write stores points. On failure it returns a *telemetry.PartialFailure.
func (s *Sink) Write(ctx context.Context, points []telemetry.Point) error {
	if len(points) == 0 {
		return nil
	}
	err := s.writer.WritePoints(ctx, points)
	return record(s.logger, points, err)
}

// Close is a no-op for the synchronous sink.
func (s *Sink) Close(context.Context) error {
	return nil
}

func record(logger *zap.Logger, points []telemetry.Point, err error) error {
	if err == nil {
		metrics.AddPointsWritten(len(points))
		return nil
	}
	partial := &telemetry.PartialFailure{Failed: len(points), Total: len(points), Err: err}
	var reported *telemetry.PartialFailure
	if errors.As(err, &reported) {
		partial.Failed = reported.Failed
		partial.Err = reported.Err
	}
	metrics.AddPointWriteFailures(partial.Failed)
	metrics.AddPointsWritten(partial.Total - partial.Failed)
	fields := []zap.Field{
		zap.Int("failed", partial.Failed),
		zap.Int("total", partial.Total),
		zap.Error(partial.Err),
	}
	if len(points) > 0 {
		fields = append(fields,
			zap.Int64("tenant_id", points[0].TenantID),
			zap.Int64("device_id", points[0].DeviceID),
		)
	}
	logger.Warn("timeseries write failed", fields...)
	return partial
}
