package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("timeseries sink: closed")

const (
	defaultBatchSize     = 500
	defaultFlushInterval = time.Second
	defaultFlushTimeout  = 10 * time.Second
)

// BufferedSink queues points and flushes them in batches by size or interval.
type BufferedSink struct {
	writer        telemetry.Writer
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
	flushTimeout  time.Duration

	mu     sync.Mutex
	buf    []telemetry.Point
	closed bool

	kick      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// BufferedOption configures a BufferedSink.
type BufferedOption func(*BufferedSink)

// WithBatchSize sets the size that triggers an early flush.
func WithBatchSize(size int) BufferedOption {
	return func(s *BufferedSink) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the periodic flush interval.
func WithFlushInterval(interval time.Duration) BufferedOption {
	return func(s *BufferedSink) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// NewBufferedSink constructs a BufferedSink and starts its flush loop.
func NewBufferedSink(writer telemetry.Writer, logger *zap.Logger, opts ...BufferedOption) (*BufferedSink, error) {
	if writer == nil {
		return nil, errors.New("timeseries sink: nil writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BufferedSink{
		writer:        writer,
		logger:        logger,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		flushTimeout:  defaultFlushTimeout,
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s, nil
}

// Write queues points for the next flush.
func (s *BufferedSink) Write(_ context.Context, points []telemetry.Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.buf = append(s.buf, points...)
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close stops the flush loop after draining the buffer.
func (s *BufferedSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of buffered points.
func (s *BufferedSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *BufferedSink) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.kick:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *BufferedSink) flush() {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	for len(batch) > 0 {
		n := len(batch)
		if n > s.batchSize {
			n = s.batchSize
		}
		chunk := batch[:n]
		batch = batch[n:]

		ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
		_ = record(s.logger, chunk, s.writer.WritePoints(ctx, chunk))
		cancel()
	}
}
