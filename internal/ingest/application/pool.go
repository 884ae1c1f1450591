package application

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"factory-telemetry/internal/observability/metrics"
)

// Ingester processes one message.
type Ingester interface {
	Ingest(ctx context.Context, topic string, payload []byte)
}

type message struct {
	topic   string
	payload []byte
}

// WorkerCount sizes the pool as NumCPU times the I/O wait ratio.
func WorkerCount(ioRatio int) int {
	if ioRatio <= 0 {
		ioRatio = 1
	}
	return runtime.NumCPU() * ioRatio
}

// Pool runs messages on a fixed set of workers. Messages with the same shard key
// always land on the same worker, so one device's messages keep arrival order.
type Pool struct {
	ingester Ingester
	shardKey func(topic string) string
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	shards []chan message

	group  *errgroup.Group
	cancel context.CancelFunc
	once   sync.Once
}

// PoolOption configures the pool.
type PoolOption func(*Pool)

// WithShardKey sets the function mapping a topic to its ordering key.
func WithShardKey(fn func(topic string) string) PoolOption {
	return func(p *Pool) {
		if fn != nil {
			p.shardKey = fn
		}
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool starts workers goroutines sharing queueSize slots across their queues.
func NewPool(ingester Ingester, workers, queueSize int, opts ...PoolOption) (*Pool, error) {
	if ingester == nil {
		return nil, errors.New("ingest pool: nil ingester")
	}
	if workers <= 0 {
		return nil, errors.New("ingest pool: workers must be positive")
	}
	perShard := queueSize / workers
	if perShard < 1 {
		perShard = 1
	}
	p := &Pool{
		ingester: ingester,
		shardKey: func(topic string) string { return topic },
		logger:   zap.NewNop(),
		shards:   make([]chan message, workers),
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	p.group = group
	for i := range p.shards {
		shard := make(chan message, perShard)
		p.shards[i] = shard
		group.Go(func() error {
			for msg := range shard {
				p.ingester.Ingest(ctx, msg.topic, msg.payload)
			}
			return nil
		})
	}
	p.logger.Info("ingest pool started", zap.Int("workers", workers), zap.Int("queue_per_worker", perShard))
	return p, nil
}

// Submit queues a message, blocking until there is room or ctx ends.
func (p *Pool) Submit(ctx context.Context, topic string, payload []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.IncMessageDiscarded(metrics.ReasonQueueClosed)
		return ErrPoolClosed
	}
	shard := p.shards[xxhash.Sum64String(p.shardKey(topic))%uint64(len(p.shards))]
	select {
	case shard <- message{topic: topic, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages and waits for queued ones to finish. When ctx ends
// first, in-flight messages see a cancelled context.
func (p *Pool) Close(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		for _, shard := range p.shards {
			close(shard)
		}
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
