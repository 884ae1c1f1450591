package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	alerts "factory-telemetry/internal/alerts/domain"
	"factory-telemetry/internal/observability/metrics"
)

// NotifiedMarker records that an alert reached at least one channel.
type NotifiedMarker interface {
	MarkNotified(ctx context.Context, id string) error
}

type job struct {
	alert    alerts.Alert
	channels []string
}

// Dispatcher delivers alerts asynchronously through the configured channels.
type Dispatcher struct {
	marker   NotifiedMarker
	channels map[string]Channel
	limiters map[string]*rate.Limiter
	template *Template
	logger   *zap.Logger

	workers         int
	queueSize       int
	sendTimeout     time.Duration
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
	channelRate     float64
	channelBurst    int

	mu     sync.RWMutex
	closed bool
	queue  chan job

	group  *errgroup.Group
	cancel context.CancelFunc
	once   sync.Once
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithChannel registers a channel under name.
func WithChannel(name string, channel Channel) DispatcherOption {
	return func(d *Dispatcher) {
		if name != "" && channel != nil {
			d.channels[name] = channel
		}
	}
}

// WithTemplate overrides the notification template.
func WithTemplate(tpl *Template) DispatcherOption {
	return func(d *Dispatcher) {
		if tpl != nil {
			d.template = tpl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithWorkers sets the number of delivery workers.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize bounds the number of pending alerts.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithSendTimeout bounds a single channel attempt.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithRetry configures exponential backoff between attempts on one channel.
func WithRetry(maxRetries int, initial time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if maxRetries >= 0 {
			d.maxRetries = maxRetries
		}
		if initial > 0 {
			d.initialInterval = initial
			if d.maxInterval < initial {
				d.maxInterval = initial
			}
		}
	}
}

// WithChannelRate throttles each channel to perSecond sends with the given burst.
// A non-positive rate disables throttling.
func WithChannelRate(perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		d.channelRate = perSecond
		if burst > 0 {
			d.channelBurst = burst
		}
	}
}

// NewDispatcher constructs a dispatcher and starts its workers.
func NewDispatcher(marker NotifiedMarker, opts ...DispatcherOption) (*Dispatcher, error) {
	if marker == nil {
		return nil, errors.New("alert dispatcher: nil notified marker")
	}
	d := &Dispatcher{
		marker:          marker,
		channels:        make(map[string]Channel),
		limiters:        make(map[string]*rate.Limiter),
		logger:          zap.NewNop(),
		workers:         2,
		queueSize:       256,
		sendTimeout:     10 * time.Second,
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
		channelBurst:    1,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.template == nil {
		tpl, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		d.template = tpl
	}
	if d.channelRate > 0 {
		for name := range d.channels {
			d.limiters[name] = rate.NewLimiter(rate.Limit(d.channelRate), d.channelBurst)
		}
	}
	d.queue = make(chan job, d.queueSize)

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	d.group = group
	for i := 0; i < d.workers; i++ {
		group.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return d, nil
}

// Enqueue hands an alert to the workers without blocking. It reports false when the
// alert was dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(alert alerts.Alert, channels []string) bool {
	if d == nil || len(channels) == 0 {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(alert, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- job{alert: alert, channels: append([]string(nil), channels...)}:
		return true
	default:
		d.drop(alert, "queue full")
		return false
	}
}

// Pending returns the number of queued alerts.
func (d *Dispatcher) Pending() int {
	if d == nil {
		return 0
	}
	return len(d.queue)
}

// Close stops accepting alerts and waits for queued ones to be delivered. When ctx
// ends first, in-flight retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) drop(alert alerts.Alert, reason string) {
	metrics.IncNotificationDropped()
	d.logger.Warn("alert notification dropped",
		zap.String("alert_id", alert.ID),
		zap.Int64("rule_id", alert.RuleID),
		zap.String("reason", reason),
	)
}

func (d *Dispatcher) work(ctx context.Context) {
	for j := range d.queue {
		d.deliver(ctx, j)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	logger := d.logger.With(
		zap.String("alert_id", j.alert.ID),
		zap.Int64("rule_id", j.alert.RuleID),
		zap.String("tenant", j.alert.TenantSlug),
		zap.String("device", j.alert.DeviceKey),
	)
	content, err := d.template.Render(buildTemplateData(j.alert))
	if err != nil {
		logger.Warn("alert template render failed", zap.Error(err))
		content = j.alert.Message
	}
	msg := Message{Alert: j.alert, Content: content}

	delivered := false
	for _, name := range j.channels {
		channel, ok := d.channels[name]
		if !ok {
			logger.Debug("alert channel not configured", zap.String("channel", name))
			continue
		}
		start := time.Now()
		err := d.sendWithRetry(ctx, name, channel, msg)
		if err != nil {
			metrics.ObserveNotification(name, metrics.ResultError, time.Since(start))
			logger.Warn("alert notification failed", zap.String("channel", name), zap.Error(err))
			continue
		}
		metrics.ObserveNotification(name, metrics.ResultSuccess, time.Since(start))
		delivered = true
	}
	if !delivered {
		return
	}
	if err := d.marker.MarkNotified(ctx, j.alert.ID); err != nil {
		logger.Warn("alert mark notified failed", zap.Error(err))
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, name string, channel Channel, msg Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialInterval
	policy.MaxInterval = d.maxInterval
	policy.MaxElapsedTime = 0
	policy.Reset()

	limiter := d.limiters[name]
	operation := func() error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
		return channel.Send(sendCtx, msg)
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.maxRetries)), ctx))
}
