package application

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	alerts "factory-telemetry/internal/alerts/domain"
	"factory-telemetry/internal/alerts/notify"
	catalog "factory-telemetry/internal/catalog/domain"
	"factory-telemetry/internal/observability/metrics"
	rulesapp "factory-telemetry/internal/rules/application"
	"factory-telemetry/internal/rules/condition"
	rules "factory-telemetry/internal/rules/domain"
	"factory-telemetry/internal/rules/schedule"
	telemetry "factory-telemetry/internal/telemetry/domain"
	tenancy "factory-telemetry/internal/tenancy/domain"
)

const defaultMessageTimeout = 5 * time.Second

// IdentityResolver resolves tenants and devices.
type IdentityResolver interface {
	ResolveTenant(ctx context.Context, slug string) (*tenancy.Tenant, error)
	ResolveOrCreateDevice(ctx context.Context, tenant *tenancy.Tenant, deviceKey string) (*tenancy.Device, error)
	TouchLastSeen(ctx context.Context, deviceID int64, at time.Time) error
}

// MetricDiscoverer records metric keys.
type MetricDiscoverer interface {
	DiscoverAll(ctx context.Context, tenantID, deviceID int64, keys map[string]catalog.ValueKind, at time.Time) (int, error)
}

// PointSink stores telemetry points.
type PointSink interface {
	Write(ctx context.Context, points []telemetry.Point) error
}

// TriggerArbiter decides whether a rule may fire.
type TriggerArbiter interface {
	TryTrigger(ctx context.Context, ruleID, deviceID int64, cooldown time.Duration, now time.Time) (rulesapp.Decision, error)
}

// AlertStore persists alerts.
type AlertStore interface {
	Save(ctx context.Context, alert *alerts.Alert) error
}

// AlertDispatcher queues alerts for asynchronous delivery.
type AlertDispatcher interface {
	Enqueue(alert alerts.Alert, channels []string) bool
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Identity   IdentityResolver
	Discoverer MetricDiscoverer
	Sink       PointSink
	Rules      rules.Repository
	Arbiter    TriggerArbiter
	Alerts     AlertStore
	Dispatcher AlertDispatcher
}

// Coordinator runs the ingestion pipeline for one message at a time.
type Coordinator struct {
	deps    Deps
	topics  TopicParser
	limiter *DeviceLimiter
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	linted sync.Map
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithTopicParser sets the topic layout.
func WithTopicParser(parser TopicParser) Option {
	return func(c *Coordinator) {
		c.topics = parser
	}
}

// WithDeviceLimiter enables per-device rate limiting.
func WithDeviceLimiter(limiter *DeviceLimiter) Option {
	return func(c *Coordinator) {
		c.limiter = limiter
	}
}

// WithMessageTimeout sets the per-message deadline.
func WithMessageTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithClock overrides the receipt clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(deps Deps, opts ...Option) (*Coordinator, error) {
	switch {
	case deps.Identity == nil:
		return nil, errors.New("ingest coordinator: nil identity resolver")
	case deps.Discoverer == nil:
		return nil, errors.New("ingest coordinator: nil metric discoverer")
	case deps.Sink == nil:
		return nil, errors.New("ingest coordinator: nil sink")
	case deps.Rules == nil:
		return nil, errors.New("ingest coordinator: nil rule repository")
	case deps.Arbiter == nil:
		return nil, errors.New("ingest coordinator: nil arbiter")
	case deps.Alerts == nil:
		return nil, errors.New("ingest coordinator: nil alert store")
	case deps.Dispatcher == nil:
		return nil, errors.New("ingest coordinator: nil dispatcher")
	}
	c := &Coordinator{
		deps:    deps,
		topics:  NewTopicParser("factory", "telemetry"),
		timeout: defaultMessageTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Topics returns the topic layout the coordinator accepts.
func (c *Coordinator) Topics() TopicParser {
	return c.topics
}

// Ingest processes one inbound message. It never panics and reports nothing to the
// caller; every failure ends up in logs and metrics.
func (c *Coordinator) Ingest(ctx context.Context, topic string, payload []byte) {
	outcome := c.Process(ctx, topic, payload)
	c.report(outcome)
}

// Process runs the pipeline and returns what happened.
func (c *Coordinator) Process(ctx context.Context, topic string, payload []byte) (out Outcome) {
	start := time.Now()
	out = Outcome{Stage: StageReceived, Topic: topic}
	defer func() {
		if r := recover(); r != nil {
			out.Result = ResultPanic
			out.Reason = metrics.ReasonPanic
			out.Err = fmt.Errorf("ingest: panic at stage %s: %v\n%s", out.Stage, r, debug.Stack())
		}
		out.Duration = time.Since(start)
	}()
	metrics.IncMessageReceived()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	c.process(ctx, &out, topic, payload)
	return out
}

func (c *Coordinator) process(ctx context.Context, out *Outcome, topicName string, body []byte) {
	receivedAt := c.now().UTC()

	stageStart := time.Now()
	topic, err := c.topics.Parse(topicName)
	if err != nil {
		out.discard(metrics.ReasonMalformedTopic, err)
		return
	}
	out.TenantSlug, out.DeviceKey = topic.TenantSlug, topic.DeviceKey
	payload, err := ParsePayload(body)
	if err != nil {
		out.discard(metrics.ReasonMalformedPayload, err)
		return
	}
	c.advance(out, StageParsed, stageStart)
	if c.expired(ctx, out) {
		return
	}

	stageStart = time.Now()
	tenant, err := c.deps.Identity.ResolveTenant(ctx, topic.TenantSlug)
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			out.discard(metrics.ReasonUnknownTenant, err)
		} else {
			out.discard(metrics.ReasonIdentityError, err)
		}
		return
	}
	out.TenantID = tenant.ID
	device, err := c.deps.Identity.ResolveOrCreateDevice(ctx, tenant, topic.DeviceKey)
	if err != nil {
		out.discard(metrics.ReasonIdentityError, err)
		return
	}
	out.DeviceID = device.ID
	if !c.limiter.Allow(device.ID, receivedAt) {
		out.discard(metrics.ReasonRateLimited, fmt.Errorf("ingest: device %s over rate limit", topic.DeviceKey))
		return
	}
	c.advance(out, StageIdentified, stageStart)
	if c.expired(ctx, out) {
		return
	}

	observedAt := receivedAt
	if payload.HasTimestamp() {
		observedAt = payload.Timestamp
	}

	stageStart = time.Now()
	if _, err := c.deps.Discoverer.DiscoverAll(ctx, tenant.ID, device.ID, payload.Kinds, observedAt); err != nil {
		c.logger.Warn("metric discovery incomplete",
			zap.String("tenant", tenant.Slug),
			zap.String("device", device.DeviceKey),
			zap.Error(err),
		)
	}
	c.advance(out, StageDiscovered, stageStart)
	if c.expired(ctx, out) {
		return
	}

	stageStart = time.Now()
	points := buildPoints(tenant.ID, device.ID, payload.Values, observedAt)
	out.Points = len(points)
	if err := c.deps.Sink.Write(ctx, points); err != nil {
		out.WriteFailed = true
	}
	if err := c.deps.Identity.TouchLastSeen(ctx, device.ID, receivedAt); err != nil {
		c.logger.Warn("device last_seen update failed",
			zap.String("tenant", tenant.Slug),
			zap.String("device", device.DeviceKey),
			zap.Error(err),
		)
	}
	c.advance(out, StagePersisted, stageStart)
	if c.expired(ctx, out) {
		return
	}

	stageStart = time.Now()
	c.evaluate(ctx, out, tenant, device, payload, receivedAt)
	c.advance(out, StageEvaluated, stageStart)
	if c.expired(ctx, out) {
		return
	}

	out.Stage = StageDone
	if out.Result == "" {
		out.Result = ResultProcessed
	}
}

func (c *Coordinator) evaluate(ctx context.Context, out *Outcome, tenant *tenancy.Tenant, device *tenancy.Device, payload *Payload, now time.Time) {
	list, err := c.deps.Rules.ListActiveForDevice(ctx, tenant.ID, device.ID)
	if err != nil {
		out.Err = fmt.Errorf("ingest: load rules: %w", err)
		c.logger.Warn("rule lookup failed",
			zap.String("tenant", tenant.Slug),
			zap.String("device", device.DeviceKey),
			zap.Error(err),
		)
		return
	}
	if len(list) == 0 {
		return
	}

	loc, err := tenant.Location()
	if err != nil {
		c.logger.Warn("invalid tenant timezone, using UTC",
			zap.String("tenant", tenant.Slug),
			zap.String("timezone", tenant.Timezone),
			zap.Error(err),
		)
		loc = time.UTC
	}

	for _, rule := range list {
		if ctx.Err() != nil {
			return
		}
		logger := c.logger.With(
			zap.String("tenant", tenant.Slug),
			zap.String("device", device.DeviceKey),
			zap.Int64("rule_id", rule.ID),
		)
		switch c.evaluateRule(ctx, logger, rule, tenant, device, payload, now, loc) {
		case verdictRaised:
			out.AlertsRaised++
		case verdictSuppressed:
			out.Suppressed++
		}
		out.RulesEvaluated++
	}
}

type verdict int

const (
	verdictNoMatch verdict = iota
	verdictSuppressed
	verdictRaised
)

// evaluateRule runs gate, condition and arbiter for one rule.
func (c *Coordinator) evaluateRule(ctx context.Context, logger *zap.Logger, rule rules.Rule, tenant *tenancy.Tenant, device *tenancy.Device, payload *Payload, now time.Time, loc *time.Location) verdict {
	if rule.LoadErr != nil {
		metrics.IncRuleSuppressed(metrics.SuppressedRuleInvalid)
		logger.Warn("rule row invalid", zap.Error(rule.LoadErr))
		return verdictSuppressed
	}
	if _, seen := c.linted.LoadOrStore(rule.ID, struct{}{}); !seen {
		c.lint(logger, rule)
	}

	inScope, err := schedule.InScope(rule.ScheduleKind, rule.ScheduleConfig, now, loc)
	if err != nil {
		metrics.IncRuleSuppressed(metrics.SuppressedScheduleInvalid)
		logger.Warn("rule schedule invalid", zap.Error(err))
		return verdictSuppressed
	}
	if !inScope {
		metrics.IncRuleSuppressed(metrics.SuppressedSchedule)
		return verdictSuppressed
	}

	tree, err := rule.Condition()
	if err != nil {
		metrics.IncRuleSuppressed(metrics.SuppressedConditionInvalid)
		logger.Warn("rule condition invalid", zap.Error(err))
		return verdictSuppressed
	}

	metrics.IncRuleEvaluated()
	if !condition.Evaluate(tree, payload.Values) {
		return verdictNoMatch
	}

	decision, err := c.deps.Arbiter.TryTrigger(ctx, rule.ID, device.ID, rule.Cooldown, now)
	if err != nil {
		metrics.IncRuleSuppressed(metrics.SuppressedCooldownError)
		logger.Warn("cooldown arbitration failed", zap.Error(err))
		return verdictSuppressed
	}
	if decision != rulesapp.Allowed {
		metrics.IncRuleSuppressed(metrics.SuppressedCooldown)
		logger.Debug("rule suppressed by cooldown", zap.Duration("cooldown", rule.Cooldown))
		return verdictSuppressed
	}

	alert, err := alerts.NewAlert(tenant.ID, rule.ID, device.ID, rule.Severity, alertMessage(rule, device), payload.Snapshot, now)
	if err != nil {
		metrics.IncRuleSuppressed(metrics.SuppressedAlertError)
		logger.Error("alert build failed", zap.Error(err))
		return verdictSuppressed
	}
	alert.TenantSlug = tenant.Slug
	alert.DeviceKey = device.DeviceKey
	alert.RuleName = rule.Name
	if err := c.deps.Alerts.Save(ctx, alert); err != nil {
		metrics.IncRuleSuppressed(metrics.SuppressedAlertError)
		logger.Error("alert persist failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return verdictSuppressed
	}
	metrics.IncRuleTriggered()
	logger.Info("alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("severity", alert.Severity),
	)

	if channels := channelNames(rule.Channels); len(channels) > 0 {
		c.deps.Dispatcher.Enqueue(*alert, channels)
	}
	return verdictRaised
}

// lint logs accepted-but-surprising rule configuration once per rule.
func (*Coordinator) lint(logger *zap.Logger, rule rules.Rule) {
	if findings := schedule.Lint(rule.ScheduleKind, rule.ScheduleConfig); len(findings) > 0 {
		logger.Info("rule schedule has broad window", zap.Strings("findings", findings))
	}
	tree, err := rule.Condition()
	if err != nil {
		return
	}
	if findings := condition.Lint(tree); len(findings) > 0 {
		logger.Warn("rule condition has unusual shape", zap.Strings("findings", findings))
	}
}

func (c *Coordinator) advance(out *Outcome, stage Stage, since time.Time) {
	out.Stage = stage
	metrics.ObserveStage(string(stage), time.Since(since))
}

// expired marks the outcome as timed out once the message deadline has passed.
func (c *Coordinator) expired(ctx context.Context, out *Outcome) bool {
	if ctx.Err() == nil {
		return false
	}
	out.Result = ResultTimeout
	out.Reason = metrics.ReasonTimeout
	out.Err = ctx.Err()
	return true
}

func (c *Coordinator) report(out Outcome) {
	fields := []zap.Field{
		zap.String("stage", string(out.Stage)),
		zap.String("topic", out.Topic),
		zap.String("tenant", out.TenantSlug),
		zap.String("device", out.DeviceKey),
		zap.Duration("duration", out.Duration),
	}
	switch out.Result {
	case ResultProcessed:
		metrics.IncMessageProcessed()
		c.logger.Info("telemetry processed", append(fields,
			zap.Int("points", out.Points),
			zap.Bool("write_failed", out.WriteFailed),
			zap.Int("rules_evaluated", out.RulesEvaluated),
			zap.Int("alerts", out.AlertsRaised),
			zap.Int("suppressed", out.Suppressed),
		)...)
	case ResultTimeout:
		metrics.IncIngestTimeout()
		metrics.IncMessageDiscarded(metrics.ReasonTimeout)
		c.logger.Warn("telemetry abandoned after deadline", append(fields, zap.Error(out.Err))...)
	case ResultPanic:
		metrics.IncMessageDiscarded(metrics.ReasonPanic)
		c.logger.Error("telemetry pipeline panic", append(fields, zap.Error(out.Err))...)
	default:
		metrics.IncMessageDiscarded(out.Reason)
		c.logger.Warn("telemetry discarded", append(fields,
			zap.String("reason", out.Reason),
			zap.Error(out.Err),
		)...)
	}
}

func buildPoints(tenantID, deviceID int64, values map[string]float64, at time.Time) []telemetry.Point {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	points := make([]telemetry.Point, 0, len(keys))
	for _, key := range keys {
		points = append(points, telemetry.Point{
			TenantID:   tenantID,
			DeviceID:   deviceID,
			MetricKey:  key,
			Value:      values[key],
			ObservedAt: at,
		})
	}
	return points
}

func alertMessage(rule rules.Rule, device *tenancy.Device) string {
	name := rule.Name
	if name == "" {
		name = fmt.Sprintf("rule %d", rule.ID)
	}
	return fmt.Sprintf("%s triggered on device %s", name, device.DeviceKey)
}

func channelNames(ch rules.Channels) []string {
	var names []string
	if ch.Email {
		names = append(names, notify.ChannelEmail)
	}
	if ch.SMS {
		names = append(names, notify.ChannelSMS)
	}
	if ch.Webhook {
		names = append(names, notify.ChannelWebhook)
	}
	if ch.Stream {
		names = append(names, notify.ChannelStream)
	}
	return names
}
