package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	alerts "factory-telemetry/internal/alerts/domain"
	alertmemory "factory-telemetry/internal/alerts/infrastructure/memory"
	alertpostgres "factory-telemetry/internal/alerts/infrastructure/postgres"
	alerthttp "factory-telemetry/internal/alerts/interfaces/http"
	"factory-telemetry/internal/alerts/notify"
	apihttp "factory-telemetry/internal/api/http"
	"factory-telemetry/internal/audit"
	"factory-telemetry/internal/auth"
	catalogapp "factory-telemetry/internal/catalog/application"
	catalog "factory-telemetry/internal/catalog/domain"
	catalogmemory "factory-telemetry/internal/catalog/infrastructure/memory"
	catalogpostgres "factory-telemetry/internal/catalog/infrastructure/postgres"
	"factory-telemetry/internal/config"
	ingest "factory-telemetry/internal/ingest/application"
	"factory-telemetry/internal/observability/metrics"
	rulesapp "factory-telemetry/internal/rules/application"
	rules "factory-telemetry/internal/rules/domain"
	rulememory "factory-telemetry/internal/rules/infrastructure/memory"
	rulepostgres "factory-telemetry/internal/rules/infrastructure/postgres"
	"factory-telemetry/internal/storage/postgres"
	telemetryapp "factory-telemetry/internal/telemetry/application"
	telemetry "factory-telemetry/internal/telemetry/domain"
	telemetrymemory "factory-telemetry/internal/telemetry/infrastructure/memory"
	telemetrypostgres "factory-telemetry/internal/telemetry/infrastructure/postgres"
	telemetryhttp "factory-telemetry/internal/telemetry/interfaces/http"
	telemetrymqtt "factory-telemetry/internal/telemetry/interfaces/mqtt"
	"factory-telemetry/internal/tenancy/cache"
	tenancy "factory-telemetry/internal/tenancy/domain"
	tenancymemory "factory-telemetry/internal/tenancy/infrastructure/memory"
	tenancypostgres "factory-telemetry/internal/tenancy/infrastructure/postgres"
)

// stores groups the durable ports for the selected storage driver.
type stores struct {
	db        *sql.DB
	tenants   tenancy.TenantRepository
	devices   tenancy.DeviceRepository
	metrics   catalog.Repository
	rules     rules.Repository
	cooldowns rules.CooldownStore
	points    telemetry.Writer
	alerts    alerts.Repository
	audit     audit.Logger
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, postgresOptions(cfg.Storage))
		if err != nil {
			return nil, err
		}
		return &stores{
			db:        db,
			tenants:   tenancypostgres.NewTenantRepository(db),
			devices:   tenancypostgres.NewDeviceRepository(db),
			metrics:   catalogpostgres.NewMetricRepository(db),
			rules:     rulepostgres.NewRuleRepository(db),
			cooldowns: rulepostgres.NewCooldownStore(db),
			points:    telemetrypostgres.NewPointWriter(db),
			alerts:    alertpostgres.NewAlertRepository(db),
			audit:     audit.NewRepository(db),
		}, nil
	case config.DriverMemory:
		identity := tenancymemory.NewRepository()
		ruleRepo := rulememory.NewRuleRepository()
		if cfg.Storage.SeedFile != "" {
			seeded, err := loadSeed(cfg.Storage.SeedFile, identity, ruleRepo)
			if err != nil {
				return nil, err
			}
			logger.Info("memory store seeded", zap.String("file", cfg.Storage.SeedFile), zap.Int("tenants", seeded.tenants), zap.Int("rules", seeded.rules))
		}
		return &stores{
			tenants:   identity,
			devices:   identity,
			metrics:   catalogmemory.NewMetricRepository(),
			rules:     ruleRepo,
			cooldowns: rulememory.NewCooldownStore(),
			points:    telemetrymemory.NewPointStore(),
			alerts:    alertmemory.NewAlertRepository(),
			audit:     audit.NewMemoryLogger(),
		}, nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver)
	}
}

func newCacheLayer(cfg config.CacheConfig) (cache.CacheLayer, func(), error) {
	switch cfg.Kind {
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		layer, err := cache.NewRedisLayer(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return layer, func() { _ = client.Close() }, nil
	case config.CacheNone:
		return cache.NoopLayer{}, func() {}, nil
	default:
		return cache.NewMemoryLayer(5 * time.Minute), func() {}, nil
	}
}

type pointCloser interface {
	ingest.PointSink
	Close(ctx context.Context) error
}

func newPointSink(cfg config.SinkConfig, writer telemetry.Writer, logger *zap.Logger) (pointCloser, error) {
	if cfg.Buffered {
		return telemetryapp.NewBufferedSink(writer, logger,
			telemetryapp.WithBatchSize(cfg.BatchSize),
			telemetryapp.WithFlushInterval(cfg.FlushInterval),
		)
	}
	return telemetryapp.NewSink(writer, logger)
}

func newDispatcher(cfg config.NotifyConfig, marker notify.NotifiedMarker, broker *notify.Broker, logger *zap.Logger) (*notify.Dispatcher, error) {
	opts := []notify.DispatcherOption{
		notify.WithLogger(logger),
		notify.WithWorkers(cfg.Workers),
		notify.WithQueueSize(cfg.QueueSize),
		notify.WithSendTimeout(cfg.Timeout),
		notify.WithRetry(cfg.MaxRetries, cfg.InitialInterval),
		notify.WithChannelRate(cfg.ChannelRate, cfg.ChannelBurst),
		notify.WithChannel(notify.ChannelStream, broker),
	}
	if cfg.Template != "" {
		tpl, err := notify.NewTemplate(cfg.Template)
		if err != nil {
			return nil, err
		}
		opts = append(opts, notify.WithTemplate(tpl))
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.WebhookURL, notify.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		if err != nil {
			return nil, err
		}
		opts = append(opts, notify.WithChannel(notify.ChannelWebhook, webhook))
	}
	for name, url := range map[string]string{notify.ChannelEmail: cfg.EmailURL, notify.ChannelSMS: cfg.SMSURL} {
		if url == "" {
			continue
		}
		channel, err := notify.NewShoutrrrChannel(name, url)
		if err != nil {
			return nil, err
		}
		opts = append(opts, notify.WithChannel(name, channel))
	}
	return notify.NewDispatcher(marker, opts...)
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}
	metrics.Init(st.db, logger)

	layer, closeLayer, err := newCacheLayer(cfg.Cache)
	if err != nil {
		return err
	}
	defer closeLayer()
	durable, err := cache.NewDurableLayer(st.tenants, st.devices)
	if err != nil {
		return err
	}
	resolver, err := cache.NewResolver(layer, durable,
		cache.WithTenantTTL(cfg.Cache.TenantTTL),
		cache.WithDeviceTTL(cfg.Cache.DeviceTTL),
		cache.WithKeyPrefix(cfg.Cache.KeyPrefix),
		cache.WithAuditLogger(st.audit),
		cache.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	discoverer, err := catalogapp.NewDiscoverer(st.metrics, logger)
	if err != nil {
		return err
	}
	sink, err := newPointSink(cfg.Sink, st.points, logger)
	if err != nil {
		return err
	}
	arbiter, err := rulesapp.NewArbiter(st.cooldowns)
	if err != nil {
		return err
	}

	broker := notify.NewBroker()
	dispatcher, err := newDispatcher(cfg.Notify, st.alerts, broker, logger)
	if err != nil {
		return err
	}

	parser := ingest.NewTopicParser(cfg.MQTT.TopicRoot, cfg.MQTT.TopicSuffix)
	coordinator, err := ingest.NewCoordinator(ingest.Deps{
		Identity:   resolver,
		Discoverer: discoverer,
		Sink:       sink,
		Rules:      st.rules,
		Arbiter:    arbiter,
		Alerts:     st.alerts,
		Dispatcher: dispatcher,
	},
		ingest.WithTopicParser(parser),
		ingest.WithDeviceLimiter(ingest.NewDeviceLimiter(cfg.Ingest.RatePerSecond, cfg.Ingest.RateBurst)),
		ingest.WithMessageTimeout(cfg.Ingest.MessageTimeout),
		ingest.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = ingest.WorkerCount(cfg.Ingest.IORatio)
	}
	pool, err := ingest.NewPool(coordinator, workers, cfg.Ingest.QueueSize,
		ingest.WithShardKey(parser.ShardKey),
		ingest.WithPoolLogger(logger),
	)
	if err != nil {
		return err
	}

	var subscriber *telemetrymqtt.Subscriber
	if cfg.MQTT.Online() {
		subscriber, err = telemetrymqtt.NewSubscriber(telemetrymqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Filter:   parser.Filter(),
			QoS:      cfg.MQTT.QoS,
		}, pool, logger)
		if err != nil {
			return err
		}
		if err := subscriber.Start(); err != nil {
			return err
		}
	}

	ingestHandler, err := telemetryhttp.NewIngestHandler(pool, parser.Build, logger)
	if err != nil {
		return err
	}
	checks := map[string]apihttp.HealthCheck{}
	if st.db != nil {
		checks["database"] = st.db.PingContext
	}
	if subscriber != nil {
		checks["mqtt"] = func(context.Context) error {
			if !subscriber.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}

	handler := newAPIHandler(cfg.Auth.JWTSecret,
		[]route{
			{"/metrics", promhttp.Handler()},
			{"/healthz", apihttp.NewHealthHandler(checks)},
		},
		[]route{
			{"/ingest/", ingestHandler},
			{"/api/v1/devices/", apihttp.NewDeviceHandler(resolver, st.metrics)},
			{"/api/v1/alerts/stream", alerthttp.NewStreamHandler(broker)},
		},
		logger,
	)

	// Request contexts end at shutdown; alert streams would otherwise hold it open.
	requestCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           loggingMiddleware(handler, logger),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return requestCtx },
	}
	server.RegisterOnShutdown(cancelRequests)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if subscriber != nil {
		subscriber.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := pool.Close(shutdownCtx); err != nil {
		logger.Warn("ingest pool shutdown", zap.Error(err))
	}
	if err := sink.Close(shutdownCtx); err != nil {
		logger.Warn("sink shutdown", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown", zap.Int("pending", dispatcher.Pending()), zap.Error(err))
	}
	broker.Close()
	logger.Info("shutdown complete")
	return nil
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps server-sent events working through the wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

type route struct {
	pattern string
	handler http.Handler
}

// newAPIHandler serves public routes as-is and tenant routes behind JWT auth.
// Tenant routes derive the caller's tenant from the token, so without a secret
// they are not registered at all.
func newAPIHandler(secret string, public, tenant []route, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	exempt := make([]string, 0, len(public))
	for _, r := range public {
		mux.Handle(r.pattern, r.handler)
		exempt = append(exempt, r.pattern)
	}
	if secret == "" {
		logger.Warn("no jwt secret configured, tenant routes disabled")
		return mux
	}
	for _, r := range tenant {
		mux.Handle(r.pattern, r.handler)
	}
	policy := auth.NewDefaultPolicy(exempt, nil)
	return auth.NewMiddleware([]byte(secret), policy).WithLogger(logger).Wrap(mux)
}
