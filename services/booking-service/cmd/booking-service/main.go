package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/compat"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/token"
)

const maxRequestBody = 1 << 20

type store interface {
	booking.Store
	handlers.Catalog
}

// backend is the storage and event plumbing chosen from configuration.
type backend struct {
	store    store
	notifier booking.Notifier
	inbox    consumer.Inbox
	checks   []runtime.ReadyCheck
	closers  []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	config.LoadDotEnv()
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	signer, err := token.NewSigner(cfg.TokenSecret)
	if err != nil {
		panic(err)
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("backend init failed", "err", err)
		panic(err)
	}
	defer be.close()

	var lookup compat.CapabilityLookup = be.store
	var capsCache handlers.CapabilityCache
	var limiter httpx.Limiter = httpx.NewMemoryRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		be.closers = append(be.closers, func() { _ = rdb.Close() })
		cached := compat.NewCachedLookup(rdb, be.store, cfg.CapabilityCacheTTL, logger)
		lookup, capsCache = cached, cached
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "booking:rl:")
		be.checks = append(be.checks, runtime.ReadyCheck{
			Name:     "redis",
			Check:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			Optional: true,
		})
	}

	engine := booking.NewEngine(be.store, signer, compat.NewResolver(lookup, logger), be.notifier, logger, booking.Config{
		StoreTimeout:                   cfg.StoreTimeout,
		DefaultMaxMonthlyCancellations: cfg.DefaultMaxMonthlyCancellations,
		RescheduleBaseURL:              cfg.RescheduleBaseURL,
	})

	if cfg.KafkaBrokers != "" {
		closures := consumer.New(logger, be.inbox, consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   consumer.TopicDateClosed,
		}, consumer.DateClosedHandler(engine, logger))
		go closures.Run(ctx)
		be.checks = append(be.checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	mux := runtime.NewBaseMuxWithReady(be.checks...)
	handlers.NewBookingHandler(engine, logger).Register(mux)
	handlers.NewCatalogHandler(be.store, capsCache, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: cfg.CORSOrigins, MaxAge: 10 * time.Minute}),
		httpx.RateLimit(limiter, logger, true),
		httpx.WithBodyLimit(maxRequestBody),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// openBackend connects Postgres when DATABASE_URL is set and relays the outbox to the
// configured broker. Without a database everything runs in memory and events are logged.
func openBackend(ctx context.Context, cfg appConfig, logger *slog.Logger) (*backend, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		mem := storage.NewMemoryStore()
		return &backend{
			store:    mem,
			notifier: notify.NewLogNotifier(logger),
			inbox:    inbox.NewMemory(),
			checks:   []runtime.ReadyCheck{{Name: "store", Check: mem.Ping}},
		}, nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return nil, err
	}
	outboxRepo := outbox.NewRepository(pool)
	be := &backend{
		store:    storage.NewPostgresStore(pool),
		notifier: notify.NewOutboxNotifier(outboxRepo),
		inbox:    inbox.NewRepository(pool),
		checks:   []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}},
		closers:  []func(){pool.Close},
	}

	var sink outbox.Sink
	switch cfg.OutboxSink {
	case "amqp":
		amqpSink := outbox.NewAMQPSink(cfg.AMQPURL)
		be.checks = append(be.checks, runtime.ReadyCheck{Name: "amqp", Check: amqpSink.Ping, Optional: true})
		sink = amqpSink
	default:
		kafkaSink, err := outbox.NewKafkaSink(cfg.KafkaBrokers)
		if err != nil {
			logger.Warn("outbox relay disabled", "err", err)
			return be, nil
		}
		sink = kafkaSink
	}
	be.closers = append(be.closers, func() { _ = sink.Close() })
	publisher := outbox.NewPublisher(pool, outboxRepo, sink, logger, outbox.PublisherConfig{
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)
	return be, nil
}
