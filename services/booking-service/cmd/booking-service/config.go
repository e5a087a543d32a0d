package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/config"
)

type appConfig struct {
	Service     string
	Port        string
	TokenSecret string

	DatabaseURL string
	RedisAddr   string

	// OutboxSink picks the broker outbox rows are relayed to: kafka or amqp.
	OutboxSink   string
	KafkaBrokers string
	KafkaGroupID string
	AMQPURL      string

	StoreTimeout                   time.Duration
	DefaultMaxMonthlyCancellations int
	RescheduleBaseURL              string
	CapabilityCacheTTL             time.Duration

	RateLimit       int
	RateLimitWindow time.Duration
	CORSOrigins     []string
}

func loadConfig() (appConfig, error) {
	cfg := appConfig{
		Service:           config.String("SERVICE_NAME", "booking-service"),
		DatabaseURL:       config.String("DATABASE_URL", ""),
		RedisAddr:         config.String("REDIS_ADDR", ""),
		OutboxSink:        config.String("OUTBOX_SINK", "kafka"),
		KafkaBrokers:      config.String("KAFKA_BROKERS", ""),
		KafkaGroupID:      config.String("KAFKA_GROUP_ID", "booking-service"),
		AMQPURL:           config.String("AMQP_URL", ""),
		RescheduleBaseURL: config.String("RESCHEDULE_BASE_URL", "http://localhost:3000/reschedule"),
		CORSOrigins:       config.List("CORS_ALLOWED_ORIGINS", ""),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.TokenSecret, err = config.RequiredString("APPOINTMENT_TOKEN_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.StoreTimeout, err = config.Duration("STORE_TIMEOUT", 3*time.Second); err != nil {
		return cfg, err
	}
	if cfg.DefaultMaxMonthlyCancellations, err = config.Int("DEFAULT_MAX_MONTHLY_CANCELLATIONS", 3); err != nil {
		return cfg, err
	}
	if cfg.CapabilityCacheTTL, err = config.Duration("CAPABILITY_CACHE_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = config.Int("RATE_LIMIT_REQUESTS", 120); err != nil {
		return cfg, err
	}
	if cfg.RateLimitWindow, err = config.Duration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return cfg, err
	}
	switch cfg.OutboxSink {
	case "kafka", "amqp":
	default:
		return cfg, fmt.Errorf("OUTBOX_SINK must be kafka or amqp (got %q)", cfg.OutboxSink)
	}
	return cfg, nil
}
