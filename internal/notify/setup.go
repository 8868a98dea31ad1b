package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/redis/go-redis/v9"
)

// Sinks says which notification channels to open. Empty fields are skipped.
type Sinks struct {
	KafkaBrokers []string
	KafkaTopic   string
	RedisURL     string
}

// Open builds a Dispatcher over the configured sinks. The returned close
// function releases every connection it opened.
func Open(ctx context.Context, sinks Sinks, logger *slog.Logger) (*Dispatcher, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	var channels []string
	var notifiers []app.Notifier

	if len(sinks.KafkaBrokers) > 0 {
		pub := NewKafkaPublisher(NewKafkaWriter(sinks.KafkaBrokers, sinks.KafkaTopic))
		closers = append(closers, pub.Close)
		notifiers = append(notifiers, pub)
		channels = append(channels, "kafka")
	}

	if sinks.RedisURL != "" {
		opts, err := redis.ParseURL(sinks.RedisURL)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, status broadcasts will fail until it recovers", "error", err)
		}
		closers = append(closers, client.Close)
		notifiers = append(notifiers, NewRedisBroadcaster(client))
		channels = append(channels, "redis")
	}

	if len(channels) == 0 {
		logger.Warn("no notification sinks configured, status changes are not published")
	} else {
		logger.Info("notification sinks ready", "channels", channels)
	}
	return NewDispatcher(logger, notifiers...), closeAll, nil
}
