package events

import (
	"context"

	"github.com/smallbiznis/carehub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(providePublisher),
	fx.Provide(NewDispatcher),
)

func providePublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	var publisher Publisher
	if cfg.Kafka.Enabled() {
		publisher = NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info("domain events publish to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	} else {
		publisher = NewLogPublisher(log)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher
}
