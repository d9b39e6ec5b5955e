package clearinghouse

import (
	"context"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/clock"
	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("clearinghouse",
	fx.Provide(
		newClient,
		newRedisClient,
		newIdempotencyStore,
		NewSubmitterFromParams,
		newAMQPConnection,
		newAckConsumer,
	),
	fx.Invoke(registerConsumerHooks),
)

func newClient(cfg config.Config) Client {
	return NewHTTPClient(cfg.Clearinghouse)
}

// newRedisClient returns nil when no address is configured.
func newRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return client
}

func newIdempotencyStore(client *redis.Client, clk clock.Clock, cfg config.Config, log *zap.Logger) IdempotencyStore {
	if client == nil {
		if cfg.IsProduction() {
			log.Warn("REDIS_ADDR not set, submission idempotency is process-local")
		}
		return NewMemoryStore(clk)
	}
	return NewRedisStore(client)
}

type amqpParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// newAMQPConnection returns nil without AMQP_URL, which disables the ack consumer.
func newAMQPConnection(p amqpParams) (*amqp.Connection, error) {
	url := strings.TrimSpace(p.Config.AMQPURL)
	if url == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if conn.IsClosed() {
				return nil
			}
			return conn.Close()
		},
	})
	p.Log.Info("connected to amqp broker")
	return conn, nil
}

type consumerParams struct {
	fx.In

	Conn    *amqp.Connection `optional:"true"`
	Config  config.Config
	Claims  domain.Service
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func newAckConsumer(p consumerParams) *AckConsumer {
	if p.Conn == nil {
		return nil
	}
	return NewAckConsumer(p.Conn, p.Config.AckQueueName, p.Claims, p.Log, p.Metrics)
}

func registerConsumerHooks(lc fx.Lifecycle, consumer *AckConsumer) {
	if consumer == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: consumer.Start,
		OnStop:  consumer.Stop,
	})
}
