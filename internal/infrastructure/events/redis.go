package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/pkg/logger"
)

const pingTimeout = 5 * time.Second

// RedisPublisher publica eventos en un canal Redis Pub/Sub.
type RedisPublisher struct {
	client     *redis.Client
	ownsClient bool
	channel    string
	log        *logger.Logger
	now        func() time.Time
}

// NewRedisPublisher conecta a partir de una URL redis:// y verifica la conexión.
func NewRedisPublisher(url, channel string, log *logger.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("conectar a redis: %w", err)
	}
	p := NewRedisPublisherWithClient(client, channel, log)
	p.ownsClient = true
	return p, nil
}

// NewRedisPublisherWithClient usa un cliente existente; el llamador lo cierra.
func NewRedisPublisherWithClient(client *redis.Client, channel string, log *logger.Logger) *RedisPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisPublisher{client: client, channel: channel, log: log.Component("events"), now: time.Now}
}

// Publish implementa ports.EventPublisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev ports.Event) error {
	data, err := Encode(ev, p.now())
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publicar %s en %s: %w", ev.EventName(), p.channel, err)
	}
	p.log.Debug().Str("event", ev.EventName()).Str("channel", p.channel).Msg("evento publicado")
	return nil
}

// Close cierra el cliente si fue creado por el publicador.
func (p *RedisPublisher) Close() error {
	if p.ownsClient {
		return p.client.Close()
	}
	return nil
}

var _ ports.EventPublisher = (*RedisPublisher)(nil)
