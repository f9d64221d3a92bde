package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisPublisher публикует события в канал Redis.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher подключается к Redis и проверяет соединение.
func NewRedisPublisher(ctx context.Context, addr, password string, db int, channel string) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	log.WithFields(log.Fields{
		"component": "events",
		"addr":      addr,
		"channel":   channel,
	}).Info("Публикация событий в Redis")

	return &RedisPublisher{rdb: rdb, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("публикация в Redis: %w", err)
	}

	log.WithFields(log.Fields{
		"event_type":     e.EventType,
		"transaction_id": e.TransactionID,
	}).Debug("Событие опубликовано")
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
