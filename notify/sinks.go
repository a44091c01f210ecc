package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelPrefix prefixes the pub/sub channel of every recipient.
const ChannelPrefix = "dispute:notify:"

// RedisSink publishes notifications as JSON on dispute:notify:<recipient>.
type RedisSink struct {
	client redis.UniversalClient
}

func NewRedisSink(client redis.UniversalClient) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	if err := s.client.Publish(ctx, ChannelPrefix+n.Recipient, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// NewRedisClient parses url (a redis:// URL or a bare host:port) into a client.
func NewRedisClient(url, password string, db int) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}
	opts.MaxRetries = 3
	return redis.NewClient(opts)
}

// LogSink writes notifications to the log only.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification",
		zap.String("recipient", n.Recipient),
		zap.String("ticket_id", n.TicketID),
		zap.String("kind", n.Kind),
		zap.String("status", n.Status),
	)
	return nil
}
