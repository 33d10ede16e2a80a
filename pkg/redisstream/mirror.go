// Package redisstream mirrors interaction events onto Redis Streams so other
// processes can consume them through a watermill subscriber.
package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/discordbridge/pkg/discord/events"
	"github.com/go-go-golems/discordbridge/pkg/logging"
)

// Settings configures the Redis Streams transport.
type Settings struct {
	Addr     string `glazed:"redis-addr"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
	// MaxLen caps the interaction stream; 0 leaves it unbounded.
	MaxLen int64 `glazed:"redis-max-len"`
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Ping checks the connection before the transport is wired in.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	return nil
}

// NewPublisher returns a publisher that writes watermill messages to the
// stream named after the topic.
func NewPublisher(client redis.UniversalClient, s Settings) (message.Publisher, error) {
	cfg := rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}
	if s.MaxLen > 0 {
		cfg.Maxlens = map[string]int64{events.Topic: s.MaxLen}
	}
	pub, err := rstream.NewPublisher(cfg, logging.NewWatermill(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	return pub, nil
}

// NewSubscriber returns a subscriber bound to the settings' consumer group.
func NewSubscriber(client redis.UniversalClient, s Settings) (message.Subscriber, error) {
	if s.Group == "" || s.Consumer == "" {
		return nil, errors.New("redis stream subscriber: group and consumer are required")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logging.NewWatermill(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}
	return sub, nil
}

// EnsureGroupAtTail creates the consumer group at the stream tail ($) if it
// does not exist, so a new consumer does not replay history.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("component", "redisstream").Str("stream", stream).Str("group", group).Msg("created consumer group at tail")
	return nil
}
