package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultChannelPrefix = "signage:devices:"
	revisionKey          = "signage:realtime:revision"
)

// RedisNotifier publishes plan changes over Redis pub/sub so that every API
// instance can forward them to its locally connected devices
type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
	logger zerolog.Logger
}

// NewRedisNotifier creates a notifier on top of an existing client
func NewRedisNotifier(client redis.UniversalClient, logger zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		prefix: defaultChannelPrefix,
		now:    time.Now,
		logger: logger,
	}
}

// Channel returns the pub/sub channel of a device
func (n *RedisNotifier) Channel(deviceID string) string {
	return n.prefix + deviceID
}

// NotifyPlanChanged stamps a cluster-wide revision and publishes the event
func (n *RedisNotifier) NotifyPlanChanged(ctx context.Context, deviceID, reason string) error {
	revision, err := n.client.Incr(ctx, revisionKey).Result()
	if err != nil {
		return fmt.Errorf("failed to advance realtime revision: %w", err)
	}

	event := Event{
		Type:     EventSyncPlanChanged,
		Revision: revision,
		DeviceID: deviceID,
		Payload:  map[string]interface{}{"reason": reason},
		TS:       n.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode realtime event: %w", err)
	}

	if err := n.client.Publish(ctx, n.Channel(deviceID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish realtime event: %w", err)
	}
	return nil
}

// Relay forwards events from Redis into hub until ctx is cancelled
func (n *RedisNotifier) Relay(ctx context.Context, hub *Hub) error {
	pubsub := n.client.PSubscribe(ctx, n.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to realtime channel: %w", err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, err := n.decode(msg)
			if err != nil {
				n.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed realtime event")
				continue
			}
			hub.Forward(event)
		}
	}
}

func (n *RedisNotifier) decode(msg *redis.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		return Event{}, err
	}
	if event.DeviceID == "" {
		event.DeviceID = strings.TrimPrefix(msg.Channel, n.prefix)
	}
	return event, nil
}
