package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel lifecycle events are sent on.
const DefaultRedisChannel = "drip:events"

// RedisHub fans lifecycle events out across processes through Redis pub/sub.
// Delivery is best effort: events published while nobody listens are lost.
type RedisHub struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewRedisHub creates a hub on the given client. An empty channel means
// DefaultRedisChannel.
func NewRedisHub(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisHub {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisHub{
		client:  client,
		channel: channel,
		logger:  logger.With("module", "redis_hub", "channel", channel),
	}
}

func (h *RedisHub) Publish(ctx context.Context, event StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return h.client.Publish(ctx, h.channel, payload).Err()
}

// Subscribe listens on the channel and forwards matching events until the
// returned cancel function is called or ctx ends.
func (h *RedisHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	pubsub := h.client.Subscribe(ctx, h.channel)
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", h.channel, err)
	}

	out := make(chan StreamEvent, defaultChannelBuffer)
	subCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt StreamEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					h.logger.Warn("dropping malformed event", "error", err)
					continue
				}
				if !matchFilter(filter, evt) {
					continue
				}
				select {
				case out <- evt:
				default:
					// backpressure: drop event for slow subscriber
				}
			}
		}
	}()

	cancel := func() {
		stop()
		_ = pubsub.Close()
		<-done
	}
	return out, cancel, nil
}

var _ EventHub = (*RedisHub)(nil)
