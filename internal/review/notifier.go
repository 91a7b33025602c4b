package review

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notifier wakes feedback waiters through Redis pub/sub so AwaitFeedback
// reacts immediately instead of waiting out a poll interval. It is an
// optimization only: waiters still poll, so a lost message costs at most one
// interval.
type Notifier struct {
	client *redis.Client
	prefix string
}

func NewNotifier(redisURL string) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Notifier{client: client, prefix: "review:done:"}, nil
}

// NewNotifierWithClient creates a notifier from an existing Redis client.
func NewNotifierWithClient(client *redis.Client) *Notifier {
	return &Notifier{client: client, prefix: "review:done:"}
}

func (n *Notifier) channel(requestID string) string {
	return n.prefix + requestID
}

// Publish announces that feedback exists for the request.
func (n *Notifier) Publish(ctx context.Context, requestID string) error {
	if err := n.client.Publish(ctx, n.channel(requestID), "completed").Err(); err != nil {
		return fmt.Errorf("publish feedback notification: %w", err)
	}
	return nil
}

// Subscribe returns a channel that receives a signal whenever feedback for
// the request is announced. The returned stop function must be called to
// release the subscription.
func (n *Notifier) Subscribe(ctx context.Context, requestID string) (<-chan struct{}, func()) {
	pubsub := n.client.Subscribe(ctx, n.channel(requestID))
	signals := make(chan struct{}, 1)

	go func() {
		for range pubsub.Channel() {
			select {
			case signals <- struct{}{}:
			default:
			}
		}
	}()

	stop := func() { _ = pubsub.Close() }
	return signals, stop
}

func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *Notifier) Close() error {
	return n.client.Close()
}
