// Package redisstore fans the store's change signal out across processes
// over Redis pub/sub. Delivery is best-effort: a missed signal means a stale
// list until the next refresh, never lost data.
package redisstore

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

const channel = "chatrelay:chats-updated"

type Notifier struct {
	client *redis.Client
}

func NewNotifier(addr, password string, db int) *Notifier {
	return &Notifier{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (n *Notifier) Close() error {
	return n.client.Close()
}

// Publish signals other processes that chat data changed.
func (n *Notifier) Publish(ctx context.Context) error {
	return n.client.Publish(ctx, channel, "changed").Err()
}

// Watch delivers one signal per remote change until ctx is done. Signals
// coalesce when the consumer lags.
func (n *Notifier) Watch(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := n.client.Subscribe(ctx, channel)

	go func() {
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				log.Printf("[redisstore] close subscription: %v", err)
			}
		}()

		ch := sub.Channel()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
