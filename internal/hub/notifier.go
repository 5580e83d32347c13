package hub

import (
	"context"
	"log"
	"runtime/debug"
	"strings"

	"github.com/redis/go-redis/v9"
)

const userChannelPrefix = "chat:user:"

// Notifier bridges hubs across nodes over Redis pub/sub: events for a user
// connected elsewhere are published to that user's channel and delivered by
// whichever node holds the connection. A nil Redis client makes every method
// a no-op, which is correct for a single node.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// PublishUser sends an encoded event frame to a user's channel.
func (n *Notifier) PublishUser(ctx context.Context, userID string, frame []byte) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), frame).Err()
}

// StartSubscriber subscribes to every user channel and calls onFrame with the
// target userID and the raw frame for each published message.
func (n *Notifier) StartSubscriber(ctx context.Context, onFrame func(userID string, frame []byte)) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, userChannelPrefix+"*")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				userID := strings.TrimPrefix(msg.Channel, userChannelPrefix)
				if userID == "" || userID == msg.Channel {
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in hub subscriber: %v\n%s", r, debug.Stack())
						}
					}()
					onFrame(userID, []byte(msg.Payload))
				}()
			}
		}
	}()

	return nil
}
