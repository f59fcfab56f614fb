package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/domain"
)

// Envelope wraps a push event for the cross-node channel. NodeID lets each
// node skip its own publications; the local hub already delivered those.
type Envelope struct {
	NodeID string       `json:"node_id"`
	UserID string       `json:"user_id"`
	Event  domain.Event `json:"event"`
}

// Bridge relays push events between nodes over redis pub/sub so a receiver
// connected to another instance still gets live delivery. Like the direct
// path it is a hint channel: lost publications degrade to the pull path.
type Bridge struct {
	rdb     *redis.Client
	channel string
	nodeID  string
	log     *zap.SugaredLogger
}

func NewBridge(rdb *redis.Client, channel, nodeID string, log *zap.SugaredLogger) *Bridge {
	return &Bridge{rdb: rdb, channel: channel, nodeID: nodeID, log: log}
}

func (b *Bridge) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Run subscribes and feeds foreign events into the local hub until ctx is
// cancelled.
func (b *Bridge) Run(ctx context.Context, hub *Hub) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				b.log.Warn("bridge subscription closed")
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			if env.NodeID == b.nodeID {
				continue
			}
			payload, err := json.Marshal(env.Event)
			if err != nil {
				continue
			}
			hub.Push(env.UserID, payload)
		}
	}
}
