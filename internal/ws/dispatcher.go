package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/domain"
)

// Dispatcher fans persisted state changes out to the affected user's open
// connections. It is called by the messaging service only, synchronously
// after the store commit, so events for one conversation leave in commit
// order. Delivery is best effort: no retries, no queue, and a failed push
// never surfaces to the request path.
type Dispatcher struct {
	hub    *Hub
	bridge *Bridge // nil when running single-node
	nodeID string
	log    *zap.SugaredLogger
}

func NewDispatcher(hub *Hub, bridge *Bridge, nodeID string, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{hub: hub, bridge: bridge, nodeID: nodeID, log: log}
}

// NotifyNewMessage pushes the full message to the receiver's connections.
// Silent no-op when the receiver has none; the message is already durable and
// will show up on their next pull.
func (d *Dispatcher) NotifyNewMessage(msg *domain.Message) {
	event := domain.Event{Type: domain.EventNewMessage, Message: msg}
	d.deliver(msg.ReceiverID, event)
}

// NotifyRead tells the original sender that readerID has read their thread.
// The counterpart in the pushed event is named from the recipient's
// perspective: it identifies which of their threads flipped to read.
func (d *Dispatcher) NotifyRead(readerID, counterpartID string) {
	event := domain.Event{Type: domain.EventMessagesRead, CounterpartID: readerID}
	d.deliver(counterpartID, event)
}

func (d *Dispatcher) deliver(userID string, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.log.Errorw("marshal push event", "error", err)
		return
	}
	d.hub.Push(userID, payload)

	if d.bridge != nil {
		env := Envelope{NodeID: d.nodeID, UserID: userID, Event: event}
		if err := d.bridge.Publish(context.Background(), env); err != nil {
			d.log.Warnw("bridge publish failed", "error", err)
		}
	}
}
