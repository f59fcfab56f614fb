package domain

// Push-channel event types. The channel carries nothing else to clients.
const (
	EventNewMessage   = "new_message"
	EventMessagesRead = "messages_read"
)

// Event is the wire format pushed over the websocket channel. For
// EventNewMessage the full message rides along; for EventMessagesRead only the
// counterpart whose thread was read. Either way the payload is a hint: clients
// re-read through the REST surface for anything beyond optimistic updates.
type Event struct {
	Type          string   `json:"type"`
	Message       *Message `json:"message,omitempty"`
	CounterpartID string   `json:"counterpartId,omitempty"`
}
