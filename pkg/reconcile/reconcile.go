// Package reconcile keeps a client's cached conversation list and open
// thread consistent across the two update paths: explicit pulls over REST and
// passive push events over the websocket channel. Pushed payloads are treated
// as hints; whenever a cache is invalidated the next read pulls fresh state,
// so push and pull can never disagree for long.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Event mirrors the push-channel wire format.
type Event struct {
	Type          string   `json:"type"`
	Message       *Message `json:"message,omitempty"`
	CounterpartID string   `json:"counterpartId,omitempty"`
}

const (
	EventNewMessage   = "new_message"
	EventMessagesRead = "messages_read"
)

// Message is the client-side view of a message.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	IsRead     bool      `json:"isRead"`
}

// Conversation is the client-side view of an inbox row.
type Conversation struct {
	Counterpart struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Role    string `json:"role"`
		Company string `json:"company,omitempty"`
	} `json:"counterpart"`
	LastMessage Message `json:"lastMessage"`
	UnreadCount int64   `json:"unreadCount"`
}

// Fetcher is the pull path. Implemented by the HTTP client in this package;
// tests substitute fakes.
type Fetcher interface {
	Conversations(ctx context.Context) ([]Conversation, error)
	Thread(ctx context.Context, counterpartID, cursor string, limit int) ([]Message, string, error)
	MarkRead(ctx context.Context, counterpartID string) (int64, error)
}

// Reconciler holds the two caches: the conversation list and zero-or-one
// open thread. All methods are safe for concurrent use.
type Reconciler struct {
	mu      sync.Mutex
	userID  string
	fetcher Fetcher

	convs      []Conversation
	convsValid bool
	convsGen   uint64

	openThread  string // empty when no thread is open
	thread      []Message
	threadValid bool
	threadGen   uint64
}

func New(userID string, fetcher Fetcher) *Reconciler {
	return &Reconciler{userID: userID, fetcher: fetcher}
}

// The generation counters order invalidations against in-flight pulls. A
// pull records the generation before fetching and may only mark the cache
// valid if no invalidation bumped it in between; otherwise the fetched page
// predates the event and the next read must pull again.

func (r *Reconciler) invalidateConvs() {
	r.convsValid = false
	r.convsGen++
}

func (r *Reconciler) invalidateThread() {
	r.threadValid = false
	r.threadGen++
}

// ApplyEvent merges one pushed event into the caches. The conversation list
// is always invalidated: unread counts and ordering are recomputed by the
// store, never guessed locally.
func (r *Reconciler) ApplyEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case EventNewMessage:
		r.invalidateConvs()
		if ev.Message == nil {
			return
		}
		counterpart := ev.Message.SenderID
		if counterpart == r.userID {
			counterpart = ev.Message.ReceiverID
		}
		if r.openThread != "" && r.openThread == counterpart {
			r.threadGen++
			if r.threadValid {
				r.insertMessage(*ev.Message)
			}
		}
	case EventMessagesRead:
		r.invalidateConvs()
		if r.openThread != "" && r.openThread == ev.CounterpartID {
			r.threadGen++
			if r.threadValid {
				for i := range r.thread {
					if r.thread[i].SenderID == r.userID {
						r.thread[i].IsRead = true
					}
				}
			}
		}
	}
}

// insertMessage keeps the cached thread ordered by (createdAt, id) and
// tolerates duplicate delivery.
func (r *Reconciler) insertMessage(msg Message) {
	for _, m := range r.thread {
		if m.ID == msg.ID {
			return
		}
	}
	r.thread = append(r.thread, msg)
	sort.SliceStable(r.thread, func(i, j int) bool {
		a, b := r.thread[i], r.thread[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// OnReconnect runs on every CLOSED -> OPEN transition of the push channel.
// Anything may have been missed; both caches are stale by definition.
func (r *Reconciler) OnReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateConvs()
	r.invalidateThread()
}

// LocalSend records the acting user's own message. The dispatcher does not
// echo events back to the sender, so the local caches invalidate themselves.
func (r *Reconciler) LocalSend(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateConvs()
	if r.openThread != "" && r.openThread == msg.ReceiverID {
		r.threadGen++
		if r.threadValid {
			r.insertMessage(msg)
		}
	}
}

// OpenThread switches the open thread, pulls its first page and marks it
// read, which invalidates the conversation list (unread count changed).
func (r *Reconciler) OpenThread(ctx context.Context, counterpartID string, pageSize int) ([]Message, error) {
	r.mu.Lock()
	r.openThread = counterpartID
	r.invalidateThread()
	gen := r.threadGen
	r.mu.Unlock()

	msgs, _, err := r.fetcher.Thread(ctx, counterpartID, "", pageSize)
	if err != nil {
		return nil, err
	}
	if _, err := r.fetcher.MarkRead(ctx, counterpartID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openThread != counterpartID {
		// Thread switched while fetching; drop the stale page.
		return msgs, nil
	}
	r.thread = msgs
	// An event that landed during the fetch leaves the cache invalid; the
	// fetched page predates it.
	r.threadValid = gen == r.threadGen
	r.invalidateConvs()
	return append([]Message(nil), r.thread...), nil
}

// CloseThread drops the open thread cache.
func (r *Reconciler) CloseThread() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openThread = ""
	r.thread = nil
	r.invalidateThread()
}

// Conversations serves the cached list, re-pulling when invalidated.
func (r *Reconciler) Conversations(ctx context.Context) ([]Conversation, error) {
	r.mu.Lock()
	if r.convsValid {
		out := append([]Conversation(nil), r.convs...)
		r.mu.Unlock()
		return out, nil
	}
	gen := r.convsGen
	r.mu.Unlock()

	convs, err := r.fetcher.Conversations(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs = convs
	r.convsValid = gen == r.convsGen
	return append([]Conversation(nil), r.convs...), nil
}

// Thread serves the cached open thread, re-pulling when invalidated.
// Returns nil when no thread is open.
func (r *Reconciler) Thread(ctx context.Context, pageSize int) ([]Message, error) {
	r.mu.Lock()
	open := r.openThread
	if open == "" {
		r.mu.Unlock()
		return nil, nil
	}
	if r.threadValid {
		out := append([]Message(nil), r.thread...)
		r.mu.Unlock()
		return out, nil
	}
	gen := r.threadGen
	r.mu.Unlock()

	msgs, _, err := r.fetcher.Thread(ctx, open, "", pageSize)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openThread != open {
		return msgs, nil
	}
	r.thread = msgs
	r.threadValid = gen == r.threadGen
	return append([]Message(nil), r.thread...), nil
}
