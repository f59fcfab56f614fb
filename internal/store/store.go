package store

import (
	"context"

	"github.com/hirewire/messaging-service/internal/domain"
)

// MessageStore is the durable record of direct messages plus the derived
// conversation projection. Append assigns id and createdAt; createdAt is
// non-decreasing in insertion order within one store.
type MessageStore interface {
	// Append persists a new unread message. Returns a ValidationError for
	// empty or oversized content and for self-addressed messages. The
	// message is durable before Append returns.
	Append(ctx context.Context, senderID, receiverID, content string) (*domain.Message, error)

	// ListThread returns one page of the history between the two users,
	// both directions, ordered ascending by (createdAt, id). cursor is the
	// opaque token returned by a previous call, empty for the first page.
	// The returned cursor is empty when no further page is known.
	ListThread(ctx context.Context, userA, userB, cursor string, limit int) ([]domain.Message, string, error)

	// MarkRead flips every unread message from counterpartID to readerID
	// and returns how many were flipped. Idempotent.
	MarkRead(ctx context.Context, readerID, counterpartID string) (int64, error)

	// ListConversations derives one row per counterpart for userID, most
	// recently active first.
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)

	Close(ctx context.Context) error
}

// UserDirectory resolves platform accounts for receiver checks and profile
// summaries. Read-only from this service.
type UserDirectory interface {
	// GetUser returns domain.ErrNotFound for unknown ids.
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error)
}
