package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/domain"
	"github.com/hirewire/messaging-service/internal/metrics"
	"github.com/hirewire/messaging-service/internal/store"
)

const (
	defaultThreadPage = 50
	maxThreadPage     = 200
)

// Dispatcher is the push side of the dual channel. Implemented by ws.Dispatcher.
type Dispatcher interface {
	NotifyNewMessage(msg *domain.Message)
	NotifyRead(readerID, counterpartID string)
}

// EventProducer publishes state changes for downstream consumers
// (notifications, analytics). Failures are logged, never propagated: the
// stream is not part of the request contract.
type EventProducer interface {
	PublishMessageNew(ctx context.Context, msg *domain.Message) error
	PublishMessageRead(ctx context.Context, readerID, counterpartID string) error
}

// SendRequest is the inbound payload for Send.
type SendRequest struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content" validate:"required,max=4000"`
}

// Messaging is the externally visible operation set: conversations, threads,
// send, mark-read. Persistence commits before any push dispatch, so the
// dispatcher never announces a message that is not durable.
type Messaging struct {
	store      store.MessageStore
	users      store.UserDirectory
	dispatcher Dispatcher
	producer   EventProducer // may be nil
	validate   *validator.Validate
	log        *zap.SugaredLogger
}

func NewMessaging(st store.MessageStore, users store.UserDirectory, d Dispatcher, p EventProducer, log *zap.SugaredLogger) *Messaging {
	return &Messaging{
		store:      st,
		users:      users,
		dispatcher: d,
		producer:   p,
		validate:   validator.New(),
		log:        log,
	}
}

// Conversations lists the caller's inbox, most recently active first.
func (m *Messaging) Conversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return m.store.ListConversations(ctx, userID)
}

// Thread returns one page of history with counterpartID. Reading a thread
// does not mark anything; that is an explicit separate action.
func (m *Messaging) Thread(ctx context.Context, userID, counterpartID, cursor string, limit int) ([]domain.Message, string, error) {
	if limit <= 0 {
		limit = defaultThreadPage
	}
	if limit > maxThreadPage {
		limit = maxThreadPage
	}
	return m.store.ListThread(ctx, userID, counterpartID, cursor, limit)
}

// Send validates, checks the receiver exists and is reachable, persists, then
// notifies. A store failure is returned to the caller untouched; there is
// nothing partial to clean up because dispatch only happens after commit.
func (m *Messaging) Send(ctx context.Context, senderID string, req SendRequest) (*domain.Message, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	if senderID == req.ReceiverID {
		return nil, domain.NewValidationError("cannot message yourself")
	}

	receiver, err := m.users.GetUser(ctx, req.ReceiverID)
	if err != nil {
		return nil, err
	}
	if !receiver.Active {
		return nil, domain.ErrNotFound
	}

	msg, err := m.store.Append(ctx, senderID, req.ReceiverID, req.Content)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	m.dispatcher.NotifyNewMessage(msg)
	if m.producer != nil {
		if err := m.producer.PublishMessageNew(ctx, msg); err != nil {
			m.log.Warnw("publish message.new failed", "message_id", msg.ID, "error", err)
		}
	}
	return msg, nil
}

// MarkRead flips the unread messages from counterpartID and notifies them
// that their messages were read. Notifications only fire when something
// actually changed.
func (m *Messaging) MarkRead(ctx context.Context, readerID, counterpartID string) (int64, error) {
	updated, err := m.store.MarkRead(ctx, readerID, counterpartID)
	if err != nil {
		return 0, err
	}
	if updated == 0 {
		return 0, nil
	}

	m.dispatcher.NotifyRead(readerID, counterpartID)
	if m.producer != nil {
		if err := m.producer.PublishMessageRead(ctx, readerID, counterpartID); err != nil {
			m.log.Warnw("publish message.read failed", "reader_id", readerID, "error", err)
		}
	}
	return updated, nil
}

// IsRetryable reports whether an error should map to a retryable server
// failure rather than a client fault.
func IsRetryable(err error) bool {
	return err != nil && !domain.IsValidation(err) && !errors.Is(err, domain.ErrNotFound)
}
