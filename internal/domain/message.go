package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentRunes caps message length. Long-form exchanges belong in job
// applications, not the inbox.
const MaxContentRunes = 4000

// Message is the unit of the direct-messaging system. Immutable after creation
// except for IsRead, which flips to true exactly once.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	IsRead     bool      `json:"isRead"`
}

// PairKey returns the canonical identifier for the conversation between the
// two participants, identical regardless of direction.
func (m Message) PairKey() string {
	return PairKey(m.SenderID, m.ReceiverID)
}

// CounterpartOf returns the other participant from userID's perspective.
func (m Message) CounterpartOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// PairKey builds the order-independent key for a user pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// ValidateContent enforces the creation rules shared by every store backend.
func ValidateContent(senderID, receiverID, content string) error {
	if senderID == "" || receiverID == "" {
		return NewValidationError("sender and receiver are required")
	}
	if senderID == receiverID {
		return NewValidationError("cannot message yourself")
	}
	if strings.TrimSpace(content) == "" {
		return NewValidationError("content is empty")
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return NewValidationError("content exceeds maximum length")
	}
	return nil
}
