package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/domain"
)

// Badger is the embedded MessageStore and UserDirectory, used for local
// development and tests. Message keys are "msg:{pair}:{timestamp}:{id}" with a
// 19-digit zero-padded unix-nano timestamp so lexicographic iteration is
// chronological; the id disambiguates same-nanosecond collisions.
type Badger struct {
	db  *badger.DB
	log *zap.SugaredLogger

	// Serializes Append against MarkRead per pair: a message appended
	// after a mark-read began must never be covered by it.
	pairMu sync.Mutex
	pairs  map[string]*sync.Mutex

	// Keeps createdAt non-decreasing in insertion order.
	clockMu sync.Mutex
	lastTS  time.Time
}

// NewBadger opens the store at path, or fully in memory when path is empty.
func NewBadger(path string, log *zap.SugaredLogger) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db, log: log, pairs: make(map[string]*sync.Mutex)}, nil
}

func (b *Badger) Close(context.Context) error {
	return b.db.Close()
}

func (b *Badger) pairLock(pairKey string) *sync.Mutex {
	b.pairMu.Lock()
	defer b.pairMu.Unlock()
	mu, ok := b.pairs[pairKey]
	if !ok {
		mu = &sync.Mutex{}
		b.pairs[pairKey] = mu
	}
	return mu
}

func (b *Badger) nextTimestamp() time.Time {
	b.clockMu.Lock()
	defer b.clockMu.Unlock()
	now := time.Now().UTC()
	if !now.After(b.lastTS) {
		now = b.lastTS.Add(time.Nanosecond)
	}
	b.lastTS = now
	return now
}

func messageKey(pairKey string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", pairKey, at.UnixNano(), id))
}

func threadPrefix(pairKey string) []byte {
	return []byte(fmt.Sprintf("msg:%s:", pairKey))
}

func conversationKey(userID, counterpartID string) []byte {
	return []byte(fmt.Sprintf("conv:%s:%s", userID, counterpartID))
}

func userKey(id string) []byte {
	return []byte("user:" + id)
}

func (b *Badger) Append(_ context.Context, senderID, receiverID, content string) (*domain.Message, error) {
	if err := domain.ValidateContent(senderID, receiverID, content); err != nil {
		return nil, err
	}

	pair := domain.PairKey(senderID, receiverID)
	mu := b.pairLock(pair)
	mu.Lock()
	defer mu.Unlock()

	msg := domain.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  b.nextTimestamp(),
		IsRead:     false,
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(pair, msg.CreatedAt, msg.ID), value); err != nil {
			return err
		}
		if err := txn.Set(conversationKey(senderID, receiverID), nil); err != nil {
			return err
		}
		return txn.Set(conversationKey(receiverID, senderID), nil)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (b *Badger) ListThread(_ context.Context, userA, userB, cursor string, limit int) ([]domain.Message, string, error) {
	pair := domain.PairKey(userA, userB)
	prefix := threadPrefix(pair)

	seekKey := prefix
	skipExact := false
	if cursor != "" {
		after, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		seekKey = messageKey(pair, after, id)
		skipExact = true
	}

	var msgs []domain.Message
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		it.Seek(seekKey)
		if skipExact && it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seekKey) {
			it.Next()
		}
		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(msgs) == limit {
				break
			}
			var msg domain.Message
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &msg)
			})
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	next := ""
	if limit > 0 && len(msgs) == limit {
		last := msgs[len(msgs)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return msgs, next, nil
}

func (b *Badger) MarkRead(_ context.Context, readerID, counterpartID string) (int64, error) {
	pair := domain.PairKey(readerID, counterpartID)
	mu := b.pairLock(pair)
	mu.Lock()
	defer mu.Unlock()

	prefix := threadPrefix(pair)
	var updated int64
	err := b.db.Update(func(txn *badger.Txn) error {
		updated = 0

		// Collect first, write after the iterator closes.
		type flip struct {
			key   []byte
			value []byte
		}
		var flips []flip

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var msg domain.Message
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &msg) }); err != nil {
				it.Close()
				return err
			}
			if msg.ReceiverID != readerID || msg.SenderID != counterpartID || msg.IsRead {
				continue
			}
			msg.IsRead = true
			value, err := json.Marshal(msg)
			if err != nil {
				it.Close()
				return err
			}
			flips = append(flips, flip{key: item.KeyCopy(nil), value: value})
		}
		it.Close()

		for _, f := range flips {
			if err := txn.Set(f.key, f.value); err != nil {
				return err
			}
		}
		updated = int64(len(flips))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func (b *Badger) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	prefix := []byte("conv:" + userID + ":")
	var counterparts []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			counterparts = append(counterparts, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(counterparts) == 0 {
		return []domain.Conversation{}, nil
	}

	users, err := b.GetUsers(ctx, counterparts)
	if err != nil {
		return nil, err
	}

	convs := make([]domain.Conversation, 0, len(counterparts))
	for _, cp := range counterparts {
		last, unread, err := b.threadSummary(userID, cp)
		if err != nil {
			return nil, err
		}
		if last == nil {
			continue
		}
		summary := domain.UserSummary{ID: cp}
		if u, ok := users[cp]; ok {
			summary = u.Summary()
		}
		convs = append(convs, domain.Conversation{
			Counterpart: summary,
			LastMessage: *last,
			UnreadCount: unread,
		})
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastMessage.CreatedAt.After(convs[j].LastMessage.CreatedAt)
	})
	return convs, nil
}

// threadSummary walks one pair's messages once, tracking the newest message
// and the unread count from userID's perspective.
func (b *Badger) threadSummary(userID, counterpartID string) (*domain.Message, int64, error) {
	prefix := threadPrefix(domain.PairKey(userID, counterpartID))
	var last *domain.Message
	var unread int64
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg domain.Message
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &msg) }); err != nil {
				return err
			}
			if msg.ReceiverID == userID && msg.SenderID == counterpartID && !msg.IsRead {
				unread++
			}
			m := msg
			last = &m
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return last, unread, nil
}

func (b *Badger) GetUser(_ context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &u) })
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (b *Badger) GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		u, err := b.GetUser(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = *u
	}
	return out, nil
}

// PutUser exists for seeding and tests; account lifecycle is owned by the
// user service.
func (b *Badger) PutUser(_ context.Context, u domain.User) error {
	value, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(u.ID), value)
	})
}
