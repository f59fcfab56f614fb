package store

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/domain"
)

func newTestStore(t *testing.T) *Badger {
	t.Helper()
	b, err := NewBadger("", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func seedUsers(t *testing.T, b *Badger, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := b.PutUser(context.Background(), domain.User{
			ID: id, Name: strings.ToUpper(id[:1]) + id[1:], Role: domain.RoleSeeker, Active: true,
		})
		require.NoError(t, err)
	}
}

func TestBadger_AppendAssignsFields(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)

	msg, err := b.Append(context.Background(), "alice", "bob", "hello")
	req.NoError(err)
	req.NotEmpty(msg.ID)
	req.False(msg.CreatedAt.IsZero())
	req.False(msg.IsRead)
	req.Equal("alice", msg.SenderID)
	req.Equal("bob", msg.ReceiverID)
}

func TestBadger_AppendRejectsInvalid(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()

	_, err := b.Append(ctx, "alice", "alice", "hi")
	req.True(domain.IsValidation(err))

	_, err = b.Append(ctx, "alice", "bob", "")
	req.True(domain.IsValidation(err))

	_, err = b.Append(ctx, "alice", "bob", strings.Repeat("x", domain.MaxContentRunes+1))
	req.True(domain.IsValidation(err))

	// Nothing was persisted by the rejected calls.
	msgs, _, err := b.ListThread(ctx, "alice", "bob", "", 10)
	req.NoError(err)
	req.Empty(msgs)
}

func TestBadger_ThreadSymmetricAndOrdered(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third", "fourth"}
	for i, c := range contents {
		sender, receiver := "alice", "bob"
		if i%2 == 1 {
			sender, receiver = "bob", "alice"
		}
		_, err := b.Append(ctx, sender, receiver, c)
		req.NoError(err)
	}

	fromAlice, _, err := b.ListThread(ctx, "alice", "bob", "", 10)
	req.NoError(err)
	fromBob, _, err := b.ListThread(ctx, "bob", "alice", "", 10)
	req.NoError(err)

	req.Equal(fromAlice, fromBob)
	req.Len(fromAlice, len(contents))
	for i, m := range fromAlice {
		req.Equal(contents[i], m.Content)
	}
	for i := 1; i < len(fromAlice); i++ {
		req.False(fromAlice[i].CreatedAt.Before(fromAlice[i-1].CreatedAt))
	}
}

func TestBadger_ThreadPagination(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()

	total := 25
	for i := 0; i < total; i++ {
		_, err := b.Append(ctx, "alice", "bob", "m")
		req.NoError(err)
	}

	var all []domain.Message
	cursor := ""
	pages := 0
	for {
		page, next, err := b.ListThread(ctx, "alice", "bob", cursor, 10)
		req.NoError(err)
		all = append(all, page...)
		pages++
		if next == "" || len(page) == 0 {
			break
		}
		cursor = next
	}

	req.Len(all, total)
	req.GreaterOrEqual(pages, 3)
	seen := make(map[string]bool, total)
	for _, m := range all {
		req.False(seen[m.ID], "message %s returned twice", m.ID)
		seen[m.ID] = true
	}
	for i := 1; i < len(all); i++ {
		req.False(all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}
}

func TestBadger_MarkReadIdempotent(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Append(ctx, "alice", "bob", "hey")
		req.NoError(err)
	}

	updated, err := b.MarkRead(ctx, "bob", "alice")
	req.NoError(err)
	req.EqualValues(3, updated)

	updated, err = b.MarkRead(ctx, "bob", "alice")
	req.NoError(err)
	req.EqualValues(0, updated)
}

func TestBadger_MarkReadOnlyCoversOneDirection(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()

	_, err := b.Append(ctx, "alice", "bob", "to bob")
	req.NoError(err)
	_, err = b.Append(ctx, "bob", "alice", "to alice")
	req.NoError(err)

	updated, err := b.MarkRead(ctx, "bob", "alice")
	req.NoError(err)
	req.EqualValues(1, updated)

	msgs, _, err := b.ListThread(ctx, "alice", "bob", "", 10)
	req.NoError(err)
	for _, m := range msgs {
		if m.ReceiverID == "bob" {
			req.True(m.IsRead)
		} else {
			req.False(m.IsRead, "bob's outgoing mark must not touch alice's unread")
		}
	}
}

func TestBadger_MessageAfterMarkReadStaysUnread(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()

	_, err := b.Append(ctx, "alice", "bob", "one")
	req.NoError(err)

	_, err = b.MarkRead(ctx, "bob", "alice")
	req.NoError(err)

	_, err = b.Append(ctx, "alice", "bob", "two")
	req.NoError(err)

	convs, err := b.ListConversations(ctx, "bob")
	req.NoError(err)
	req.Len(convs, 1)
	req.EqualValues(1, convs[0].UnreadCount)
	req.Equal("two", convs[0].LastMessage.Content)
}

func TestBadger_ConcurrentMarkReadNeverDoubleCounts(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()

	total := 20
	for i := 0; i < total; i++ {
		_, err := b.Append(ctx, "alice", "bob", "m")
		req.NoError(err)
	}

	workers := 8
	counts := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := b.MarkRead(ctx, "bob", "alice")
			req.NoError(err)
			counts[i] = n
		}(i)
	}
	wg.Wait()

	var sum int64
	for _, n := range counts {
		sum += n
	}
	req.EqualValues(total, sum)
}

func TestBadger_ListConversations(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, b, "alice", "bob", "carol")

	_, err := b.Append(ctx, "bob", "alice", "from bob")
	req.NoError(err)
	_, err = b.Append(ctx, "carol", "alice", "from carol")
	req.NoError(err)
	_, err = b.Append(ctx, "carol", "alice", "again")
	req.NoError(err)

	convs, err := b.ListConversations(ctx, "alice")
	req.NoError(err)
	req.Len(convs, 2)

	// Most recently active first.
	req.Equal("carol", convs[0].Counterpart.ID)
	req.Equal("Carol", convs[0].Counterpart.Name)
	req.Equal("again", convs[0].LastMessage.Content)
	req.EqualValues(2, convs[0].UnreadCount)

	req.Equal("bob", convs[1].Counterpart.ID)
	req.EqualValues(1, convs[1].UnreadCount)

	// Counterparts see the conversation too, with zero unread for their
	// own outgoing messages.
	convs, err = b.ListConversations(ctx, "carol")
	req.NoError(err)
	req.Len(convs, 1)
	req.EqualValues(0, convs[0].UnreadCount)
}

func TestBadger_ListConversationsEmpty(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)

	convs, err := b.ListConversations(context.Background(), "nobody")
	req.NoError(err)
	req.Empty(convs)
}

func TestBadger_UnreadMatchesDefinition(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Append(ctx, "bob", "alice", "m")
		req.NoError(err)
	}
	_, err := b.MarkRead(ctx, "alice", "bob")
	req.NoError(err)
	for i := 0; i < 2; i++ {
		_, err := b.Append(ctx, "bob", "alice", "m")
		req.NoError(err)
	}

	msgs, _, err := b.ListThread(ctx, "alice", "bob", "", 100)
	req.NoError(err)
	var unread int64
	for _, m := range msgs {
		if m.ReceiverID == "alice" && m.SenderID == "bob" && !m.IsRead {
			unread++
		}
	}

	convs, err := b.ListConversations(ctx, "alice")
	req.NoError(err)
	req.Len(convs, 1)
	req.Equal(unread, convs[0].UnreadCount)
	req.EqualValues(2, unread)
}

func TestBadger_UserDirectory(t *testing.T) {
	req := require.New(t)
	b := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, b, "alice")

	u, err := b.GetUser(ctx, "alice")
	req.NoError(err)
	req.Equal("Alice", u.Name)

	_, err = b.GetUser(ctx, "ghost")
	req.ErrorIs(err, domain.ErrNotFound)

	users, err := b.GetUsers(ctx, []string{"alice", "ghost"})
	req.NoError(err)
	req.Len(users, 1)
}
