package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"dialogd/internal/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type push struct {
	event string
	data  interface{}
}

type fakeConn struct {
	mu     sync.Mutex
	pushes []push
}

func (c *fakeConn) Push(event string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, push{event: event, data: data})
}

func (c *fakeConn) received() []push {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]push, len(c.pushes))
	copy(out, c.pushes)
	return out
}

type fakeStore struct {
	mu        sync.Mutex
	messages  []storage.Message
	online    map[string]bool
	base      time.Time
	seq       int
	onlineErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{online: make(map[string]bool), base: time.Now().UTC()}
}

func (s *fakeStore) CreateMessage(_ context.Context, senderID, recipientID, content string) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	m := storage.Message{
		ID:          fmt.Sprintf("m%03d", s.seq),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Status:      storage.StatusSent,
		CreatedAt:   s.base.Add(time.Duration(s.seq) * time.Millisecond),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *fakeStore) MarkRead(_ context.Context, readerID, senderID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i, m := range s.messages {
		if m.SenderID == senderID && m.RecipientID == readerID && m.Status != storage.StatusRead {
			s.messages[i].Status = storage.StatusRead
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) SetOnlineStatus(_ context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.onlineErr != nil {
		return s.onlineErr
	}
	s.online[userID] = online
	return nil
}

func (s *fakeStore) between(a, b string) []storage.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Message
	for _, m := range s.messages {
		if (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func bootstrapHub(t *testing.T) (*Hub, *fakeStore) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	store := newFakeStore()
	return NewHub(logger.Sugar(), store, NewRegistry()), store
}

func TestSendMessagePersistsAndPushes(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)
	recipient := &fakeConn{}
	hub.Registry().Register("u2", recipient)

	before := time.Now().Add(-time.Minute)
	msg, err := hub.SendMessage(context.Background(), "u1", "u2", "hi")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, storage.StatusSent, msg.Status)
	require.True(t, msg.CreatedAt.After(before))

	pushes := recipient.received()
	require.Len(t, pushes, 1)
	require.Equal(t, EventMessageNew, pushes[0].event)
	require.Equal(t, msg, pushes[0].data)

	history := store.between("u1", "u2")
	require.Len(t, history, 1)
	require.Equal(t, msg.ID, history[0].ID)
}

func TestSendMessageEmptyContent(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)

	_, err := hub.SendMessage(context.Background(), "u1", "u2", "")
	require.ErrorIs(t, err, ErrEmptyContent)

	_, err = hub.SendMessage(context.Background(), "u1", "u2", "   \t\n")
	require.ErrorIs(t, err, ErrEmptyContent)

	require.Empty(t, store.between("u1", "u2"))
}

func TestSendMessageOfflineRecipient(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)

	first, err := hub.SendMessage(context.Background(), "u1", "u2", "one")
	require.NoError(t, err)
	second, err := hub.SendMessage(context.Background(), "u1", "u2", "two")
	require.NoError(t, err)

	// recipient connects later and fetches history: both messages in send
	// order, both still sent
	history := store.between("u2", "u1")
	require.Len(t, history, 2)
	require.Equal(t, first.ID, history[0].ID)
	require.Equal(t, second.ID, history[1].ID)
	require.Equal(t, storage.StatusSent, history[0].Status)
	require.Equal(t, storage.StatusSent, history[1].Status)
}

func TestMarkReadPushesReceipt(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)
	sender := &fakeConn{}
	hub.Registry().Register("u1", sender)

	_, err := hub.SendMessage(context.Background(), "u1", "u2", "hi")
	require.NoError(t, err)

	require.NoError(t, hub.MarkRead(context.Background(), "u2", "u1"))

	require.Equal(t, storage.StatusRead, store.between("u1", "u2")[0].Status)

	pushes := sender.received()
	require.Len(t, pushes, 1)
	require.Equal(t, EventReadReceipt, pushes[0].event)
	require.Equal(t, readReceiptPayload{ReaderID: "u2"}, pushes[0].data)
}

func TestMarkReadIdempotent(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)

	_, err := hub.SendMessage(context.Background(), "u1", "u2", "hi")
	require.NoError(t, err)

	require.NoError(t, hub.MarkRead(context.Background(), "u2", "u1"))
	firstPass := store.between("u1", "u2")

	require.NoError(t, hub.MarkRead(context.Background(), "u2", "u1"))
	require.Equal(t, firstPass, store.between("u1", "u2"))
}

func TestMarkReadScopedToPair(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)

	_, err := hub.SendMessage(context.Background(), "u1", "u2", "to u2")
	require.NoError(t, err)
	_, err = hub.SendMessage(context.Background(), "u1", "u3", "to u3")
	require.NoError(t, err)
	_, err = hub.SendMessage(context.Background(), "u2", "u1", "reply")
	require.NoError(t, err)

	require.NoError(t, hub.MarkRead(context.Background(), "u2", "u1"))

	// only u1 -> u2 transitions; u1 -> u3 and u2 -> u1 are untouched
	require.Equal(t, storage.StatusSent, store.between("u1", "u3")[0].Status)
	for _, m := range store.between("u1", "u2") {
		if m.SenderID == "u1" {
			require.Equal(t, storage.StatusRead, m.Status)
		} else {
			require.Equal(t, storage.StatusSent, m.Status)
		}
	}
}

func TestMarkReadOfflineSender(t *testing.T) {
	t.Parallel()

	hub, _ := bootstrapHub(t)

	_, err := hub.SendMessage(context.Background(), "u1", "u2", "hi")
	require.NoError(t, err)

	// sender has no connection: status change still applies, no receipt,
	// no error
	require.NoError(t, hub.MarkRead(context.Background(), "u2", "u1"))
}

func TestNoOperationReachesDelivered(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)
	recipient := &fakeConn{}
	hub.Registry().Register("u2", recipient)

	_, err := hub.SendMessage(context.Background(), "u1", "u2", "hi")
	require.NoError(t, err)
	require.NoError(t, hub.MarkRead(context.Background(), "u2", "u1"))
	require.NoError(t, hub.MarkRead(context.Background(), "u1", "u2"))

	for _, m := range store.between("u1", "u2") {
		require.NotEqual(t, storage.StatusDelivered, m.Status)
	}
	for _, p := range recipient.received() {
		if msg, ok := p.data.(storage.Message); ok {
			require.NotEqual(t, storage.StatusDelivered, msg.Status)
		}
	}
}

func TestTypingRelay(t *testing.T) {
	t.Parallel()

	hub, _ := bootstrapHub(t)
	recipient := &fakeConn{}
	hub.Registry().Register("u2", recipient)

	hub.TypingStart("u1", "u2")
	hub.TypingStop("u1", "u2")
	hub.TypingStart("u1", "u3") // offline, silently dropped

	pushes := recipient.received()
	require.Len(t, pushes, 2)
	require.Equal(t, EventTypingStarted, pushes[0].event)
	require.Nil(t, pushes[0].data)
	require.Equal(t, EventTypingStopped, pushes[1].event)
}

func TestConnectBroadcastsPresence(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)
	other := &fakeConn{}
	hub.Registry().Register("u2", other)

	joining := &fakeConn{}
	hub.Connect(context.Background(), "u1", joining)

	require.True(t, store.online["u1"])

	pushes := other.received()
	require.Len(t, pushes, 1)
	require.Equal(t, EventUserOnline, pushes[0].event)
	require.Equal(t, presencePayload{UserID: "u1"}, pushes[0].data)

	// the joining connection itself gets no self-presence echo
	require.Empty(t, joining.received())
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)
	other := &fakeConn{}
	hub.Registry().Register("u2", other)

	c := &fakeConn{}
	hub.Connect(context.Background(), "u1", c)
	hub.Disconnect(context.Background(), "u1", c)

	require.False(t, store.online["u1"])

	pushes := other.received()
	require.Len(t, pushes, 2)
	require.Equal(t, EventUserOffline, pushes[1].event)
	require.Equal(t, presencePayload{UserID: "u1"}, pushes[1].data)
}

func TestStaleDisconnectAfterReconnect(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)
	other := &fakeConn{}
	hub.Registry().Register("u2", other)

	h1 := &fakeConn{}
	h2 := &fakeConn{}
	hub.Connect(context.Background(), "u1", h1)
	hub.Connect(context.Background(), "u1", h2)

	// the stale handle's disconnect must not tear down the new mapping
	hub.Disconnect(context.Background(), "u1", h1)

	require.Same(t, Conn(h2), hub.Registry().Lookup("u1"))
	require.True(t, store.online["u1"])

	for _, p := range other.received() {
		require.NotEqual(t, EventUserOffline, p.event)
	}
}

func TestPresenceStoreFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)
	store.onlineErr = fmt.Errorf("store down")

	other := &fakeConn{}
	hub.Registry().Register("u2", other)

	c := &fakeConn{}
	hub.Connect(context.Background(), "u1", c)

	require.Same(t, Conn(c), hub.Registry().Lookup("u1"))

	pushes := other.received()
	require.Len(t, pushes, 1)
	require.Equal(t, EventUserOnline, pushes[0].event)
}

func TestReadScenario(t *testing.T) {
	t.Parallel()

	hub, store := bootstrapHub(t)
	a := &fakeConn{}
	b := &fakeConn{}
	hub.Registry().Register("u1", a)
	hub.Registry().Register("u2", b)

	msg, err := hub.SendMessage(context.Background(), "u1", "u2", "hi")
	require.NoError(t, err)

	bPushes := b.received()
	require.Len(t, bPushes, 1)
	require.Equal(t, EventMessageNew, bPushes[0].event)
	pushed := bPushes[0].data.(storage.Message)
	require.Equal(t, "hi", pushed.Content)
	require.Equal(t, "sent", pushed.Status)

	require.NoError(t, hub.MarkRead(context.Background(), "u2", "u1"))

	require.Equal(t, "read", store.between("u1", "u2")[0].Status)
	require.Equal(t, msg.ID, store.between("u1", "u2")[0].ID)

	aPushes := a.received()
	require.Len(t, aPushes, 1)
	require.Equal(t, EventReadReceipt, aPushes[0].event)
	require.Equal(t, readReceiptPayload{ReaderID: "u2"}, aPushes[0].data)
}
