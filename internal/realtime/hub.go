package realtime

import (
	"context"
	"errors"
	"strings"

	"dialogd/internal/storage"

	"go.uber.org/zap"
)

// ErrEmptyContent rejects messages whose content is empty or whitespace-only.
// It is surfaced to the sending caller only and never reaches the store.
var ErrEmptyContent = errors.New("message content must not be empty")

// Store is the subset of the durable store the hub depends on
type Store interface {
	CreateMessage(ctx context.Context, senderID, recipientID, content string) (storage.Message, error)
	MarkRead(ctx context.Context, readerID, senderID string) (int64, error)
	SetOnlineStatus(ctx context.Context, userID string, online bool) error
}

// Hub owns the real-time control flow: it applies registry changes with
// their presence side effects, runs the send/persist/deliver pipeline,
// the read-status lifecycle and the typing relay.
type Hub struct {
	logger   *zap.SugaredLogger
	store    Store
	registry *Registry
}

func NewHub(logger *zap.SugaredLogger, store Store, registry *Registry) *Hub {
	return &Hub{
		logger:   logger,
		store:    store,
		registry: registry,
	}
}

// Registry exposes the connection registry for transport wiring
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Connect registers conn as userID's active connection, marks the user
// online in the store and broadcasts the presence transition to every
// other connected user. A failing store update is logged and does not
// block registration or the broadcast.
func (h *Hub) Connect(ctx context.Context, userID string, conn Conn) {
	if prev := h.registry.Register(userID, conn); prev != nil {
		h.logger.Debugf("User %s reconnected, previous handle superseded", userID)
	}

	if err := h.store.SetOnlineStatus(ctx, userID, true); err != nil {
		h.logger.Errorf("marking user %s online: %v", userID, err)
	}

	h.broadcast(userID, EventUserOnline, presencePayload{UserID: userID})
}

// Disconnect removes the registration only when conn is still the active
// handle for userID; a stale disconnect after a fast reconnect is a no-op
// and produces no offline transition.
func (h *Hub) Disconnect(ctx context.Context, userID string, conn Conn) {
	if !h.registry.Unregister(userID, conn) {
		h.logger.Debugf("Stale disconnect for user %s ignored", userID)
		return
	}

	if err := h.store.SetOnlineStatus(ctx, userID, false); err != nil {
		h.logger.Errorf("marking user %s offline: %v", userID, err)
	}

	h.broadcast(userID, EventUserOffline, presencePayload{UserID: userID})
}

// SendMessage validates and persists a new message, then pushes it to the
// recipient's connection when one is registered. Persistence happens
// strictly before the push. The persisted message is returned so the
// caller can reconcile an optimistic local copy by id.
func (h *Hub) SendMessage(ctx context.Context, senderID, recipientID, content string) (storage.Message, error) {
	if strings.TrimSpace(content) == "" {
		return storage.Message{}, ErrEmptyContent
	}

	msg, err := h.store.CreateMessage(ctx, senderID, recipientID, content)
	if err != nil {
		return storage.Message{}, err
	}

	if conn := h.registry.Lookup(recipientID); conn != nil {
		conn.Push(EventMessageNew, msg)
	}

	return msg, nil
}

// MarkRead bulk-transitions every unread message from senderID to readerID
// to status read, then pushes a read receipt to the original sender when
// connected. The receipt is advisory; an offline sender discovers the
// status change on its next history fetch.
func (h *Hub) MarkRead(ctx context.Context, readerID, senderID string) error {
	if _, err := h.store.MarkRead(ctx, readerID, senderID); err != nil {
		return err
	}

	if conn := h.registry.Lookup(senderID); conn != nil {
		conn.Push(EventReadReceipt, readReceiptPayload{ReaderID: readerID})
	}

	return nil
}

// TypingStart forwards a typing-started notice to toID when connected.
// The relay holds no state and applies no expiry; it trusts the sender to
// eventually emit a stop.
func (h *Hub) TypingStart(fromID, toID string) {
	h.relayTyping(toID, EventTypingStarted)
}

// TypingStop forwards a typing-stopped notice to toID when connected
func (h *Hub) TypingStop(fromID, toID string) {
	h.relayTyping(toID, EventTypingStopped)
}

func (h *Hub) relayTyping(toID, event string) {
	if conn := h.registry.Lookup(toID); conn != nil {
		conn.Push(event, nil)
	}
}

// broadcast pushes an event to every connected user except exceptID
func (h *Hub) broadcast(exceptID, event string, data interface{}) {
	for id, conn := range h.registry.Snapshot() {
		if id == exceptID {
			continue
		}
		conn.Push(event, data)
	}
}
