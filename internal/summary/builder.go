// Package summary builds per-counterpart conversation previews: every
// other known user paired with the most recent message exchanged with the
// requester. The one-query-per-counterpart shape lives entirely behind
// Builder so it can later be replaced by a single grouped query without
// touching the rest of the pipeline.
package summary

import (
	"context"
	"time"

	"dialogd/internal/storage"
)

// Reader is the subset of store reads the builder depends on
type Reader interface {
	Users(ctx context.Context, excludeID string) ([]storage.User, error)
	LastMessageBetween(ctx context.Context, userA, userB string) (*storage.Message, error)
}

// LastMessage is the preview of the most recent exchanged message
type LastMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry pairs a counterpart with the last message exchanged with the
// requester; LastMessage is null when they have never exchanged one
type Entry struct {
	storage.User
	LastMessage *LastMessage `json:"lastMessage"`
}

type Builder struct {
	store Reader
}

func NewBuilder(store Reader) *Builder {
	return &Builder{store: store}
}

// Build returns one entry per user other than requesterID
func (b *Builder) Build(ctx context.Context, requesterID string) ([]Entry, error) {
	users, err := b.store.Users(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(users))
	for _, u := range users {
		msg, err := b.store.LastMessageBetween(ctx, requesterID, u.ID)
		if err != nil {
			return nil, err
		}

		entry := Entry{User: u}
		if msg != nil {
			entry.LastMessage = &LastMessage{
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			}
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
