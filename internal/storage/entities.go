package storage

import "time"

// Message status values as they appear on the wire.
// Delivered exists in the schema but no operation ever transitions a
// message into it; the reachable lifecycle is Sent -> Read.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	OnlineStatus bool      `json:"onlineStatus"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
