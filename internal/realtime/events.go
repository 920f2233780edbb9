package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valyala/fastjson"
)

// Event names exchanged over the persistent connection. These are the wire
// contract and must stay bit-exact for client compatibility.
const (
	EventMessageSend   = "message:send"
	EventMessageNew    = "message:new"
	EventMessagesRead  = "messages:read"
	EventReadReceipt   = "messages:read:receipt"
	EventTypingStart   = "typing:start"
	EventTypingStop    = "typing:stop"
	EventTypingStarted = "typing:started"
	EventTypingStopped = "typing:stopped"
	EventUserOnline    = "user:online"
	EventUserOffline   = "user:offline"
)

var ErrUnknownEvent = errors.New("unknown event")

// frame is the JSON envelope for server->client pushes
type frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type readReceiptPayload struct {
	ReaderID string `json:"readerId"`
}

type presencePayload struct {
	UserID string `json:"userId"`
}

// inboundEvent is a decoded client->server frame. Only the fields relevant
// to the decoded event name are populated.
type inboundEvent struct {
	Event       string
	RecipientID string
	SenderID    string
	Message     string
}

// parseInbound decodes a client frame {"event": ..., "data": {...}} and
// checks the fields required by the named event
func parseInbound(parser *fastjson.Parser, data []byte) (inboundEvent, error) {
	v, err := parser.ParseBytes(data)
	if err != nil {
		return inboundEvent{}, fmt.Errorf("malformed frame: %w", err)
	}

	ev := inboundEvent{Event: string(v.GetStringBytes("event"))}
	if ev.Event == "" {
		return inboundEvent{}, errors.New(`missing field "event"`)
	}

	switch ev.Event {
	case EventMessageSend:
		ev.RecipientID = string(v.GetStringBytes("data", "recipientId"))
		ev.Message = string(v.GetStringBytes("data", "message"))
		if ev.RecipientID == "" {
			return inboundEvent{}, errors.New(`missing field "recipientId"`)
		}
	case EventMessagesRead:
		ev.SenderID = string(v.GetStringBytes("data", "senderId"))
		if ev.SenderID == "" {
			return inboundEvent{}, errors.New(`missing field "senderId"`)
		}
	case EventTypingStart, EventTypingStop:
		ev.RecipientID = string(v.GetStringBytes("data", "recipientId"))
		if ev.RecipientID == "" {
			return inboundEvent{}, errors.New(`missing field "recipientId"`)
		}
	default:
		return inboundEvent{}, ErrUnknownEvent
	}

	return ev, nil
}

// marshalFrame encodes a server->client push
func marshalFrame(event string, data interface{}) ([]byte, error) {
	return json.Marshal(frame{Event: event, Data: data})
}
