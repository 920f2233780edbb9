package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is the server side of one persistent connection. It implements
// Conn; pushes go through a buffered channel drained by a single write
// pump so concurrent pushers never interleave frames.
type Client struct {
	logger *zap.SugaredLogger
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
}

// Push implements Conn. The frame is dropped when the connection's
// outbound buffer is full or the connection is shutting down; a push
// never blocks the calling event handler.
func (c *Client) Push(event string, data interface{}) {
	buf, err := marshalFrame(event, data)
	if err != nil {
		c.logger.Errorf("marshaling %s frame for user %s: %v", event, c.userID, err)
		return
	}

	select {
	case <-c.done:
	case c.send <- buf:
	default:
		c.logger.Warnf("Dropping %s frame for user %s: outbound buffer full", event, c.userID)
	}
}

// ServeWS returns the handler for the persistent connection endpoint.
// The client identifies itself with a userId query parameter; the handle
// is registered for that user and unregistered when the connection drops.
func ServeWS(logger *zap.SugaredLogger, hub *Hub) http.Handler {
	pool := &fastjson.ParserPool{}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, "Missing query parameter \"userId\"", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Errorf("upgrading connection for user %s: %v", userID, err)
			return
		}

		client := &Client{
			logger: logger,
			hub:    hub,
			userID: userID,
			conn:   conn,
			send:   make(chan []byte, sendBufferSize),
			done:   make(chan struct{}),
		}

		hub.Connect(r.Context(), userID, client)

		go client.writePump()
		go client.readPump(pool)
	})
}

// readPump reads client frames until the connection drops, dispatching
// each decoded event to the hub. A failing event aborts only itself.
func (c *Client) readPump(pool *fastjson.ParserPool) {
	defer func() {
		close(c.done)
		c.hub.Disconnect(context.Background(), c.userID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnf("Connection for user %s closed unexpectedly: %v", c.userID, err)
			}
			return
		}

		parser := pool.Get()
		ev, err := parseInbound(parser, data)
		pool.Put(parser)
		if err != nil {
			c.logger.Warnf("Ignoring frame from user %s: %v", c.userID, err)
			continue
		}

		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev inboundEvent) {
	ctx := context.Background()

	switch ev.Event {
	case EventMessageSend:
		if _, err := c.hub.SendMessage(ctx, c.userID, ev.RecipientID, ev.Message); err != nil {
			if errors.Is(err, ErrEmptyContent) {
				c.logger.Debugf("Rejected empty message from user %s", c.userID)
				return
			}
			c.logger.Errorf("sending message from user %s: %v", c.userID, err)
		}
	case EventMessagesRead:
		if err := c.hub.MarkRead(ctx, c.userID, ev.SenderID); err != nil {
			c.logger.Errorf("marking messages from user %s as read by user %s: %v", ev.SenderID, c.userID, err)
		}
	case EventTypingStart:
		c.hub.TypingStart(c.userID, ev.RecipientID)
	case EventTypingStop:
		c.hub.TypingStop(c.userID, ev.RecipientID)
	}
}

// writePump serializes all outbound writes for the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case buf := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
