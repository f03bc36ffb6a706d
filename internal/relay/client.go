package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/botforge/botforge/internal/stats"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client wraps one websocket connection. Delivery to the peer goes through
// a buffered send channel drained by the Write pump; a send to a dead or
// backed-up connection is dropped and logged, never surfaced to the relay.
type Client struct {
	id       string
	conn     *websocket.Conn
	registry *Registry
	relay    *Relay
	stats    stats.StatsProvider
	log      *log.Logger
	send     chan *ServerEvent
	stop     chan struct{}
	once     sync.Once
}

func NewClient(conn *websocket.Conn, registry *Registry, relay *Relay, statsProvider stats.StatsProvider, l *log.Logger) *Client {
	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		registry: registry,
		relay:    relay,
		stats:    statsProvider,
		log:      l,
		send:     make(chan *ServerEvent, 256),
		stop:     make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write pump for %s exiting", c.id)
	}()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(event)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read pump for %s exiting", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var event ClientEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(ErrorEvent("invalid event format"))
			continue
		}

		switch event.Event {
		case EventConversationJoin:
			c.Subscribe(event.ConversationId)
		case EventConversationLeave:
			c.Unsubscribe(event.ConversationId)
		case EventMessageSend:
			// The relay request outlives the connection: other room
			// members may still be waiting for the reply.
			go c.handleSend(event)
		default:
			c.queueEvent(ErrorEvent("unknown event"))
		}
	}
}

func (c *Client) Subscribe(conversationId string) {
	c.registry.Join(c, conversationId)
}

func (c *Client) Unsubscribe(conversationId string) {
	c.registry.Leave(c, conversationId)
}

func (c *Client) handleSend(event ClientEvent) {
	_, _, err := c.relay.Send(context.Background(), SendRequest{
		ChatbotId:      event.ChatbotId,
		ConversationId: event.ConversationId,
		Content:        event.Content,
	})
	if err != nil {
		c.queueEvent(ErrorEvent(sendErrorText(err)))
	}
}

// queueEvent enqueues an event for the write pump. It reports false when
// the connection's queue is full; the event is dropped.
func (c *Client) queueEvent(event *ServerEvent) bool {
	select {
	case c.send <- event:
	default:
		c.log.Printf("send queue full for connection %s, dropping event", c.id)
		return false
	}

	return true
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// cleanup runs exactly once per connection, when the read pump exits.
func (c *Client) cleanup() {
	c.once.Do(func() {
		c.registry.OnDisconnect(c)
		c.stats.Decr(stats.ActiveConnections)
		close(c.stop)
	})
}
