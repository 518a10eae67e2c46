package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pliu/banter/internal/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	lookupTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	username string

	// Buffered channel of outbound messages.
	send chan []byte

	// Chats this client receives, owned by the hub.
	subscribed map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn, username string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		username:   username,
		send:       make(chan []byte, 256),
		subscribed: make(map[string]bool),
	}
}

// clientFrame is what a client may send: {"action":"subscribe","chatId":"..."}.
type clientFrame struct {
	Action string `json:"action"`
	ChatID string `json:"chatId"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: %s: %v", c.username, err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.ChatID == "" {
			c.hub.request(subscription{client: c, chatID: frame.ChatID, reject: "malformed frame"})
			continue
		}

		switch frame.Action {
		case "subscribe":
			sub := subscription{client: c, chatID: frame.ChatID, subscribe: true}
			if err := c.authorize(frame.ChatID); err != nil {
				sub.reject = err.Error()
			}
			c.hub.request(sub)
		case "unsubscribe":
			c.hub.request(subscription{client: c, chatID: frame.ChatID})
		default:
			c.hub.request(subscription{client: c, chatID: frame.ChatID, reject: "unknown action"})
		}
	}
}

var errNotParticipant = errors.New("not a participant")

func (c *Client) authorize(chatID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	chat, err := c.hub.chats.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("chat not found")
	}
	if err != nil {
		log.Printf("ws: lookup of chat %s failed: %v", chatID, err)
		return errors.New("lookup failed")
	}
	if !chat.HasParticipant(c.username) {
		return errNotParticipant
	}
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles websocket requests from an authenticated user.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, username string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	client := newClient(hub, conn, username)
	if !hub.attach(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
