package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/pliu/banter/internal/broadcast"
	"github.com/pliu/banter/internal/store"
)

const (
	// EventSubscribed acknowledges a subscribe frame.
	EventSubscribed = "subscribed"
	// EventError reports a rejected client frame.
	EventError = "error"
)

type subscription struct {
	client    *Client
	chatID    string
	subscribe bool
	// reject, when set, is reported to the client instead of subscribing.
	reject string
}

// Hub fans chat envelopes out to the websocket clients subscribed to them.
// All maps are owned by the Run goroutine.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Subscribed clients per chat id.
	rooms map[string]map[*Client]bool

	// Envelopes to deliver.
	broadcast chan broadcast.Envelope

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Subscribe and unsubscribe requests from clients.
	subscriptions chan subscription

	done chan struct{}

	chats store.ChatStore
}

func NewHub(chats store.ChatStore) *Hub {
	return &Hub{
		broadcast:     make(chan broadcast.Envelope, 256),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(chan subscription),
		done:          make(chan struct{}),
		clients:       make(map[*Client]bool),
		rooms:         make(map[string]map[*Client]bool),
		chats:         chats,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case sub := <-h.subscriptions:
			if !h.clients[sub.client] {
				continue
			}
			if sub.reject != "" {
				h.sendTo(sub.client, errorFrame(sub.chatID, sub.reject))
			} else if sub.subscribe {
				room := h.rooms[sub.chatID]
				if room == nil {
					room = make(map[*Client]bool)
					h.rooms[sub.chatID] = room
				}
				room[sub.client] = true
				sub.client.subscribed[sub.chatID] = true
				h.sendTo(sub.client, ackFrame(sub.chatID))
			} else {
				h.leave(sub.client, sub.chatID)
			}
		case env := <-h.broadcast:
			chatID, ok := broadcast.ChatID(env.Channel)
			if !ok {
				log.Printf("ws: ignoring envelope for channel %q", env.Channel)
				continue
			}
			room := h.rooms[chatID]
			if len(room) == 0 {
				continue
			}
			msgBytes, err := json.Marshal(env)
			if err != nil {
				log.Printf("ws: failed to encode %s envelope: %v", env.Event, err)
				continue
			}
			for client := range room {
				h.sendTo(client, msgBytes)
			}
		}
	}
}

// sendTo never blocks the hub: a client whose buffer is full is dropped.
func (h *Hub) sendTo(client *Client, msg []byte) {
	select {
	case client.send <- msg:
	default:
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	for chatID := range client.subscribed {
		h.leave(client, chatID)
	}
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) leave(client *Client, chatID string) {
	delete(client.subscribed, chatID)
	if room := h.rooms[chatID]; room != nil {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

func (h *Hub) attach(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) request(sub subscription) {
	select {
	case h.subscriptions <- sub:
	case <-h.done:
	}
}

// Publish makes the hub a Publisher for single-node deployments.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	env, err := broadcast.NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- env:
		return nil
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver is a broadcast.Handler for envelopes arriving from the Redis bus.
func (h *Hub) Deliver(env broadcast.Envelope) {
	select {
	case h.broadcast <- env:
	case <-h.done:
	}
}

func ackFrame(chatID string) []byte {
	b, _ := json.Marshal(broadcast.Envelope{Channel: broadcast.Channel(chatID), Event: EventSubscribed})
	return b
}

func errorFrame(chatID, reason string) []byte {
	env, _ := broadcast.NewEnvelope(broadcast.Channel(chatID), EventError, map[string]string{"error": reason})
	b, _ := json.Marshal(env)
	return b
}
