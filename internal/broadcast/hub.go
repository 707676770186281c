package broadcast

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"turnero/dispatch-service/internal/models"
)

type Subscription struct {
	UnitID string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

// Hub holds display clients and fans ticket events out to the ones
// subscribed to the ticket's unit. A client with an empty subscription
// receives everything.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string `json:"action"`
	UnitID string `json:"unit_id"`
}

type eventEnvelope struct {
	Type      string        `json:"type"`
	Ticket    models.Ticket `json:"ticket"`
	CreatedAt time.Time     `json:"created_at"`
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Publish implements Broadcaster. Slow clients are skipped rather than
// blocking the caller.
func (h *Hub) Publish(eventType string, ticket models.Ticket) {
	payload, err := json.Marshal(eventEnvelope{
		Type:      eventType,
		Ticket:    ticket,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.UnitID != "" && client.Subscription.UnitID != ticket.UnitID {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
