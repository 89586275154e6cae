package display

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// ClientMessage is an inbound message from a browser. Topics are event
// types.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher delivers display events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Client is one connected browser.
type Client struct {
	ID   string
	Send chan []byte
	// topics is nil for a client that receives every event type.
	topics map[string]struct{}
}

// NewClient creates a client subscribed to every event type.
func NewClient(id string, buffer int) *Client {
	return &Client{ID: id, Send: make(chan []byte, buffer)}
}

func (c *Client) wants(topic string) bool {
	if c.topics == nil {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}

// Hub tracks connected clients and the last event of each retained type.
// A newly registered client is first sent the retained events so a page
// opened mid-session renders the current state.
type Hub struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	all      map[*Client]struct{}
	retained map[string][]byte
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:   logger.With().Str("component", "display").Logger(),
		all:      make(map[*Client]struct{}),
		retained: make(map[string][]byte),
	}
}

// Register adds a client and replays the retained state to it.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range replayOrder {
		data, ok := h.retained[topic]
		if !ok || !client.wants(topic) {
			continue
		}
		select {
		case client.Send <- data:
		default:
		}
	}
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe narrows a client to the given event types, adding to any
// earlier subscription.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.topics == nil {
		client.topics = make(map[string]struct{}, len(topics))
	}
	for _, t := range topics {
		client.topics[t] = struct{}{}
	}
}

// Unsubscribe stops delivery of the given event types to a client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.topics == nil {
		client.topics = make(map[string]struct{}, len(allTypes))
		for _, t := range allTypes {
			client.topics[t] = struct{}{}
		}
	}
	for _, t := range topics {
		delete(client.topics, t)
	}
}

// ProcessMessage dispatches an inbound ClientMessage.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	default:
		h.logger.Debug().Str("client", client.ID).Str("action", msg.Action).Msg("ignoring client message")
	}
}

// Publish implements Publisher. Events of a retained type replace the
// stored state before being broadcast.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("failed to marshal display event")
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if isRetained(event.Type) {
		h.retained[event.Type] = data
	}
	for client := range h.all {
		if !client.wants(event.Type) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client", client.ID).Str("type", event.Type).Msg("client buffer full, dropping event")
		}
	}
	return nil
}

// retainedEvent returns the stored event of the given type.
func (h *Hub) retainedEvent(eventType string) (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, ok := h.retained[eventType]
	return data, ok
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}
