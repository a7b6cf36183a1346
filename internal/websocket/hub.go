package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/domain"
)

// Message types
const (
	MessageTypeScoreSubmitted = "score_submitted"
	MessageTypeSubscribe      = "subscribe"
	MessageTypeUnsubscribe    = "unsubscribe"
	MessageTypeSubscribed     = "subscribed"
	MessageTypeUnsubscribed   = "unsubscribed"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
	MessageTypeError          = "error"
)

// Message is the envelope of every frame sent to subscribers
type Message struct {
	Type          string     `json:"type"`
	LeaderboardID *uuid.UUID `json:"leaderboard_id,omitempty"`
	Data          any        `json:"data,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

type subscription struct {
	client        *Client
	leaderboardID uuid.UUID
}

// Hub tracks connected clients and fans accepted scores out to the
// subscribers of each leaderboard
type Hub struct {
	subscribers map[uuid.UUID]map[*Client]struct{}
	clients     map[*Client]struct{}

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	broadcast   chan *Message

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers: make(map[uuid.UUID]map[*Client]struct{}),
		clients:     make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription, 64),
		unsubscribe: make(chan subscription, 64),
		broadcast:   make(chan *Message, 256),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case sub := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[sub.client]; ok {
				set, ok := h.subscribers[sub.leaderboardID]
				if !ok {
					set = make(map[*Client]struct{})
					h.subscribers[sub.leaderboardID] = set
				}
				set[sub.client] = struct{}{}
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", sub.client.id, "leaderboard_id", sub.leaderboardID)

		case sub := <-h.unsubscribe:
			h.mu.Lock()
			h.dropSubscriptionLocked(sub.client, sub.leaderboardID)
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", sub.client.id, "leaderboard_id", sub.leaderboardID)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for id := range h.subscribers {
		h.dropSubscriptionLocked(client, id)
	}
	close(client.send)
}

func (h *Hub) dropSubscriptionLocked(client *Client, leaderboardID uuid.UUID) {
	set, ok := h.subscribers[leaderboardID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.subscribers, leaderboardID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.removeLocked(client)
	}
}

// deliver sends a message to the leaderboard's subscribers. Slow clients
// whose buffer is full miss the message.
func (h *Hub) deliver(message *Message) {
	if message.LeaderboardID == nil {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.subscribers[*message.LeaderboardID] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastScore queues an accepted score for the leaderboard's subscribers.
// It never blocks the submitting request.
func (h *Hub) BroadcastScore(event domain.ScoreEvent) {
	leaderboardID := event.LeaderboardID
	message := &Message{
		Type:          MessageTypeScoreSubmitted,
		LeaderboardID: &leaderboardID,
		Data:          event,
		Timestamp:     time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "leaderboard_id", leaderboardID)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a leaderboard's feed
func (h *Hub) Subscribe(client *Client, leaderboardID uuid.UUID) {
	select {
	case h.subscribe <- subscription{client: client, leaderboardID: leaderboardID}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a leaderboard's feed
func (h *Hub) Unsubscribe(client *Client, leaderboardID uuid.UUID) {
	select {
	case h.unsubscribe <- subscription{client: client, leaderboardID: leaderboardID}:
	case <-h.ctx.Done():
	}
}

// SubscriberCount returns the number of subscribers for a leaderboard
func (h *Hub) SubscriberCount(leaderboardID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[leaderboardID])
}

// ConnectionCount returns the total number of connected clients
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
