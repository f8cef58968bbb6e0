package ws

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// JoinFunc runs after a client joins a group.
type JoinFunc func(ctx context.Context, client *Client, group string)

// Hub manages WebSocket connections and group subscriptions. Groups are
// underlying symbols.
type Hub struct {
	name       string
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // group -> clients
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	codec      *Codec
	validGroup func(string) bool
	mu         sync.RWMutex
	logger     *zap.Logger

	ctx    context.Context
	onJoin JoinFunc
}

// NewHub creates a new Hub. validGroup rejects unknown group names.
func NewHub(name string, codec *Codec, validGroup func(string) bool, logger *zap.Logger) *Hub {
	return &Hub{
		name:       name,
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		codec:      codec,
		validGroup: validGroup,
		logger:     logger,
		ctx:        context.Background(),
	}
}

// OnJoin installs fn to run, in its own goroutine, on every join.
func (h *Hub) OnJoin(fn JoinFunc) {
	h.mu.Lock()
	h.onJoin = fn
	h.mu.Unlock()
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.String("hub", h.name))
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered",
				zap.String("hub", h.name),
				zap.String("connID", client.connID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				// Remove from all groups
				for group := range client.groups {
					if clients, ok := h.groups[group]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.groups, group)
						}
					}
				}
				client.close()
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered",
				zap.String("hub", h.name),
				zap.String("connID", client.connID),
			)
		}
	}
}

// shutdown gracefully closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.done)
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// drop schedules client for removal without blocking after shutdown.
func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// JoinGroup adds a client to a group.
func (h *Hub) JoinGroup(client *Client, group string) bool {
	if h.validGroup != nil && !h.validGroup(group) {
		return false
	}

	h.mu.Lock()
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true
	ctx, onJoin := h.ctx, h.onJoin
	h.mu.Unlock()

	h.logger.Debug("client joined group",
		zap.String("hub", h.name),
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
	if onJoin != nil {
		go onJoin(ctx, client, group)
	}
	return true
}

// LeaveGroup removes a client from a group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	delete(client.groups, group)

	h.logger.Debug("client left group",
		zap.String("hub", h.name),
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// GetActiveGroups returns all groups with at least one subscriber, sorted.
func (h *Hub) GetActiveGroups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var groups []string
	for group, clients := range h.groups {
		if len(clients) > 0 {
			groups = append(groups, group)
		}
	}
	sort.Strings(groups)
	return groups
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every client in group, encoding it once per
// protocol. Clients whose buffer is full are disconnected.
func (h *Hub) Broadcast(group string, msg map[string]any) {
	h.mu.RLock()
	clients, ok := h.groups[group]
	if !ok {
		h.mu.RUnlock()
		return
	}
	// Copy clients to avoid holding lock during send
	clientList := make([]*Client, 0, len(clients))
	for client := range clients {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	frames := make(map[string][]byte, 2)
	for _, client := range clientList {
		frame, ok := frames[client.protocol]
		if !ok {
			var err error
			frame, err = h.codec.Encode(client.protocol, msg)
			if err != nil {
				h.logger.Warn("failed to encode message",
					zap.String("group", group),
					zap.String("protocol", client.protocol),
					zap.Error(err),
				)
				return
			}
			frames[client.protocol] = frame
		}
		if !client.enqueue(frame) {
			go h.drop(client)
		}
	}
}
