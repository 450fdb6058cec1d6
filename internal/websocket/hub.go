// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

const broadcastBuffer = 1024

// room is the member set of one project. A room exists only while it has
// at least one member.
type room struct {
	members map[*Client]struct{}
}

type roomMessage struct {
	projectID string
	frame     []byte
}

// Hub tracks connected clients and their project rooms.
//
// Room membership is changed directly under mu by the client's read
// goroutine. Registration, unregistration and delivery are serialized by
// RunWithContext. Use RegisterClient and UnregisterClient rather than the
// channels when the hub may already have stopped.
type Hub struct {
	clients    map[*Client]struct{}
	rooms      map[string]*room
	broadcast  chan roomMessage
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*room),
		broadcast:  make(chan roomMessage, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// RegisterClient hands c to the hub loop. It reports false once the hub
// has stopped.
func (h *Hub) RegisterClient(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient hands c to the hub loop for removal. It returns at once
// when the hub has stopped; shutdown already removed every client.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// RunWithContext runs the hub until ctx is done, then closes every client
// and returns ctx.Err().
//
// Lifecycle events are drained before broadcasts so a client that just
// registered or left is accounted for before the next delivery.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Debug().Uint64("client_id", c.id).Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	total := len(h.clients)
	h.mu.Unlock()

	if removed {
		metrics.WSConnections.Set(float64(total))
		logging.Debug().Uint64("client_id", c.id).Int("total_clients", total).Msg("websocket client disconnected")
	}
}

// removeLocked drops c from the hub and its room and closes its send
// channel. It reports false when c was already removed.
func (h *Hub) removeLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	h.leaveLocked(c)
	close(c.send)
	return true
}

// Join moves c into the room of projectID, leaving its previous room.
func (h *Hub) Join(c *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	if c.room == projectID {
		return
	}
	h.leaveLocked(c)

	r, ok := h.rooms[projectID]
	if !ok {
		r = &room{members: make(map[*Client]struct{})}
		h.rooms[projectID] = r
		metrics.WSRooms.Set(float64(len(h.rooms)))
	}
	r.members[c] = struct{}{}
	c.room = projectID
}

// Leave removes c from the room of projectID. It reports false when c was
// not in that room.
func (h *Hub) Leave(c *Client, projectID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.room != projectID || projectID == "" {
		return false
	}
	h.leaveLocked(c)
	return true
}

func (h *Hub) leaveLocked(c *Client) {
	if c.room == "" {
		return
	}
	if r, ok := h.rooms[c.room]; ok {
		delete(r.members, c)
		if len(r.members) == 0 {
			delete(h.rooms, c.room)
			metrics.WSRooms.Set(float64(len(h.rooms)))
		}
	}
	c.room = ""
}

// BroadcastEvent relays a broker event to the room of ev.ProjectID. When
// the room is empty the event is dropped before it is encoded.
func (h *Hub) BroadcastEvent(ev models.BrokerEvent) {
	if h.RoomSize(ev.ProjectID) == 0 {
		metrics.WSBroadcastsSkipped.Inc()
		return
	}
	frame, err := liveFrame(ev)
	if err != nil {
		logging.Warn().Err(err).Str("type", ev.Type).Msg("failed to encode live event")
		return
	}
	select {
	case h.broadcast <- roomMessage{projectID: ev.ProjectID, frame: frame}:
	default:
		logging.Warn().Str("project_id", ev.ProjectID).Msg("broadcast channel full, dropping live event")
	}
}

// deliver never blocks: a member whose send buffer is full is disconnected.
func (h *Hub) deliver(msg roomMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[msg.projectID]
	if !ok {
		metrics.WSBroadcastsSkipped.Inc()
		return
	}

	var slow []*Client
	for _, c := range sortedClients(r.members) {
		select {
		case c.send <- msg.frame:
			metrics.WSMessagesSent.Inc()
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		metrics.WSSlowClientDrops.Inc()
		logging.Warn().Uint64("client_id", c.id).Str("project_id", msg.projectID).Msg("dropping slow websocket client")
		h.removeLocked(c)
	}
	if len(slow) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

// RoomSize returns the member count of a project's room.
func (h *Hub) RoomSize(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[projectID]; ok {
		return len(r.members)
	}
	return 0
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Rooms returns member counts keyed by project.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for id, r := range h.rooms {
		out[id] = len(r.members)
	}
	return out
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.done) })
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// closeAllClients closes clients in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range sortedClients(h.clients) {
		h.removeLocked(c)
	}
	metrics.WSConnections.Set(0)
	metrics.WSRooms.Set(0)
}

// sortedClients orders by client ID so delivery order is deterministic.
func sortedClients(set map[*Client]struct{}) []*Client {
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// sendTo queues a frame for one client. It reports false when the client
// is gone or its buffer is full.
func (h *Hub) sendTo(c *Client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- frame:
		metrics.WSMessagesSent.Inc()
		return true
	default:
		return false
	}
}
