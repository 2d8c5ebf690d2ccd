package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/google/uuid"
)

type inbound struct {
	client *Client
	msg    signaling.Message
}

type expiry struct {
	roomID string
	peerID string
	gen    int
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Rooms   int `json:"rooms"`
	Peers   int `json:"peers"`
	Clients int `json:"clients"`
}

// Hub owns all rooms and clients. Every mutation happens on the Run
// goroutine.
type Hub struct {
	resumeWindow time.Duration

	rooms   map[string]*Room
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	expired    chan expiry
	stats      chan chan Stats
	done       chan struct{}
}

// NewHub creates a hub. A dropped peer keeps its id and seat for
// resumeWindow before the room is told it left.
func NewHub(resumeWindow time.Duration) *Hub {
	return &Hub{
		resumeWindow: resumeWindow,
		rooms:        make(map[string]*Room),
		clients:      make(map[*Client]struct{}),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan inbound, 256),
		expired:      make(chan expiry),
		stats:        make(chan chan Stats),
		done:         make(chan struct{}),
	}
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.send)
		}
		for _, room := range h.rooms {
			for _, m := range room.members {
				if m.away != nil {
					m.away.Stop()
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			slog.Debug("relay: client registered", "peer", c.id, "addr", c.conn.RemoteAddr())

		case c := <-h.unregister:
			h.dropped(c)

		case in := <-h.inbound:
			h.handle(in.client, in.msg)

		case e := <-h.expired:
			h.expire(e)

		case reply := <-h.stats:
			s := Stats{Rooms: len(h.rooms), Clients: len(h.clients)}
			for _, room := range h.rooms {
				s.Peers += len(room.members)
			}
			reply <- s
		}
	}
}

// Stats queries the hub loop.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, context.Canceled
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) post(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handle(c *Client, msg signaling.Message) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	if j, ok := msg.(signaling.Join); ok {
		h.handleJoin(c, j)
		return
	}

	room, ok := h.rooms[c.roomID]
	if c.roomID == "" || !ok {
		h.deliver(c, signaling.Error{Reason: "join a room first"})
		return
	}

	switch m := msg.(type) {
	case signaling.Offer:
		m.RoomID, m.From = room.ID, c.id
		h.forward(room, m.To, m)
	case signaling.Answer:
		m.RoomID, m.From = room.ID, c.id
		h.forward(room, m.To, m)
	case signaling.IceCandidate:
		m.RoomID, m.From = room.ID, c.id
		h.forward(room, m.To, m)
	case signaling.Rename:
		m.RoomID, m.From = room.ID, c.id
		room.members[c.id].name = m.Name
		h.broadcast(room, c.id, m)
	case signaling.Chat:
		m.RoomID, m.From = room.ID, c.id
		h.broadcast(room, c.id, m)
	case signaling.Leave:
		h.remove(room, c.id)
		c.roomID = ""
	default:
		slog.Debug("relay: ignoring message", "type", msg.Type(), "peer", c.id)
	}
}

func (h *Hub) handleJoin(c *Client, j signaling.Join) {
	if j.RoomID == "" {
		h.deliver(c, signaling.Error{Reason: "roomId is required"})
		return
	}
	if c.roomID != "" {
		if old, ok := h.rooms[c.roomID]; ok {
			h.remove(old, c.id)
		}
		c.roomID = ""
	}

	room, ok := h.rooms[j.RoomID]
	if !ok {
		room = newRoom(j.RoomID)
		h.rooms[j.RoomID] = room
		slog.Info("relay: room created", "room", room.ID)
	}

	if j.PeerID != "" {
		if m, ok := room.members[j.PeerID]; ok {
			h.resume(c, room, m, j.Name)
			return
		}
		c.id = j.PeerID
	}
	if _, taken := room.members[c.id]; taken {
		c.id = uuid.NewString()
	}

	room.members[c.id] = &member{id: c.id, name: j.Name, client: c}
	c.roomID = room.ID
	slog.Info("relay: peer joined", "room", room.ID, "peer", c.id, "members", len(room.members))

	h.deliver(c, signaling.Roster{RoomID: room.ID, You: c.id, Participants: room.participants(c.id)})
	h.broadcast(room, c.id, signaling.NewPeer{RoomID: room.ID, PeerID: c.id, Name: j.Name})
}

// resume reattaches a returning peer to its seat without telling the room.
// A stale socket still holding the seat is detached and closed.
func (h *Hub) resume(c *Client, room *Room, m *member, name string) {
	if old := m.client; old != nil && old != c {
		old.roomID = ""
		old.conn.Close()
	}
	if m.away != nil {
		m.away.Stop()
		m.away = nil
	}
	m.gen++
	m.client = c
	c.id = m.id
	c.roomID = room.ID
	slog.Info("relay: peer resumed", "room", room.ID, "peer", c.id)

	h.deliver(c, signaling.Roster{RoomID: room.ID, You: c.id, Participants: room.participants(c.id), Resumed: true})
	if name != "" && name != m.name {
		m.name = name
		h.broadcast(room, c.id, signaling.Rename{RoomID: room.ID, From: c.id, Name: name})
	}
}

// dropped handles a closed socket. The seat is held for the resume window.
func (h *Hub) dropped(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	room, ok := h.rooms[c.roomID]
	if c.roomID == "" || !ok {
		return
	}
	m, ok := room.members[c.id]
	if !ok || m.client != c {
		return
	}

	if h.resumeWindow <= 0 {
		h.remove(room, c.id)
		return
	}

	m.client = nil
	m.gen++
	e := expiry{roomID: room.ID, peerID: m.id, gen: m.gen}
	m.away = time.AfterFunc(h.resumeWindow, func() {
		select {
		case h.expired <- e:
		case <-h.done:
		}
	})
	slog.Info("relay: peer away", "room", room.ID, "peer", m.id, "window", h.resumeWindow)
}

func (h *Hub) expire(e expiry) {
	room, ok := h.rooms[e.roomID]
	if !ok {
		return
	}
	m, ok := room.members[e.peerID]
	if !ok || m.client != nil || m.gen != e.gen {
		return
	}
	h.remove(room, e.peerID)
}

func (h *Hub) remove(room *Room, peerID string) {
	m, ok := room.members[peerID]
	if !ok {
		return
	}
	if m.away != nil {
		m.away.Stop()
	}
	delete(room.members, peerID)
	slog.Info("relay: peer left", "room", room.ID, "peer", peerID)

	if len(room.members) == 0 {
		delete(h.rooms, room.ID)
		slog.Info("relay: room deleted", "room", room.ID)
		return
	}
	h.broadcast(room, peerID, signaling.Leave{RoomID: room.ID, PeerID: peerID})
}

func (h *Hub) forward(room *Room, to string, msg signaling.Message) {
	m, ok := room.members[to]
	if !ok || m.client == nil {
		slog.Debug("relay: target not present", "room", room.ID, "to", to, "type", msg.Type())
		return
	}
	h.deliver(m.client, msg)
}

func (h *Hub) broadcast(room *Room, exclude string, msg signaling.Message) {
	for _, c := range room.present(exclude) {
		h.deliver(c, msg)
	}
}

// deliver never blocks the hub. A client that cannot keep up is disconnected.
func (h *Hub) deliver(c *Client, msg signaling.Message) {
	data, err := signaling.Marshal(msg)
	if err != nil {
		slog.Error("relay: encode failed", "type", msg.Type(), "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("relay: send buffer full, dropping client", "peer", c.id)
		c.conn.Close()
	}
}
