package mesh

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/pion/webrtc/v4"
)

const (
	defaultEventBuffer = 1024
	taskBuffer         = 1024
)

var ErrClosed = errors.New("mesh closed")

// Options configure a Manager.
type Options struct {
	// Send hands a message to the signaling channel.
	Send func(signaling.Message) error
	// NewTransport builds the transport of a new link.
	NewTransport peer.TransportFactory
	// FailTimeout is how long a degraded link may take to recover.
	FailTimeout time.Duration
	// NegotiationTimeout is how long a new link may take to connect.
	NegotiationTimeout time.Duration
	EventBuffer        int
}

// Manager owns every link of the room. All state lives on one goroutine;
// the public methods post work to it and must not be called from an event
// handler running on that goroutine.
type Manager struct {
	send         func(signaling.Message) error
	newTransport peer.TransportFactory

	tasks     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	events chan Event

	// owned by the loop
	room   string
	self   string
	links  map[string]*peer.Link
	names  map[string]string
	health *HealthMonitor
	local  media.State
}

// New starts a manager's loop.
func New(opts Options) *Manager {
	if opts.FailTimeout <= 0 {
		opts.FailTimeout = 12 * time.Second
	}
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = 30 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	m := &Manager{
		send:         opts.Send,
		newTransport: opts.NewTransport,
		tasks:        make(chan func(), taskBuffer),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		events:       make(chan Event, opts.EventBuffer),
		links:        make(map[string]*peer.Link),
		names:        make(map[string]string),
	}
	m.health = NewHealthMonitor(opts.FailTimeout, opts.NegotiationTimeout, func(id string, gen uint64) {
		m.post(func() { m.expire(id, gen) })
	})

	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.tasks:
			fn()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.tasks <- fn:
		return true
	case <-m.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (m *Manager) call(fn func()) error {
	ran := make(chan struct{})
	if !m.post(func() {
		fn()
		close(ran)
	}) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-m.stopped:
		return ErrClosed
	}
}

// Events delivers presentation-layer notifications. The channel is closed
// by Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) emit(e Event) {
	select {
	case m.events <- e:
	default:
		slog.Warn("mesh: event dropped, consumer too slow", "event", e.Type.String(), "peer", e.PeerID)
	}
}

// Report queues an event raised outside the mesh, such as a media or
// signaling failure, behind the mesh's own events.
func (m *Manager) Report(e Event) {
	m.post(func() { m.emit(e) })
}

// Self returns the local peer id assigned by the relay.
func (m *Manager) Self() string {
	var id string
	m.call(func() { id = m.self })
	return id
}

// Room returns the current room id.
func (m *Manager) Room() string {
	var room string
	m.call(func() { room = m.room })
	return room
}

// HandleMessage queues an inbound signaling message. It is meant to be
// passed to signaling.Channel.Subscribe.
func (m *Manager) HandleMessage(msg signaling.Message) {
	m.post(func() { m.handle(msg) })
}

func (m *Manager) handle(msg signaling.Message) {
	switch msg := msg.(type) {
	case signaling.Roster:
		m.reconcile(msg)
	case signaling.NewPeer:
		if msg.Name != "" {
			m.names[msg.PeerID] = msg.Name
		}
		// A known peer announced again came back as a fresh join; its old
		// link is dead even if we missed the user-left.
		if l, ok := m.links[msg.PeerID]; ok && l.State() != peer.Idle {
			m.remove(msg.PeerID, ReasonRejoined, nil)
		}
		m.connect(msg.PeerID)
	case signaling.Offer:
		if !m.addressed(msg.To) {
			return
		}
		if l := m.link(msg.From); l != nil {
			m.check(msg.From, l, l.HandleOffer(msg.SDP))
		}
	case signaling.Answer:
		if !m.addressed(msg.To) {
			return
		}
		if l := m.link(msg.From); l != nil {
			m.check(msg.From, l, l.HandleAnswer(msg.SDP))
		}
	case signaling.IceCandidate:
		if !m.addressed(msg.To) {
			return
		}
		if l := m.link(msg.From); l != nil {
			if err := l.HandleCandidate(msg.Candidate); err != nil {
				slog.Warn("mesh: candidate rejected", "peer", msg.From, "error", err)
			}
		}
	case signaling.Leave:
		m.remove(msg.PeerID, ReasonLeft, nil)
	case signaling.Rename:
		m.rename(msg.From, msg.Name)
	case signaling.Chat:
		m.emit(Event{Type: EventChatReceived, PeerID: msg.Sender, Name: msg.SenderName, Text: msg.Message})
	case signaling.Error:
		m.emit(Event{Type: EventSessionError, Text: msg.Reason, Err: fmt.Errorf("relay: %s", msg.Reason)})
	default:
		slog.Debug("mesh: ignoring message", "type", msg.Type())
	}
}

func (m *Manager) addressed(to string) bool {
	return to == "" || m.self == "" || to == m.self
}

// reconcile applies a roster. Links to peers missing from it are closed and
// new peers get one. Existing links survive only a resumed roster: after a
// fresh join the other side has dropped them, so they are rebuilt.
func (m *Manager) reconcile(r signaling.Roster) {
	if r.You != "" {
		m.self = r.You
	}
	if r.RoomID != "" {
		m.room = r.RoomID
	}

	present := make(map[string]bool, len(r.Participants))
	for _, p := range r.Participants {
		if p.ID == "" || p.ID == m.self {
			continue
		}
		present[p.ID] = true
		if p.Name != "" {
			m.names[p.ID] = p.Name
		}
	}

	for _, id := range m.ids() {
		switch {
		case !present[id]:
			m.remove(id, ReasonNotInRoom, nil)
		case !r.Resumed:
			m.remove(id, ReasonRejoined, nil)
		}
	}
	for _, p := range r.Participants {
		if present[p.ID] {
			m.connect(p.ID)
		}
	}
}

// connect makes sure a link to id exists and starts it.
func (m *Manager) connect(id string) {
	l := m.link(id)
	if l == nil {
		return
	}
	m.check(id, l, l.Start())
}

// link returns the link to id, creating it on first sight. The first caller
// wins; later announcements of the same peer reuse the link.
func (m *Manager) link(id string) *peer.Link {
	if id == "" || id == m.self {
		return nil
	}
	if l, ok := m.links[id]; ok {
		if name := m.names[id]; name != "" && name != l.Name() {
			l.SetName(name)
		}
		return l
	}

	var l *peer.Link
	tr, err := m.newTransport(id, m.transportEvents(id, &l))
	if err != nil {
		slog.Error("mesh: create transport", "peer", id, "error", err)
		m.emit(Event{Type: EventNegotiationFailed, PeerID: id, Err: &peer.NegotiationError{PeerID: id, Op: "create transport", Err: err}})
		return nil
	}

	l = peer.NewLink(peer.Config{
		RoomID:    m.room,
		LocalID:   m.self,
		RemoteID:  id,
		Name:      m.names[id],
		Transport: tr,
		Send:      m.send,
	})
	m.links[id] = l
	m.health.Negotiating(id)

	slog.Info("mesh: peer joined", "peer", id, "initiator", l.Initiator())
	m.emit(Event{Type: EventPeerJoined, PeerID: id, Name: l.Name()})

	if err := l.SendMediaState(m.local); err != nil {
		slog.Debug("mesh: initial media state", "peer", id, "error", err)
	}
	return l
}

// transportEvents binds a transport's callbacks to the loop. Reports that
// arrive after the link was replaced or removed are dropped.
func (m *Manager) transportEvents(id string, ref **peer.Link) peer.Events {
	live := func(fn func(l *peer.Link)) {
		m.post(func() {
			l := *ref
			if l == nil || m.links[id] != l {
				return
			}
			fn(l)
		})
	}

	return peer.Events{
		OnCandidate: func(c webrtc.ICECandidateInit) {
			live(func(l *peer.Link) {
				err := m.send(signaling.IceCandidate{RoomID: m.room, From: m.self, To: id, Candidate: c})
				if err != nil {
					slog.Warn("mesh: send candidate", "peer", id, "error", err)
				}
			})
		},
		OnState: func(ts peer.TransportState) {
			live(func(l *peer.Link) { m.transportState(id, l, ts) })
		},
		OnTrack: func(rt peer.RemoteTrack) {
			live(func(l *peer.Link) {
				l.AddRemoteTrack(rt)
				m.emit(Event{Type: EventRemoteStreamUpdated, PeerID: id, Name: l.Name(), Stream: l.RemoteStream()})
			})
		},
		OnTrackEnded: func(trackID string) {
			live(func(l *peer.Link) {
				if l.RemoveRemoteTrack(trackID) {
					m.emit(Event{Type: EventRemoteStreamUpdated, PeerID: id, Name: l.Name(), Stream: l.RemoteStream()})
				}
			})
		},
		OnRemoteState: func(st media.State) {
			live(func(l *peer.Link) {
				l.SetRemoteMedia(st)
				m.emit(Event{Type: EventRemoteMediaState, PeerID: id, Name: l.Name(), Media: st})
			})
		},
	}
}

func (m *Manager) transportState(id string, l *peer.Link, ts peer.TransportState) {
	prev := l.State()
	if !l.SetTransportState(ts) {
		return
	}
	next := l.State()
	slog.Debug("mesh: link state", "peer", id, "from", prev.String(), "to", next.String())

	switch m.health.Observe(id, prev, next) {
	case VerdictDegraded:
		m.emit(Event{Type: EventConnectionDegraded, PeerID: id, Name: l.Name()})
	case VerdictRecovered:
		m.emit(Event{Type: EventConnectionRestored, PeerID: id, Name: l.Name()})
	case VerdictEvict:
		m.evict(id, ReasonFailed)
	}
	if next == peer.Closed {
		m.remove(id, ReasonRemoteDrop, nil)
	}
}

// expire runs when a degraded window or a negotiation deadline ran out.
func (m *Manager) expire(id string, gen uint64) {
	if !m.health.Expired(id, gen) {
		return
	}
	l, ok := m.links[id]
	if !ok {
		return
	}
	switch l.State() {
	case peer.Degraded:
		l.Fail()
		m.evict(id, ReasonTimeout)
	case peer.Idle, peer.Negotiating:
		slog.Warn("mesh: link never connected", "peer", id, "state", l.State().String())
		l.Fail()
		m.evict(id, ReasonNoConnect)
	}
}

func (m *Manager) evict(id, reason string) {
	m.remove(id, reason, &peer.TransportFailure{PeerID: id, Err: errors.New(reason)})
}

// check contains a link error: the link is closed and removed, the failure
// reported and every other link left alone.
func (m *Manager) check(id string, l *peer.Link, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, peer.ErrClosed) {
		return
	}
	slog.Warn("mesh: link failed", "peer", id, "error", err)
	m.emit(Event{Type: EventNegotiationFailed, PeerID: id, Name: l.Name(), Err: err})
	m.remove(id, ReasonNegotiate, err)
}

func (m *Manager) remove(id, reason string, cause error) {
	l, ok := m.links[id]
	if !ok {
		return
	}
	name := l.Name()
	l.Close()
	delete(m.links, id)
	m.health.Forget(id)

	slog.Info("mesh: peer left", "peer", id, "reason", reason)
	e := Event{Type: EventPeerLeft, PeerID: id, Name: name, Reason: reason, Err: cause}
	if reason != ReasonLeft && reason != ReasonShutdown && reason != ReasonRejoined {
		e.Text = displayName(name, id) + " disconnected"
	}
	m.emit(e)
}

func (m *Manager) rename(id, name string) {
	if id == "" || id == m.self {
		return
	}
	m.names[id] = name
	if l, ok := m.links[id]; ok {
		l.SetName(name)
	}
	m.emit(Event{Type: EventPeerRenamed, PeerID: id, Name: name})
}

// Broadcast runs fn against every live link on the loop. A failing link is
// reported, closed and removed; the others are unaffected. The returned
// errors are the failures, in peer id order.
func (m *Manager) Broadcast(fn func(*peer.Link) error) []error {
	var errs []error
	if err := m.call(func() { errs = m.broadcast(fn) }); err != nil {
		return []error{err}
	}
	return errs
}

func (m *Manager) broadcast(fn func(*peer.Link) error) []error {
	var errs []error
	for _, id := range m.ids() {
		l := m.links[id]
		if err := fn(l); err != nil {
			errs = append(errs, err)
			m.check(id, l, err)
		}
	}
	return errs
}

// ReplaceVideoTrack swaps the outbound video on every link and renegotiates
// each one independently. nil detaches video.
func (m *Manager) ReplaceVideoTrack(track webrtc.TrackLocal) []error {
	var errs []error
	err := m.call(func() {
		errs = m.broadcast(func(l *peer.Link) error { return l.ReplaceVideo(track) })
		id := ""
		if track != nil {
			id = track.ID()
		}
		m.emit(Event{Type: EventLocalTrackChanged, TrackID: id})
	})
	if err != nil {
		return []error{err}
	}
	return errs
}

// BroadcastMediaState pushes the local mute and share flags to every peer.
// Delivery failures are logged only.
func (m *Manager) BroadcastMediaState(st media.State) {
	m.call(func() {
		m.local = st
		for _, id := range m.ids() {
			if err := m.links[id].SendMediaState(st); err != nil {
				slog.Debug("mesh: send media state", "peer", id, "error", err)
			}
		}
	})
}

// Peers returns a snapshot of every link, ordered by peer id.
func (m *Manager) Peers() []PeerInfo {
	var out []PeerInfo
	m.call(func() {
		out = make([]PeerInfo, 0, len(m.links))
		for _, id := range m.ids() {
			l := m.links[id]
			s := l.RemoteStream()
			out = append(out, PeerInfo{
				ID:        id,
				Name:      l.Name(),
				State:     l.State(),
				Initiator: l.Initiator(),
				Media:     l.RemoteMedia(),
				HasAudio:  s.HasKind(media.KindAudio),
				HasVideo:  s.HasKind(media.KindVideo),
			})
		}
	})
	return out
}

// Streams maps every peer with inbound media to its current stream.
func (m *Manager) Streams() map[string]*peer.RemoteStream {
	out := make(map[string]*peer.RemoteStream)
	m.call(func() {
		for id, l := range m.links {
			if s := l.RemoteStream(); s != nil {
				out[id] = s
			}
		}
	})
	return out
}

// Len returns the number of links.
func (m *Manager) Len() int {
	n := 0
	m.call(func() { n = len(m.links) })
	return n
}

// Link runs fn with the link to id, if any, on the loop.
func (m *Manager) Link(id string, fn func(*peer.Link)) bool {
	found := false
	m.call(func() {
		if l, ok := m.links[id]; ok {
			found = true
			fn(l)
		}
	})
	return found
}

// Close closes every link, stops the loop and closes the event channel.
// It is idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.call(func() {
			for _, id := range m.ids() {
				m.remove(id, ReasonShutdown, nil)
			}
			m.health.Stop()
		})
		close(m.done)
		<-m.stopped
		close(m.events)
	})
}

func (m *Manager) ids() []string {
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
