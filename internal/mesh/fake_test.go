package mesh

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// fakeTransport connects as soon as a description exchange completes and
// advertises its video track id in the SDP so the far side sees track
// changes.
type fakeTransport struct {
	ev peer.Events

	mu          sync.Mutex
	video       string
	remoteVideo string
	offers      int
	connected   bool
	closed      bool
	failReplace bool
	candidates  int
}

func (f *fakeTransport) sdp(kind string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return kind + " video=" + f.video
}

func (f *fakeTransport) CreateOffer() (string, error) {
	f.mu.Lock()
	f.offers++
	f.mu.Unlock()
	return f.sdp("offer"), nil
}

func (f *fakeTransport) CreateAnswer() (string, error) {
	f.connect()
	return f.sdp("answer"), nil
}

func (f *fakeTransport) SetRemoteDescription(typ webrtc.SDPType, sdp string) error {
	_, video, ok := strings.Cut(sdp, "video=")
	if !ok {
		return fmt.Errorf("bad sdp %q", sdp)
	}

	f.mu.Lock()
	prev := f.remoteVideo
	f.remoteVideo = video
	f.mu.Unlock()

	if prev != video {
		if prev != "" {
			f.ev.OnTrackEnded(prev)
		}
		if video != "" {
			f.ev.OnTrack(peer.RemoteTrack{ID: video, StreamID: media.StreamID, Kind: media.KindVideo})
		}
	}
	if typ == webrtc.SDPTypeAnswer {
		f.connect()
	}
	return nil
}

func (f *fakeTransport) connect() {
	f.mu.Lock()
	first := !f.connected
	f.connected = true
	f.mu.Unlock()
	if first {
		f.report(peer.TransportConnected)
	}
}

// report delivers a transport state. The callbacks only post to the loop,
// so calling them inline keeps their order.
func (f *fakeTransport) report(s peer.TransportState) {
	f.ev.OnState(s)
}

func (f *fakeTransport) Rollback() error { return nil }

func (f *fakeTransport) AddICECandidate(webrtc.ICECandidateInit) error {
	f.mu.Lock()
	f.candidates++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ReplaceVideo(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReplace {
		return errInjected
	}
	f.video = ""
	if track != nil {
		f.video = track.ID()
	}
	return nil
}

func (f *fakeTransport) SendState(media.State) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) setFailReplace() {
	f.mu.Lock()
	f.failReplace = true
	f.mu.Unlock()
}

func (f *fakeTransport) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sendingVideo() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.video
}

// node is one participant of a test room.
type node struct {
	id  string
	mgr *Manager

	mu         sync.Mutex
	transports map[string]*fakeTransport
	video      string
}

func (n *node) factory(peerID string, ev peer.Events) (peer.Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tr := &fakeTransport{ev: ev, video: n.video}
	n.transports[peerID] = tr
	return tr, nil
}

func (n *node) transport(peerID string) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[peerID]
}

func (n *node) all() []*fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*fakeTransport, 0, len(n.transports))
	for _, tr := range n.transports {
		out = append(out, tr)
	}
	return out
}

// room stands in for the relay: it tracks membership and routes directed
// messages to their target's manager.
type room struct {
	t       *testing.T
	timeout time.Duration
	setup   time.Duration

	mu     sync.Mutex
	nodes  map[string]*node
	order  []string
	offers int
}

func newRoom(t *testing.T) *room {
	return &room{t: t, timeout: time.Second, nodes: make(map[string]*node)}
}

func (r *room) route(from string) func(signaling.Message) error {
	return func(msg signaling.Message) error {
		var to string
		switch m := msg.(type) {
		case signaling.Offer:
			to = m.To
			r.mu.Lock()
			r.offers++
			r.mu.Unlock()
		case signaling.Answer:
			to = m.To
		case signaling.IceCandidate:
			to = m.To
		default:
			return nil
		}
		r.mu.Lock()
		target := r.nodes[to]
		r.mu.Unlock()
		if target != nil {
			target.mgr.HandleMessage(msg)
		}
		return nil
	}
}

// join adds id and plays the relay's join handshake.
func (r *room) join(id string) *node {
	n := &node{id: id, video: "cam-" + id, transports: make(map[string]*fakeTransport)}
	n.mgr = New(Options{Send: r.route(id), NewTransport: n.factory, FailTimeout: r.timeout, NegotiationTimeout: r.setup})
	r.t.Cleanup(n.mgr.Close)

	r.mu.Lock()
	var existing []signaling.Participant
	var others []*node
	for _, other := range r.order {
		existing = append(existing, signaling.Participant{ID: other, Name: "name-" + other})
		others = append(others, r.nodes[other])
	}
	r.nodes[id] = n
	r.order = append(r.order, id)
	r.mu.Unlock()

	n.mgr.HandleMessage(signaling.Roster{RoomID: "room", You: id, Participants: existing})
	for _, o := range others {
		o.mgr.HandleMessage(signaling.NewPeer{RoomID: "room", PeerID: id, Name: "name-" + id})
	}
	return n
}

// leave removes id and tells the rest, like the relay's user-left.
func (r *room) leave(id string) {
	r.mu.Lock()
	n := r.nodes[id]
	delete(r.nodes, id)
	r.order = removeID(r.order, id)
	rest := make([]*node, 0, len(r.nodes))
	for _, other := range r.nodes {
		rest = append(rest, other)
	}
	r.mu.Unlock()

	n.mgr.Close()
	for _, o := range rest {
		o.mgr.HandleMessage(signaling.Leave{RoomID: "room", PeerID: id})
	}
}

func (r *room) offerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offers
}

func (r *room) list() []*node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

// settle waits until every node has a connected link to every other one.
func (r *room) settle() {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		nodes := r.list()
		for _, n := range nodes {
			peers := n.mgr.Peers()
			if len(peers) != len(nodes)-1 {
				return false
			}
			for _, p := range peers {
				if p.State != peer.Connected {
					return false
				}
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// collect drains events until pred holds or the wait runs out.
func collect(t *testing.T, m *Manager, pred func([]Event) bool) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(5 * time.Second)
	for !pred(got) {
		select {
		case e, ok := <-m.Events():
			if !ok {
				t.Fatalf("event channel closed, got %v", got)
			}
			got = append(got, e)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	return got
}

func hasEvent(typ EventType, peerID string) func([]Event) bool {
	return func(events []Event) bool {
		for _, e := range events {
			if e.Type == typ && e.PeerID == peerID {
				return true
			}
		}
		return false
	}
}

// drain returns the events already queued without waiting for more.
func drain(m *Manager) []Event {
	var got []Event
	for {
		select {
		case e := <-m.Events():
			got = append(got, e)
		default:
			return got
		}
	}
}
