package peer

import (
	"fmt"
	"log/slog"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// State is a link's negotiation state.
type State int

const (
	Idle State = iota
	Negotiating
	Connected
	Degraded
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IsInitiator reports whether local sends the first offer to remote. Both
// ends compute the same answer from the two ids.
func IsInitiator(local, remote string) bool {
	return local < remote
}

// RemoteStream is the inbound media of one peer.
type RemoteStream struct {
	PeerID string
	Tracks []RemoteTrack
}

// HasKind reports whether the stream carries a track of kind k.
func (s *RemoteStream) HasKind(k media.Kind) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks {
		if t.Kind == k {
			return true
		}
	}
	return false
}

// Config describes a new link.
type Config struct {
	RoomID    string
	LocalID   string
	RemoteID  string
	Name      string
	Transport Transport
	Send      func(signaling.Message) error
}

// Link is the negotiation state machine for one remote peer. It is not safe
// for concurrent use; the mesh drives every link from a single goroutine.
type Link struct {
	room      string
	local     string
	remote    string
	name      string
	initiator bool

	state     State
	transport Transport
	send      func(signaling.Message) error

	remoteSet      bool
	pending        []webrtc.ICECandidateInit
	awaitingAnswer bool
	renegotiate    bool
	offers         int

	stream      *RemoteStream
	remoteMedia media.State
}

// NewLink creates an idle link.
func NewLink(cfg Config) *Link {
	return &Link{
		room:      cfg.RoomID,
		local:     cfg.LocalID,
		remote:    cfg.RemoteID,
		name:      cfg.Name,
		initiator: IsInitiator(cfg.LocalID, cfg.RemoteID),
		transport: cfg.Transport,
		send:      cfg.Send,
	}
}

func (l *Link) PeerID() string                { return l.remote }
func (l *Link) Initiator() bool               { return l.initiator }
func (l *Link) State() State                  { return l.state }
func (l *Link) Name() string                  { return l.name }
func (l *Link) SetName(n string)              { l.name = n }
func (l *Link) Offers() int                   { return l.offers }
func (l *Link) PendingCandidates() int        { return len(l.pending) }
func (l *Link) RemoteMedia() media.State      { return l.remoteMedia }
func (l *Link) SetRemoteMedia(st media.State) { l.remoteMedia = st }

// RemoteStream returns a copy of the inbound stream, or nil before any track
// arrived.
func (l *Link) RemoteStream() *RemoteStream {
	if l.stream == nil {
		return nil
	}
	return &RemoteStream{PeerID: l.stream.PeerID, Tracks: append([]RemoteTrack(nil), l.stream.Tracks...)}
}

// Start sends the initial offer when this side is the initiator.
func (l *Link) Start() error {
	if l.state == Closed {
		return ErrClosed
	}
	if !l.initiator || l.state != Idle {
		return nil
	}
	return l.offer()
}

func (l *Link) offer() error {
	sdp, err := l.transport.CreateOffer()
	if err != nil {
		return &NegotiationError{PeerID: l.remote, Op: "create offer", Err: err}
	}
	l.offers++
	l.awaitingAnswer = true
	if l.state == Idle {
		l.state = Negotiating
	}
	slog.Debug("peer: sending offer", "peer", l.remote, "n", l.offers)
	return l.emit(signaling.Offer{RoomID: l.room, From: l.local, To: l.remote, SDP: sdp})
}

// HandleOffer applies a remote offer and answers it. A colliding offer is
// ignored by the initiator and wins on the other side, which rolls back its
// own offer and re-offers after answering.
func (l *Link) HandleOffer(sdp string) error {
	if l.state == Closed {
		return ErrClosed
	}

	if l.awaitingAnswer {
		if l.initiator {
			slog.Debug("peer: ignoring colliding offer", "peer", l.remote)
			return nil
		}
		if err := l.transport.Rollback(); err != nil {
			return &NegotiationError{PeerID: l.remote, Op: "rollback", Err: err}
		}
		l.awaitingAnswer = false
		l.renegotiate = true
	}

	if err := l.transport.SetRemoteDescription(webrtc.SDPTypeOffer, sdp); err != nil {
		return &NegotiationError{PeerID: l.remote, Op: "apply offer", Err: err}
	}
	l.remoteSet = true
	l.flushCandidates()

	answer, err := l.transport.CreateAnswer()
	if err != nil {
		return &NegotiationError{PeerID: l.remote, Op: "create answer", Err: err}
	}
	if l.state == Idle {
		l.state = Negotiating
	}
	if err := l.emit(signaling.Answer{RoomID: l.room, From: l.local, To: l.remote, SDP: answer}); err != nil {
		return err
	}

	if l.renegotiate {
		l.renegotiate = false
		return l.offer()
	}
	return nil
}

// HandleAnswer applies the answer to the outstanding offer. A renegotiation
// requested meanwhile runs now.
func (l *Link) HandleAnswer(sdp string) error {
	if l.state == Closed {
		return ErrClosed
	}
	if !l.awaitingAnswer {
		return &NegotiationError{PeerID: l.remote, Op: "apply answer", Err: ErrUnexpectedAnswer}
	}
	if err := l.transport.SetRemoteDescription(webrtc.SDPTypeAnswer, sdp); err != nil {
		return &NegotiationError{PeerID: l.remote, Op: "apply answer", Err: err}
	}
	l.awaitingAnswer = false
	l.remoteSet = true
	l.flushCandidates()

	if l.renegotiate {
		l.renegotiate = false
		return l.offer()
	}
	return nil
}

// HandleCandidate applies c, or queues it until a remote description is set.
func (l *Link) HandleCandidate(c webrtc.ICECandidateInit) error {
	if l.state == Closed {
		return ErrClosed
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	if err := l.transport.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate from %s: %w", l.remote, err)
	}
	return nil
}

func (l *Link) flushCandidates() {
	queued := l.pending
	l.pending = nil
	for _, c := range queued {
		if err := l.transport.AddICECandidate(c); err != nil {
			slog.Warn("peer: buffered candidate rejected", "peer", l.remote, "error", err)
		}
	}
}

// Renegotiate sends a fresh offer on the existing transport. While an offer
// is outstanding the request is coalesced. Links that never negotiated pick
// the change up in their first exchange.
func (l *Link) Renegotiate() error {
	switch {
	case l.state == Closed:
		return ErrClosed
	case l.state == Idle:
		return nil
	case l.awaitingAnswer:
		l.renegotiate = true
		return nil
	}
	return l.offer()
}

// ReplaceVideo swaps the outbound video and renegotiates.
func (l *Link) ReplaceVideo(track webrtc.TrackLocal) error {
	if l.state == Closed {
		return ErrClosed
	}
	if err := l.transport.ReplaceVideo(track); err != nil {
		return &NegotiationError{PeerID: l.remote, Op: "replace video", Err: err}
	}
	return l.Renegotiate()
}

// SendMediaState pushes the local mute and share flags to the peer.
func (l *Link) SendMediaState(st media.State) error {
	if l.state == Closed {
		return ErrClosed
	}
	return l.transport.SendState(st)
}

// SetTransportState maps a transport report onto the link state and reports
// whether the state changed.
func (l *Link) SetTransportState(ts TransportState) bool {
	prev := l.state
	switch ts {
	case TransportConnected:
		if l.state == Idle || l.state == Negotiating || l.state == Degraded {
			l.state = Connected
		}
	case TransportDisconnected:
		if l.state == Connected {
			l.state = Degraded
		}
	case TransportFailed:
		if l.state != Closed {
			l.state = Failed
		}
	case TransportClosed:
		l.close()
	}
	return l.state != prev
}

// Fail marks the link failed after the degraded window ran out.
func (l *Link) Fail() {
	if l.state != Closed {
		l.state = Failed
	}
}

// AddRemoteTrack records an inbound track.
func (l *Link) AddRemoteTrack(t RemoteTrack) {
	if l.stream == nil {
		l.stream = &RemoteStream{PeerID: l.remote}
	}
	for i, existing := range l.stream.Tracks {
		if existing.ID == t.ID {
			l.stream.Tracks[i] = t
			return
		}
	}
	l.stream.Tracks = append(l.stream.Tracks, t)
}

// RemoveRemoteTrack drops an inbound track and reports whether it was known.
func (l *Link) RemoveRemoteTrack(id string) bool {
	if l.stream == nil {
		return false
	}
	for i, t := range l.stream.Tracks {
		if t.ID == id {
			l.stream.Tracks = append(l.stream.Tracks[:i], l.stream.Tracks[i+1:]...)
			return true
		}
	}
	return false
}

// Close releases the transport. It is idempotent.
func (l *Link) Close() {
	l.close()
}

func (l *Link) close() {
	if l.state == Closed {
		return
	}
	l.state = Closed
	l.pending = nil
	l.stream = nil
	l.awaitingAnswer = false
	l.renegotiate = false
	if err := l.transport.Close(); err != nil {
		slog.Debug("peer: transport close", "peer", l.remote, "error", err)
	}
}

func (l *Link) emit(m signaling.Message) error {
	if err := l.send(m); err != nil {
		return fmt.Errorf("send %s to %s: %w", m.Type(), l.remote, err)
	}
	return nil
}
