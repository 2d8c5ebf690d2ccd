package peer

import (
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/pion/webrtc/v4"
)

// TransportState is the connection state reported by a transport.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "new"
	}
}

// RemoteTrack describes one inbound track.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     media.Kind
}

// Events are the transport's callbacks. They may fire on any goroutine.
type Events struct {
	OnCandidate   func(webrtc.ICECandidateInit)
	OnState       func(TransportState)
	OnTrack       func(RemoteTrack)
	OnTrackEnded  func(trackID string)
	OnRemoteState func(media.State)
}

// Transport is the negotiation and media surface of one peer connection.
type Transport interface {
	// CreateOffer creates an offer, applies it locally and returns its SDP.
	CreateOffer() (string, error)
	// CreateAnswer answers the applied remote offer and returns its SDP.
	CreateAnswer() (string, error)
	SetRemoteDescription(typ webrtc.SDPType, sdp string) error
	// Rollback discards an unanswered local offer.
	Rollback() error
	AddICECandidate(c webrtc.ICECandidateInit) error
	// ReplaceVideo swaps the outbound video track; nil detaches it.
	ReplaceVideo(track webrtc.TrackLocal) error
	SendState(st media.State) error
	Close() error
}

// TransportFactory builds the transport for a link to peerID.
type TransportFactory func(peerID string, ev Events) (Transport, error)
