package mesh

import (
	"fmt"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peer"
)

// EventType identifies what an Event reports.
type EventType int

const (
	EventPeerJoined EventType = iota
	EventPeerLeft
	EventRemoteStreamUpdated
	EventLocalTrackChanged
	EventConnectionDegraded
	EventConnectionRestored
	EventPeerRenamed
	EventChatReceived
	EventNegotiationFailed
	EventRemoteMediaState
	EventSessionError
)

func (t EventType) String() string {
	switch t {
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerLeft:
		return "peer-left"
	case EventRemoteStreamUpdated:
		return "remote-stream-updated"
	case EventLocalTrackChanged:
		return "local-track-changed"
	case EventConnectionDegraded:
		return "connection-degraded"
	case EventConnectionRestored:
		return "connection-restored"
	case EventPeerRenamed:
		return "peer-renamed"
	case EventChatReceived:
		return "chat-received"
	case EventNegotiationFailed:
		return "negotiation-failed"
	case EventRemoteMediaState:
		return "remote-media-state"
	case EventSessionError:
		return "session-error"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Reasons attached to EventPeerLeft.
const (
	ReasonLeft       = "left"
	ReasonFailed     = "connection failed"
	ReasonTimeout    = "timed out"
	ReasonNegotiate  = "negotiation failed"
	ReasonNotInRoom  = "not in room"
	ReasonShutdown   = "shutdown"
	ReasonRemoteDrop = "closed by peer"
	ReasonRejoined   = "rejoined"
	ReasonNoConnect  = "never connected"
)

// Event is a presentation-layer notification. Only the fields relevant to
// Type are set.
type Event struct {
	Type    EventType
	PeerID  string
	Name    string
	Stream  *peer.RemoteStream
	TrackID string
	Media   media.State
	Text    string
	Reason  string
	Err     error
}

// PeerInfo is a snapshot of one link for rendering.
type PeerInfo struct {
	ID        string
	Name      string
	State     peer.State
	Initiator bool
	Media     media.State
	HasAudio  bool
	HasVideo  bool
}

// DisplayName returns the name, or the id when no name is known.
func (p PeerInfo) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
