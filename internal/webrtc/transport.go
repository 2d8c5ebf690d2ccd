package webrtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/version"
	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
)

const controlLabel = "control"

// controlChannelID is shared by both ends of the negotiated control channel.
const controlChannelID uint16 = 0

// TrackSet returns the local tracks a new connection should send.
type TrackSet func() (audio, video pion.TrackLocal)

// NewAPI builds a pion API with the default codecs and interceptors whose
// internal logging goes through slog. The options tune the setting engine,
// e.g. to run on a virtual network.
func NewAPI(opts ...func(*pion.SettingEngine)) (*pion.API, error) {
	se := pion.SettingEngine{}
	se.LoggerFactory = logging.NewPionFactory(nil)
	for _, opt := range opts {
		opt(&se)
	}

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return pion.NewAPI(
		pion.WithSettingEngine(se),
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(registry),
	), nil
}

// ConfigurationFor derives the peer connection configuration from cfg.
func ConfigurationFor(cfg *config.Config) pion.Configuration {
	return pion.Configuration{
		ICEServers:         cfg.ICEServers(),
		ICETransportPolicy: cfg.ICETransportPolicy(),
	}
}

// Factory builds pion transports sharing one API and configuration.
type Factory struct {
	API    *pion.API
	Config pion.Configuration
	Tracks TrackSet
}

// New implements peer.TransportFactory.
func (f *Factory) New(peerID string, ev peer.Events) (peer.Transport, error) {
	var audio, video pion.TrackLocal
	if f.Tracks != nil {
		audio, video = f.Tracks()
	}
	return NewTransport(f.API, f.Config, peerID, audio, video, ev)
}

// Transport is a peer.Transport backed by a pion PeerConnection carrying
// one audio sender, one video sender and the control channel.
type Transport struct {
	peerID string
	pc     *pion.PeerConnection
	ev     peer.Events

	control *pion.DataChannel

	mu          sync.Mutex
	videoSender *pion.RTPSender
	controlOpen bool
	lastState   *media.State
}

var _ peer.Transport = (*Transport)(nil)

// NewTransport creates the connection to peerID. Either track may be nil; the
// matching transceiver is still negotiated so remote media is received and a
// track can be attached later.
func NewTransport(api *pion.API, cfg pion.Configuration, peerID string, audio, video pion.TrackLocal, ev peer.Events) (*Transport, error) {
	if api == nil {
		var err error
		if api, err = NewAPI(); err != nil {
			return nil, err
		}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &Transport{peerID: peerID, pc: pc, ev: ev}

	if _, err = t.addSender(pion.RTPCodecTypeAudio, audio); err != nil {
		pc.Close()
		return nil, err
	}
	if t.videoSender, err = t.addSender(pion.RTPCodecTypeVideo, video); err != nil {
		pc.Close()
		return nil, err
	}

	negotiated := true
	id := controlChannelID
	t.control, err = pc.CreateDataChannel(controlLabel, &pion.DataChannelInit{Negotiated: &negotiated, ID: &id})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}

	t.setupHandlers()
	return t, nil
}

// addSender adds a transceiver of kind. Without a track it only receives,
// and the returned sender is nil.
func (t *Transport) addSender(kind pion.RTPCodecType, track pion.TrackLocal) (*pion.RTPSender, error) {
	if track == nil {
		_, err := t.pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{Direction: pion.RTPTransceiverDirectionRecvonly})
		if err != nil {
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
		return nil, nil
	}

	tr, err := t.pc.AddTransceiverFromTrack(track, pion.RTPTransceiverInit{Direction: pion.RTPTransceiverDirectionSendrecv})
	if err != nil {
		return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
	}
	go drainRTCP(tr.Sender())
	return tr.Sender(), nil
}

// drainRTCP keeps interceptors running until the sender stops.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *Transport) setupHandlers() {
	t.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil || t.ev.OnCandidate == nil {
			return
		}
		t.ev.OnCandidate(c.ToJSON())
	})

	t.pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		slog.Debug("webrtc: connection state", "peer", t.peerID, "state", s.String())
		if t.ev.OnState != nil {
			t.ev.OnState(mapState(s))
		}
	})

	t.pc.OnTrack(func(remote *pion.TrackRemote, _ *pion.RTPReceiver) {
		rt := peer.RemoteTrack{
			ID:       remote.ID(),
			StreamID: remote.StreamID(),
			Kind:     media.Kind(remote.Kind().String()),
		}
		slog.Debug("webrtc: remote track", "peer", t.peerID, "track", rt.ID, "kind", rt.Kind)
		if t.ev.OnTrack != nil {
			t.ev.OnTrack(rt)
		}
		go t.readTrack(remote, rt.ID)
	})

	t.control.OnOpen(func() {
		t.mu.Lock()
		t.controlOpen = true
		pending := t.lastState
		t.mu.Unlock()

		if err := t.sendControl(ControlHello, HelloPayload{Client: "meshcall", Version: version.Version}); err != nil {
			slog.Debug("webrtc: hello", "peer", t.peerID, "error", err)
		}
		if pending != nil {
			if err := t.sendControl(ControlMediaState, mediaPayload(*pending)); err != nil {
				slog.Debug("webrtc: media state", "peer", t.peerID, "error", err)
			}
		}
	})

	t.control.OnMessage(func(msg pion.DataChannelMessage) {
		t.handleControl(msg.Data)
	})
}

// readTrack consumes inbound RTP until the track goes away.
func (t *Transport) readTrack(remote *pion.TrackRemote, id string) {
	for {
		if _, _, err := remote.ReadRTP(); err != nil {
			break
		}
	}
	if t.ev.OnTrackEnded != nil {
		t.ev.OnTrackEnded(id)
	}
}

func (t *Transport) handleControl(data []byte) {
	msg, err := DecodeControl(data)
	if err != nil {
		slog.Warn("webrtc: malformed control message", "peer", t.peerID, "error", err)
		return
	}

	switch msg.Type {
	case ControlHello:
		var hello HelloPayload
		if err := msg.DecodePayload(&hello); err == nil {
			slog.Debug("webrtc: peer hello", "peer", t.peerID, "client", hello.Client, "version", hello.Version)
		}
	case ControlMediaState:
		var p MediaStatePayload
		if err := msg.DecodePayload(&p); err != nil {
			slog.Warn("webrtc: bad media state", "peer", t.peerID, "error", err)
			return
		}
		if t.ev.OnRemoteState != nil {
			t.ev.OnRemoteState(p.State())
		}
	default:
		slog.Debug("webrtc: unknown control message", "peer", t.peerID, "type", msg.Type)
	}
}

func (t *Transport) sendControl(typ string, payload any) error {
	b, err := EncodeControl(typ, payload)
	if err != nil {
		return err
	}
	return t.control.Send(b)
}

func mediaPayload(st media.State) MediaStatePayload {
	return MediaStatePayload{AudioMuted: st.AudioMuted, VideoMuted: st.VideoMuted, ScreenSharing: st.ScreenSharing}
}

func (t *Transport) CreateOffer() (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (t *Transport) CreateAnswer() (string, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (t *Transport) SetRemoteDescription(typ pion.SDPType, sdp string) error {
	return t.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: sdp})
}

func (t *Transport) Rollback() error {
	rollback := pion.SessionDescription{Type: pion.SDPTypeRollback}
	if pending := t.pc.PendingLocalDescription(); pending != nil {
		rollback.SDP = pending.SDP
	}
	return t.pc.SetLocalDescription(rollback)
}

func (t *Transport) AddICECandidate(c pion.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

// ReplaceVideo swaps the outbound video. A receive-only video transceiver is
// upgraded by AddTrack; nil removes the sender.
func (t *Transport) ReplaceVideo(track pion.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case track == nil:
		if t.videoSender == nil {
			return nil
		}
		err := t.pc.RemoveTrack(t.videoSender)
		t.videoSender = nil
		return err
	case t.videoSender == nil:
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return err
		}
		t.videoSender = sender
		go drainRTCP(sender)
		return nil
	default:
		return t.videoSender.ReplaceTrack(track)
	}
}

// SendState sends st now, or once the control channel opens.
func (t *Transport) SendState(st media.State) error {
	t.mu.Lock()
	t.lastState = &st
	open := t.controlOpen
	t.mu.Unlock()

	if !open {
		return nil
	}
	return t.sendControl(ControlMediaState, mediaPayload(st))
}

func (t *Transport) Close() error {
	err := t.pc.Close()
	if errors.Is(err, pion.ErrConnectionClosed) {
		return nil
	}
	return err
}

func mapState(s pion.PeerConnectionState) peer.TransportState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return peer.TransportConnecting
	case pion.PeerConnectionStateConnected:
		return peer.TransportConnected
	case pion.PeerConnectionStateDisconnected:
		return peer.TransportDisconnected
	case pion.PeerConnectionStateFailed:
		return peer.TransportFailed
	case pion.PeerConnectionStateClosed:
		return peer.TransportClosed
	default:
		return peer.TransportNew
	}
}
