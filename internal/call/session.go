// Package call ties one room visit together: the signaling channel, the local
// media and the peer mesh. A Session is created for a call and closed when
// the call ends; nothing outlives it.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
)

const leaveFlushTimeout = time.Second

var (
	ErrNotJoined     = errors.New("not in a room")
	ErrAlreadyJoined = errors.New("already in a room")
	ErrClosed        = errors.New("session closed")
)

// reconnector is implemented by channels that can re-establish themselves.
type reconnector interface {
	OnReconnect(fn func() []signaling.Message)
	OnError(fn func(error))
}

// pender is implemented by channels with an outbox.
type pender interface {
	Pending() int
}

// Options configure a Session. Only Config is required.
type Options struct {
	Config *config.Config
	// Channel defaults to a websocket client for Config.SignalURL.
	Channel signaling.Channel
	// Provider defaults to the one named by Config.MediaProvider.
	Provider media.Provider
	// NewTransport defaults to pion peer connections.
	NewTransport peer.TransportFactory
	// Constraints default to camera and microphone.
	Constraints *media.Constraints
}

// Session is one participant's presence in one room.
type Session struct {
	cfg         *config.Config
	channel     signaling.Channel
	source      *media.Source
	mesh        *mesh.Manager
	constraints media.Constraints

	mu       sync.Mutex
	room     string
	self     string
	name     string
	joined   bool
	closed   bool
	rostered chan struct{}
	unsub    func()

	closeOnce sync.Once
}

// New builds a session. Nothing touches the network or devices until Join.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("call: config is required")
	}
	cfg := opts.Config

	s := &Session{
		cfg:         cfg,
		channel:     opts.Channel,
		name:        cfg.DisplayName,
		constraints: media.Constraints{Audio: true, Video: true},
		rostered:    make(chan struct{}),
	}
	if opts.Constraints != nil {
		s.constraints = *opts.Constraints
	}
	if s.channel == nil {
		s.channel = signaling.NewClient(cfg.SignalURL, signaling.Options{
			Attempts:  cfg.ReconnectAttempts,
			BaseDelay: cfg.ReconnectBaseDelay,
			MaxDelay:  cfg.ReconnectMaxDelay,
		})
	}

	provider := opts.Provider
	if provider == nil {
		provider = NewProvider(cfg)
	}
	s.source = media.NewSource(provider)

	factory := opts.NewTransport
	if factory == nil {
		api, err := webrtc.NewAPI()
		if err != nil {
			return nil, err
		}
		f := &webrtc.Factory{API: api, Config: webrtc.ConfigurationFor(cfg), Tracks: s.localTracks}
		factory = f.New
	}

	s.mesh = mesh.New(mesh.Options{
		Send:               s.channel.Send,
		NewTransport:       factory,
		FailTimeout:        cfg.FailTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
	})
	return s, nil
}

// NewProvider returns the media provider named by cfg.
func NewProvider(cfg *config.Config) media.Provider {
	if cfg.MediaProvider == config.ProviderGStreamer {
		return &media.GStreamerProvider{
			VideoPipeline:  cfg.GstVideoPipeline,
			AudioPipeline:  cfg.GstAudioPipeline,
			ScreenPipeline: cfg.GstScreenPipeline,
		}
	}
	return &media.SyntheticProvider{Frames: true}
}

func (s *Session) localTracks() (audio, video pion.TrackLocal) {
	if a := s.source.Audio(); a != nil {
		audio = a.Local()
	}
	if v := s.source.Video(); v != nil {
		video = v.Local()
	}
	return audio, video
}

// Join acquires local media, connects to the relay and enters room. It
// returns once the relay sent the roster. Media failures do not abort the
// join: the session continues receive-only and reports the failure as an
// EventSessionError.
func (s *Session) Join(ctx context.Context, room string) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.joined:
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.joined = true
	s.room = room
	s.mu.Unlock()

	s.source.OnVideoSubstituted(s.broadcastVideo)
	s.source.OnStateChange(s.mesh.BroadcastMediaState)
	s.source.OnTrackLost(s.trackLost)

	if err := s.source.Acquire(ctx, s.constraints); err != nil {
		slog.Warn("call: joining without local media", "error", err)
		s.mesh.Report(mesh.Event{Type: mesh.EventSessionError, Text: "camera and microphone unavailable", Err: err})
	}

	unsub := s.channel.Subscribe(s.onMessage)
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	if rc, ok := s.channel.(reconnector); ok {
		rc.OnReconnect(s.rejoin)
		rc.OnError(s.onTransportError)
	}

	if err := s.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	if err := s.channel.Send(signaling.Join{RoomID: room, Name: s.Name()}); err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}

	select {
	case <-s.rostered:
		slog.Info("call: joined", "room", room, "peer", s.Self())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) onMessage(msg signaling.Message) {
	if r, ok := msg.(signaling.Roster); ok {
		s.mu.Lock()
		first := s.self == ""
		s.self = r.You
		s.mu.Unlock()
		if first {
			close(s.rostered)
		}
	}
	s.mesh.HandleMessage(msg)
}

// rejoin runs after the relay connection came back. It asks the relay to
// resume the previous identity; the roster that follows is reconciled by the
// mesh.
func (s *Session) rejoin() []signaling.Message {
	s.mu.Lock()
	join := signaling.Join{RoomID: s.room, Name: s.name, PeerID: s.self}
	s.mu.Unlock()

	slog.Info("call: rejoining", "room", join.RoomID, "peer", join.PeerID)
	return []signaling.Message{join}
}

func (s *Session) trackLost(t media.Track, err error) {
	s.mesh.Report(mesh.Event{Type: mesh.EventSessionError, Text: t.Label() + " stopped", Err: err})
}

func (s *Session) onTransportError(err error) {
	s.mesh.Report(mesh.Event{Type: mesh.EventSessionError, Text: "relay unreachable", Err: err})
}

func (s *Session) broadcastVideo(t media.Track) {
	var local pion.TrackLocal
	if t != nil {
		local = t.Local()
	}
	for _, err := range s.mesh.ReplaceVideoTrack(local) {
		slog.Warn("call: video substitution", "error", err)
	}
}

// Events returns the presentation-layer event stream.
func (s *Session) Events() <-chan mesh.Event { return s.mesh.Events() }

func (s *Session) Mesh() *mesh.Manager   { return s.mesh }
func (s *Session) Source() *media.Source { return s.source }

func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Self returns the id the relay assigned, empty before the roster arrived.
func (s *Session) Self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Peers returns a snapshot of the remote participants.
func (s *Session) Peers() []mesh.PeerInfo { return s.mesh.Peers() }

// MediaState returns the local mute and share flags.
func (s *Session) MediaState() media.State { return s.source.State() }

func (s *Session) ToggleAudio() bool { return s.source.ToggleAudioMute() }
func (s *Session) ToggleVideo() bool { return s.source.ToggleVideoMute() }

// ToggleScreenShare starts sharing, or stops it when already sharing.
func (s *Session) ToggleScreenShare(ctx context.Context) error {
	if s.source.Mode() == media.ModeScreenShare {
		return s.source.StopScreenShare(ctx)
	}
	return s.source.StartScreenShare(ctx)
}

// SendChat posts text to the room.
func (s *Session) SendChat(text string) error {
	s.mu.Lock()
	if s.self == "" {
		s.mu.Unlock()
		return ErrNotJoined
	}
	msg := signaling.Chat{RoomID: s.room, From: s.self, Message: text, Sender: s.self, SenderName: s.name}
	s.mu.Unlock()
	return s.channel.Send(msg)
}

// SetName changes the display name and announces it.
func (s *Session) SetName(name string) error {
	s.mu.Lock()
	s.name = name
	room, joined := s.room, s.self != ""
	s.mu.Unlock()

	if !joined {
		return nil
	}
	return s.channel.Send(signaling.Rename{RoomID: room, Name: name})
}

// Leave announces the departure and closes the session.
func (s *Session) Leave() {
	s.mu.Lock()
	room, self := s.room, s.self
	s.mu.Unlock()

	if self != "" {
		if err := s.channel.Send(signaling.Leave{RoomID: room, PeerID: self}); err == nil {
			s.awaitFlush()
		}
	}
	s.Close()
}

func (s *Session) awaitFlush() {
	p, ok := s.channel.(pender)
	if !ok {
		return
	}
	deadline := time.Now().Add(leaveFlushTimeout)
	for p.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

// Close tears everything down: every link is closed, every local track
// stopped and the relay connection dropped. It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		unsub := s.unsub
		s.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		s.mesh.Close()
		s.source.Close()
		if err := s.channel.Disconnect(); err != nil {
			slog.Debug("call: disconnect", "error", err)
		}
	})
}
