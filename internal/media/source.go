package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Mode is what currently feeds the outbound video.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeCamera
	ModeScreenShare
)

func (m Mode) String() string {
	switch m {
	case ModeCamera:
		return "camera"
	case ModeScreenShare:
		return "screen"
	default:
		return "disabled"
	}
}

// Constraints select which devices to open.
type Constraints struct {
	Audio bool
	Video bool
}

func (c Constraints) String() string {
	var kinds []string
	if c.Video {
		kinds = append(kinds, "video")
	}
	if c.Audio {
		kinds = append(kinds, "audio")
	}
	if len(kinds) == 0 {
		return "none"
	}
	return strings.Join(kinds, "+")
}

// Provider opens capture devices.
type Provider interface {
	Camera(ctx context.Context) (Track, error)
	Microphone(ctx context.Context) (Track, error)
	Display(ctx context.Context) (Track, error)
}

// State is the local media state advertised to peers.
type State struct {
	AudioMuted    bool `msgpack:"audio_muted"`
	VideoMuted    bool `msgpack:"video_muted"`
	ScreenSharing bool `msgpack:"screen_sharing"`
}

// Source owns the local participant's tracks. It never holds two live video
// tracks: the previous one is stopped before the replacement is announced.
type Source struct {
	provider Provider
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	audio      Track
	video      Track
	mode       Mode
	audioMuted bool
	videoMuted bool
	closed     bool
	// sharing is set while a display capture is being opened.
	sharing bool

	hookMu      sync.Mutex
	substituted []func(Track)
	changed     []func(State)
	lost        []func(Track, error)
}

// NewSource returns an empty source backed by p.
func NewSource(p Provider) *Source {
	ctx, cancel := context.WithCancel(context.Background())
	return &Source{provider: p, ctx: ctx, cancel: cancel}
}

// OnVideoSubstituted registers fn to be called with the new video track (or
// nil) every time the outbound video changes.
func (s *Source) OnVideoSubstituted(fn func(Track)) {
	s.hookMu.Lock()
	s.substituted = append(s.substituted, fn)
	s.hookMu.Unlock()
}

// OnStateChange registers fn for mute and screen-share changes.
func (s *Source) OnStateChange(fn func(State)) {
	s.hookMu.Lock()
	s.changed = append(s.changed, fn)
	s.hookMu.Unlock()
}

// OnTrackLost registers fn for a camera or microphone whose capture ended on
// its own. The track has already been dropped from the source.
func (s *Source) OnTrackLost(fn func(Track, error)) {
	s.hookMu.Lock()
	s.lost = append(s.lost, fn)
	s.hookMu.Unlock()
}

// Acquire opens camera and microphone as requested, relaxing the request step
// by step (both, then audio only, then video only) until one succeeds.
func (s *Source) Acquire(ctx context.Context, want Constraints) error {
	var plan []Constraints
	switch {
	case want.Audio && want.Video:
		plan = []Constraints{{Audio: true, Video: true}, {Audio: true}, {Video: true}}
	case want.Audio || want.Video:
		plan = []Constraints{want}
	default:
		return nil
	}

	acqErr := &AcquisitionError{Op: "acquire"}
	for _, c := range plan {
		audio, video, err := s.open(ctx, c)
		if err != nil {
			slog.Warn("media: acquisition failed, relaxing constraints", "constraints", c, "error", err)
			acqErr.Attempts = append(acqErr.Attempts, Attempt{Constraints: c, Err: err})
			if ctx.Err() != nil {
				return acqErr
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			stopAll(audio, video)
			return ErrClosed
		}
		oldAudio, oldVideo := s.audio, s.video
		s.audio, s.video = audio, video
		s.mode = ModeDisabled
		if video != nil {
			s.mode = ModeCamera
			video.SetEnabled(!s.videoMuted)
		}
		if audio != nil {
			audio.SetEnabled(!s.audioMuted)
		}
		s.mu.Unlock()

		stopAll(oldAudio, oldVideo)
		for _, t := range []Track{audio, video} {
			if t != nil {
				go s.watch(t)
			}
		}
		slog.Info("media: acquired", "constraints", c)
		if oldVideo != video {
			s.emitSubstituted(video)
		}
		s.emitState()
		return nil
	}
	return acqErr
}

func (s *Source) open(ctx context.Context, c Constraints) (audio, video Track, err error) {
	if c.Video {
		if video, err = s.provider.Camera(ctx); err != nil {
			return nil, nil, err
		}
	}
	if c.Audio {
		if audio, err = s.provider.Microphone(ctx); err != nil {
			stopAll(video)
			return nil, nil, err
		}
	}
	return audio, video, nil
}

// Audio returns the microphone track, or nil.
func (s *Source) Audio() Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// Video returns the current video track, or nil.
func (s *Source) Video() Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *Source) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// State returns the advertised media state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Source) stateLocked() State {
	return State{
		AudioMuted:    s.audioMuted || s.audio == nil,
		VideoMuted:    s.videoMuted || s.video == nil,
		ScreenSharing: s.mode == ModeScreenShare,
	}
}

// ToggleAudioMute flips the microphone's enabled flag and reports the new
// muted state. No renegotiation is involved.
func (s *Source) ToggleAudioMute() bool {
	s.mu.Lock()
	s.audioMuted = !s.audioMuted
	muted := s.audioMuted
	if s.audio != nil {
		s.audio.SetEnabled(!muted)
	}
	s.mu.Unlock()

	s.emitState()
	return muted
}

// ToggleVideoMute flips the video track's enabled flag and reports the new
// muted state.
func (s *Source) ToggleVideoMute() bool {
	s.mu.Lock()
	s.videoMuted = !s.videoMuted
	muted := s.videoMuted
	if s.video != nil {
		s.video.SetEnabled(!muted)
	}
	s.mu.Unlock()

	s.emitState()
	return muted
}

// SetVideoSource stops the current video track, installs t and announces the
// substitution. It returns the replaced track's id.
func (s *Source) SetVideoSource(t Track) string {
	return s.setVideo(t, modeFor(t))
}

func (s *Source) setVideo(t Track, mode Mode) string {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if t != nil {
			t.Stop()
		}
		return ""
	}
	prev := s.video
	if prev == t {
		s.mu.Unlock()
		return idOf(prev)
	}
	s.video = t
	s.mode = mode
	if t != nil {
		t.SetEnabled(!s.videoMuted)
	}
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	if t != nil {
		go s.watch(t)
	}
	slog.Info("media: video source changed", "from", idOf(prev), "to", idOf(t), "mode", mode)

	s.emitSubstituted(t)
	s.emitState()
	return idOf(prev)
}

// StartScreenShare replaces the camera with a display capture. When the
// capture is ended externally the camera is restored.
func (s *Source) StartScreenShare(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.mode == ModeScreenShare || s.sharing:
		s.mu.Unlock()
		return nil
	}
	s.sharing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sharing = false
		s.mu.Unlock()
	}()

	display, err := s.provider.Display(ctx)
	if err != nil {
		return &AcquisitionError{Op: "screen share", Attempts: []Attempt{{Constraints: Constraints{Video: true}, Err: err}}}
	}

	s.setVideo(display, ModeScreenShare)
	return nil
}

// StopScreenShare restores the camera.
func (s *Source) StopScreenShare(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.Mode() != ModeScreenShare {
		return ErrNotSharing
	}
	return s.restoreCamera(ctx)
}

// watch waits for t to end from the capture side. An ended screen capture
// falls back to the camera; an ended camera or microphone is dropped and
// reported through OnTrackLost.
func (s *Source) watch(t Track) {
	select {
	case <-t.Ended():
	case <-t.Stopped():
		select {
		case <-t.Ended():
		default:
			return
		}
	case <-s.ctx.Done():
		return
	}

	var restore, lost bool
	s.mu.Lock()
	switch {
	case s.closed:
	case s.video == t && s.mode == ModeScreenShare:
		restore = true
	case s.video == t:
		s.video, s.mode = nil, ModeDisabled
		lost = true
	case s.audio == t:
		s.audio = nil
		lost = true
	}
	s.mu.Unlock()

	switch {
	case restore:
		slog.Info("media: screen capture ended, restoring camera")
		if err := s.restoreCamera(s.ctx); err != nil {
			slog.Warn("media: camera restore failed", "error", err)
		}
	case lost:
		slog.Warn("media: capture ended", "track", t.ID(), "label", t.Label())
		if t.Kind() == KindVideo {
			s.emitSubstituted(nil)
		}
		s.emitState()
		s.emitLost(t)
	}
}

// restoreCamera opens a fresh camera track. The old one was stopped when the
// screen share started. Without a camera the video is disabled.
func (s *Source) restoreCamera(ctx context.Context) error {
	cam, err := s.provider.Camera(ctx)
	if err != nil {
		s.setVideo(nil, ModeDisabled)
		return &AcquisitionError{Op: "restore camera", Attempts: []Attempt{{Constraints: Constraints{Video: true}, Err: err}}}
	}
	s.setVideo(cam, ModeCamera)
	return nil
}

// LiveTracks counts tracks that have not been stopped.
func (s *Source) LiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range []Track{s.audio, s.video} {
		if t != nil && t.Live() {
			n++
		}
	}
	return n
}

// Close stops every track. The source cannot be reused.
func (s *Source) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	audio, video := s.audio, s.video
	s.mode = ModeDisabled
	s.mu.Unlock()

	s.cancel()
	stopAll(audio, video)
}

func (s *Source) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Source) emitSubstituted(t Track) {
	s.hookMu.Lock()
	hooks := append([]func(Track){}, s.substituted...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(t)
	}
}

func (s *Source) emitLost(t Track) {
	err := fmt.Errorf("%s: %w", t.Label(), ErrCaptureEnded)
	s.hookMu.Lock()
	hooks := append([]func(Track, error){}, s.lost...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(t, err)
	}
}

func (s *Source) emitState() {
	st := s.State()
	s.hookMu.Lock()
	hooks := append([]func(State){}, s.changed...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(st)
	}
}

func modeFor(t Track) Mode {
	switch {
	case t == nil:
		return ModeDisabled
	case t.Label() == LabelScreen:
		return ModeScreenShare
	default:
		return ModeCamera
	}
}

func idOf(t Track) string {
	if t == nil {
		return ""
	}
	return t.ID()
}

func stopAll(tracks ...Track) {
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}
