package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Kind is the media kind of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track labels.
const (
	LabelMicrophone = "microphone"
	LabelCamera     = "camera"
	LabelScreen     = "screen"
)

// StreamID groups every local track into one outbound stream.
const StreamID = "meshcall"

// Track is a live local media track.
type Track interface {
	ID() string
	Kind() Kind
	Label() string
	// Local is what gets attached to peer connections.
	Local() webrtc.TrackLocal
	Enabled() bool
	// SetEnabled silences the track without detaching it.
	SetEnabled(enabled bool)
	Live() bool
	Stop()
	// Ended fires when the capture is terminated from outside, for example
	// when the OS revokes a screen capture. It does not fire on Stop.
	Ended() <-chan struct{}
	// Stopped is closed once the track is no longer live, for any reason.
	// When it was ended, Ended is already closed by then.
	Stopped() <-chan struct{}
}

// baseTrack carries the lifecycle shared by every provider's tracks.
type baseTrack struct {
	id    string
	kind  Kind
	label string

	mu      sync.Mutex
	enabled bool
	live    bool

	ended     chan struct{}
	endOnce   sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	onStopped func()
}

func newBaseTrack(kind Kind, label string) *baseTrack {
	return &baseTrack{
		id:      label + "-" + uuid.NewString()[:8],
		kind:    kind,
		label:   label,
		enabled: true,
		live:    true,
		ended:   make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (t *baseTrack) ID() string    { return t.id }
func (t *baseTrack) Kind() Kind    { return t.kind }
func (t *baseTrack) Label() string { return t.label }

func (t *baseTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *baseTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *baseTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *baseTrack) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.live = false
		t.mu.Unlock()
		close(t.stopped)
		if t.onStopped != nil {
			t.onStopped()
		}
	})
}

func (t *baseTrack) Ended() <-chan struct{} {
	return t.ended
}

func (t *baseTrack) Stopped() <-chan struct{} {
	return t.stopped
}

// end terminates the track from the capture side.
func (t *baseTrack) end() {
	t.endOnce.Do(func() {
		close(t.ended)
		t.Stop()
	})
}
