package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	videoFrameInterval = time.Second / 15
	audioFrameInterval = 20 * time.Millisecond
)

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticProvider produces generated tracks. It needs no devices and backs
// headless runs and tests. The *Err fields make the matching device fail.
type SyntheticProvider struct {
	CameraErr     error
	MicrophoneErr error
	DisplayErr    error

	// Frames enables the sample writer goroutine.
	Frames bool
	// OpenDelay holds every open for that long, like a permission prompt.
	OpenDelay time.Duration

	mu     sync.Mutex
	opened []*SyntheticTrack
}

var _ Provider = (*SyntheticProvider)(nil)

func (p *SyntheticProvider) Camera(ctx context.Context) (Track, error) {
	return p.open(ctx, KindVideo, LabelCamera, p.CameraErr)
}

func (p *SyntheticProvider) Microphone(ctx context.Context) (Track, error) {
	return p.open(ctx, KindAudio, LabelMicrophone, p.MicrophoneErr)
}

func (p *SyntheticProvider) Display(ctx context.Context) (Track, error) {
	return p.open(ctx, KindVideo, LabelScreen, p.DisplayErr)
}

// Opened returns every track handed out so far, oldest first.
func (p *SyntheticProvider) Opened() []*SyntheticTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*SyntheticTrack(nil), p.opened...)
}

func (p *SyntheticProvider) open(ctx context.Context, kind Kind, label string, fail error) (Track, error) {
	if p.OpenDelay > 0 {
		select {
		case <-time.After(p.OpenDelay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fmt.Errorf("%s: %w", label, fail)
	}

	t, err := NewSyntheticTrack(kind, label)
	if err != nil {
		return nil, err
	}
	if p.Frames {
		go t.run()
	}

	p.mu.Lock()
	p.opened = append(p.opened, t)
	p.mu.Unlock()
	return t, nil
}

// SyntheticTrack is a sample-based track fed with generated frames.
type SyntheticTrack struct {
	*baseTrack
	local *webrtc.TrackLocalStaticSample
}

// NewSyntheticTrack creates a VP8 (video) or Opus (audio) sample track.
func NewSyntheticTrack(kind Kind, label string) (*SyntheticTrack, error) {
	base := newBaseTrack(kind, label)

	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if kind == KindAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	local, err := webrtc.NewTrackLocalStaticSample(codec, base.id, StreamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", label, err)
	}
	return &SyntheticTrack{baseTrack: base, local: local}, nil
}

func (t *SyntheticTrack) Local() webrtc.TrackLocal {
	return t.local
}

// End simulates the capture being terminated from outside.
func (t *SyntheticTrack) End() {
	t.end()
}

func (t *SyntheticTrack) run() {
	interval := videoFrameInterval
	if t.kind == KindAudio {
		interval = audioFrameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var frame uint32
	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
		}

		frame++
		if err := t.local.WriteSample(pionmedia.Sample{Data: t.payload(frame), Duration: interval}); err != nil {
			return
		}
	}
}

// payload returns silence for audio and a tiny VP8 interframe whose content
// goes blank while the track is disabled.
func (t *SyntheticTrack) payload(frame uint32) []byte {
	if t.kind == KindAudio {
		return opusSilence
	}
	shade := byte(frame)
	if !t.Enabled() {
		shade = 0
	}
	return []byte{0x31, 0x00, 0x00, shade}
}
