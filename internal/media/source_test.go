package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type substitutions struct {
	mu     sync.Mutex
	tracks []Track
}

func (s *substitutions) record(t Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *substitutions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

func (s *substitutions) last() Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tracks) == 0 {
		return nil
	}
	return s.tracks[len(s.tracks)-1]
}

func newTestSource(t *testing.T, p *SyntheticProvider) (*Source, *substitutions) {
	t.Helper()
	src := NewSource(p)
	subs := &substitutions{}
	src.OnVideoSubstituted(subs.record)
	t.Cleanup(src.Close)
	return src, subs
}

func TestAcquire_CameraAndMicrophone(t *testing.T) {
	src, subs := newTestSource(t, &SyntheticProvider{})

	require.NoError(t, src.Acquire(context.Background(), Constraints{Audio: true, Video: true}))
	assert.Equal(t, ModeCamera, src.Mode())
	assert.Equal(t, 2, src.LiveTracks())
	assert.Equal(t, 1, subs.count())
	assert.Equal(t, src.Video(), subs.last())
}

func TestAcquire_FallsBackToAudioOnly(t *testing.T) {
	p := &SyntheticProvider{CameraErr: ErrPermissionDenied}
	src, subs := newTestSource(t, p)

	require.NoError(t, src.Acquire(context.Background(), Constraints{Audio: true, Video: true}))
	assert.Equal(t, ModeDisabled, src.Mode())
	assert.Nil(t, src.Video())
	require.NotNil(t, src.Audio())
	assert.Equal(t, 0, subs.count())
	assert.True(t, src.State().VideoMuted)
}

func TestAcquire_FallsBackToVideoOnly(t *testing.T) {
	p := &SyntheticProvider{MicrophoneErr: ErrDeviceNotFound}
	src, _ := newTestSource(t, p)

	require.NoError(t, src.Acquire(context.Background(), Constraints{Audio: true, Video: true}))
	assert.Nil(t, src.Audio())
	require.NotNil(t, src.Video())

	// the camera opened during the first attempt was released
	opened := p.Opened()
	require.Len(t, opened, 2)
	assert.False(t, opened[0].Live())
	assert.True(t, opened[1].Live())
	assert.Equal(t, 1, src.LiveTracks())
}

func TestAcquire_AllAttemptsFail(t *testing.T) {
	p := &SyntheticProvider{CameraErr: ErrPermissionDenied, MicrophoneErr: ErrDeviceNotFound}
	src, _ := newTestSource(t, p)

	err := src.Acquire(context.Background(), Constraints{Audio: true, Video: true})
	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Len(t, acqErr.Attempts, 3)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, 0, src.LiveTracks())
}

func TestToggleMute_NoSubstitution(t *testing.T) {
	src, subs := newTestSource(t, &SyntheticProvider{})
	require.NoError(t, src.Acquire(context.Background(), Constraints{Audio: true, Video: true}))

	var states []State
	src.OnStateChange(func(s State) { states = append(states, s) })

	assert.True(t, src.ToggleVideoMute())
	assert.False(t, src.Video().Enabled())
	assert.True(t, src.Video().Live())

	assert.True(t, src.ToggleAudioMute())
	assert.False(t, src.Audio().Enabled())

	assert.False(t, src.ToggleAudioMute())
	assert.True(t, src.Audio().Enabled())

	assert.Equal(t, 1, subs.count(), "muting never substitutes tracks")
	require.Len(t, states, 3)
	assert.Equal(t, State{VideoMuted: true}, states[2])
}

func TestSetVideoSource_StopsPrevious(t *testing.T) {
	src, subs := newTestSource(t, &SyntheticProvider{})
	require.NoError(t, src.Acquire(context.Background(), Constraints{Video: true}))
	old := src.Video()

	next, err := NewSyntheticTrack(KindVideo, LabelCamera)
	require.NoError(t, err)

	prevID := src.SetVideoSource(next)
	assert.Equal(t, old.ID(), prevID)
	assert.False(t, old.Live())
	assert.Same(t, next, subs.last())
	assert.Equal(t, 1, src.LiveTracks())
}

func TestSetVideoSource_KeepsMuteAcrossSwap(t *testing.T) {
	src, _ := newTestSource(t, &SyntheticProvider{})
	require.NoError(t, src.Acquire(context.Background(), Constraints{Video: true}))
	src.ToggleVideoMute()

	next, err := NewSyntheticTrack(KindVideo, LabelCamera)
	require.NoError(t, err)
	src.SetVideoSource(next)
	assert.False(t, next.Enabled())
}

func TestScreenShare_EndedRestoresCamera(t *testing.T) {
	p := &SyntheticProvider{}
	src, subs := newTestSource(t, p)
	require.NoError(t, src.Acquire(context.Background(), Constraints{Audio: true, Video: true}))
	camera := src.Video()

	require.NoError(t, src.StartScreenShare(context.Background()))
	assert.Equal(t, ModeScreenShare, src.Mode())
	assert.False(t, camera.Live())
	display := src.Video().(*SyntheticTrack)
	assert.Equal(t, LabelScreen, display.Label())
	assert.True(t, src.State().ScreenSharing)

	display.End()

	require.Eventually(t, func() bool { return src.Mode() == ModeCamera }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return subs.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	restored := src.Video()
	assert.Equal(t, LabelCamera, restored.Label())
	assert.NotEqual(t, camera.ID(), restored.ID())
	assert.Same(t, restored, subs.last())
	assert.Equal(t, 2, src.LiveTracks())

	// no further substitutions trickle in
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, subs.count())
}

func TestScreenShare_ExplicitStop(t *testing.T) {
	src, subs := newTestSource(t, &SyntheticProvider{})
	require.NoError(t, src.Acquire(context.Background(), Constraints{Video: true}))

	assert.ErrorIs(t, src.StopScreenShare(context.Background()), ErrNotSharing)

	require.NoError(t, src.StartScreenShare(context.Background()))
	display := src.Video()
	require.NoError(t, src.StopScreenShare(context.Background()))

	assert.Equal(t, ModeCamera, src.Mode())
	assert.False(t, display.Live())
	select {
	case <-display.Ended():
		t.Fatal("explicit stop must not fire ended")
	default:
	}
	assert.Equal(t, 3, subs.count())
}

func TestScreenShare_ConcurrentStartsOpenOneDisplay(t *testing.T) {
	p := &SyntheticProvider{}
	src, _ := newTestSource(t, p)
	require.NoError(t, src.Acquire(context.Background(), Constraints{Video: true}))
	p.OpenDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, src.StartScreenShare(context.Background()))
		}()
	}
	wg.Wait()

	displays := 0
	for _, tr := range p.Opened() {
		if tr.Label() == LabelScreen {
			displays++
		}
	}
	assert.Equal(t, 1, displays)
	assert.Equal(t, ModeScreenShare, src.Mode())
	assert.Equal(t, 1, src.LiveTracks())
}

func TestCaptureEnded_DropsTrackAndReports(t *testing.T) {
	p := &SyntheticProvider{}
	src, subs := newTestSource(t, p)
	lost := make(chan Track, 2)
	src.OnTrackLost(func(tr Track, err error) {
		assert.ErrorIs(t, err, ErrCaptureEnded)
		lost <- tr
	})
	require.NoError(t, src.Acquire(context.Background(), Constraints{Audio: true, Video: true}))
	mic := src.Audio().(*SyntheticTrack)
	cam := src.Video().(*SyntheticTrack)

	mic.End()
	select {
	case tr := <-lost:
		assert.Same(t, Track(mic), tr)
	case <-time.After(2 * time.Second):
		t.Fatal("microphone loss not reported")
	}
	assert.Nil(t, src.Audio())
	assert.True(t, src.State().AudioMuted)
	assert.Same(t, Track(cam), src.Video())

	cam.End()
	select {
	case tr := <-lost:
		assert.Same(t, Track(cam), tr)
	case <-time.After(2 * time.Second):
		t.Fatal("camera loss not reported")
	}
	assert.Equal(t, ModeDisabled, src.Mode())
	assert.Nil(t, subs.last())
	assert.Zero(t, src.LiveTracks())
}

func TestScreenShare_DisplayDenied(t *testing.T) {
	src, _ := newTestSource(t, &SyntheticProvider{DisplayErr: ErrPermissionDenied})
	require.NoError(t, src.Acquire(context.Background(), Constraints{Video: true}))
	camera := src.Video()

	err := src.StartScreenShare(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Same(t, camera, src.Video())
	assert.True(t, camera.Live())
}

func TestClose_ReleasesEverything(t *testing.T) {
	p := &SyntheticProvider{Frames: true}
	src := NewSource(p)
	require.NoError(t, src.Acquire(context.Background(), Constraints{Audio: true, Video: true}))
	require.NoError(t, src.StartScreenShare(context.Background()))

	src.Close()
	src.Close()

	assert.Equal(t, 0, src.LiveTracks())
	for _, tr := range p.Opened() {
		assert.False(t, tr.Live(), tr.ID())
	}
	assert.ErrorIs(t, src.StartScreenShare(context.Background()), ErrClosed)
}
