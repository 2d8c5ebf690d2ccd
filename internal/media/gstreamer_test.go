package media

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGStreamer_MissingBinary(t *testing.T) {
	p := &GStreamerProvider{Binary: "gst-launch-does-not-exist"}
	_, err := p.Camera(context.Background())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

// fakeLauncher writes a stand-in for gst-launch that ignores its pipeline.
func fakeLauncher(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gst-launch")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestGStreamer_PipelineExitsAtStartup(t *testing.T) {
	p := &GStreamerProvider{Binary: "false"}
	_, err := p.Camera(context.Background())
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	src := NewSource(p)
	t.Cleanup(src.Close)
	err = src.Acquire(context.Background(), Constraints{Audio: true, Video: true})

	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Len(t, acqErr.Attempts, 3)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, ModeDisabled, src.Mode())
	assert.Zero(t, src.LiveTracks())
	assert.Equal(t, State{AudioMuted: true, VideoMuted: true}, src.State())
}

func TestGStreamer_SilentPipelineIsKept(t *testing.T) {
	p := &GStreamerProvider{Binary: fakeLauncher(t, "exec sleep 5"), StartTimeout: 50 * time.Millisecond}
	cam, err := p.Camera(context.Background())
	require.NoError(t, err)
	assert.True(t, cam.Live())

	cam.Stop()
	select {
	case <-cam.Ended():
		t.Fatal("stop must not fire ended")
	default:
	}
}

func TestGStreamer_CameraDyingMidCallIsDropped(t *testing.T) {
	p := &GStreamerProvider{Binary: fakeLauncher(t, "exec sleep 0.3"), StartTimeout: 20 * time.Millisecond}
	src := NewSource(p)
	t.Cleanup(src.Close)

	lost := make(chan error, 1)
	src.OnTrackLost(func(_ Track, err error) { lost <- err })

	require.NoError(t, src.Acquire(context.Background(), Constraints{Video: true}))
	assert.Equal(t, ModeCamera, src.Mode())

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrCaptureEnded)
	case <-time.After(3 * time.Second):
		t.Fatal("camera loss not reported")
	}
	assert.Equal(t, ModeDisabled, src.Mode())
	assert.Nil(t, src.Video())
	assert.True(t, src.State().VideoMuted)
}

func TestExpandPipeline(t *testing.T) {
	assert.Equal(t, "videotestsrc ! udpsink port=5004", ExpandPipeline("videotestsrc ! udpsink port={port}", 5004))
}

func TestRTPPump_ForwardsPackets(t *testing.T) {
	tr, err := newRTPTrack(KindVideo, LabelCamera)
	require.NoError(t, err)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	tr.onStopped = func() { conn.Close() }
	defer tr.Stop()
	go tr.pump(conn)

	out, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer out.Close()

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, SSRC: 42}, Payload: []byte{0x10, 0x00}}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = out.Write(raw)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.forwarded.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-tr.firstPacket:
	default:
		t.Fatal("first packet not signalled")
	}

	// junk and muted packets are not forwarded
	_, err = out.Write([]byte{0x00})
	require.NoError(t, err)
	tr.SetEnabled(false)
	_, err = out.Write(raw)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), tr.forwarded.Load())
}
