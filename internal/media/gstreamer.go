package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
)

// Default pipelines. {port} is replaced with the local UDP port the RTP pump
// listens on.
const (
	DefaultGstVideoPipeline  = "v4l2src ! videoconvert ! videoscale ! video/x-raw,width=640,height=480,framerate=30/1 ! vp8enc deadline=1 cpu-used=8 target-bitrate=800000 ! rtpvp8pay pt=96 ! udpsink host=127.0.0.1 port={port}"
	DefaultGstAudioPipeline  = "autoaudiosrc ! audioconvert ! audioresample ! opusenc bitrate=32000 ! rtpopuspay pt=111 ! udpsink host=127.0.0.1 port={port}"
	DefaultGstScreenPipeline = "ximagesrc use-damage=false ! videoconvert ! videoscale ! video/x-raw,framerate=15/1 ! vp8enc deadline=1 cpu-used=8 ! rtpvp8pay pt=96 ! udpsink host=127.0.0.1 port={port}"

	gstBinary = "gst-launch-1.0"
	rtpMTU    = 1500

	defaultStartTimeout = 3 * time.Second
)

// GStreamerProvider captures devices through gst-launch pipelines that emit
// RTP to localhost. Packets are forwarded into TrackLocalStaticRTP tracks.
type GStreamerProvider struct {
	VideoPipeline  string
	AudioPipeline  string
	ScreenPipeline string
	// Binary overrides the gst-launch executable.
	Binary string
	// StartTimeout bounds the wait for the first RTP packet. A pipeline
	// still running when it passes is kept.
	StartTimeout time.Duration
}

var _ Provider = (*GStreamerProvider)(nil)

func (p *GStreamerProvider) Camera(ctx context.Context) (Track, error) {
	return p.open(ctx, KindVideo, LabelCamera, orDefault(p.VideoPipeline, DefaultGstVideoPipeline))
}

func (p *GStreamerProvider) Microphone(ctx context.Context) (Track, error) {
	return p.open(ctx, KindAudio, LabelMicrophone, orDefault(p.AudioPipeline, DefaultGstAudioPipeline))
}

func (p *GStreamerProvider) Display(ctx context.Context) (Track, error) {
	return p.open(ctx, KindVideo, LabelScreen, orDefault(p.ScreenPipeline, DefaultGstScreenPipeline))
}

func (p *GStreamerProvider) open(ctx context.Context, kind Kind, label, pipeline string) (Track, error) {
	bin, err := exec.LookPath(orDefault(p.Binary, gstBinary))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", label, ErrDeviceNotFound, err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("%s: listen for rtp: %w", label, err)
	}

	t, err := newRTPTrack(kind, label)
	if err != nil {
		conn.Close()
		return nil, err
	}

	port := conn.LocalAddr().(*net.UDPAddr).Port
	args := append([]string{"-e"}, strings.Fields(ExpandPipeline(pipeline, port))...)
	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: start %s: %w", label, bin, err)
	}
	slog.Info("media: started gst-launch", "track", t.id, "port", port)

	exited := make(chan struct{})
	var waitErr error
	t.onStopped = func() {
		conn.Close()
		stopProcess(cmd, exited)
	}
	go func() {
		waitErr = cmd.Wait()
		close(exited)
		if t.Live() {
			slog.Warn("media: capture pipeline exited", "track", t.id, "error", waitErr)
			t.end()
		}
	}()
	go t.pump(conn)

	timer := time.NewTimer(orDefaultDuration(p.StartTimeout, defaultStartTimeout))
	defer timer.Stop()

	select {
	case <-t.firstPacket:
		return t, nil
	case <-timer.C:
		slog.Debug("media: no rtp yet, keeping pipeline", "track", t.id)
		return t, nil
	case <-exited:
		t.Stop()
		return nil, fmt.Errorf("%s: %w: capture exited: %v", label, ErrDeviceNotFound, waitErr)
	case <-ctx.Done():
		t.Stop()
		return nil, ctx.Err()
	}
}

// ExpandPipeline substitutes the RTP port into a pipeline description.
func ExpandPipeline(pipeline string, port int) string {
	return strings.ReplaceAll(pipeline, "{port}", strconv.Itoa(port))
}

// rtpTrack is fed from an RTP stream.
type rtpTrack struct {
	*baseTrack
	local     *webrtc.TrackLocalStaticRTP
	forwarded atomic.Int64

	firstPacket chan struct{}
	firstOnce   sync.Once
}

func newRTPTrack(kind Kind, label string) (*rtpTrack, error) {
	base := newBaseTrack(kind, label)

	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if kind == KindAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	local, err := webrtc.NewTrackLocalStaticRTP(codec, base.id, StreamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", label, err)
	}
	return &rtpTrack{baseTrack: base, local: local, firstPacket: make(chan struct{})}, nil
}

func (t *rtpTrack) Local() webrtc.TrackLocal {
	return t.local
}

// stopProcess interrupts the pipeline so it can flush, then kills it.
func stopProcess(cmd *exec.Cmd, exited <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = cmd.Process.Kill()
		return
	}
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
