package webrtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVNetAPIs(t *testing.T) (*pion.API, *pion.API) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	require.NoError(t, err)
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	require.NoError(t, err)
	require.NoError(t, router.AddNet(netA))
	require.NoError(t, router.AddNet(netB))
	require.NoError(t, router.Start())
	t.Cleanup(func() { _ = router.Stop() })

	apiA, err := NewAPI(func(se *pion.SettingEngine) { se.SetNet(netA) })
	require.NoError(t, err)
	apiB, err := NewAPI(func(se *pion.SettingEngine) { se.SetNet(netB) })
	require.NoError(t, err)
	return apiA, apiB
}

// pair drives two links from one goroutine, the way the mesh does.
type pair struct {
	tasks chan func()
	done  chan struct{}

	links map[string]*peer.Link

	mu      sync.Mutex
	tracks  map[string][]peer.RemoteTrack
	states  map[string][]media.State
	errs    []error
	linkSts map[string]peer.State
}

func newPair() *pair {
	p := &pair{
		tasks:   make(chan func(), 1024),
		done:    make(chan struct{}),
		links:   make(map[string]*peer.Link),
		tracks:  make(map[string][]peer.RemoteTrack),
		states:  make(map[string][]media.State),
		linkSts: make(map[string]peer.State),
	}
	go func() {
		for {
			select {
			case fn := <-p.tasks:
				fn()
			case <-p.done:
				return
			}
		}
	}()
	return p
}

func (p *pair) post(fn func()) {
	select {
	case p.tasks <- fn:
	case <-p.done:
	}
}

func (p *pair) do(fn func()) {
	ran := make(chan struct{})
	p.post(func() {
		fn()
		close(ran)
	})
	<-ran
}

func (p *pair) fail(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

func (p *pair) deliver(m signaling.Message) error {
	p.post(func() {
		switch m := m.(type) {
		case signaling.Offer:
			p.fail(p.links[m.To].HandleOffer(m.SDP))
		case signaling.Answer:
			p.fail(p.links[m.To].HandleAnswer(m.SDP))
		case signaling.IceCandidate:
			p.fail(p.links[m.To].HandleCandidate(m.Candidate))
		}
	})
	return nil
}

func (p *pair) add(t *testing.T, api *pion.API, local, remote string, video pion.TrackLocal) {
	t.Helper()
	ev := peer.Events{
		OnCandidate: func(c pion.ICECandidateInit) {
			_ = p.deliver(signaling.IceCandidate{From: local, To: remote, Candidate: c})
		},
		OnState: func(s peer.TransportState) {
			p.post(func() {
				l := p.links[local]
				l.SetTransportState(s)
				p.mu.Lock()
				p.linkSts[local] = l.State()
				p.mu.Unlock()
			})
		},
		OnTrack: func(rt peer.RemoteTrack) {
			p.mu.Lock()
			p.tracks[local] = append(p.tracks[local], rt)
			p.mu.Unlock()
		},
		OnRemoteState: func(st media.State) {
			p.mu.Lock()
			p.states[local] = append(p.states[local], st)
			p.mu.Unlock()
		},
	}

	tr, err := NewTransport(api, pion.Configuration{}, remote, nil, video, ev)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	p.do(func() {
		p.links[local] = peer.NewLink(peer.Config{
			RoomID: "room", LocalID: local, RemoteID: remote,
			Transport: tr, Send: p.deliver,
		})
	})
}

func (p *pair) state(id string) peer.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linkSts[id]
}

func (p *pair) videoTracks(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, rt := range p.tracks[id] {
		if rt.Kind == media.KindVideo {
			n++
		}
	}
	return n
}

func (p *pair) lastState(id string) (media.State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states[id]) == 0 {
		return media.State{}, false
	}
	return p.states[id][len(p.states[id])-1], true
}

func TestTransport_NegotiatesOverVirtualNetwork(t *testing.T) {
	apiA, apiB := newVNetAPIs(t)

	provider := &media.SyntheticProvider{Frames: true}
	camera, err := provider.Camera(context.Background())
	require.NoError(t, err)
	defer camera.Stop()

	p := newPair()
	defer close(p.done)

	// "a" initiates towards "b"; only "a" sends video at first.
	p.add(t, apiA, "a", "b", camera.Local())
	p.add(t, apiB, "b", "a", nil)

	p.do(func() { p.fail(p.links["b"].Start()) })
	p.do(func() { p.fail(p.links["a"].Start()) })

	require.Eventually(t, func() bool {
		return p.state("a") == peer.Connected && p.state("b") == peer.Connected
	}, 15*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return p.videoTracks("b") == 1 }, 10*time.Second, 20*time.Millisecond)

	p.do(func() { p.fail(p.links["a"].SendMediaState(media.State{AudioMuted: true})) })
	require.Eventually(t, func() bool {
		st, ok := p.lastState("b")
		return ok && st.AudioMuted
	}, 10*time.Second, 20*time.Millisecond)

	// "b" starts sending video on its receive-only transceiver
	screen, err := provider.Display(context.Background())
	require.NoError(t, err)
	defer screen.Stop()
	p.do(func() { p.fail(p.links["b"].ReplaceVideo(screen.Local())) })

	require.Eventually(t, func() bool { return p.videoTracks("a") == 1 }, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, peer.Connected, p.state("a"))
	assert.Equal(t, peer.Connected, p.state("b"))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.errs)
}

func TestControlMessage_MediaState(t *testing.T) {
	b, err := EncodeControl(ControlMediaState, mediaPayload(media.State{VideoMuted: true, ScreenSharing: true}))
	require.NoError(t, err)

	msg, err := DecodeControl(b)
	require.NoError(t, err)
	assert.Equal(t, ControlMediaState, msg.Type)

	var p MediaStatePayload
	require.NoError(t, msg.DecodePayload(&p))
	assert.Equal(t, media.State{VideoMuted: true, ScreenSharing: true}, p.State())
}

func TestMapState(t *testing.T) {
	cases := map[pion.PeerConnectionState]peer.TransportState{
		pion.PeerConnectionStateNew:          peer.TransportNew,
		pion.PeerConnectionStateConnecting:   peer.TransportConnecting,
		pion.PeerConnectionStateConnected:    peer.TransportConnected,
		pion.PeerConnectionStateDisconnected: peer.TransportDisconnected,
		pion.PeerConnectionStateFailed:       peer.TransportFailed,
		pion.PeerConnectionStateClosed:       peer.TransportClosed,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapState(in), in.String())
	}
}
