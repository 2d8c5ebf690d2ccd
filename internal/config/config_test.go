package config

import (
	"net"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Priority(t *testing.T) {
	t.Setenv("DOMAIN", "env.example")
	t.Setenv("STUN_SERVER", "stun:env.example:3478")
	t.Setenv("DISPLAY_NAME", "")

	cfg, err := Load(Options{Domain: "flag.example"})
	require.NoError(t, err)

	assert.Equal(t, "flag.example", cfg.Domain, "flag wins over env")
	assert.Equal(t, "wss://flag.example/ws", cfg.SignalURL)
	assert.Equal(t, "stun:env.example:3478", cfg.STUNServer, "env wins over default")
	assert.Equal(t, DefaultDisplayName, cfg.DisplayName)
	assert.Equal(t, DefaultFailTimeout, cfg.FailTimeout)
	assert.Equal(t, DefaultReconnectAttempts, cfg.ReconnectAttempts)
}

func TestLoad_ExplicitSignalURL(t *testing.T) {
	t.Setenv("SIGNAL_URL", "ws://127.0.0.1:9000/ws")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9000/ws", cfg.SignalURL)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("RELAY_ALLOWED_ORIGINS", " https://a.example, ,https://b.example")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.RelayAllowedOrigins)

	cfg, err = Load(Options{AllowedOrigins: []string{"https://flag.example"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://flag.example"}, cfg.RelayAllowedOrigins)
}

func TestLoad_Durations(t *testing.T) {
	t.Setenv("FAIL_TIMEOUT", "3s")
	t.Setenv("NEGOTIATION_TIMEOUT", "20s")
	t.Setenv("RECONNECT_BASE_DELAY", "10ms")
	t.Setenv("RECONNECT_MAX_DELAY", "1s")
	t.Setenv("RECONNECT_ATTEMPTS", "2")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.FailTimeout)
	assert.Equal(t, 20*time.Second, cfg.NegotiationTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.ReconnectBaseDelay)
	assert.Equal(t, time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 2, cfg.ReconnectAttempts)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"FAIL_TIMEOUT":       "soon",
		"RECONNECT_ATTEMPTS": "-1",
		"MEDIA_PROVIDER":     "webcam9000",
		"FORCE_RELAY":        "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(Options{})
			require.Error(t, err)
		})
	}
}

func TestLoad_BackoffOrdering(t *testing.T) {
	t.Setenv("RECONNECT_BASE_DELAY", "2s")
	t.Setenv("RECONNECT_MAX_DELAY", "1s")

	_, err := Load(Options{})
	require.Error(t, err)
}

func TestICEServers_FromFields(t *testing.T) {
	cfg, err := Load(Options{TURNServer: "turn.example", TURNUser: "u", TURNPass: "p"})
	require.NoError(t, err)

	servers := cfg.ICEServers()
	require.Len(t, servers, 2)
	assert.Equal(t, []string{DefaultSTUN}, servers[0].URLs)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)
	assert.Contains(t, servers[1].URLs, "turn:turn.example:3478?transport=udp")
	assert.Contains(t, servers[1].URLs, "turns:turn.example:5349?transport=tcp")
}

func TestICEServers_JSONOverride(t *testing.T) {
	t.Setenv("ICE_SERVERS_JSON", `[{"urls":"stun:a.example"},{"urls":["turn:b.example"],"username":"x","credential":"y"}]`)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	servers := cfg.ICEServers()
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:a.example"}, servers[0].URLs)
	assert.Equal(t, []string{"turn:b.example"}, servers[1].URLs)
}

func TestParseICEServersJSON_Validation(t *testing.T) {
	_, err := ParseICEServersJSON(`[{"urls":"http://nope"}]`)
	require.Error(t, err)

	_, err = ParseICEServersJSON(`[{"urls":"turn:t.example"}]`)
	require.ErrorContains(t, err, "username")

	_, err = ParseICEServersJSON(`[{"urls":[]}]`)
	require.ErrorContains(t, err, "missing urls")
}

func TestICETransportPolicy_ForceRelayNeedsTURN(t *testing.T) {
	cfg, err := Load(Options{ForceRelay: true})
	require.NoError(t, err)
	assert.Equal(t, pion.ICETransportPolicyAll, cfg.ICETransportPolicy())

	cfg, err = Load(Options{ForceRelay: true, TURNServer: "turn.example"})
	require.NoError(t, err)
	assert.Equal(t, pion.ICETransportPolicyRelay, cfg.ICETransportPolicy())
}

func TestLooksRestricted(t *testing.T) {
	assert.True(t, looksRestricted("wg0", nil))
	assert.True(t, looksRestricted("utun3", nil))
	assert.True(t, looksRestricted("eth0", []net.Addr{&net.IPNet{IP: net.ParseIP("100.100.1.2"), Mask: net.CIDRMask(32, 32)}}))
	assert.False(t, looksRestricted("eth0", []net.Addr{&net.IPNet{IP: net.ParseIP("192.168.1.2"), Mask: net.CIDRMask(24, 32)}}))
}
