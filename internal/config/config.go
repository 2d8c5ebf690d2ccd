package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pion "github.com/pion/webrtc/v4"
)

// Default configuration values (production)
const (
	DefaultDomain   = "meshcall.qzz.io"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "" // Optional, empty by default
	DefaultTURNUser = "meshcall"
	DefaultTURNPass = "meshcall-secret"

	DefaultDisplayName   = "anonymous"
	DefaultMediaProvider = ProviderSynthetic

	// DefaultFailTimeout is how long a link may stay degraded before it is evicted.
	DefaultFailTimeout = 12 * time.Second
	// DefaultNegotiationTimeout is how long a new link may take to connect.
	DefaultNegotiationTimeout = 30 * time.Second

	DefaultReconnectAttempts  = 8
	DefaultReconnectBaseDelay = 250 * time.Millisecond
	DefaultReconnectMaxDelay  = 8 * time.Second

	DefaultRelayListenAddr   = ":8080"
	DefaultRelayResumeWindow = 10 * time.Second
)

// Media provider names accepted by MEDIA_PROVIDER / --media.
const (
	ProviderSynthetic = "synthetic"
	ProviderGStreamer = "gstreamer"
)

// Config holds application configuration
type Config struct {
	// Domain is the relay server domain
	Domain string

	// SignalURL is constructed from domain unless given explicitly
	SignalURL string

	// DisplayName is announced to the room with set-name
	DisplayName string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// iceServers overrides STUN/TURN when ICE_SERVERS_JSON is set
	iceServers []pion.ICEServer

	FailTimeout        time.Duration
	NegotiationTimeout time.Duration
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	MediaProvider     string
	GstVideoPipeline  string
	GstAudioPipeline  string
	GstScreenPipeline string

	RelayListenAddr     string
	RelayResumeWindow   time.Duration
	RelayAllowedOrigins []string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain         string
	SignalURL      string
	DisplayName    string
	STUNServer     string
	TURNServer     string
	TURNUser       string
	TURNPass       string
	ForceRelay     bool
	MediaProvider  string
	ListenAddr     string
	AllowedOrigins []string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Domain:            pick(opts.Domain, "DOMAIN", DefaultDomain),
		DisplayName:       pick(opts.DisplayName, "DISPLAY_NAME", DefaultDisplayName),
		STUNServer:        pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:        pick(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:          pick(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:          pick(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
		ForceRelay:        opts.ForceRelay,
		MediaProvider:     pick(opts.MediaProvider, "MEDIA_PROVIDER", DefaultMediaProvider),
		GstVideoPipeline:  os.Getenv("GST_VIDEO_PIPELINE"),
		GstAudioPipeline:  os.Getenv("GST_AUDIO_PIPELINE"),
		GstScreenPipeline: os.Getenv("GST_SCREEN_PIPELINE"),
		RelayListenAddr:   pick(opts.ListenAddr, "RELAY_LISTEN_ADDR", DefaultRelayListenAddr),
	}

	// Signal URL: CLI flag > env > derived from domain
	cfg.SignalURL = pick(opts.SignalURL, "SIGNAL_URL", fmt.Sprintf("wss://%s/ws", cfg.Domain))

	if !cfg.ForceRelay {
		if v, ok := os.LookupEnv("FORCE_RELAY"); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("FORCE_RELAY: %w", err)
			}
			cfg.ForceRelay = b
		}
	}

	switch cfg.MediaProvider {
	case ProviderSynthetic, ProviderGStreamer:
	default:
		return nil, fmt.Errorf("unknown media provider %q", cfg.MediaProvider)
	}

	var err error
	if cfg.FailTimeout, err = envDuration("FAIL_TIMEOUT", DefaultFailTimeout); err != nil {
		return nil, err
	}
	if cfg.NegotiationTimeout, err = envDuration("NEGOTIATION_TIMEOUT", DefaultNegotiationTimeout); err != nil {
		return nil, err
	}
	if cfg.ReconnectBaseDelay, err = envDuration("RECONNECT_BASE_DELAY", DefaultReconnectBaseDelay); err != nil {
		return nil, err
	}
	if cfg.ReconnectMaxDelay, err = envDuration("RECONNECT_MAX_DELAY", DefaultReconnectMaxDelay); err != nil {
		return nil, err
	}
	if cfg.RelayResumeWindow, err = envDuration("RELAY_RESUME_WINDOW", DefaultRelayResumeWindow); err != nil {
		return nil, err
	}
	if cfg.ReconnectAttempts, err = envInt("RECONNECT_ATTEMPTS", DefaultReconnectAttempts); err != nil {
		return nil, err
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		return nil, fmt.Errorf("RECONNECT_MAX_DELAY (%s) must not be below RECONNECT_BASE_DELAY (%s)", cfg.ReconnectMaxDelay, cfg.ReconnectBaseDelay)
	}

	cfg.RelayAllowedOrigins = opts.AllowedOrigins
	if len(cfg.RelayAllowedOrigins) == 0 {
		cfg.RelayAllowedOrigins = splitList(os.Getenv("RELAY_ALLOWED_ORIGINS"))
	}

	if raw := strings.TrimSpace(os.Getenv(envICEServersJSON)); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		cfg.iceServers = servers
	}

	return cfg, nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ICEServers returns the ICE server list handed to every peer connection.
func (c *Config) ICEServers() []pion.ICEServer {
	if len(c.iceServers) > 0 {
		return c.iceServers
	}

	var servers []pion.ICEServer
	if stun := c.GetSTUNServers(); stun != nil {
		servers = append(servers, pion.ICEServer{URLs: stun})
	}
	if turn := c.GetTURNServers(); turn != nil {
		username, password := c.GetTURNCredentials()
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// ICETransportPolicy selects relay-only ICE when forced or when the host looks
// like it sits behind a VPN or CGNAT. Relay-only needs a TURN server.
func (c *Config) ICETransportPolicy() pion.ICETransportPolicy {
	if !c.hasTURN() {
		return pion.ICETransportPolicyAll
	}
	if c.ForceRelay || ShouldForceRelay() {
		return pion.ICETransportPolicyRelay
	}
	return pion.ICETransportPolicyAll
}

func (c *Config) hasTURN() bool {
	for _, s := range c.ICEServers() {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, d)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %d", key, n)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
