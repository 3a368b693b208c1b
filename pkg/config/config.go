// Package config parses and validates the client configuration blob. The
// blob may be JSON or YAML; the embedding host hands it to the daemon as
// opaque text and this package is the only thing that looks inside it.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings like "250ms"
// or "5s" (and, for JSON, plain integer nanoseconds).
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete client configuration. It is immutable once
// accepted by the daemon; ownership passes into the daemon at start time.
type Config struct {
	// Transport selects and configures how the remote endpoint is reached.
	Transport TransportConfig `json:"transport" yaml:"transport"`

	// WireGuard configures the userspace WireGuard transport. Only
	// consulted when Transport.Kind is "wireguard".
	WireGuard WireGuardConfig `json:"wireguard" yaml:"wireguard"`

	// Tunnel configures queue sizes and the blocking/backpressure policy.
	Tunnel TunnelConfig `json:"tunnel" yaml:"tunnel"`

	// Logging configures log level and optional file rotation.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Debug enables verbose logging and defensive packet copying.
	Debug bool `json:"debug" yaml:"debug"`
}

// TransportConfig selects the session transport.
type TransportConfig struct {
	// Kind is the transport kind: "tcp", "wireguard", or "loopback".
	Kind string `json:"kind" yaml:"kind"`

	// Endpoint is the remote tunnel endpoint as host:port. Required for
	// the tcp and wireguard kinds.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Socks5Proxy is an optional upstream SOCKS5 proxy (host:port) that
	// the tcp transport dials through.
	Socks5Proxy string `json:"socks5_proxy" yaml:"socks5Proxy"`

	// DialTimeout bounds a single dial attempt.
	DialTimeout Duration `json:"dial_timeout" yaml:"dialTimeout"`

	// MaxFrameSize is the largest accepted wire frame payload in bytes.
	MaxFrameSize int `json:"max_frame_size" yaml:"maxFrameSize"`
}

// WireGuardConfig configures the userspace WireGuard transport. Keys are
// standard base64-encoded WireGuard keys.
type WireGuardConfig struct {
	// PrivateKey is this client's WireGuard private key.
	PrivateKey string `json:"private_key" yaml:"privateKey"`

	// PeerPublicKey is the remote peer's WireGuard public key.
	PeerPublicKey string `json:"peer_public_key" yaml:"peerPublicKey"`

	// PeerEndpoint is the peer's UDP endpoint as host:port.
	PeerEndpoint string `json:"peer_endpoint" yaml:"peerEndpoint"`

	// LocalAddress is the client's address inside the WireGuard overlay.
	LocalAddress string `json:"local_address" yaml:"localAddress"`

	// DNS is the list of DNS servers for the netstack resolver.
	DNS []string `json:"dns" yaml:"dns"`

	// MTU is the WireGuard device MTU.
	MTU int `json:"mtu" yaml:"mtu"`

	// KeepaliveSeconds is the persistent keepalive interval, 0 to disable.
	KeepaliveSeconds int `json:"keepalive_seconds" yaml:"keepaliveSeconds"`
}

// TunnelConfig configures the packet queues and the runtime's blocking,
// backpressure, and retry policy. All timeouts are configuration options
// rather than hardcoded constants.
type TunnelConfig struct {
	// OutboundQueueSize is the outbound packet queue capacity.
	OutboundQueueSize int `json:"outbound_queue_size" yaml:"outboundQueueSize"`

	// InboundQueueSize is the inbound packet queue capacity.
	InboundQueueSize int `json:"inbound_queue_size" yaml:"inboundQueueSize"`

	// SendTimeout bounds how long an enqueue blocks against a full
	// outbound queue before failing.
	SendTimeout Duration `json:"send_timeout" yaml:"sendTimeout"`

	// RecvPollInterval bounds how long a dequeue waits against an empty
	// inbound queue before returning a would-block indication.
	RecvPollInterval Duration `json:"recv_poll_interval" yaml:"recvPollInterval"`

	// StallTimeout bounds how long the runtime's inbound pump blocks
	// against a full inbound queue. Exceeding it is a session failure.
	StallTimeout Duration `json:"stall_timeout" yaml:"stallTimeout"`

	// RPCTimeout bounds a single control-plane round trip.
	RPCTimeout Duration `json:"rpc_timeout" yaml:"rpcTimeout"`

	// DialBackoffInitial is the redial backoff after the first failure.
	DialBackoffInitial Duration `json:"dial_backoff_initial" yaml:"dialBackoffInitial"`

	// DialBackoffMax caps the exponential redial backoff.
	DialBackoffMax Duration `json:"dial_backoff_max" yaml:"dialBackoffMax"`

	// MaxDialFailures is the number of consecutive dial failures that
	// escalates to a fatal runtime failure. 0 means retry forever.
	MaxDialFailures int `json:"max_dial_failures" yaml:"maxDialFailures"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path; empty disables file logging.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:         "tcp",
			DialTimeout:  Duration(10 * time.Second),
			MaxFrameSize: 65535,
		},
		WireGuard: WireGuardConfig{
			MTU:              1420,
			DNS:              []string{"1.1.1.1"},
			KeepaliveSeconds: 25,
		},
		Tunnel: TunnelConfig{
			OutboundQueueSize:  512,
			InboundQueueSize:   512,
			SendTimeout:        Duration(250 * time.Millisecond),
			RecvPollInterval:   Duration(250 * time.Millisecond),
			StallTimeout:       Duration(10 * time.Second),
			RPCTimeout:         Duration(30 * time.Second),
			DialBackoffInitial: Duration(500 * time.Millisecond),
			DialBackoffMax:     Duration(30 * time.Second),
			MaxDialFailures:    0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Parse parses a configuration blob (JSON or YAML), applies defaults and
// environment overrides, and validates the result.
func Parse(blob []byte) (*Config, error) {
	cfg := Default()
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty configuration")
	}

	// A JSON document is also valid YAML, but parsing JSON with the JSON
	// decoder gives better error messages.
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".json"):
		// force JSON parsing regardless of leading whitespace
		data = append([]byte(nil), bytes.TrimSpace(data)...)
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}
	return Parse(data)
}

// LoadFromEnv applies environment variable overrides.
func LoadFromEnv(cfg *Config) {
	if val := os.Getenv("TUNNEL_TRANSPORT"); val != "" {
		cfg.Transport.Kind = val
	}
	if val := os.Getenv("TUNNEL_ENDPOINT"); val != "" {
		cfg.Transport.Endpoint = val
	}
	if val := os.Getenv("TUNNEL_SOCKS5_PROXY"); val != "" {
		cfg.Transport.Socks5Proxy = val
	}
	if val := os.Getenv("TUNNEL_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("TUNNEL_DEBUG"); val != "" {
		v := strings.ToLower(strings.TrimSpace(val))
		cfg.Debug = v == "1" || v == "true" || v == "yes" || v == "on"
	}
	if val := os.Getenv("TUNNEL_OUTBOUND_QUEUE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Tunnel.OutboundQueueSize = n
		}
	}
	if val := os.Getenv("TUNNEL_INBOUND_QUEUE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Tunnel.InboundQueueSize = n
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "tcp":
		if err := validateHostPort(c.Transport.Endpoint); err != nil {
			return fmt.Errorf("transport.endpoint: %w", err)
		}
	case "wireguard":
		if err := validateHostPort(c.Transport.Endpoint); err != nil {
			return fmt.Errorf("transport.endpoint: %w", err)
		}
		if c.WireGuard.PrivateKey == "" {
			return fmt.Errorf("wireguard.privateKey is required")
		}
		if c.WireGuard.PeerPublicKey == "" {
			return fmt.Errorf("wireguard.peerPublicKey is required")
		}
		if err := validateHostPort(c.WireGuard.PeerEndpoint); err != nil {
			return fmt.Errorf("wireguard.peerEndpoint: %w", err)
		}
		if c.WireGuard.LocalAddress == "" {
			return fmt.Errorf("wireguard.localAddress is required")
		}
	case "loopback":
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}

	if c.Transport.Socks5Proxy != "" {
		if err := validateHostPort(c.Transport.Socks5Proxy); err != nil {
			return fmt.Errorf("transport.socks5Proxy: %w", err)
		}
	}
	if c.Tunnel.OutboundQueueSize <= 0 {
		return fmt.Errorf("tunnel.outboundQueueSize must be positive")
	}
	if c.Tunnel.InboundQueueSize <= 0 {
		return fmt.Errorf("tunnel.inboundQueueSize must be positive")
	}
	if c.Tunnel.StallTimeout.D() <= 0 {
		return fmt.Errorf("tunnel.stallTimeout must be positive")
	}
	if c.Tunnel.RPCTimeout.D() <= 0 {
		return fmt.Errorf("tunnel.rpcTimeout must be positive")
	}
	if c.Transport.MaxFrameSize <= 0 {
		return fmt.Errorf("transport.maxFrameSize must be positive")
	}
	return nil
}

func validateHostPort(s string) error {
	if s == "" {
		return fmt.Errorf("missing address")
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("invalid host:port %q: %w", s, err)
	}
	if host == "" || port == "" {
		return fmt.Errorf("invalid host:port %q", s)
	}
	return nil
}
