package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseYAML(t *testing.T) {
	blob := []byte(`
transport:
  kind: tcp
  endpoint: "203.0.113.7:9100"
  dialTimeout: 5s
tunnel:
  outboundQueueSize: 64
  inboundQueueSize: 32
  sendTimeout: 100ms
logging:
  level: debug
`)
	cfg, err := Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Transport.Kind)
	assert.Equal(t, "203.0.113.7:9100", cfg.Transport.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Transport.DialTimeout.D())
	assert.Equal(t, 64, cfg.Tunnel.OutboundQueueSize)
	assert.Equal(t, 32, cfg.Tunnel.InboundQueueSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Tunnel.SendTimeout.D())
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Defaults survive where the blob is silent.
	assert.Equal(t, 10*time.Second, cfg.Tunnel.StallTimeout.D())
	assert.Equal(t, 65535, cfg.Transport.MaxFrameSize)
}

func TestParseJSON(t *testing.T) {
	blob := []byte(`{
  "transport": {"kind": "loopback"},
  "tunnel": {"rpc_timeout": "2s"},
  "debug": true
}`)
	cfg, err := Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, "loopback", cfg.Transport.Kind)
	assert.Equal(t, 2*time.Second, cfg.Tunnel.RPCTimeout.D())
	assert.True(t, cfg.Debug)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(nil)
	assert.Error(t, err, "empty blob must be rejected")

	_, err = Parse([]byte(`{"transport": {"kind":`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"transport": {"kind": "carrier-pigeon"}}`))
	assert.Error(t, err, "unknown transport kind must be rejected")

	_, err = Parse([]byte(`{"transport": {"kind": "tcp"}}`))
	assert.Error(t, err, "tcp without an endpoint must be rejected")

	_, err = Parse([]byte(`{"transport": {"kind": "wireguard", "endpoint": "198.51.100.2:51820"}}`))
	assert.Error(t, err, "wireguard without keys must be rejected")
}

func TestValidateQueueSizes(t *testing.T) {
	cfg := Default()
	cfg.Transport.Kind = "loopback"
	require.NoError(t, cfg.Validate())

	cfg.Tunnel.OutboundQueueSize = 0
	assert.Error(t, cfg.Validate())

	cfg.Tunnel.OutboundQueueSize = 8
	cfg.Tunnel.InboundQueueSize = -1
	assert.Error(t, cfg.Validate())
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"250ms"`), &d))
	assert.Equal(t, 250*time.Millisecond, d.D())

	// Plain integers are nanoseconds.
	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.D())

	assert.Error(t, json.Unmarshal([]byte(`"not a duration"`), &d))

	out, err := json.Marshal(Duration(time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1s"`, string(out))
}

func TestDurationYAML(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`1m30s`), &d))
	assert.Equal(t, 90*time.Second, d.D())
	assert.Error(t, yaml.Unmarshal([]byte(`bogus`), &d))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TUNNEL_TRANSPORT", "loopback")
	t.Setenv("TUNNEL_LOG_LEVEL", "warn")
	t.Setenv("TUNNEL_DEBUG", "yes")
	t.Setenv("TUNNEL_OUTBOUND_QUEUE", "7")
	t.Setenv("TUNNEL_INBOUND_QUEUE", "not-a-number")

	cfg, err := Parse([]byte(`{"transport": {"kind": "tcp", "endpoint": "203.0.113.7:9100"}}`))
	require.NoError(t, err)
	assert.Equal(t, "loopback", cfg.Transport.Kind)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 7, cfg.Tunnel.OutboundQueueSize)
	assert.Equal(t, Default().Tunnel.InboundQueueSize, cfg.Tunnel.InboundQueueSize,
		"unparseable numeric override must be ignored")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "client.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("transport:\n  kind: loopback\n"), 0o644))
	cfg, err := LoadFromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "loopback", cfg.Transport.Kind)

	jsonPath := filepath.Join(dir, "client.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"transport": {"kind": "loopback"}}`), 0o644))
	cfg, err = LoadFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "loopback", cfg.Transport.Kind)

	_, err = LoadFromFile(filepath.Join(dir, "client.toml"))
	assert.Error(t, err)

	_, err = LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
