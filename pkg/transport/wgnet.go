package transport

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"

	wgconn "golang.zx2c4.com/wireguard/conn"
	wgdev "golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun/netstack"

	"github.com/geph-official/geph5/pkg/config"
	"github.com/geph-official/geph5/pkg/core"
	"github.com/geph-official/geph5/pkg/logging"
)

// WGDialer dials the remote endpoint through a userspace WireGuard tunnel.
// The WireGuard device runs entirely in-process on a netstack TUN; the
// endpoint is then reached with a TCP connection inside the overlay.
type WGDialer struct {
	transport config.TransportConfig
	wg        config.WireGuardConfig
	debug     bool
}

// NewWGDialer creates a dialer from the client configuration.
func NewWGDialer(cfg *config.Config) *WGDialer {
	return &WGDialer{transport: cfg.Transport, wg: cfg.WireGuard, debug: cfg.Debug}
}

// Dial implements core.Dialer. Each session gets its own device so that a
// redial also renegotiates the WireGuard handshake.
func (d *WGDialer) Dial(ctx context.Context) (core.Transport, error) {
	localAddr, err := parseOverlayAddr(d.wg.LocalAddress)
	if err != nil {
		return nil, fmt.Errorf("wireguard local address: %w", err)
	}
	var dns []netip.Addr
	for _, s := range d.wg.DNS {
		a, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("wireguard dns %q: %w", s, err)
		}
		dns = append(dns, a)
	}

	tunDev, tnet, err := netstack.CreateNetTUN([]netip.Addr{localAddr}, dns, d.wg.MTU)
	if err != nil {
		return nil, fmt.Errorf("netstack tun: %w", err)
	}

	wgLevel := wgdev.LogLevelError
	if d.debug {
		wgLevel = wgdev.LogLevelVerbose
	}
	dev := wgdev.NewDevice(tunDev, wgconn.NewDefaultBind(), wgdev.NewLogger(wgLevel, "[wg]"))

	uapi, err := d.buildUAPI()
	if err != nil {
		dev.Close()
		return nil, err
	}
	if err := dev.IpcSet(uapi); err != nil {
		dev.Close()
		return nil, fmt.Errorf("IpcSet: %w", err)
	}
	if err := dev.Up(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("device up: %w", err)
	}

	conn, err := tnet.DialContext(ctx, "tcp", d.transport.Endpoint)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("dial %s inside wireguard: %w", d.transport.Endpoint, err)
	}

	logging.Debugf("wireguard transport connected to %s via peer %s", d.transport.Endpoint, d.wg.PeerEndpoint)
	return &wgTransport{
		frameTransport: newFrameTransport(conn, d.transport.MaxFrameSize),
		dev:            dev,
	}, nil
}

// buildUAPI composes the device configuration in UAPI wire format. Keys
// are decoded from base64 and re-encoded as hex, which is what the UAPI
// parser accepts.
func (d *WGDialer) buildUAPI() (string, error) {
	privHex, err := base64KeyToHex(d.wg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("invalid wireguard private key: %w", err)
	}
	pubHex, err := base64KeyToHex(d.wg.PeerPublicKey)
	if err != nil {
		return "", fmt.Errorf("invalid wireguard peer public key: %w", err)
	}

	// The UAPI endpoint must be a resolved IP:port.
	ep, err := net.ResolveUDPAddr("udp", d.wg.PeerEndpoint)
	if err != nil {
		return "", fmt.Errorf("resolve peer endpoint %q: %w", d.wg.PeerEndpoint, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "private_key=%s\n", privHex)
	b.WriteString("replace_peers=true\n")
	fmt.Fprintf(&b, "public_key=%s\n", pubHex)
	fmt.Fprintf(&b, "endpoint=%s\n", ep.String())
	b.WriteString("allowed_ip=0.0.0.0/0\n")
	b.WriteString("allowed_ip=::/0\n")
	if d.wg.KeepaliveSeconds > 0 {
		fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", d.wg.KeepaliveSeconds)
	}
	return b.String(), nil
}

func base64KeyToHex(key string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(key))
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	return hex.EncodeToString(raw), nil
}

// parseOverlayAddr accepts either a bare address or a CIDR and returns the
// address part.
func parseOverlayAddr(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Addr{}, err
		}
		return p.Addr(), nil
	}
	return netip.ParseAddr(s)
}

// wgTransport couples the frame session with the WireGuard device owning
// its connectivity, so closing the session also tears the device down.
type wgTransport struct {
	*frameTransport
	dev *wgdev.Device
}

// Close implements core.Transport.
func (t *wgTransport) Close() error {
	err := t.frameTransport.Close()
	t.dev.Close()
	return err
}
