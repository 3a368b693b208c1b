package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"

	"github.com/geph-official/geph5/pkg/config"
	"github.com/geph-official/geph5/pkg/core"
	"github.com/geph-official/geph5/pkg/logging"
)

// TCPDialer dials the remote endpoint over plain TCP, optionally through
// an upstream SOCKS5 proxy.
type TCPDialer struct {
	cfg config.TransportConfig
}

// NewTCPDialer creates a dialer from the transport configuration.
func NewTCPDialer(cfg config.TransportConfig) *TCPDialer {
	return &TCPDialer{cfg: cfg}
}

// Dial implements core.Dialer.
func (d *TCPDialer) Dial(ctx context.Context) (core.Transport, error) {
	nd := &net.Dialer{Timeout: d.cfg.DialTimeout.D()}

	var conn net.Conn
	var err error
	if d.cfg.Socks5Proxy != "" {
		var pd proxy.Dialer
		pd, err = proxy.SOCKS5("tcp", d.cfg.Socks5Proxy, nil, nd)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy setup: %w", err)
		}
		if cd, ok := pd.(proxy.ContextDialer); ok {
			conn, err = cd.DialContext(ctx, "tcp", d.cfg.Endpoint)
		} else {
			conn, err = pd.Dial("tcp", d.cfg.Endpoint)
		}
	} else {
		conn, err = nd.DialContext(ctx, "tcp", d.cfg.Endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.cfg.Endpoint, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		// Control round trips are latency-sensitive.
		tc.SetNoDelay(true)
	}

	logging.Debugf("tcp transport connected to %s", d.cfg.Endpoint)
	return newFrameTransport(conn, d.cfg.MaxFrameSize), nil
}
