package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

// Listen opens addr on the transport selected by cfg.
func Listen(cfg session.Config, addr string) (net.Listener, error) {
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	switch session.NormalizeTransport(cfg.Transport) {
	case session.TransportQUIC:
		tlsCfg, err := ServerTLSConfig(cfg, true)
		if err != nil {
			return nil, err
		}
		ln, err := quic.ListenAddr(addr, tlsCfg, quicConfig(0))
		if err != nil {
			return nil, fmt.Errorf("transport: quic listen %s: %w", addr, err)
		}
		log.Debug().Str("addr", ln.Addr().String()).Msg("transport.listen quic")
		return newQUICListener(ln, cfg.WithDefaults().HandshakeTimeout), nil
	case session.TransportTLS:
		return listenTLS(cfg, addr)
	default:
		if cfg.TLS.Enabled {
			return listenTLS(cfg, addr)
		}
		return net.Listen("tcp", addr)
	}
}

func listenTLS(cfg session.Config, addr string) (net.Listener, error) {
	tlsCfg, err := ServerTLSConfig(cfg, false)
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

// Dial connects to addr within cfg.ConnectTimeout (or ctx, whichever ends
// first) and completes any TLS handshake before returning.
func Dial(ctx context.Context, cfg session.Config, addr string) (net.Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	switch session.NormalizeTransport(cfg.Transport) {
	case session.TransportQUIC:
		if cfg.TLS.CAFile == "" {
			// the PSK handshake authenticates the peer; quic still needs tls
			cfg.TLS.InsecureSkipVerify = true
		}
		tlsCfg, err := ClientTLSConfig(cfg, addr)
		if err != nil {
			return nil, err
		}
		qconn, err := quic.DialAddr(dialCtx, addr, tlsCfg, quicConfig(cfg.HeartbeatInterval))
		if err != nil {
			return nil, fmt.Errorf("transport: quic dial %s: %w", addr, err)
		}
		stream, err := qconn.OpenStreamSync(dialCtx)
		if err != nil {
			_ = qconn.CloseWithError(1, "open stream")
			return nil, fmt.Errorf("transport: quic open stream: %w", err)
		}
		return newStreamConn(qconn, stream), nil
	case session.TransportTLS:
		return dialTLS(dialCtx, cfg, addr)
	default:
		if cfg.TLS.Enabled {
			return dialTLS(dialCtx, cfg, addr)
		}
		var d net.Dialer
		return d.DialContext(dialCtx, "tcp", addr)
	}
}

func dialTLS(ctx context.Context, cfg session.Config, addr string) (net.Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := ClientTLSConfig(cfg, addr)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	conn := tls.Client(raw, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("transport: tls handshake: %w", err)
	}
	return conn, nil
}
