package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/danmuck/rcpctl/internal/testutil/testlog"
	"github.com/danmuck/rcpctl/internal/testutil/tlstest"
)

// echoOnce accepts one connection and echoes one frame back.
func echoOnce(t *testing.T, ln net.Listener, cfg session.Config) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		conn := session.NewConn(raw, cfg)
		defer conn.Close()
		f, err := conn.ReadFrame()
		if err != nil {
			done <- err
			return
		}
		done <- conn.WriteFrame(f)
	}()
	return done
}

func roundTrip(t *testing.T, serverCfg, clientCfg session.Config) {
	t.Helper()
	ln, err := Listen(serverCfg, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	done := echoOnce(t, ln, serverCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := Dial(ctx, clientCfg, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := session.NewConn(raw, clientCfg)
	defer conn.Close()

	if err := conn.Send(protocol.CmdPing, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	f, err := conn.ReadFrameWithin(5 * time.Second)
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if f.Command() != protocol.CmdPing || string(f.Payload) != "hello" {
		t.Fatalf("unexpected echo %+v", f)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server side: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server side did not finish")
	}
}

func TestTCPRoundTrip(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	roundTrip(t, cfg, cfg)
}

func TestTLSRoundTrip(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewCA(t, "rcp-test-ca")
	srv := ca.Server(t, "rcpd")

	serverCfg := session.DefaultConfig()
	serverCfg.Transport = session.TransportTLS
	serverCfg.TLS.CertFile, serverCfg.TLS.KeyFile = srv.CertFile, srv.KeyFile

	clientCfg := session.DefaultConfig()
	clientCfg.Transport = session.TransportTLS
	clientCfg.TLS.CAFile = ca.File()
	clientCfg.TLS.ServerName = "localhost"

	roundTrip(t, serverCfg, clientCfg)
}

func TestMutualTLSRoundTrip(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewCA(t, "rcp-test-ca")
	srv := ca.Server(t, "rcpd")
	cli := ca.Client(t, "rcpctl")

	serverCfg := session.DefaultConfig()
	serverCfg.Transport = session.TransportTLS
	serverCfg.TLS.Mutual = true
	serverCfg.TLS.CAFile = ca.File()
	serverCfg.TLS.CertFile, serverCfg.TLS.KeyFile = srv.CertFile, srv.KeyFile

	clientCfg := session.DefaultConfig()
	clientCfg.Transport = session.TransportTLS
	clientCfg.TLS.Mutual = true
	clientCfg.TLS.CAFile = ca.File()
	clientCfg.TLS.CertFile, clientCfg.TLS.KeyFile = cli.CertFile, cli.KeyFile

	roundTrip(t, serverCfg, clientCfg)
}

func TestTLSRejectsUnknownAuthority(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewCA(t, "rcp-test-ca")
	other := tlstest.NewCA(t, "other-ca")
	srv := ca.Server(t, "rcpd")

	serverCfg := session.DefaultConfig()
	serverCfg.Transport = session.TransportTLS
	serverCfg.TLS.CertFile, serverCfg.TLS.KeyFile = srv.CertFile, srv.KeyFile
	ln, err := Listen(serverCfg, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		raw, err := ln.Accept()
		if err == nil {
			_, _ = raw.Read(make([]byte, 1))
			_ = raw.Close()
		}
	}()

	clientCfg := session.DefaultConfig()
	clientCfg.Transport = session.TransportTLS
	clientCfg.TLS.CAFile = other.File()
	if _, err := Dial(context.Background(), clientCfg, ln.Addr().String()); err == nil {
		t.Fatalf("expected handshake failure against unknown authority")
	}
}

func TestQUICRoundTripEphemeralCert(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	cfg.Transport = session.TransportQUIC
	roundTrip(t, cfg, cfg)
}

func TestListenRejectsUnknownTransport(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	cfg.Transport = "serial"
	if _, err := Listen(cfg, "127.0.0.1:0"); !errors.Is(err, session.ErrInvalidTransport) {
		t.Fatalf("expected ErrInvalidTransport, got %v", err)
	}
}
