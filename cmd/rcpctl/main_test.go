package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/rcpctl/internal/client"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/danmuck/rcpctl/internal/server"
	"github.com/danmuck/rcpctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

const testWait = 3 * time.Second

func startServer(t *testing.T, psk string) (string, int) {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Auth.PSK = psk
	srv := server.New(cfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, srv.Running, testWait, 5*time.Millisecond)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, n
}

func resolve(t *testing.T, args ...string) (client.Config, int, error) {
	t.Helper()
	opts, fs, err := parseFlags(args)
	require.NoError(t, err)
	return resolveConfig(opts, fs)
}

func TestResolveConfigFromFlags(t *testing.T) {
	testlog.Start(t)
	cfg, retries, err := resolve(t, "--host", "10.0.0.5", "--port", "9400", "--psk", "k", "--retries", "4", "--client-id", "ops")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:9400", cfg.Addr())
	require.Equal(t, "ops", cfg.ClientID)
	require.Equal(t, schema.AuthPSK, cfg.Auth.Method)
	require.Equal(t, "k", cfg.Auth.PSK)
	require.Equal(t, 4, retries)

	_, _, err = resolve(t, "--host", "10.0.0.5")
	require.Error(t, err, "psk auth without a key must be rejected")

	cfg, _, err = resolve(t, "--auth", "none")
	require.NoError(t, err)
	require.Equal(t, schema.AuthNone, cfg.Auth.Method)
}

func TestResolveConfigFileThenFlags(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "rcpctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
host = "192.168.1.20"
client_id = "kiosk"
retries = 2
[auth]
psk = "filekey"
[timeouts]
connect_secs = 2
`), 0o600))

	cfg, retries, err := resolve(t, "--config", path, "--psk", "flagkey")
	require.NoError(t, err)
	require.Equal(t, "192.168.1.20", cfg.Host)
	require.Equal(t, "kiosk", cfg.ClientID)
	require.Equal(t, "flagkey", cfg.Auth.PSK)
	require.Equal(t, 2, retries)
	require.Equal(t, 2*time.Second, cfg.Session.ConnectTimeout)

	_, _, err = resolve(t, "--config", path, "--transport", "tls")
	require.ErrorIs(t, err, session.ErrTLSCAFileRequired)
}

func TestCommandsAgainstServer(t *testing.T) {
	testlog.Start(t)
	host, port := startServer(t, "secret")
	cfg, retries, err := resolve(t, "--host", host, "--port", strconv.Itoa(port), "--psk", "secret")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := client.New(cfg)
	require.NoError(t, connect(ctx, c, retries))
	defer c.Disconnect()

	require.NoError(t, dispatch(ctx, c, testWait, "ping", nil))
	require.NoError(t, dispatch(ctx, c, testWait, "heartbeat", nil))
	require.NoError(t, dispatch(ctx, c, testWait, "subscribe", []string{"display", "input"}))
	require.NoError(t, dispatch(ctx, c, testWait, "clipboard", []string{"hello", "world"}))
	require.NoError(t, dispatch(ctx, c, testWait, "key", []string{"0x41"}))

	err = dispatch(ctx, c, testWait, "launch", []string{"/usr/bin/true"})
	require.ErrorContains(t, err, "permission denied")

	require.Error(t, dispatch(ctx, c, testWait, "bogus", nil))
}

func TestConnectStopsOnRejectedCredentials(t *testing.T) {
	testlog.Start(t)
	host, port := startServer(t, "secret")
	cfg, _, err := resolve(t, "--host", host, "--port", strconv.Itoa(port), "--psk", "wrong")
	require.NoError(t, err)

	c := client.New(cfg)
	err = connect(context.Background(), c, 5)
	var rejected *client.AuthRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "invalid credentials", rejected.Reason)
}

func TestConnectGivesUpAfterRetries(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	cfg, _, err := resolve(t, "--host", "127.0.0.1", "--port", strconv.Itoa(addr.Port), "--psk", "k")
	require.NoError(t, err)
	cfg.Session.Backoff.InitialDelay = time.Millisecond
	cfg.Session.Backoff.MaxDelay = 5 * time.Millisecond

	c := client.New(cfg)
	err = connect(context.Background(), c, 2)
	require.ErrorContains(t, err, "after 2 attempts")
	require.Equal(t, client.StateDisconnected, c.State())
}
