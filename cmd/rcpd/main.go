// rcpd serves the remote control protocol on one listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/rcpctl/internal/logging"
	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/danmuck/rcpctl/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "rcpd: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	listen      string
	transport   string
	psk         string
	noAuth      bool
	maxSessions int
	adminAddr   string
	logLevel    string
}

func parseFlags(args []string) (options, *pflag.FlagSet, error) {
	var opts options
	fs := pflag.NewFlagSet("rcpd", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to rcpd TOML config")
	fs.StringVarP(&opts.listen, "listen", "l", "", "listen address (host:port)")
	fs.StringVar(&opts.transport, "transport", "", "transport: tcp, tls or quic")
	fs.StringVar(&opts.psk, "psk", "", "pre-shared key for client authentication")
	fs.BoolVar(&opts.noAuth, "no-auth", false, "accept clients without authentication")
	fs.IntVar(&opts.maxSessions, "max-sessions", 0, "concurrent session limit")
	fs.StringVar(&opts.adminAddr, "admin", "", "admin HTTP listen address for /health, /status, /sessions and /metrics")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, off")
	if err := fs.Parse(args); err != nil {
		return options{}, fs, err
	}
	return opts, fs, nil
}

func run(args []string) error {
	opts, fs, err := parseFlags(args)
	if err != nil {
		return err
	}

	logging.ConfigureRuntime()
	if opts.logLevel != "" {
		lvl, err := logging.ParseLevel(opts.logLevel)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(lvl)
	}

	cfg, err := resolveConfig(opts, fs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("node_id", cfg.NodeID).
		Str("listen", cfg.ListenAddr).
		Bool("auth_required", cfg.Auth.Required).
		Int("applications", len(cfg.Catalog.Applications)).
		Msg("rcpd starting")
	if err := server.New(cfg).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("rcpd stopped")
	return nil
}

// resolveConfig applies the config file first and explicit flags last.
func resolveConfig(opts options, fs *pflag.FlagSet) (server.Config, error) {
	cfg := server.DefaultConfig()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := loadServerConfig(path)
		if err != nil {
			return server.Config{}, err
		}
		cfg = loaded
	}
	if fs.Changed("listen") {
		cfg.ListenAddr = strings.TrimSpace(opts.listen)
	}
	if fs.Changed("transport") {
		cfg.Session.Transport = session.NormalizeTransport(session.Transport(opts.transport))
	}
	if fs.Changed("psk") {
		cfg.Auth.PSK = opts.psk
		cfg.Auth.Required = true
	}
	if opts.noAuth {
		cfg.Auth.Required = false
	}
	if fs.Changed("max-sessions") {
		cfg.MaxSessions = opts.maxSessions
	}
	if fs.Changed("admin") {
		cfg.ObservabilityAddr = strings.TrimSpace(opts.adminAddr)
	}
	if cfg.Auth.Required && cfg.Auth.PSK == "" {
		return server.Config{}, errors.New("authentication is enabled but no psk is configured (use --psk, --no-auth or a config file)")
	}
	if err := cfg.Session.ValidateServerTransport(); err != nil {
		return server.Config{}, err
	}
	return cfg, nil
}
