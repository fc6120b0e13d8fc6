// rcpctl drives an rcpd server from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/rcpctl/internal/client"
	"github.com/danmuck/rcpctl/internal/config"
	"github.com/danmuck/rcpctl/internal/logging"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const usage = `usage: rcpctl [flags] <command> [args]

commands:
  ping                      round-trip a Ping frame
  heartbeat                 send one Heartbeat and wait for the echo
  subscribe <service>...    subscribe and report the result
  launch <path> [args]      launch an application on the server
  clipboard <text>          push clipboard text
  key <code>                press and release a key
  watch [service]...        subscribe and print frames until interrupted
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "rcpctl: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	host       string
	port       int
	clientID   string
	psk        string
	method     string
	transport  string
	caFile     string
	insecure   bool
	retries    int
	timeout    time.Duration
	logLevel   string
}

func parseFlags(args []string) (options, *pflag.FlagSet, error) {
	var opts options
	fs := pflag.NewFlagSet("rcpctl", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nflags:")
		fs.PrintDefaults()
	}
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to rcpctl TOML config")
	fs.StringVarP(&opts.host, "host", "H", "", "server host")
	fs.IntVarP(&opts.port, "port", "p", 0, "server port")
	fs.StringVar(&opts.clientID, "client-id", "", "client identifier sent during auth")
	fs.StringVar(&opts.psk, "psk", "", "pre-shared key")
	fs.StringVar(&opts.method, "auth", "", "auth method: psk or none")
	fs.StringVar(&opts.transport, "transport", "", "transport: tcp, tls or quic")
	fs.StringVar(&opts.caFile, "ca-file", "", "CA bundle used to verify the server")
	fs.BoolVar(&opts.insecure, "insecure", false, "skip server certificate verification")
	fs.IntVar(&opts.retries, "retries", 0, "connection attempts before giving up")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "wait for command replies")
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
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	logging.ConfigureRuntime()
	if opts.logLevel != "" {
		lvl, err := logging.ParseLevel(opts.logLevel)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(lvl)
	}

	cfg, retries, err := resolveConfig(opts, fs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg)
	if err := connect(ctx, c, retries); err != nil {
		return err
	}
	defer c.Disconnect()

	return dispatch(ctx, c, opts.timeout, rest[0], rest[1:])
}

// resolveConfig starts from the config file when given and lets explicit
// flags win. It also returns the connection attempt budget.
func resolveConfig(opts options, fs *pflag.FlagSet) (client.Config, int, error) {
	file := config.ClientFile{}
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.LoadClientConfig(path)
		if err != nil {
			return client.Config{}, 0, err
		}
		file = loaded
	}
	if fs.Changed("host") {
		file.Host = opts.host
	}
	if fs.Changed("port") {
		file.Port = opts.port
	}
	if fs.Changed("client-id") {
		file.ClientID = opts.clientID
	}
	if fs.Changed("auth") {
		file.Auth.Method = opts.method
	}
	if fs.Changed("psk") {
		file.Auth.PSK = opts.psk
	}
	if fs.Changed("transport") {
		file.Transport = opts.transport
	}
	if fs.Changed("ca-file") {
		file.TLS.CAFile = opts.caFile
	}
	if fs.Changed("insecure") {
		file.TLS.InsecureSkipVerify = opts.insecure
	}
	if fs.Changed("retries") {
		file.Retries = opts.retries
	}
	if err := config.ValidateClientConfig(file); err != nil {
		return client.Config{}, 0, err
	}
	cfg, err := file.ClientConfig()
	if err != nil {
		return client.Config{}, 0, err
	}
	if cfg.Auth.Method == schema.AuthNone {
		cfg.Auth.PSK = ""
	}
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return client.Config{}, 0, err
	}
	return cfg, file.Retries, nil
}

// connect dials and authenticates, backing off between failed attempts.
// Rejected credentials end the loop at once.
func connect(ctx context.Context, c *client.Client, retries int) error {
	retrier := session.NewRetrier(c.Config().Session.Backoff, retries, nil)
	var lastErr error
	for {
		delay, ok := retrier.Next()
		if !ok {
			return fmt.Errorf("connect failed after %d attempts: %w", retrier.Attempts(), lastErr)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := c.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		err := c.Authenticate(ctx)
		if err == nil {
			return nil
		}
		var rejected *client.AuthRejectedError
		if errors.As(err, &rejected) {
			return err
		}
		_ = c.Disconnect()
		lastErr = err
	}
}
