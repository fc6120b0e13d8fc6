package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rcpctl/internal/config"
	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/danmuck/rcpctl/internal/server"
	"github.com/danmuck/rcpctl/internal/services"
)

// loadServerConfig overlays the keys present in path onto the runtime
// defaults. Keys absent from the file keep their default values.
func loadServerConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()

	var raw config.ServerFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.Config{}, fmt.Errorf("load rcpd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return server.Config{}, fmt.Errorf("load rcpd config: unknown key %q", undecoded[0].String())
	}
	if err := config.ValidateServerConfig(raw); err != nil {
		return server.Config{}, fmt.Errorf("load rcpd config: %w", err)
	}

	if meta.IsDefined("node_id") {
		cfg.NodeID = strings.TrimSpace(raw.NodeID)
	}
	if meta.IsDefined("address") || meta.IsDefined("port") {
		host, port, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return server.Config{}, fmt.Errorf("load rcpd config: default listen addr: %w", err)
		}
		if meta.IsDefined("address") {
			host = strings.TrimSpace(raw.Address)
		}
		if meta.IsDefined("port") {
			port = strconv.Itoa(raw.Port)
		}
		cfg.ListenAddr = net.JoinHostPort(host, port)
	}
	if meta.IsDefined("transport") {
		cfg.Session.Transport = session.NormalizeTransport(session.Transport(raw.Transport))
	}
	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}
	if meta.IsDefined("tls") {
		cfg.Session.TLS = raw.TLS.SessionTLS()
	}

	if meta.IsDefined("auth", "required") {
		cfg.Auth.Required = raw.Auth.Required
	}
	if meta.IsDefined("auth", "psk") {
		cfg.Auth.PSK = raw.Auth.PSK
	}
	if meta.IsDefined("auth", "allowed_clients") {
		cfg.Auth.AllowedClients = trimAll(raw.Auth.AllowedClients)
	}
	if meta.IsDefined("auth", "permissions") {
		cfg.Auth.DefaultPermissions = trimAll(raw.Auth.Permissions)
	}

	if meta.IsDefined("session", "max_sessions") {
		cfg.MaxSessions = raw.Session.MaxSessions
	}
	if meta.IsDefined("session", "timeout_secs") {
		cfg.Auth.SessionTTL = seconds(raw.Session.TimeoutSecs)
	}
	if meta.IsDefined("session", "read_timeout_secs") {
		cfg.Session.ReadTimeout = seconds(raw.Session.ReadTimeoutSecs)
	}
	if meta.IsDefined("session", "write_timeout_secs") {
		cfg.Session.WriteTimeout = seconds(raw.Session.WriteTimeoutSecs)
	}
	if meta.IsDefined("session", "display_interval_secs") {
		cfg.DisplayInterval = seconds(raw.Session.DisplayIntervalSecs)
	}

	if meta.IsDefined("application_defaults", "allow_custom") {
		cfg.Catalog.AllowCustom = raw.ApplicationDefaults.AllowCustom
	}
	if meta.IsDefined("application_defaults", "allow_default") {
		cfg.Catalog.AllowDefault = raw.ApplicationDefaults.AllowDefault
	}
	if meta.IsDefined("application_defaults", "working_dir") {
		cfg.Catalog.WorkingDir = strings.TrimSpace(raw.ApplicationDefaults.WorkingDir)
	}
	for id, app := range raw.Applications {
		name := strings.TrimSpace(app.Name)
		if name == "" {
			name = id
		}
		cfg.Catalog.Applications[id] = services.Application{
			ID:                  id,
			Name:                name,
			ExecutablePath:      strings.TrimSpace(app.ExecutablePath),
			Args:                app.Args,
			WorkingDir:          strings.TrimSpace(app.WorkingDir),
			Env:                 app.Env,
			RequiredPermissions: trimAll(app.RequiredPermissions),
		}
	}

	if meta.IsDefined("observability", "listen_addr") {
		cfg.ObservabilityAddr = strings.TrimSpace(raw.Observability.ListenAddr)
	}

	if cfg.Auth.Required && cfg.Auth.PSK == "" {
		return server.Config{}, fmt.Errorf("load rcpd config: auth.psk is required when authentication is enabled")
	}
	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}

func seconds(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
