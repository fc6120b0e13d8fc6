package config

import (
	"strings"
	"time"

	"github.com/danmuck/rcpctl/internal/client"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/protocol/session"
)

// SessionTLS maps the [tls] table onto the driver settings.
func (t TLSFile) SessionTLS() session.TLSConfig {
	return session.TLSConfig{
		Enabled:            t.Enabled,
		Mutual:             t.Mutual,
		CertFile:           strings.TrimSpace(t.CertFile),
		KeyFile:            strings.TrimSpace(t.KeyFile),
		CAFile:             strings.TrimSpace(t.CAFile),
		ServerName:         strings.TrimSpace(t.ServerName),
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
}

// ClientConfig converts a validated file into engine settings.
func (f ClientFile) ClientConfig() (client.Config, error) {
	method, err := schema.ParseAuthMethod(f.Auth.Method)
	if err != nil {
		return client.Config{}, err
	}
	cfg := client.DefaultConfig()
	cfg.Host = strings.TrimSpace(f.Host)
	cfg.Port = f.Port
	cfg.ClientID = strings.TrimSpace(f.ClientID)
	if f.EventBuffer > 0 {
		cfg.EventBuffer = f.EventBuffer
	}
	cfg.Auth = client.AuthConfig{
		Method:   method,
		PSK:      f.Auth.PSK,
		Username: f.Auth.Username,
		Password: f.Auth.Password,
	}
	cfg.Session.Transport = session.Transport(f.Transport)
	if f.SecurityMode != "" {
		cfg.Session.SecurityMode = session.SecurityMode(f.SecurityMode)
	}
	cfg.Session.TLS = f.TLS.SessionTLS()
	if f.Timeouts.ConnectSecs > 0 {
		cfg.Session.ConnectTimeout = time.Duration(f.Timeouts.ConnectSecs) * time.Second
	}
	if f.Timeouts.AuthSecs > 0 {
		cfg.Session.AuthTimeout = time.Duration(f.Timeouts.AuthSecs) * time.Second
	}
	if f.Timeouts.HeartbeatSecs > 0 {
		cfg.Session.HeartbeatInterval = time.Duration(f.Timeouts.HeartbeatSecs) * time.Second
	}
	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}
