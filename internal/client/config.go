package client

import (
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/protocol/session"
)

const DefaultEventBuffer = 64

// AuthConfig selects the credential presented during authentication.
type AuthConfig struct {
	Method   schema.AuthMethod
	PSK      string
	Username string
	Password string
}

// Config describes one remote endpoint. Session carries the dial, auth and
// write timeouts plus transport and TLS settings.
type Config struct {
	Host        string
	Port        int
	ClientID    string
	Auth        AuthConfig
	EventBuffer int
	Session     session.Config
}

func DefaultConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		Port:        protocol.DefaultPort,
		ClientID:    "rcpctl",
		Auth:        AuthConfig{Method: schema.AuthPSK},
		EventBuffer: DefaultEventBuffer,
		Session:     session.DefaultConfig(),
	}
}

// Addr is the dial address host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Host) == "" {
		c.Host = d.Host
	}
	if c.Port <= 0 {
		c.Port = d.Port
	}
	if strings.TrimSpace(c.ClientID) == "" {
		c.ClientID = d.ClientID
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	c.Session = c.Session.WithDefaults()
	return c
}

func (a AuthConfig) credential() []byte {
	if a.Method == schema.AuthUsernamePassword {
		return schema.PasswordCredential(a.Username, a.Password)
	}
	return nil
}
