package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrInvalidTransport        = errors.New("session: invalid transport")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrMTLSRequired            = errors.New("session: mtls required")
	ErrTLSCertFileRequired     = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("session: tls key file required")
	ErrTLSCAFileRequired       = errors.New("session: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
)

// Transport names the stream carrier under the frame codec.
type Transport string

const (
	TransportTCP  Transport = "tcp"
	TransportTLS  Transport = "tls"
	TransportQUIC Transport = "quic"
)

func NormalizeTransport(t Transport) Transport {
	if strings.TrimSpace(string(t)) == "" {
		return TransportTCP
	}
	return Transport(strings.ToLower(strings.TrimSpace(string(t))))
}

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// Encrypted reports whether the configured transport carries TLS.
func (c Config) Encrypted() bool {
	switch NormalizeTransport(c.Transport) {
	case TransportTLS, TransportQUIC:
		return true
	default:
		return c.TLS.Enabled
	}
}

// usesStreamTLS reports TLS over TCP, selected either by name or by flag.
func (c Config) usesStreamTLS() bool {
	switch NormalizeTransport(c.Transport) {
	case TransportTLS:
		return true
	case TransportTCP:
		return c.TLS.Enabled
	default:
		return false
	}
}

func (c Config) validateCommon() (SecurityMode, error) {
	switch NormalizeTransport(c.Transport) {
	case TransportTCP, TransportTLS, TransportQUIC:
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransport, c.Transport)
	}
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	if mode == SecurityModeProduction && !c.Encrypted() {
		return mode, ErrTLSRequired
	}
	if c.TLS.Mutual && !c.Encrypted() {
		return mode, ErrTLSRequired
	}
	return mode, nil
}

// ValidateClientTransport checks dial-side settings.
func (c Config) ValidateClientTransport() error {
	mode, err := c.validateCommon()
	if err != nil {
		return err
	}
	if mode == SecurityModeProduction && c.TLS.InsecureSkipVerify {
		return ErrTLSInsecureSkipNotAllow
	}
	if c.usesStreamTLS() &&
		strings.TrimSpace(c.TLS.CAFile) == "" && !c.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if mode == SecurityModeProduction && c.Encrypted() && strings.TrimSpace(c.TLS.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	if c.TLS.Mutual {
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}

// ValidateServerTransport checks listen-side settings. QUIC may run on an
// ephemeral self-signed certificate outside production mode.
func (c Config) ValidateServerTransport() error {
	mode, err := c.validateCommon()
	if err != nil {
		return err
	}
	needCert := c.usesStreamTLS() || mode == SecurityModeProduction
	if needCert {
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	if c.TLS.Mutual && strings.TrimSpace(c.TLS.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}
