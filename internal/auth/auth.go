// Package auth implements the rcp challenge-response handshake primitives and
// the server-side admission policy.
//
// Session records are minted here but never stored: callers judge validity
// by comparing ExpiresAt to the current time.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/google/uuid"
)

var (
	ErrUnauthorized      = errors.New("auth: unauthorized")
	ErrClientNotAllowed  = errors.New("auth: client not allowed")
	ErrMethodUnsupported = errors.New("auth: method not supported")
	ErrPSKNotConfigured  = errors.New("auth: psk not configured")
)

// GenerateChallenge returns fresh random challenge and salt bytes.
func GenerateChallenge() (schema.AuthChallenge, error) {
	c := schema.AuthChallenge{
		Challenge: make([]byte, schema.ChallengeLen),
		Salt:      make([]byte, schema.SaltLen),
	}
	if _, err := rand.Read(c.Challenge); err != nil {
		return schema.AuthChallenge{}, fmt.Errorf("auth: read challenge: %w", err)
	}
	if _, err := rand.Read(c.Salt); err != nil {
		return schema.AuthChallenge{}, fmt.Errorf("auth: read salt: %w", err)
	}
	return c, nil
}

// ComputePSKResponse returns SHA-256(SHA-256(secret || salt) || challenge).
func ComputePSKResponse(secret, challenge, salt []byte) []byte {
	inner := sha256.New()
	inner.Write(secret)
	inner.Write(salt)
	key := inner.Sum(nil)

	outer := sha256.New()
	outer.Write(key)
	outer.Write(challenge)
	return outer.Sum(nil)
}

// VerifyPSK recomputes the expected digest and compares it in constant time.
func VerifyPSK(secret, challenge, salt, response []byte) bool {
	return ConstantTimeEqual(ComputePSKResponse(secret, challenge, salt), response)
}

// ConstantTimeEqual XOR-accumulates over equal-length inputs. Unequal
// lengths fail immediately; length is not secret.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := range a {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}

// CreateSession mints a session record valid for ttl from now.
func CreateSession(permissions []string, ttl time.Duration) schema.SessionInfo {
	return createSessionAt(permissions, ttl, time.Now())
}

func createSessionAt(permissions []string, ttl time.Duration, now time.Time) schema.SessionInfo {
	return schema.SessionInfo{
		SessionID:   uuid.NewString(),
		ExpiresAt:   now.Add(ttl).Unix(),
		Permissions: slices.Clone(permissions),
	}
}

// HasPermission reports whether perms grants name directly or by wildcard.
func HasPermission(perms []string, name string) bool {
	for _, p := range perms {
		if p == protocol.PermissionWildcard || p == name {
			return true
		}
	}
	return false
}

// Policy is the server-side admission configuration.
type Policy struct {
	Required           bool
	PSK                string
	AllowedClients     []string
	DefaultPermissions []string
	SessionTTL         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Required:           true,
		DefaultPermissions: []string{protocol.ServiceDisplay, protocol.ServiceInput, protocol.ServiceClipboard},
		SessionTTL:         time.Hour,
	}
}

// Admit checks the request against the policy before any challenge is sent.
// It returns whether a challenge round is needed.
func (p Policy) Admit(req schema.AuthRequest) (bool, error) {
	if len(p.AllowedClients) > 0 && !slices.Contains(p.AllowedClients, strings.TrimSpace(req.ClientID)) {
		return false, fmt.Errorf("%w: %q", ErrClientNotAllowed, req.ClientID)
	}
	if !p.Required {
		return false, nil
	}
	switch req.Method {
	case schema.AuthPSK:
		if p.PSK == "" {
			return false, ErrPSKNotConfigured
		}
		return true, nil
	case schema.AuthUsernamePassword, schema.AuthCertificate:
		return false, fmt.Errorf("%w: %s", ErrMethodUnsupported, req.Method)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnauthorized, req.Method)
	}
}

// Grant returns the permissions issued to an admitted client.
func (p Policy) Grant() []string {
	if !p.Required {
		return []string{protocol.PermissionWildcard}
	}
	return slices.Clone(p.DefaultPermissions)
}

// Verify checks a challenge response against the configured PSK.
func (p Policy) Verify(c schema.AuthChallenge, resp schema.AuthResponse) error {
	if p.PSK == "" {
		return ErrPSKNotConfigured
	}
	if !VerifyPSK([]byte(p.PSK), c.Challenge, c.Salt, resp.Response) {
		return ErrUnauthorized
	}
	return nil
}

// TTL falls back to one hour when unset.
func (p Policy) TTL() time.Duration {
	if p.SessionTTL <= 0 {
		return time.Hour
	}
	return p.SessionTTL
}
