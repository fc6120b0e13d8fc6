package schema

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ChallengeLen = 32
	SaltLen      = 16
	DigestLen    = 32
)

var (
	ErrMalformedAuthRequest = errors.New("schema: malformed auth request")
	ErrUnknownAuthMethod    = errors.New("schema: unknown auth method")
	ErrMalformedChallenge   = errors.New("schema: malformed auth challenge")
	ErrMalformedResponse    = errors.New("schema: malformed auth response")
	ErrMalformedSessionInfo = errors.New("schema: malformed session info")
)

// AuthMethod is the one-byte tag leading an AUTH request payload.
type AuthMethod uint8

const (
	AuthNone             AuthMethod = 0
	AuthPSK              AuthMethod = 1
	AuthUsernamePassword AuthMethod = 2
	AuthCertificate      AuthMethod = 3
)

func (m AuthMethod) String() string {
	switch m {
	case AuthNone:
		return "none"
	case AuthPSK:
		return "psk"
	case AuthUsernamePassword:
		return "password"
	case AuthCertificate:
		return "certificate"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseAuthMethod accepts the config/CLI spelling of a method.
func ParseAuthMethod(raw string) (AuthMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "psk":
		return AuthPSK, nil
	case "none":
		return AuthNone, nil
	case "password", "username_password":
		return AuthUsernamePassword, nil
	case "certificate", "cert":
		return AuthCertificate, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAuthMethod, raw)
	}
}

// AuthRequest is the first frame a client sends.
// Wire: method(1) | client_id | 0x00 | credential.
type AuthRequest struct {
	Method     AuthMethod
	ClientID   string
	Credential []byte
}

func (r AuthRequest) Encode() []byte {
	out := make([]byte, 0, 2+len(r.ClientID)+len(r.Credential))
	out = append(out, byte(r.Method))
	out = append(out, r.ClientID...)
	out = append(out, 0x00)
	return append(out, r.Credential...)
}

func DecodeAuthRequest(b []byte) (AuthRequest, error) {
	if len(b) < 2 {
		return AuthRequest{}, fmt.Errorf("%w: %d bytes", ErrMalformedAuthRequest, len(b))
	}
	method := AuthMethod(b[0])
	if method > AuthCertificate {
		return AuthRequest{}, fmt.Errorf("%w: %d", ErrUnknownAuthMethod, b[0])
	}
	rest := b[1:]
	sep := bytes.IndexByte(rest, 0x00)
	if sep < 0 {
		return AuthRequest{}, fmt.Errorf("%w: missing client id separator", ErrMalformedAuthRequest)
	}
	req := AuthRequest{
		Method:   method,
		ClientID: string(rest[:sep]),
	}
	if cred := rest[sep+1:]; len(cred) > 0 {
		req.Credential = append([]byte(nil), cred...)
	}
	return req, nil
}

// PasswordCredential packs a username/password pair as user 0x00 password.
func PasswordCredential(username, password string) []byte {
	out := make([]byte, 0, len(username)+1+len(password))
	out = append(out, username...)
	out = append(out, 0x00)
	return append(out, password...)
}

// SplitPasswordCredential is the inverse of PasswordCredential.
func SplitPasswordCredential(cred []byte) (string, string, bool) {
	i := bytes.IndexByte(cred, 0x00)
	if i < 0 {
		return "", "", false
	}
	return string(cred[:i]), string(cred[i+1:]), true
}

// AuthChallenge is sent by the server in reply to an AuthRequest.
type AuthChallenge struct {
	Challenge []byte `cbor:"1,keyasint"`
	Salt      []byte `cbor:"2,keyasint"`
}

func (c AuthChallenge) Encode() ([]byte, error) {
	return Marshal(c)
}

func DecodeAuthChallenge(b []byte) (AuthChallenge, error) {
	var c AuthChallenge
	if err := Unmarshal(b, &c); err != nil {
		return AuthChallenge{}, fmt.Errorf("%w: %v", ErrMalformedChallenge, err)
	}
	if len(c.Challenge) != ChallengeLen || len(c.Salt) != SaltLen {
		return AuthChallenge{}, fmt.Errorf(
			"%w: challenge=%d salt=%d",
			ErrMalformedChallenge,
			len(c.Challenge),
			len(c.Salt),
		)
	}
	return c, nil
}

// AuthResponse carries the client digest for one challenge.
type AuthResponse struct {
	ClientID string `cbor:"1,keyasint"`
	Response []byte `cbor:"2,keyasint"`
}

func (r AuthResponse) Encode() ([]byte, error) {
	return Marshal(r)
}

func DecodeAuthResponse(b []byte) (AuthResponse, error) {
	var r AuthResponse
	if err := Unmarshal(b, &r); err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return r, nil
}

// SessionInfo is issued once per successful authentication and carried in
// the AUTH_OK frame.
type SessionInfo struct {
	SessionID   string   `cbor:"1,keyasint" json:"session_id"`
	ExpiresAt   int64    `cbor:"2,keyasint" json:"expires_at"`
	Permissions []string `cbor:"3,keyasint" json:"permissions"`
}

func (s SessionInfo) Encode() ([]byte, error) {
	return Marshal(s)
}

func DecodeSessionInfo(b []byte) (SessionInfo, error) {
	var s SessionInfo
	if err := Unmarshal(b, &s); err != nil {
		return SessionInfo{}, fmt.Errorf("%w: %v", ErrMalformedSessionInfo, err)
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return SessionInfo{}, fmt.Errorf("%w: empty session id", ErrMalformedSessionInfo)
	}
	return s, nil
}

// Expired reports whether the session lifetime has passed at now.
func (s SessionInfo) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// HasPermission reports whether name was granted directly or by wildcard.
func (s SessionInfo) HasPermission(name string) bool {
	for _, p := range s.Permissions {
		if p == "*" || p == name {
			return true
		}
	}
	return false
}
