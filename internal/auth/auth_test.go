package auth

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/testutil/testlog"
	"github.com/google/uuid"
)

func TestGenerateChallengeIsFresh(t *testing.T) {
	testlog.Start(t)
	a, err := GenerateChallenge()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := GenerateChallenge()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(a.Challenge) != 32 || len(a.Salt) != 16 {
		t.Fatalf("unexpected sizes challenge=%d salt=%d", len(a.Challenge), len(a.Salt))
	}
	if bytes.Equal(a.Challenge, b.Challenge) || bytes.Equal(a.Salt, b.Salt) {
		t.Fatalf("challenge material reused across calls")
	}
}

func TestComputePSKResponseMatchesDefinition(t *testing.T) {
	testlog.Start(t)
	secret := []byte("customkey")
	challenge := bytes.Repeat([]byte{0x11}, 32)
	salt := bytes.Repeat([]byte{0x22}, 16)

	inner := sha256.Sum256(append(append([]byte(nil), secret...), salt...))
	want := sha256.Sum256(append(inner[:], challenge...))

	got := ComputePSKResponse(secret, challenge, salt)
	if !bytes.Equal(got, want[:]) {
		t.Fatalf("digest mismatch got=%x want=%x", got, want)
	}
	if len(got) != 32 {
		t.Fatalf("unexpected digest length=%d", len(got))
	}
}

func TestVerifyPSK(t *testing.T) {
	testlog.Start(t)
	c, err := GenerateChallenge()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	secret := []byte("customkey")
	resp := ComputePSKResponse(secret, c.Challenge, c.Salt)
	if !VerifyPSK(secret, c.Challenge, c.Salt, resp) {
		t.Fatalf("expected valid response")
	}
	for i := range resp {
		flipped := append([]byte(nil), resp...)
		flipped[i] ^= 0x01
		if VerifyPSK(secret, c.Challenge, c.Salt, flipped) {
			t.Fatalf("flipped byte %d accepted", i)
		}
	}
	if VerifyPSK([]byte("wrong"), c.Challenge, c.Salt, resp) {
		t.Fatalf("wrong secret accepted")
	}
	if VerifyPSK(secret, c.Challenge, c.Salt, resp[:31]) {
		t.Fatalf("short response accepted")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	testlog.Start(t)
	if !ConstantTimeEqual(nil, []byte{}) {
		t.Fatalf("empty inputs should match")
	}
	if ConstantTimeEqual([]byte{1, 2}, []byte{1, 2, 3}) {
		t.Fatalf("unequal lengths should fail")
	}
	if ConstantTimeEqual([]byte{1, 2, 3}, []byte{1, 2, 4}) {
		t.Fatalf("different content should fail")
	}
}

func TestCreateSession(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1_700_000_000, 0)
	perms := []string{"display", "input"}
	info := createSessionAt(perms, 90*time.Second, now)
	if _, err := uuid.Parse(info.SessionID); err != nil {
		t.Fatalf("session id not a uuid: %v", err)
	}
	if info.ExpiresAt != now.Unix()+90 {
		t.Fatalf("unexpected expires_at=%d", info.ExpiresAt)
	}
	perms[0] = "mutated"
	if info.Permissions[0] != "display" {
		t.Fatalf("permissions alias caller slice")
	}
	other := CreateSession(nil, time.Minute)
	if other.SessionID == info.SessionID {
		t.Fatalf("session ids reused")
	}
}

func TestPolicyAdmit(t *testing.T) {
	testlog.Start(t)
	p := DefaultPolicy()
	p.PSK = "customkey"

	need, err := p.Admit(schema.AuthRequest{Method: schema.AuthPSK, ClientID: "a"})
	if err != nil || !need {
		t.Fatalf("psk admit need=%v err=%v", need, err)
	}
	if _, err := p.Admit(schema.AuthRequest{Method: schema.AuthUsernamePassword, ClientID: "a"}); !errors.Is(err, ErrMethodUnsupported) {
		t.Fatalf("expected ErrMethodUnsupported, got %v", err)
	}
	if _, err := p.Admit(schema.AuthRequest{Method: schema.AuthNone, ClientID: "a"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for none, got %v", err)
	}

	p.AllowedClients = []string{"kiosk"}
	if _, err := p.Admit(schema.AuthRequest{Method: schema.AuthPSK, ClientID: "laptop"}); !errors.Is(err, ErrClientNotAllowed) {
		t.Fatalf("expected ErrClientNotAllowed, got %v", err)
	}

	open := Policy{Required: false}
	need, err = open.Admit(schema.AuthRequest{Method: schema.AuthNone, ClientID: "any"})
	if err != nil || need {
		t.Fatalf("open admit need=%v err=%v", need, err)
	}
	if got := open.Grant(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("open policy should grant wildcard, got %v", got)
	}
}

func TestPolicyVerify(t *testing.T) {
	testlog.Start(t)
	p := DefaultPolicy()
	p.PSK = "customkey"
	c, err := GenerateChallenge()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	good := schema.AuthResponse{ClientID: "a", Response: ComputePSKResponse([]byte("customkey"), c.Challenge, c.Salt)}
	if err := p.Verify(c, good); err != nil {
		t.Fatalf("verify good: %v", err)
	}
	bad := schema.AuthResponse{ClientID: "a", Response: ComputePSKResponse([]byte("wrong"), c.Challenge, c.Salt)}
	if err := p.Verify(c, bad); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !HasPermission(p.Grant(), "display") || !HasPermission(p.Grant(), "input") {
		t.Fatalf("default grant missing display/input: %v", p.Grant())
	}
}
