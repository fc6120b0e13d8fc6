package schema

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/rcpctl/internal/testutil/testlog"
)

func TestAuthRequestWireLayout(t *testing.T) {
	testlog.Start(t)
	req := AuthRequest{Method: AuthPSK, ClientID: "laptop-1"}
	raw := req.Encode()
	want := append([]byte{0x01}, []byte("laptop-1")...)
	want = append(want, 0x00)
	if !bytes.Equal(raw, want) {
		t.Fatalf("unexpected layout got=%x want=%x", raw, want)
	}
	got, err := DecodeAuthRequest(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Method != AuthPSK || got.ClientID != "laptop-1" || len(got.Credential) != 0 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestAuthRequestPasswordCredential(t *testing.T) {
	testlog.Start(t)
	req := AuthRequest{
		Method:     AuthUsernamePassword,
		ClientID:   "kiosk",
		Credential: PasswordCredential("dan", "hunter2"),
	}
	got, err := DecodeAuthRequest(req.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	user, pass, ok := SplitPasswordCredential(got.Credential)
	if !ok || user != "dan" || pass != "hunter2" {
		t.Fatalf("unexpected credential user=%q pass=%q ok=%v", user, pass, ok)
	}
}

func TestDecodeAuthRequestErrors(t *testing.T) {
	testlog.Start(t)
	if _, err := DecodeAuthRequest([]byte{0x01}); !errors.Is(err, ErrMalformedAuthRequest) {
		t.Fatalf("expected ErrMalformedAuthRequest, got %v", err)
	}
	if _, err := DecodeAuthRequest([]byte{0x01, 'a', 'b'}); !errors.Is(err, ErrMalformedAuthRequest) {
		t.Fatalf("expected missing separator error, got %v", err)
	}
	if _, err := DecodeAuthRequest([]byte{0x09, 'a', 0x00}); !errors.Is(err, ErrUnknownAuthMethod) {
		t.Fatalf("expected ErrUnknownAuthMethod, got %v", err)
	}
}

func TestSessionInfoCBOR(t *testing.T) {
	testlog.Start(t)
	info := SessionInfo{
		SessionID:   "5b1f3e8e-7f4e-4f0a-9a55-8c1c7d0e2f11",
		ExpiresAt:   1_900_000_000,
		Permissions: []string{"display", "input"},
	}
	raw, err := info.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := info.Encode()
	if err != nil {
		t.Fatalf("encode again: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Fatalf("encoding is not deterministic")
	}
	got, err := DecodeSessionInfo(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, info) {
		t.Fatalf("session mismatch got=%+v want=%+v", got, info)
	}
	if _, err := DecodeSessionInfo([]byte{0xff}); !errors.Is(err, ErrMalformedSessionInfo) {
		t.Fatalf("expected ErrMalformedSessionInfo, got %v", err)
	}
}

func TestSessionInfoPermissionsAndExpiry(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1_700_000_000, 0)
	info := SessionInfo{SessionID: "s", ExpiresAt: now.Unix() + 10, Permissions: []string{"display"}}
	if !info.HasPermission("display") || info.HasPermission("input") {
		t.Fatalf("unexpected permission result for %+v", info.Permissions)
	}
	if info.Expired(now) {
		t.Fatalf("session should be live")
	}
	if !info.Expired(now.Add(10 * time.Second)) {
		t.Fatalf("session should be expired")
	}
	wild := SessionInfo{SessionID: "w", Permissions: []string{"*"}}
	if !wild.HasPermission("audio") {
		t.Fatalf("wildcard should grant audio")
	}
}

func TestAuthChallengeLengthsEnforced(t *testing.T) {
	testlog.Start(t)
	raw, err := AuthChallenge{Challenge: make([]byte, 31), Salt: make([]byte, SaltLen)}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAuthChallenge(raw); !errors.Is(err, ErrMalformedChallenge) {
		t.Fatalf("expected ErrMalformedChallenge, got %v", err)
	}
}

func TestInputEventEncoding(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		event InputEvent
		wire  []byte
	}{
		{KeyEvent(0x0041, true), []byte{1, 0x41, 0x00, 1}},
		{MouseMoveEvent(640, 2), []byte{2, 0x80, 0x02, 0x02, 0x00}},
		{MouseButtonEvent(MouseRight, false), []byte{3, 2, 0}},
		{MouseWheelEvent(-120), []byte{4, 0x88, 0xff}},
	}
	for _, tc := range cases {
		if got := tc.event.Encode(); !bytes.Equal(got, tc.wire) {
			t.Fatalf("%s encode got=%x want=%x", tc.event.Kind, got, tc.wire)
		}
		got, err := DecodeInputEvent(tc.wire)
		if err != nil {
			t.Fatalf("%s decode: %v", tc.event.Kind, err)
		}
		if got != tc.event {
			t.Fatalf("%s decode got=%+v want=%+v", tc.event.Kind, got, tc.event)
		}
	}
	if _, err := DecodeInputEvent([]byte{2, 0}); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestLaunchAppCommandJSON(t *testing.T) {
	testlog.Start(t)
	args := `--title "hello world"`
	raw, err := LaunchAppCommand{ApplicationPath: "default:terminal", Args: &args}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeLaunchAppCommand(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ApplicationPath != "default:terminal" || got.Args == nil || *got.Args != args {
		t.Fatalf("unexpected command %+v", got)
	}
	if split := SplitArgs(*got.Args); !reflect.DeepEqual(split, []string{"--title", "hello world"}) {
		t.Fatalf("unexpected args %q", split)
	}
	if _, err := DecodeLaunchAppCommand([]byte(`{"flags":0}`)); !errors.Is(err, ErrMalformedLaunch) {
		t.Fatalf("expected ErrMalformedLaunch, got %v", err)
	}
}

func TestQualityAndServiceName(t *testing.T) {
	testlog.Start(t)
	if _, err := EncodeQuality(101); !errors.Is(err, ErrInvalidQuality) {
		t.Fatalf("expected ErrInvalidQuality, got %v", err)
	}
	if q, err := DecodeQuality([]byte{55}); err != nil || q != 55 {
		t.Fatalf("decode quality q=%d err=%v", q, err)
	}
	if name, err := DecodeServiceName([]byte("display")); err != nil || name != "display" {
		t.Fatalf("decode name=%q err=%v", name, err)
	}
	if _, err := DecodeServiceName(nil); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := DecodeServiceName([]byte{0xff, 0xfe}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName for invalid utf8, got %v", err)
	}
}
