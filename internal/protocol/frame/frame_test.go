package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/testutil/testlog"
)

func TestHeaderRoundTrip(t *testing.T) {
	testlog.Start(t)
	cases := []Header{
		{Version: protocol.Version, Command: protocol.CmdHeartbeat},
		{Version: protocol.Version, Command: protocol.CmdLaunchApp, PayloadLen: 1, Flags: 0x0001},
		{Version: protocol.Version, Command: protocol.CmdStreamFrame, PayloadLen: 0xFFFFFFFF, Flags: 0xFFFF},
		{Version: protocol.Version, Command: protocol.Command(0x42), PayloadLen: 1 << 20, Flags: 0x8001},
	}
	for _, want := range cases {
		got, err := ParseHeader(want.Bytes())
		if err != nil {
			t.Fatalf("parse header %+v: %v", want, err)
		}
		if got != want {
			t.Fatalf("header mismatch got=%+v want=%+v", got, want)
		}
	}
}

func TestHeaderLittleEndianLayout(t *testing.T) {
	testlog.Start(t)
	h := Header{Version: protocol.Version, Command: protocol.CmdPing, PayloadLen: 0x01020304, Flags: 0x0506}
	want := []byte{0x01, 0xF0, 0x04, 0x03, 0x02, 0x01, 0x06, 0x05}
	if got := h.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("unexpected layout got=%x want=%x", got, want)
	}
}

func TestParseHeaderShortInput(t *testing.T) {
	testlog.Start(t)
	for n := 0; n < HeaderLen; n++ {
		if _, err := ParseHeader(make([]byte, n)); !errors.Is(err, ErrInvalidHeader) {
			t.Fatalf("len=%d expected ErrInvalidHeader, got %v", n, err)
		}
	}
}

func TestParseHeaderUnsupportedVersion(t *testing.T) {
	testlog.Start(t)
	raw := Header{Version: protocol.Version, Command: protocol.CmdPing}.Bytes()
	for _, v := range []uint8{0x00, 0x02, 0xFF} {
		raw[0] = v
		_, err := ParseHeader(raw)
		if !errors.Is(err, ErrUnsupportedVersion) {
			t.Fatalf("version=0x%02x expected ErrUnsupportedVersion, got %v", v, err)
		}
		var verr *UnsupportedVersionError
		if !errors.As(err, &verr) || verr.Version != v {
			t.Fatalf("version=0x%02x expected typed error, got %v", v, err)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	payloads := [][]byte{nil, {}, []byte("display"), bytes.Repeat([]byte{0xAB}, 4096)}
	for _, payload := range payloads {
		buf := New(protocol.CmdClipboardData, payload).Bytes()
		got, ok, err := Parse(&buf)
		if err != nil || !ok {
			t.Fatalf("parse ok=%v err=%v", ok, err)
		}
		if got.Command() != protocol.CmdClipboardData {
			t.Fatalf("unexpected command=%v", got.Command())
		}
		if !bytes.Equal(got.Payload, payload) {
			t.Fatalf("payload mismatch len=%d want=%d", len(got.Payload), len(payload))
		}
		if len(buf) != 0 {
			t.Fatalf("expected empty remainder, got %d bytes", len(buf))
		}
	}
}

func TestParseIncompleteIsNotAnError(t *testing.T) {
	testlog.Start(t)
	full := New(protocol.CmdSendInput, []byte{1, 2, 3, 4, 5}).Bytes()
	for n := 0; n < len(full); n++ {
		buf := append([]byte(nil), full[:n]...)
		_, ok, err := Parse(&buf)
		if err != nil {
			t.Fatalf("n=%d unexpected err=%v", n, err)
		}
		if ok {
			t.Fatalf("n=%d expected not available", n)
		}
		if len(buf) != n {
			t.Fatalf("n=%d buffer mutated to len=%d", n, len(buf))
		}
	}
}

func TestParseConcatenatedFrames(t *testing.T) {
	testlog.Start(t)
	first := New(protocol.CmdServiceSubscribe, []byte("input"))
	second := New(protocol.CmdHeartbeat, nil)
	buf := append(first.Bytes(), second.Bytes()...)

	got1, ok, err := Parse(&buf)
	if err != nil || !ok {
		t.Fatalf("first parse ok=%v err=%v", ok, err)
	}
	got2, ok, err := Parse(&buf)
	if err != nil || !ok {
		t.Fatalf("second parse ok=%v err=%v", ok, err)
	}
	if got1.Command() != protocol.CmdServiceSubscribe || string(got1.Payload) != "input" {
		t.Fatalf("unexpected first frame %+v", got1)
	}
	if got2.Command() != protocol.CmdHeartbeat || len(got2.Payload) != 0 {
		t.Fatalf("unexpected second frame %+v", got2)
	}
	if len(buf) != 0 {
		t.Fatalf("expected empty remainder, got %d", len(buf))
	}
}

func TestParseLeavesTrailingBytes(t *testing.T) {
	testlog.Start(t)
	next := New(protocol.CmdPing, []byte("x")).Bytes()
	buf := append(New(protocol.CmdAck, []byte("ok")).Bytes(), next[:3]...)
	if _, ok, err := Parse(&buf); err != nil || !ok {
		t.Fatalf("parse ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(buf, next[:3]) {
		t.Fatalf("unexpected remainder %x", buf)
	}
}

func TestParseRejectsOversizedPayload(t *testing.T) {
	testlog.Start(t)
	h := Header{Version: protocol.Version, Command: protocol.CmdStreamFrame, PayloadLen: 64}
	buf := h.Bytes()
	_, _, err := ParseWithLimits(&buf, Limits{MaxPayloadBytes: 32})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReadWriteFrameStream(t *testing.T) {
	testlog.Start(t)
	var stream bytes.Buffer
	if err := WriteFrame(&stream, New(protocol.CmdPing, []byte("a")), DefaultLimits()); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := WriteFrame(&stream, New(protocol.CmdHeartbeat, nil), DefaultLimits()); err != nil {
		t.Fatalf("write second: %v", err)
	}
	f1, err := ReadFrame(&stream, DefaultLimits())
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	f2, err := ReadFrame(&stream, DefaultLimits())
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if f1.Command() != protocol.CmdPing || string(f1.Payload) != "a" {
		t.Fatalf("unexpected first frame %+v", f1)
	}
	if f2.Command() != protocol.CmdHeartbeat {
		t.Fatalf("unexpected second frame %+v", f2)
	}
}

func TestReadFrameRejectsBadVersionBeforePayload(t *testing.T) {
	testlog.Start(t)
	raw := Header{Version: 0x09, Command: protocol.CmdPing, PayloadLen: 0xFFFFFFFF}.Bytes()
	_, err := ReadFrame(bytes.NewReader(raw), DefaultLimits())
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}
