package protocol

import (
	"errors"
	"testing"

	"github.com/danmuck/rcpctl/internal/testutil/testlog"
)

func TestParseCommandKnownTable(t *testing.T) {
	testlog.Start(t)
	cases := map[uint8]Command{
		0x01: CmdLaunchApp,
		0x0B: CmdServiceSubscribe,
		0x0C: CmdVideoQuality,
		0x0F: CmdServiceUnsubscribe,
		0xF0: CmdPing,
		0xF1: CmdError,
		0xFE: CmdAuth,
		0xFF: CmdHeartbeat,
	}
	for raw, want := range cases {
		got, err := ParseCommand(raw)
		if err != nil {
			t.Fatalf("parse 0x%02x: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse 0x%02x got=%v want=%v", raw, got, want)
		}
	}
}

func TestParseCommandRejectsUnknown(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []uint8{0x00, 0x14, 0x80, 0xEF, 0xFD} {
		if _, err := ParseCommand(raw); !errors.Is(err, ErrUnknownCommand) {
			t.Fatalf("parse 0x%02x expected ErrUnknownCommand, got %v", raw, err)
		}
	}
}

func TestCommandString(t *testing.T) {
	testlog.Start(t)
	if got := CmdHeartbeat.String(); got != "heartbeat" {
		t.Fatalf("unexpected name=%q", got)
	}
	if got := Command(0x77).String(); got != "unknown(0x77)" {
		t.Fatalf("unexpected name=%q", got)
	}
}
