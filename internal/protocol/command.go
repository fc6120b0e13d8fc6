package protocol

import "fmt"

const (
	// Version is the single wire version this implementation speaks.
	Version uint8 = 0x01
	// DefaultPort is the registered rcp listen port.
	DefaultPort = 9277
)

// Command identifies the meaning of a frame payload.
type Command uint8

const (
	CmdLaunchApp          Command = 0x01
	CmdSendInput          Command = 0x02
	CmdStreamFrame        Command = 0x03
	CmdResizeWindow       Command = 0x04
	CmdClipboardData      Command = 0x05
	CmdFileTransfer       Command = 0x06
	CmdAudioData          Command = 0x07
	CmdDisplayInfo        Command = 0x08
	CmdCursorPosition     Command = 0x09
	CmdPermissionRequest  Command = 0x0A
	CmdServiceSubscribe   Command = 0x0B
	CmdVideoQuality       Command = 0x0C
	CmdPrivacyMode        Command = 0x0D
	CmdWindowFocus        Command = 0x0E
	CmdServiceUnsubscribe Command = 0x0F
	CmdAck                Command = 0x10
	CmdAuthOK             Command = 0x11
	CmdAuthFailed         Command = 0x12
	CmdDisconnect         Command = 0x13
	CmdPing               Command = 0xF0
	CmdError              Command = 0xF1
	CmdAuth               Command = 0xFE
	CmdHeartbeat          Command = 0xFF
)

var commandNames = map[Command]string{
	CmdLaunchApp:          "launch_app",
	CmdSendInput:          "send_input",
	CmdStreamFrame:        "stream_frame",
	CmdResizeWindow:       "resize_window",
	CmdClipboardData:      "clipboard_data",
	CmdFileTransfer:       "file_transfer",
	CmdAudioData:          "audio_data",
	CmdDisplayInfo:        "display_info",
	CmdCursorPosition:     "cursor_position",
	CmdPermissionRequest:  "permission_request",
	CmdServiceSubscribe:   "service_subscribe",
	CmdVideoQuality:       "video_quality",
	CmdPrivacyMode:        "privacy_mode",
	CmdWindowFocus:        "window_focus",
	CmdServiceUnsubscribe: "service_unsubscribe",
	CmdAck:                "ack",
	CmdAuthOK:             "auth_ok",
	CmdAuthFailed:         "auth_failed",
	CmdDisconnect:         "disconnect",
	CmdPing:               "ping",
	CmdError:              "error",
	CmdAuth:               "auth",
	CmdHeartbeat:          "heartbeat",
}

// Known reports whether c is part of the command table.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(c))
}

// ParseCommand maps a raw command byte onto the table.
func ParseCommand(b uint8) (Command, error) {
	c := Command(b)
	if !c.Known() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, b)
	}
	return c, nil
}

// Service names recognised by the server factory.
const (
	ServiceDisplay   = "display"
	ServiceInput     = "input"
	ServiceClipboard = "clipboard"
	ServiceApp       = "app"
	ServiceAudio     = "audio"
)

// Permission strings.
const (
	PermissionWildcard  = "*"
	PermissionAppLaunch = "app:launch"
)
