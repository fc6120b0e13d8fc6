package services

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/testutil/testlog"
	"github.com/danmuck/rcpctl/internal/tools"
)

type fakeLauncher struct {
	specs []tools.LaunchSpec
	err   error
}

func (f *fakeLauncher) Launch(spec tools.LaunchSpec) (int, error) {
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return 0, f.err
	}
	return 100 + len(f.specs), nil
}

func TestFactoryCreatesKnownServices(t *testing.T) {
	testlog.Start(t)
	f := DefaultFactory()
	want := []string{"app", "audio", "clipboard", "display", "input"}
	got := f.Names()
	if len(got) != len(want) {
		t.Fatalf("unexpected names %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected names %v", got)
		}
		svc, err := f.Create(want[i], Deps{})
		if err != nil {
			t.Fatalf("create %s: %v", want[i], err)
		}
		if svc.Name() != want[i] {
			t.Fatalf("service name=%q want=%q", svc.Name(), want[i])
		}
	}
	if _, err := f.Create("webcam", Deps{}); !errors.Is(err, ErrServiceNotAvailable) {
		t.Fatalf("expected ErrServiceNotAvailable, got %v", err)
	}
}

func TestLifecycleRejectsDoubleStartStop(t *testing.T) {
	testlog.Start(t)
	for _, svc := range []Service{NewInput(), NewClipboard(), NewDisplay(time.Hour), NewApp(Deps{}), NewAudio()} {
		if err := svc.Stop(); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("%s stop before start: expected ErrNotRunning, got %v", svc.Name(), err)
		}
		if err := svc.Start(); err != nil {
			t.Fatalf("%s start: %v", svc.Name(), err)
		}
		if err := svc.Start(); !errors.Is(err, ErrAlreadyRunning) {
			t.Fatalf("%s double start: expected ErrAlreadyRunning, got %v", svc.Name(), err)
		}
		if err := svc.Stop(); err != nil {
			t.Fatalf("%s stop: %v", svc.Name(), err)
		}
		if err := svc.Stop(); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("%s double stop: expected ErrNotRunning, got %v", svc.Name(), err)
		}
	}
}

func TestServicesRejectForeignCommands(t *testing.T) {
	testlog.Start(t)
	clip := NewClipboard()
	if err := clip.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer clip.Stop()
	if err := clip.ProcessFrame(frame.New(protocol.CmdSendInput, []byte{4, 0, 0})); !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("expected ErrUnsupportedCommand, got %v", err)
	}
	if err := clip.ProcessFrame(frame.New(protocol.CmdClipboardData, []byte("copied"))); err != nil {
		t.Fatalf("clipboard data: %v", err)
	}
	if clip.Latest() != "copied" {
		t.Fatalf("unexpected clipboard %q", clip.Latest())
	}
	if err := clip.ProcessFrame(frame.New(protocol.CmdClipboardData, []byte{0xff})); !errors.Is(err, ErrClipboardPayload) {
		t.Fatalf("expected ErrClipboardPayload, got %v", err)
	}
}

func TestDisplayAnnouncesAndTracksQuality(t *testing.T) {
	testlog.Start(t)
	d := NewDisplay(time.Hour)
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	f, ok := d.PollFrame()
	if !ok || f.Command() != protocol.CmdDisplayInfo {
		t.Fatalf("expected initial display info, got ok=%v %+v", ok, f)
	}
	if _, ok := d.PollFrame(); ok {
		t.Fatalf("expected empty outbox")
	}

	if err := d.ProcessFrame(frame.New(protocol.CmdVideoQuality, []byte{35})); err != nil {
		t.Fatalf("video quality: %v", err)
	}
	f, ok = d.PollFrame()
	if !ok {
		t.Fatalf("expected display info after quality change")
	}
	info, err := schema.DecodeDisplayInfo(f.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Quality != 35 || info.Width != 1280 {
		t.Fatalf("unexpected info %+v", info)
	}
	if err := d.ProcessFrame(frame.New(protocol.CmdVideoQuality, []byte{200})); !errors.Is(err, schema.ErrInvalidQuality) {
		t.Fatalf("expected ErrInvalidQuality, got %v", err)
	}
}

func TestInputCountsEvents(t *testing.T) {
	testlog.Start(t)
	var seen []schema.InputEvent
	in := NewInput().WithSink(func(ev schema.InputEvent) { seen = append(seen, ev) })
	if err := in.ProcessFrame(frame.New(protocol.CmdSendInput, schema.KeyEvent(0x41, true).Encode())); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}
	if err := in.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	events := []schema.InputEvent{
		schema.KeyEvent(0x41, true),
		schema.MouseMoveEvent(10, 20),
		schema.MouseMoveEvent(11, 21),
	}
	for _, ev := range events {
		if err := in.ProcessFrame(frame.New(protocol.CmdSendInput, ev.Encode())); err != nil {
			t.Fatalf("process %s: %v", ev.Kind, err)
		}
	}
	if in.Count(schema.InputMouseMove) != 2 || in.Count(schema.InputKey) != 1 {
		t.Fatalf("unexpected counts move=%d key=%d", in.Count(schema.InputMouseMove), in.Count(schema.InputKey))
	}
	if len(seen) != 3 || in.Last() != events[2] {
		t.Fatalf("sink saw %d events last=%+v", len(seen), in.Last())
	}
}

func TestAppLaunchesCatalogEntries(t *testing.T) {
	testlog.Start(t)
	launcher := &fakeLauncher{}
	app := NewApp(Deps{
		Permissions: []string{"app:launch"},
		Launcher:    launcher,
		Catalog: Catalog{
			Applications: map[string]Application{
				"editor": {ID: "editor", ExecutablePath: "/usr/bin/gedit", Args: []string{"--new-window"}},
				"admin":  {ID: "admin", ExecutablePath: "/usr/bin/admin", RequiredPermissions: []string{"admin"}},
			},
		},
	})
	if err := app.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer app.Stop()

	args := `"notes.txt"`
	payload, _ := schema.LaunchAppCommand{ApplicationPath: "app:editor", Args: &args}.Encode()
	if err := app.ProcessFrame(frame.New(protocol.CmdLaunchApp, payload)); err != nil {
		t.Fatalf("launch editor: %v", err)
	}
	if len(launcher.specs) != 1 || launcher.specs[0].Path != "/usr/bin/gedit" {
		t.Fatalf("unexpected launches %+v", launcher.specs)
	}
	if got := launcher.specs[0].Args; len(got) != 2 || got[1] != "notes.txt" {
		t.Fatalf("unexpected args %v", got)
	}
	ack, ok := app.PollFrame()
	if !ok || ack.Command() != protocol.CmdAck || string(ack.Payload) != "app:editor" {
		t.Fatalf("expected ack, got ok=%v %+v", ok, ack)
	}

	payload, _ = schema.LaunchAppCommand{ApplicationPath: "app:admin"}.Encode()
	if err := app.ProcessFrame(frame.New(protocol.CmdLaunchApp, payload)); !errors.Is(err, ErrAppPermission) {
		t.Fatalf("expected ErrAppPermission, got %v", err)
	}
	payload, _ = schema.LaunchAppCommand{ApplicationPath: "app:missing"}.Encode()
	if err := app.ProcessFrame(frame.New(protocol.CmdLaunchApp, payload)); !errors.Is(err, ErrUnknownApplication) {
		t.Fatalf("expected ErrUnknownApplication, got %v", err)
	}
	payload, _ = schema.LaunchAppCommand{ApplicationPath: "/bin/sh"}.Encode()
	if err := app.ProcessFrame(frame.New(protocol.CmdLaunchApp, payload)); !errors.Is(err, ErrCustomAppsDisabled) {
		t.Fatalf("expected ErrCustomAppsDisabled, got %v", err)
	}
	if _, ok := app.PollFrame(); ok {
		t.Fatalf("failed launches must not be acknowledged")
	}
}

func TestSetOrderingAndStopAll(t *testing.T) {
	testlog.Start(t)
	set := NewSet()
	for _, svc := range []Service{NewInput(), NewClipboard()} {
		if err := svc.Start(); err != nil {
			t.Fatalf("start %s: %v", svc.Name(), err)
		}
		set.Add(svc)
	}
	ordered := set.Ordered()
	if len(ordered) != 2 || ordered[0].Name() != "clipboard" || ordered[1].Name() != "input" {
		t.Fatalf("unexpected order %v", set.Names())
	}
	if err := set.StopAll(); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("set not emptied")
	}
	for _, svc := range ordered {
		if err := svc.Stop(); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("%s should already be stopped, got %v", svc.Name(), err)
		}
	}
}

func TestAudioAccountsChunks(t *testing.T) {
	testlog.Start(t)
	a := NewAudio()
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()
	for _, n := range []int{160, 320} {
		if err := a.ProcessFrame(frame.New(protocol.CmdAudioData, make([]byte, n))); err != nil {
			t.Fatalf("audio data: %v", err)
		}
	}
	if err := a.ProcessFrame(frame.New(protocol.CmdClipboardData, nil)); !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("expected ErrUnsupportedCommand, got %v", err)
	}
	if chunks, bytes := a.Received(); chunks != 2 || bytes != 480 {
		t.Fatalf("unexpected totals chunks=%d bytes=%d", chunks, bytes)
	}
}
