package tools

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
)

var (
	ErrUnknownDefaultApp = errors.New("tools: unknown default application")
	ErrNoCandidate       = errors.New("tools: no launch candidate found")
)

// LaunchSpec describes one detached process start.
type LaunchSpec struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string
}

func (s LaunchSpec) String() string {
	if len(s.Args) == 0 {
		return s.Path
	}
	return s.Path + " " + strings.Join(s.Args, " ")
}

// Launcher starts a process without waiting for it to exit.
type Launcher interface {
	Launch(spec LaunchSpec) (int, error)
}

// ExecLauncher launches processes on the local host.
type ExecLauncher struct{}

// Launch starts spec and reaps it in the background. It returns the pid.
func (ExecLauncher) Launch(spec LaunchSpec) (int, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), envPairs(spec.Env)...)
	}
	if err := cmd.Start(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return 0, fmt.Errorf("tools: launch %q: %w", spec.Path, execErr.Err)
		}
		return 0, fmt.Errorf("tools: launch %q: %w", spec.Path, err)
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func envPairs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// DefaultCandidates lists launch candidates for a platform default kind
// ("terminal", "browser", "calculator", "textedit", "notepad").
func DefaultCandidates(kind string, goos string) ([]LaunchSpec, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	table, ok := defaultApps[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefaultApp, kind)
	}
	specs := table[goos]
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoCandidate, kind, goos)
	}
	return specs, nil
}

// LaunchDefault tries each platform candidate in order until one starts.
func LaunchDefault(l Launcher, kind string) (LaunchSpec, int, error) {
	return LaunchDefaultFor(l, kind, runtime.GOOS)
}

func LaunchDefaultFor(l Launcher, kind string, goos string) (LaunchSpec, int, error) {
	specs, err := DefaultCandidates(kind, goos)
	if err != nil {
		return LaunchSpec{}, 0, err
	}
	var lastErr error
	for _, spec := range specs {
		pid, err := l.Launch(spec)
		if err == nil {
			return spec, pid, nil
		}
		lastErr = err
	}
	return LaunchSpec{}, 0, fmt.Errorf("%w: %s: %v", ErrNoCandidate, kind, lastErr)
}

func specs(names ...string) []LaunchSpec {
	out := make([]LaunchSpec, 0, len(names))
	for _, n := range names {
		out = append(out, LaunchSpec{Path: n})
	}
	return out
}

const homepage = "https://www.google.com"

var defaultApps = map[string]map[string][]LaunchSpec{
	"terminal": {
		"linux":   specs("gnome-terminal", "konsole", "xterm", "rxvt", "terminator"),
		"darwin":  {{Path: "open", Args: []string{"-a", "Terminal"}}},
		"windows": specs("cmd.exe"),
	},
	"browser": {
		"linux":   {{Path: "xdg-open", Args: []string{homepage}}},
		"darwin":  {{Path: "open", Args: []string{homepage}}},
		"windows": {{Path: "explorer", Args: []string{homepage}}},
	},
	"calculator": {
		"linux":   specs("gnome-calculator", "kcalc", "xcalc", "qalculate"),
		"darwin":  {{Path: "open", Args: []string{"-a", "Calculator"}}},
		"windows": specs("calc.exe"),
	},
	"textedit": {
		"linux":   specs("gedit", "kate", "kwrite", "mousepad", "leafpad", "nano", "vim", "vi"),
		"darwin":  {{Path: "open", Args: []string{"-a", "TextEdit"}}},
		"windows": specs("notepad.exe"),
	},
	"notepad": {
		"windows": specs("notepad.exe"),
	},
}
