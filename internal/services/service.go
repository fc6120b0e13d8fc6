// Package services implements the capability handlers multiplexed over one
// rcp connection and the factory that instantiates them by name.
package services

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
	"github.com/danmuck/rcpctl/internal/tools"
)

var (
	ErrAlreadyRunning      = errors.New("services: already running")
	ErrNotRunning          = errors.New("services: not running")
	ErrUnsupportedCommand  = errors.New("services: unsupported command")
	ErrServiceNotAvailable = errors.New("services: service not available")
	ErrOutboxFull          = errors.New("services: outbox full")
)

// Service is one named capability handler owned by a single session.
// Start and Stop are not idempotent: a second call reports a caller bug.
// PollFrame never blocks.
type Service interface {
	Name() string
	Start() error
	Stop() error
	ProcessFrame(f frame.Frame) error
	PollFrame() (frame.Frame, bool)
}

// Deps carries per-session inputs to service constructors.
type Deps struct {
	SessionID       string
	Permissions     []string
	Catalog         Catalog
	Launcher        tools.Launcher
	DisplayInterval time.Duration
}

// Constructor builds a fresh service instance.
type Constructor func(Deps) Service

// Factory maps service names to constructors.
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor)}
}

// DefaultFactory knows the built-in services.
func DefaultFactory() *Factory {
	f := NewFactory()
	f.Register(protocol.ServiceDisplay, func(d Deps) Service { return NewDisplay(d.DisplayInterval) })
	f.Register(protocol.ServiceInput, func(Deps) Service { return NewInput() })
	f.Register(protocol.ServiceClipboard, func(Deps) Service { return NewClipboard() })
	f.Register(protocol.ServiceApp, func(d Deps) Service { return NewApp(d) })
	f.Register(protocol.ServiceAudio, func(Deps) Service { return NewAudio() })
	return f
}

// Register adds or replaces a constructor.
func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[name] = ctor
}

// Create instantiates name; unknown names yield ErrServiceNotAvailable.
func (f *Factory) Create(name string, deps Deps) (Service, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotAvailable, name)
	}
	return ctor(deps), nil
}

// Names returns the available service names, sorted.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.ctors))
	for name := range f.ctors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Set is the per-session subscription map.
type Set struct {
	mu   sync.RWMutex
	repo map[string]Service
}

func NewSet() *Set {
	return &Set{repo: make(map[string]Service)}
}

// Add registers an already started service.
func (s *Set) Add(svc Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repo[svc.Name()] = svc
}

// Remove drops name and returns the removed instance.
func (s *Set) Remove(name string) (Service, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.repo[name]
	if ok {
		delete(s.repo, name)
	}
	return svc, ok
}

func (s *Set) Get(name string) (Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.repo[name]
	return svc, ok
}

func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.repo)
}

// Names returns subscribed names in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.repo))
	for name := range s.repo {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Ordered returns subscribed services sorted by name.
func (s *Set) Ordered() []Service {
	names := s.Names()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Service, 0, len(names))
	for _, name := range names {
		if svc, ok := s.repo[name]; ok {
			out = append(out, svc)
		}
	}
	return out
}

// StopAll stops and removes every service, returning the joined stop errors.
func (s *Set) StopAll() error {
	s.mu.Lock()
	repo := s.repo
	s.repo = make(map[string]Service)
	s.mu.Unlock()

	names := make([]string, 0, len(repo))
	for name := range repo {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := repo[name].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// lifecycle implements the running flag shared by all built-in services.
type lifecycle struct {
	name    string
	mu      sync.Mutex
	running bool
}

func (l *lifecycle) Name() string {
	return l.name
}

func (l *lifecycle) start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, l.name)
	}
	l.running = true
	return nil
}

func (l *lifecycle) stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return fmt.Errorf("%w: %s", ErrNotRunning, l.name)
	}
	l.running = false
	return nil
}

func (l *lifecycle) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *lifecycle) requireRunning() error {
	if !l.Running() {
		return fmt.Errorf("%w: %s", ErrNotRunning, l.name)
	}
	return nil
}

func (l *lifecycle) unsupported(f frame.Frame) error {
	return fmt.Errorf("%w: %s cannot handle %s", ErrUnsupportedCommand, l.name, f.Command())
}

// outbox is a bounded non-blocking frame queue drained by PollFrame.
type outbox chan frame.Frame

func newOutbox(size int) outbox {
	return make(outbox, size)
}

func (o outbox) push(f frame.Frame) error {
	select {
	case o <- f:
		return nil
	default:
		return ErrOutboxFull
	}
}

func (o outbox) poll() (frame.Frame, bool) {
	select {
	case f := <-o:
		return f, true
	default:
		return frame.Frame{}, false
	}
}
