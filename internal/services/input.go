package services

import (
	"sync"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// InputSink receives decoded input events. Injection into the host is left
// to the embedding application.
type InputSink func(schema.InputEvent)

// Input validates SendInput payloads and hands them to an optional sink.
type Input struct {
	lifecycle
	sink InputSink

	mu     sync.Mutex
	counts map[schema.InputKind]uint64
	last   schema.InputEvent
}

func NewInput() *Input {
	return &Input{
		lifecycle: lifecycle{name: protocol.ServiceInput},
		counts:    make(map[schema.InputKind]uint64),
	}
}

// WithSink installs fn as the event consumer.
func (in *Input) WithSink(fn InputSink) *Input {
	in.sink = fn
	return in
}

func (in *Input) Start() error { return in.start() }
func (in *Input) Stop() error  { return in.stop() }

func (in *Input) ProcessFrame(f frame.Frame) error {
	if f.Command() != protocol.CmdSendInput {
		return in.unsupported(f)
	}
	if err := in.requireRunning(); err != nil {
		return err
	}
	ev, err := schema.DecodeInputEvent(f.Payload)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.counts[ev.Kind]++
	in.last = ev
	in.mu.Unlock()
	log.Debug().Str("kind", ev.Kind.String()).Msg("services.input event")
	if in.sink != nil {
		in.sink(ev)
	}
	return nil
}

func (in *Input) PollFrame() (frame.Frame, bool) {
	return frame.Frame{}, false
}

// Count returns how many events of kind were accepted.
func (in *Input) Count(kind schema.InputKind) uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.counts[kind]
}

func (in *Input) Last() schema.InputEvent {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.last
}
