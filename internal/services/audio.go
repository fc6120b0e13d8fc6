package services

import (
	"sync/atomic"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
)

// Audio accepts AudioData chunks and accounts for them. Playback is left to
// the embedding application.
type Audio struct {
	lifecycle

	chunks atomic.Uint64
	bytes  atomic.Uint64
}

func NewAudio() *Audio {
	return &Audio{lifecycle: lifecycle{name: protocol.ServiceAudio}}
}

func (a *Audio) Start() error { return a.start() }
func (a *Audio) Stop() error  { return a.stop() }

func (a *Audio) ProcessFrame(f frame.Frame) error {
	if f.Command() != protocol.CmdAudioData {
		return a.unsupported(f)
	}
	if err := a.requireRunning(); err != nil {
		return err
	}
	a.chunks.Add(1)
	a.bytes.Add(uint64(len(f.Payload)))
	return nil
}

func (a *Audio) PollFrame() (frame.Frame, bool) {
	return frame.Frame{}, false
}

// Received returns chunk and byte totals.
func (a *Audio) Received() (chunks uint64, bytes uint64) {
	return a.chunks.Load(), a.bytes.Load()
}
