package services

import (
	"sync"
	"time"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

const (
	DefaultQuality         uint8 = 80
	DefaultDisplayInterval       = 5 * time.Second
)

// Display announces the remote display geometry and tracks the requested
// video quality. Frame capture is out of scope; only DisplayInfo frames are
// produced.
type Display struct {
	lifecycle
	out      outbox
	interval time.Duration

	mu      sync.Mutex
	info    schema.DisplayInfo
	stopCh  chan struct{}
	stopped sync.WaitGroup
}

func NewDisplay(interval time.Duration) *Display {
	if interval <= 0 {
		interval = DefaultDisplayInterval
	}
	return &Display{
		lifecycle: lifecycle{name: protocol.ServiceDisplay},
		out:       newOutbox(100),
		interval:  interval,
		info: schema.DisplayInfo{
			Width:   1280,
			Height:  720,
			Format:  "jpeg",
			Quality: DefaultQuality,
		},
	}
}

// Start queues an initial DisplayInfo and begins periodic announcements.
func (d *Display) Start() error {
	if err := d.start(); err != nil {
		return err
	}
	d.announce()
	stop := make(chan struct{})
	d.mu.Lock()
	d.stopCh = stop
	d.mu.Unlock()

	d.stopped.Add(1)
	go func() {
		defer d.stopped.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.announce()
			}
		}
	}()
	return nil
}

func (d *Display) Stop() error {
	if err := d.stop(); err != nil {
		return err
	}
	d.mu.Lock()
	stop := d.stopCh
	d.stopCh = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	d.stopped.Wait()
	return nil
}

func (d *Display) ProcessFrame(f frame.Frame) error {
	if f.Command() != protocol.CmdVideoQuality {
		return d.unsupported(f)
	}
	if err := d.requireRunning(); err != nil {
		return err
	}
	q, err := schema.DecodeQuality(f.Payload)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.info.Quality = q
	d.mu.Unlock()
	log.Debug().Uint8("quality", q).Msg("services.display quality updated")
	d.announce()
	return nil
}

func (d *Display) PollFrame() (frame.Frame, bool) {
	return d.out.poll()
}

// Info returns the current display description.
func (d *Display) Info() schema.DisplayInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

func (d *Display) announce() {
	payload, err := d.Info().Encode()
	if err != nil {
		log.Warn().Err(err).Msg("services.display encode info")
		return
	}
	if err := d.out.push(frame.New(protocol.CmdDisplayInfo, payload)); err != nil {
		log.Debug().Err(err).Msg("services.display announcement dropped")
	}
}
