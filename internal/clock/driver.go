package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ivlev/geostory/internal/logging"
)

// Driver is the render loop. It owns the goroutine that advances the Clock;
// commands from elsewhere are queued through Do and run between frames.
type Driver struct {
	clock    *Clock
	wall     clockwork.Clock
	interval time.Duration
	cmds     chan func(*Clock)
	logger   *logging.Logger
}

type DriverOption func(*Driver)

// WithWallClock swaps the frame time source. Tests pass a fake clock.
func WithWallClock(w clockwork.Clock) DriverOption {
	return func(d *Driver) { d.wall = w }
}

func WithDriverLogger(l *logging.Logger) DriverOption {
	return func(d *Driver) { d.logger = l.WithComponent("driver") }
}

// NewDriver builds a loop producing fps frames per second of wall time.
func NewDriver(c *Clock, fps int, opts ...DriverOption) *Driver {
	if fps <= 0 {
		fps = 60
	}
	d := &Driver{
		clock:    c,
		wall:     clockwork.NewRealClock(),
		interval: time.Second / time.Duration(fps),
		cmds:     make(chan func(*Clock), 64),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Interval() time.Duration { return d.interval }

// Do queues fn to run on the loop goroutine.
func (d *Driver) Do(ctx context.Context, fn func(*Clock)) error {
	select {
	case d.cmds <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives frames until ctx is done. Elapsed time is measured between
// frames, so a late frame advances the clock by the real gap.
func (d *Driver) Run(ctx context.Context) error {
	ticker := d.wall.NewTicker(d.interval)
	defer ticker.Stop()

	last := d.wall.Now()
	d.logger.Debug("render loop started", "interval", d.interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("render loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case fn := <-d.cmds:
			fn(d.clock)
		case now := <-ticker.Chan():
			elapsed := now.Sub(last)
			last = now
			d.clock.Advance(elapsed)
		}
	}
}
