// Package media provides headless playback sinks: a console caption box and
// a position-tracking player for audio and video files.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ivlev/geostory/internal/activation"
	"github.com/ivlev/geostory/internal/logging"
	"github.com/ivlev/geostory/internal/system"
)

// CaptionSink prints its text when shown. It has no media position, so
// seeks only make it visible.
type CaptionSink struct {
	mu      sync.Mutex
	id      string
	text    string
	out     io.Writer
	visible bool
}

func NewCaptionSink(id, text string, out io.Writer) *CaptionSink {
	return &CaptionSink{id: id, text: text, out: out}
}

func (c *CaptionSink) Seek(time.Duration) error {
	c.show()
	return nil
}

func (c *CaptionSink) Start() error {
	c.show()
	return nil
}

func (c *CaptionSink) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = false
	return nil
}

func (c *CaptionSink) SetPlaybackRate(float64) error { return nil }

func (c *CaptionSink) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

func (c *CaptionSink) show() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visible {
		return
	}
	c.visible = true
	fmt.Fprintf(c.out, "[cc] %s\n", c.text)
}

// Player is a headless media element. It tracks where playback would be
// without decoding anything.
type Player struct {
	mu       sync.Mutex
	src      string
	duration time.Duration
	wall     clockwork.Clock
	logger   *logging.Logger

	offset  time.Duration
	rate    float64
	playing bool
	since   time.Time
}

type PlayerOption func(*Player)

func WithWallClock(w clockwork.Clock) PlayerOption {
	return func(p *Player) { p.wall = w }
}

func WithLogger(l *logging.Logger) PlayerOption {
	return func(p *Player) { p.logger = l }
}

// NewPlayer creates a paused player at offset zero. A zero duration means
// unknown and disables clamping.
func NewPlayer(src string, duration time.Duration, opts ...PlayerOption) *Player {
	p := &Player{
		src:      src,
		duration: duration,
		wall:     clockwork.NewRealClock(),
		logger:   logging.Discard(),
		rate:     1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Player) Seek(offset time.Duration) error {
	if offset < 0 {
		return fmt.Errorf("seek %s: negative offset %s", p.src, offset)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offset = p.clamp(offset)
	p.since = p.wall.Now()
	p.logger.Debug("seek", "src", p.src, "offset", p.offset)
	return nil
}

func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return nil
	}
	p.playing = true
	p.since = p.wall.Now()
	p.logger.Debug("start", "src", p.src, "offset", p.offset)
	return nil
}

func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return nil
	}
	p.offset = p.position()
	p.playing = false
	p.logger.Debug("stop", "src", p.src, "offset", p.offset)
	return nil
}

// SetPlaybackRate accepts any finite rate. Negative rates play backward,
// which real media elements may refuse; this one clamps at zero.
func (p *Player) SetPlaybackRate(rate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offset = p.position()
	p.since = p.wall.Now()
	p.rate = rate
	return nil
}

// Position is the current playback offset.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position()
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Duration() time.Duration { return p.duration }

func (p *Player) position() time.Duration {
	if !p.playing {
		return p.offset
	}
	elapsed := p.wall.Since(p.since)
	return p.clamp(p.offset + time.Duration(float64(elapsed)*p.rate))
}

func (p *Player) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if p.duration > 0 && d > p.duration {
		return p.duration
	}
	return d
}

// ProbeFunc reports a media file's duration.
type ProbeFunc func(ctx context.Context, path string) (time.Duration, error)

// PlayerLoader checks that src exists and probes its duration before
// handing out a Player. A failed probe is logged and the player is built
// with an unknown duration.
func PlayerLoader(src string, probe ProbeFunc, opts ...PlayerOption) activation.LoadFunc {
	return func(ctx context.Context) (activation.Sink, error) {
		if _, err := os.Stat(src); err != nil {
			return nil, fmt.Errorf("media %s: %w", src, err)
		}
		p := NewPlayer(src, 0, opts...)
		if probe == nil {
			probe = system.ProbeDuration
		}
		d, err := probe(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("duration probe failed", "src", src, "error", err)
			return p, nil
		}
		p.duration = d
		return p, nil
	}
}
