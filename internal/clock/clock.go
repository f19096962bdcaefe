// Package clock provides the presentation clock: the single owner of current
// time, play state and speed, fanning tick and transport events out to named
// subscribers in registration order.
package clock

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ivlev/geostory/internal/logging"
	"github.com/ivlev/geostory/internal/metrics"
)

var (
	ErrInvalidBounds = errors.New("invalid clock bounds")
	ErrInvalidSpeed  = errors.New("invalid speed multiplier")
	ErrOutOfRange    = errors.New("time outside presentation bounds")
)

// EventKind identifies one of the clock's event streams.
type EventKind int

const (
	EventTick EventKind = iota
	EventStop
	EventPlay
	EventPause
	EventSpeedChange

	numKinds
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventStop:
		return "stop"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventSpeedChange:
		return "speed_change"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// LoopPolicy decides what happens when playback reaches a bound.
type LoopPolicy int

const (
	// LoopStop wraps forward playback from stop back to start and clamps
	// reverse playback at start.
	LoopStop LoopPolicy = iota
	// Clamped holds at whichever bound was reached and pauses.
	Clamped
	// Unbounded lets time run past both bounds.
	Unbounded
)

func (p LoopPolicy) String() string {
	switch p {
	case LoopStop:
		return "loop-stop"
	case Clamped:
		return "clamped"
	case Unbounded:
		return "unbounded"
	}
	return fmt.Sprintf("loop(%d)", int(p))
}

// ParseLoopPolicy accepts the names produced by String.
func ParseLoopPolicy(s string) (LoopPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "loop-stop", "loop_stop", "loop":
		return LoopStop, nil
	case "clamped", "clamp":
		return Clamped, nil
	case "unbounded":
		return Unbounded, nil
	}
	return LoopStop, fmt.Errorf("unknown loop policy %q", s)
}

// Event is delivered to subscribers.
type Event struct {
	Kind EventKind
	Time time.Time
	// Speed carries the new multiplier on EventSpeedChange.
	Speed float64
	// Seek marks a tick produced by a discontinuous jump (seek or loop
	// wrap). Subscribers must not trust cached state across it.
	Seek bool
	// Playing is the clock's play flag after the event.
	Playing bool
}

type Handler func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	Kind EventKind
	Name string
}

type subscriber struct {
	name    string
	handler Handler
}

// Config describes the presentation bounds and initial transport state.
type Config struct {
	Start   time.Time
	Stop    time.Time
	Current time.Time // defaults to Start
	Speed   float64   // defaults to 1
	Loop    LoopPolicy
	Playing bool
}

type Clock struct {
	start   time.Time
	stop    time.Time
	current time.Time
	playing bool
	speed   float64
	loop    LoopPolicy

	subs   [numKinds][]subscriber
	firing [numKinds]bool

	logger  *logging.Logger
	metrics *metrics.Registry
}

type Option func(*Clock)

func WithLogger(l *logging.Logger) Option {
	return func(c *Clock) { c.logger = l.WithComponent("clock") }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(c *Clock) { c.metrics = m }
}

// New validates the bounds and returns a paused or playing clock.
func New(cfg Config, opts ...Option) (*Clock, error) {
	if cfg.Start.IsZero() || cfg.Stop.IsZero() || !cfg.Stop.After(cfg.Start) {
		return nil, fmt.Errorf("%w: start %v stop %v", ErrInvalidBounds, cfg.Start, cfg.Stop)
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1
	}
	if !validSpeed(cfg.Speed) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpeed, cfg.Speed)
	}
	if cfg.Current.IsZero() {
		cfg.Current = cfg.Start
	}

	c := &Clock{
		start:   cfg.Start.UTC(),
		stop:    cfg.Stop.UTC(),
		current: cfg.Current.UTC(),
		playing: cfg.Playing,
		speed:   cfg.Speed,
		loop:    cfg.Loop,
		logger:  logging.Discard(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loop != Unbounded && !c.inBounds(c.current) {
		return nil, fmt.Errorf("%w: current %v", ErrOutOfRange, c.current)
	}
	c.metrics.Speed.Set(c.speed)
	c.metrics.Playing.Set(boolGauge(c.playing))
	return c, nil
}

func (c *Clock) CurrentTime() time.Time { return c.current }
func (c *Clock) StartTime() time.Time   { return c.start }
func (c *Clock) StopTime() time.Time    { return c.stop }
func (c *Clock) IsPlaying() bool        { return c.playing }
func (c *Clock) Speed() float64         { return c.speed }
func (c *Clock) Loop() LoopPolicy       { return c.loop }

// Subscribe registers h under (kind, name). Registering an existing pair
// replaces its handler in place, keeping the original notification order.
func (c *Clock) Subscribe(kind EventKind, name string, h Handler) Subscription {
	sub := Subscription{Kind: kind, Name: name}
	if kind < 0 || kind >= numKinds || h == nil {
		return sub
	}
	for i := range c.subs[kind] {
		if c.subs[kind][i].name == name {
			c.subs[kind][i].handler = h
			return sub
		}
	}
	c.subs[kind] = append(c.subs[kind], subscriber{name: name, handler: h})
	return sub
}

// Unsubscribe removes the subscription. Removing twice is a no-op.
func (c *Clock) Unsubscribe(s Subscription) {
	if s.Kind < 0 || s.Kind >= numKinds {
		return
	}
	list := c.subs[s.Kind]
	for i := range list {
		if list[i].name == s.Name {
			c.subs[s.Kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every subscription registered under name.
func (c *Clock) UnsubscribeAll(name string) {
	for k := EventKind(0); k < numKinds; k++ {
		c.Unsubscribe(Subscription{Kind: k, Name: name})
	}
}

// Subscribers lists the names registered for kind, in notification order.
func (c *Clock) Subscribers(kind EventKind) []string {
	if kind < 0 || kind >= numKinds {
		return nil
	}
	names := make([]string, len(c.subs[kind]))
	for i, s := range c.subs[kind] {
		names[i] = s.name
	}
	return names
}

// Play resumes time advancement. Calling Play while playing does nothing.
func (c *Clock) Play() {
	if c.playing {
		return
	}
	c.playing = true
	c.metrics.Playing.Set(1)
	c.fire(Event{Kind: EventPlay, Time: c.current})
}

// Pause halts time advancement. Calling Pause while paused does nothing.
func (c *Clock) Pause() {
	if !c.playing {
		return
	}
	c.playing = false
	c.metrics.Playing.Set(0)
	c.fire(Event{Kind: EventPause, Time: c.current})
}

// SetSpeed notifies subscribers with the new value before storing it, so
// handlers can still read the previous multiplier from the clock.
func (c *Clock) SetSpeed(n float64) error {
	if !validSpeed(n) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, n)
	}
	if n == c.speed {
		return nil
	}
	c.fire(Event{Kind: EventSpeedChange, Time: c.current, Speed: n})
	c.speed = n
	c.metrics.Speed.Set(n)
	return nil
}

// Seek jumps to t and fires a discontinuous tick synchronously. It is the
// only way to move time backward.
func (c *Clock) Seek(t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("%w: zero time", ErrOutOfRange)
	}
	t = t.UTC()
	if c.loop != Unbounded && !c.inBounds(t) {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, t, c.start, c.stop)
	}
	c.current = t
	c.metrics.Seeks.Inc()
	c.tick(true)
	return nil
}

// Advance is the render-loop callback. While playing it moves time by
// elapsed*speed, applies the loop policy and fires tick, then stop if a
// bound was hit.
func (c *Clock) Advance(elapsed time.Duration) {
	if !c.playing || elapsed <= 0 {
		return
	}
	next := c.current.Add(time.Duration(float64(elapsed) * c.speed))

	if c.loop == Unbounded {
		c.current = next
		c.tick(false)
		return
	}

	switch {
	case c.speed > 0 && c.loop == LoopStop && !next.Before(c.stop):
		c.current = c.start
		c.metrics.Seeks.Inc()
		c.tick(true)
		c.halt(true)
	case c.speed > 0 && !next.Before(c.stop):
		c.current = c.stop
		c.tick(false)
		c.halt(false)
	case c.speed < 0 && !next.After(c.start):
		c.current = c.start
		c.tick(false)
		c.halt(false)
	default:
		c.current = next
		c.tick(false)
	}
}

// halt fires stop after a bound was hit. keepPlaying is false when the
// policy clamps.
func (c *Clock) halt(keepPlaying bool) {
	if !keepPlaying {
		c.playing = false
		c.metrics.Playing.Set(0)
	}
	c.metrics.Stops.Inc()
	c.logger.Debug("presentation bound reached", "time", c.current, "loop", c.loop.String(), "playing", c.playing)
	c.fire(Event{Kind: EventStop, Time: c.current})
}

func (c *Clock) tick(seek bool) {
	started := time.Now()
	c.metrics.Ticks.Inc()
	c.fire(Event{Kind: EventTick, Time: c.current, Seek: seek})
	c.metrics.TickDuration.Observe(time.Since(started).Seconds())
}

// fire notifies subscribers of ev.Kind in registration order. An event of a
// kind currently being delivered is refused rather than nested.
func (c *Clock) fire(ev Event) {
	ev.Playing = c.playing
	if c.firing[ev.Kind] {
		c.logger.Warn("re-entrant event refused", "event", ev.Kind.String(), "time", ev.Time)
		return
	}
	c.firing[ev.Kind] = true
	defer func() { c.firing[ev.Kind] = false }()

	list := make([]subscriber, len(c.subs[ev.Kind]))
	copy(list, c.subs[ev.Kind])
	for _, s := range list {
		c.deliver(s, ev)
	}
}

func (c *Clock) deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber panicked", "subscriber", s.name, "event", ev.Kind.String(), "panic", r)
		}
	}()
	s.handler(ev)
}

func (c *Clock) inBounds(t time.Time) bool {
	return !t.Before(c.start) && !t.After(c.stop)
}

func validSpeed(n float64) bool {
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
