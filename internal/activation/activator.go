// Package activation decides, once per clock tick, which time-bounded
// resources are active and drives their playback sinks. Captions, audio and
// video each get their own Activator.
package activation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/geostory/internal/clock"
	"github.com/ivlev/geostory/internal/logging"
	"github.com/ivlev/geostory/internal/metrics"
	"github.com/ivlev/geostory/internal/timecode"
)

var (
	ErrInvalidInterval   = timecode.ErrInvalidInterval
	ErrSinkNotReady      = errors.New("sink not ready")
	ErrSinkFault         = errors.New("sink fault")
	ErrDuplicateResource = errors.New("duplicate resource id")
	ErrResourceNotFound  = errors.New("resource not found")
)

// Sink is an opaque playback handle: an audio or video element, a caption
// box.
type Sink interface {
	Seek(offset time.Duration) error
	Start() error
	Stop() error
	SetPlaybackRate(rate float64) error
}

// Resource is a sink bound to a half-open interval of presentation time.
type Resource struct {
	ID       string
	Interval timecode.Interval
	Sink     *Future
	// Label is a human-readable hint for logs (caption text, media source).
	Label string
}

// Fault reports a sink call that failed. The resource is left inactive.
type Fault struct {
	Modality string
	Resource string
	Op       string
	Time     time.Time
	Err      error
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", f.Modality, f.Resource, f.Op, f.Err)
}

func (f Fault) Unwrap() error { return f.Err }

func (f Fault) Is(target error) bool { return target == ErrSinkFault }

// Status is a snapshot of one resource.
type Status struct {
	ID      string
	Ready   bool
	Active  bool
	Faulted bool
}

type entry struct {
	res        Resource
	sink       Sink
	loadFailed bool
	active     bool
	faulted    bool
	dirty      bool
}

type Activator struct {
	name string
	clk  *clock.Clock

	entries []*entry
	byID    map[string]*entry

	playing bool
	rate    float64
	now     time.Time

	faults  chan Fault
	logger  *logging.Logger
	metrics *metrics.Registry
}

type Option func(*Activator)

func WithLogger(l *logging.Logger) Option {
	return func(a *Activator) { a.logger = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(a *Activator) { a.metrics = m }
}

// WithFaultBuffer sizes the diagnostic channel.
func WithFaultBuffer(n int) Option {
	return func(a *Activator) { a.faults = make(chan Fault, n) }
}

// New creates an Activator for one modality and subscribes it to c under
// that name. Its transport state starts from the clock's.
func New(name string, c *clock.Clock, opts ...Option) *Activator {
	a := &Activator{
		name:    name,
		clk:     c,
		byID:    make(map[string]*entry),
		playing: c.IsPlaying(),
		rate:    c.Speed(),
		now:     c.CurrentTime(),
		faults:  make(chan Fault, 64),
		logger:  logging.Discard(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithComponent(name)

	c.Subscribe(clock.EventTick, name, a.handleTick)
	c.Subscribe(clock.EventPlay, name, func(clock.Event) { a.Play() })
	c.Subscribe(clock.EventPause, name, func(clock.Event) { a.Pause() })
	c.Subscribe(clock.EventSpeedChange, name, func(ev clock.Event) { a.SetSpeed(ev.Speed) })
	c.Subscribe(clock.EventStop, name, a.handleStop)
	return a
}

func (a *Activator) Name() string { return a.name }

// Close stops active sinks and detaches from the clock.
func (a *Activator) Close() {
	a.RemoveAll()
	a.clk.UnsubscribeAll(a.name)
}

// Faults is the diagnostic channel. Sends never block; overflow is counted.
func (a *Activator) Faults() <-chan Fault { return a.faults }

// Add validates r and starts tracking it. It is evaluated on the next tick.
func (a *Activator) Add(r Resource) (string, error) {
	if err := a.checkInterval(r.Interval); err != nil {
		return "", err
	}
	if r.Sink == nil {
		return "", fmt.Errorf("%w: resource has no sink", ErrSinkNotReady)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := a.byID[r.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateResource, r.ID)
	}
	e := &entry{res: r}
	a.entries = append(a.entries, e)
	a.byID[r.ID] = e
	a.logger.Debug("resource added", "id", r.ID, "interval", r.Interval.String(), "label", r.Label)
	return r.ID, nil
}

// Edit moves a resource to a new interval. The change takes effect on the
// next tick, including a re-seek if the resource stays active.
func (a *Activator) Edit(id string, iv timecode.Interval) error {
	e, ok := a.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}
	if err := a.checkInterval(iv); err != nil {
		return err
	}
	e.res.Interval = iv
	e.dirty = true
	e.faulted = false
	return nil
}

// checkInterval rejects empty intervals and, unless the clock is unbounded,
// intervals that never overlap the presentation.
func (a *Activator) checkInterval(iv timecode.Interval) error {
	if err := iv.Validate(); err != nil {
		return err
	}
	if a.clk.Loop() != clock.Unbounded &&
		(!iv.End.After(a.clk.StartTime()) || iv.Start.After(a.clk.StopTime())) {
		return fmt.Errorf("%w: %s lies outside the presentation", ErrInvalidInterval, iv)
	}
	return nil
}

// Remove stops the resource if it is active and forgets it.
func (a *Activator) Remove(id string) error {
	e, ok := a.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}
	if e.active {
		a.deactivate(e)
	}
	delete(a.byID, id)
	for i, cur := range a.entries {
		if cur == e {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			break
		}
	}
	a.updateGauge()
	return nil
}

// RemoveAll stops every active resource and empties the activator.
func (a *Activator) RemoveAll() {
	for _, e := range a.entries {
		if e.active {
			a.deactivate(e)
		}
	}
	a.entries = nil
	a.byID = make(map[string]*entry)
	a.updateGauge()
}

// OnTick re-evaluates every resource against now.
func (a *Activator) OnTick(now time.Time) {
	a.evaluate(now, false)
}

func (a *Activator) handleTick(ev clock.Event) {
	a.evaluate(ev.Time, ev.Seek)
}

func (a *Activator) handleStop(ev clock.Event) {
	if !ev.Playing {
		a.Pause()
	}
}

// evaluate applies at most one transition per resource. After a
// discontinuous jump, resources that stay active are re-seeked and faulted
// ones get another chance.
func (a *Activator) evaluate(now time.Time, discontinuous bool) {
	a.now = now
	for _, e := range a.entries {
		if !a.ready(e) {
			continue
		}
		if discontinuous {
			e.faulted = false
		}
		if e.faulted {
			continue
		}
		want := e.res.Interval.Contains(now)
		switch {
		case want && !e.active:
			a.activate(e, now)
		case want && (discontinuous || e.dirty):
			a.reposition(e, now)
		case !want && e.active:
			a.deactivate(e)
		}
		e.dirty = false
	}
	a.updateGauge()
}

// Play starts every active sink.
func (a *Activator) Play() {
	a.playing = true
	for _, e := range a.entries {
		if e.active {
			if err := a.call(e, "start", e.sink.Start); err != nil {
				a.fail(e, "start", err)
			}
		}
	}
	a.updateGauge()
}

// Pause stops every active sink but keeps it active and positioned.
func (a *Activator) Pause() {
	a.playing = false
	for _, e := range a.entries {
		if e.active {
			if err := a.call(e, "stop", e.sink.Stop); err != nil {
				a.fail(e, "stop", err)
			}
		}
	}
	a.updateGauge()
}

// SetSpeed sets the playback rate on every ready sink, active or not.
func (a *Activator) SetSpeed(n float64) {
	a.rate = n
	for _, e := range a.entries {
		if e.sink == nil {
			continue
		}
		a.applyRate(e)
	}
}

func (a *Activator) IsPlaying() bool { return a.playing }

// Active lists the ids of active resources in insertion order.
func (a *Activator) Active() []string {
	var ids []string
	for _, e := range a.entries {
		if e.active {
			ids = append(ids, e.res.ID)
		}
	}
	return ids
}

// Status reports the state of one resource.
func (a *Activator) Status(id string) (Status, error) {
	e, ok := a.byID[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}
	return Status{ID: id, Ready: e.sink != nil, Active: e.active, Faulted: e.faulted || e.loadFailed}, nil
}

func (a *Activator) Len() int { return len(a.entries) }

// ready polls the sink future. A sink is configured with the current rate
// the first time it is seen ready.
func (a *Activator) ready(e *entry) bool {
	if e.sink != nil {
		return true
	}
	if e.loadFailed {
		return false
	}
	s, err := e.res.Sink.Poll()
	if errors.Is(err, ErrSinkNotReady) {
		return false
	}
	if err != nil {
		e.loadFailed = true
		a.report(e, "load", err)
		return false
	}
	e.sink = s
	a.logger.Debug("sink ready", "id", e.res.ID)
	if a.rate != 1 {
		a.applyRate(e)
	}
	return e.sink != nil
}

func (a *Activator) activate(e *entry, now time.Time) {
	e.active = true
	offset := e.res.Interval.Offset(now)
	if err := a.call(e, "seek", func() error { return e.sink.Seek(offset) }); err != nil {
		a.fail(e, "seek", err)
		return
	}
	if a.playing {
		if err := a.call(e, "start", e.sink.Start); err != nil {
			a.fail(e, "start", err)
			return
		}
	}
	a.metrics.Activations.WithLabelValues(a.name, "start").Inc()
	a.logger.Debug("resource activated", "id", e.res.ID, "offset", offset, "playing", a.playing)
}

func (a *Activator) reposition(e *entry, now time.Time) {
	offset := e.res.Interval.Offset(now)
	if err := a.call(e, "seek", func() error { return e.sink.Seek(offset) }); err != nil {
		a.fail(e, "seek", err)
		_ = a.call(e, "stop", e.sink.Stop)
		return
	}
	a.logger.Debug("resource repositioned", "id", e.res.ID, "offset", offset)
}

func (a *Activator) deactivate(e *entry) {
	e.active = false
	if err := a.call(e, "stop", e.sink.Stop); err != nil {
		a.fail(e, "stop", err)
		return
	}
	a.metrics.Activations.WithLabelValues(a.name, "stop").Inc()
	a.logger.Debug("resource deactivated", "id", e.res.ID)
}

func (a *Activator) applyRate(e *entry) {
	rate := a.rate
	if err := a.call(e, "rate", func() error { return e.sink.SetPlaybackRate(rate) }); err != nil {
		a.fail(e, "rate", err)
	}
}

// call runs one sink operation, turning a panic into an error.
func (a *Activator) call(e *entry, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", op, r)
		}
	}()
	return fn()
}

// fail forces the resource inactive and skips it until the next
// discontinuous tick or edit.
func (a *Activator) fail(e *entry, op string, err error) {
	e.active = false
	e.faulted = true
	a.report(e, op, err)
}

func (a *Activator) report(e *entry, op string, err error) {
	f := Fault{Modality: a.name, Resource: e.res.ID, Op: op, Time: a.now, Err: err}
	a.metrics.SinkFaults.WithLabelValues(a.name, op).Inc()
	a.logger.Warn("sink fault", "id", e.res.ID, "op", op, "error", err)
	select {
	case a.faults <- f:
	default:
		a.metrics.FaultsDropped.WithLabelValues(a.name).Inc()
	}
}

func (a *Activator) updateGauge() {
	n := 0
	for _, e := range a.entries {
		if e.active {
			n++
		}
	}
	a.metrics.ActiveSinks.WithLabelValues(a.name).Set(float64(n))
}
