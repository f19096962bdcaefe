// Package camera drives the viewer camera along a track of time-stamped
// keyframes, one pose write per clock tick.
package camera

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/geostory/internal/clock"
	"github.com/ivlev/geostory/internal/geo"
	"github.com/ivlev/geostory/internal/logging"
	"github.com/ivlev/geostory/internal/metrics"
)

// SubscriberName is the name the track registers under on the clock.
const SubscriberName = "camera-track"

// Track holds keyframes sorted by time and the cached active segment.
type Track struct {
	clk    *clock.Clock
	viewer Viewer
	conv   geo.Converter
	origin time.Time

	byID   map[string]*Keyframe
	sorted []*Keyframe

	seg     *segment
	settled bool

	// originPose is the virtual keyframe's pose, sampled from the viewer
	// on first use. Seeks keep it; keyframe changes drop it.
	originPose *Pose

	logger  *logging.Logger
	metrics *metrics.Registry
}

type Option func(*Track)

func WithConverter(conv geo.Converter) Option {
	return func(t *Track) { t.conv = conv }
}

func WithLogger(l *logging.Logger) Option {
	return func(t *Track) { t.logger = l.WithComponent("camera") }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(t *Track) { t.metrics = m }
}

// NewTrack creates an empty track and subscribes it to c's ticks. The
// clock's start time is the origin of the virtual keyframe.
func NewTrack(c *clock.Clock, v Viewer, opts ...Option) *Track {
	t := &Track{
		clk:     c,
		viewer:  v,
		conv:    geo.WGS84{},
		origin:  c.StartTime(),
		byID:    make(map[string]*Keyframe),
		logger:  logging.Discard(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	c.Subscribe(clock.EventTick, SubscriberName, t.handleTick)
	return t
}

// Close detaches the track from its clock.
func (t *Track) Close() {
	t.clk.UnsubscribeAll(SubscriberName)
}

// AddKeyframe inserts k. A keyframe already at k.Time is reported as
// ErrDuplicateKeyframe and the track is left unchanged. An empty ID is
// filled in; the stored keyframe is returned.
func (t *Track) AddKeyframe(k Keyframe) (Keyframe, error) {
	if err := k.validate(); err != nil {
		return Keyframe{}, err
	}
	k.Time = k.Time.UTC()
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if _, exists := t.byID[k.ID]; exists {
		return Keyframe{}, fmt.Errorf("%w: id %s already used", ErrInvalidKeyframe, k.ID)
	}
	if other := t.at(k.Time); other != nil {
		return Keyframe{}, fmt.Errorf("%w: %s already holds %s", ErrDuplicateKeyframe, other.ID, k.Time)
	}
	if k.Transition == nil {
		k.Transition = Default{}
	}

	stored := k
	t.byID[k.ID] = &stored
	t.resort()
	t.logger.Debug("keyframe added", "id", k.ID, "time", k.Time, "orbit", k.IsOrbit())
	return stored, nil
}

// UpdateKeyframe replaces the keyframe with k.ID.
func (t *Track) UpdateKeyframe(k Keyframe) error {
	cur, ok := t.byID[k.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyframeNotFound, k.ID)
	}
	if err := k.validate(); err != nil {
		return err
	}
	k.Time = k.Time.UTC()
	if other := t.at(k.Time); other != nil && other.ID != k.ID {
		return fmt.Errorf("%w: %s already holds %s", ErrDuplicateKeyframe, other.ID, k.Time)
	}
	if k.Transition == nil {
		k.Transition = Default{}
	}
	*cur = k
	t.resort()
	return nil
}

// RemoveKeyframe deletes the keyframe with id.
func (t *Track) RemoveKeyframe(id string) error {
	if _, ok := t.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrKeyframeNotFound, id)
	}
	delete(t.byID, id)
	t.resort()
	return nil
}

// Keyframes returns the sorted view.
func (t *Track) Keyframes() []Keyframe {
	out := make([]Keyframe, len(t.sorted))
	for i, k := range t.sorted {
		out[i] = *k
	}
	return out
}

func (t *Track) Len() int { return len(t.sorted) }

// OnTick writes the pose for now to the viewer, if there is one to write.
func (t *Track) OnTick(now time.Time) {
	pose, ok := t.PoseAt(now)
	if !ok {
		return
	}
	if err := t.viewer.SetView(pose); err != nil {
		t.metrics.PoseWriteErrors.Inc()
		t.logger.Warn("pose write failed", "time", now, "error", err)
		return
	}
	t.metrics.PoseWrites.Inc()
}

// PoseAt resolves the camera pose for now. It reports false when the track
// has nothing to write: empty, before the origin, or already holding the
// last keyframe.
func (t *Track) PoseAt(now time.Time) (Pose, bool) {
	if len(t.sorted) == 0 {
		return Pose{}, false
	}

	last := t.sorted[len(t.sorted)-1]
	if !now.Before(last.Time) {
		if t.settled {
			return Pose{}, false
		}
		t.settled = true
		return storedPose(t.conv, last), true
	}
	t.settled = false

	if t.seg == nil || !t.seg.contains(now) {
		seg := t.resolve(now)
		if seg == nil {
			return Pose{}, false
		}
		t.seg = seg
	}
	return t.seg.pose(now), true
}

func (t *Track) handleTick(ev clock.Event) {
	if ev.Seek {
		t.invalidate()
	}
	t.OnTick(ev.Time)
}

// resolve scans for the segment containing now. The caller has already
// checked that now is before the last keyframe.
func (t *Track) resolve(now time.Time) *segment {
	t.metrics.SegmentMisses.Inc()

	first := t.sorted[0]
	if now.Before(first.Time) {
		if now.Before(t.origin) {
			return nil
		}
		return t.newSegment(0, nil, first, t.origin)
	}
	for i := 0; i < len(t.sorted)-1; i++ {
		prev, next := t.sorted[i], t.sorted[i+1]
		if !now.Before(prev.Time) && now.Before(next.Time) {
			return t.newSegment(i+1, prev, next, prev.Time)
		}
	}
	return nil
}

func (t *Track) newSegment(index int, prev, next *Keyframe, start time.Time) *segment {
	seg := &segment{
		index: index,
		prev:  prev,
		next:  next,
		start: start,
		end:   next.Time,
		to:    storedPose(t.conv, next),
	}
	if prev != nil {
		seg.from = storedPose(t.conv, prev)
	} else {
		if t.originPose == nil {
			live := t.viewer.CurrentPose()
			t.originPose = &live
		}
		seg.from = *t.originPose
	}
	if orbit, ok := next.Transition.(Orbit); ok {
		seg.orbit = newOrbitPath(t.conv, next, orbit.Center)
		t.logger.Debug("orbit segment", "keyframe", next.ID, "radius", seg.orbit.radius,
			"look_down", geo.Degrees(seg.orbit.lookDown()))
	}
	return seg
}

func (t *Track) at(ts time.Time) *Keyframe {
	for _, k := range t.byID {
		if k.Time.Equal(ts) {
			return k
		}
	}
	return nil
}

// resort rebuilds the sorted view and drops derived caches.
func (t *Track) resort() {
	sorted := make([]*Keyframe, 0, len(t.byID))
	for _, k := range t.byID {
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	t.sorted = sorted
	t.originPose = nil
	t.invalidate()
}

func (t *Track) invalidate() {
	t.seg = nil
	t.settled = false
}
