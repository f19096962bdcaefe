package camera

import (
	"math"
	"time"

	"github.com/ivlev/geostory/internal/geo"
)

// segment is the span [start, end) between two consecutive keyframes. A nil
// prev stands for the virtual keyframe at the track origin, whose pose is the
// live camera sampled when the segment was resolved.
type segment struct {
	index int
	prev  *Keyframe
	next  *Keyframe
	start time.Time
	end   time.Time
	from  Pose
	to    Pose
	orbit *orbitPath
}

func (s *segment) contains(t time.Time) bool {
	return !t.Before(s.start) && t.Before(s.end)
}

// fraction is the elapsed share of the segment at t. A zero-length segment
// counts as complete.
func (s *segment) fraction(t time.Time) float64 {
	span := s.end.Sub(s.start)
	if span <= 0 {
		return 1
	}
	f := float64(t.Sub(s.start)) / float64(span)
	return math.Max(0, math.Min(1, f))
}

func (s *segment) pose(t time.Time) Pose {
	// On a real keyframe's timestamp the camera sits exactly on it.
	if s.prev != nil && t.Equal(s.start) {
		return s.from
	}
	f := s.fraction(t)
	if s.orbit != nil {
		return s.orbit.pose(f)
	}
	return Pose{
		Position:    geo.Lerp(s.from.Position, s.to.Position, f),
		Orientation: geo.SlerpHPR(s.from.Orientation, s.to.Orientation, f),
	}
}

// orbitPath sweeps the camera once around a ground point. Radius, vertical
// offset and starting bearing come from the keyframe position relative to
// the center, so the sweep starts on the recorded camera position.
type orbitPath struct {
	frame   geo.ENU
	radius  float64
	up      float64
	bearing float64
	heading float64
	pitch   float64
}

func newOrbitPath(conv geo.Converter, k *Keyframe, center geo.Cartographic) *orbitPath {
	frame := geo.NewENU(conv, center)
	e, n, u := frame.Local(conv.ToCartesian(k.Position))
	return &orbitPath{
		frame:   frame,
		radius:  math.Hypot(e, n),
		up:      u,
		bearing: math.Atan2(e, n),
		heading: k.Heading,
		pitch:   k.Pitch,
	}
}

// headingAt advances the heading by a full revolution over the segment.
func (o *orbitPath) headingAt(f float64) float64 {
	return o.heading + 2*math.Pi*f
}

// lookDown is the depression angle from the camera to the center.
func (o *orbitPath) lookDown() float64 {
	return math.Atan2(-o.up, o.radius)
}

func (o *orbitPath) pose(f float64) Pose {
	b := o.bearing + 2*math.Pi*f
	return Pose{
		Position: o.frame.World(o.radius*math.Sin(b), o.radius*math.Cos(b), o.up),
		Orientation: geo.HPR{
			Heading: o.headingAt(f),
			Pitch:   o.pitch,
		},
	}
}

func storedPose(conv geo.Converter, k *Keyframe) Pose {
	return k.Pose(conv)
}
