package director

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/geostory/internal/clock"
	"github.com/ivlev/geostory/internal/geo"
	"github.com/ivlev/geostory/internal/timecode"
)

// metersPerDegree is the length of one degree of latitude, close enough for
// placing a camera a few kilometers from its target.
const metersPerDegree = 111320.0

// Waypoint is one stop of a generated tour.
type Waypoint struct {
	Name   string           `yaml:"name"`
	Target geo.Cartographic `yaml:"target"`
	// Range is the horizontal distance from camera to target, meters.
	Range float64 `yaml:"range,omitempty"`
	// Height is the camera height above the target, meters.
	Height float64 `yaml:"height,omitempty"`
	// Heading is the direction the camera faces, degrees.
	Heading float64 `yaml:"heading,omitempty"`
	Orbit   bool    `yaml:"orbit,omitempty"`
	Caption string  `yaml:"caption,omitempty"`
}

// Director generates camera tours from waypoints
type Director struct {
	MinDwell time.Duration // Minimum time per waypoint
	MaxDwell time.Duration // Maximum time per waypoint
	Intro    time.Duration // Flight from the home view to the first waypoint
	Outro    time.Duration
	// HoldShare is the part of a waypoint's dwell spent holding or orbiting
	// before flying on.
	HoldShare float64

	DefaultRange  float64
	DefaultHeight float64
	HomeHeight    float64
}

// NewDirector creates a new Director with default settings
func NewDirector() *Director {
	return &Director{
		MinDwell:      4 * time.Second,
		MaxDwell:      20 * time.Second,
		Intro:         3 * time.Second,
		Outro:         2 * time.Second,
		HoldShare:     0.6,
		DefaultRange:  1500,
		DefaultHeight: 800,
		HomeHeight:    20000,
	}
}

// GenerateTour spreads duration over the waypoints. Every waypoint gets an
// arrival keyframe and a hold keyframe; the hold orbits the target when the
// waypoint asks for it. The clock stops at start+duration or when the last
// flight ends, whichever is later.
func (d *Director) GenerateTour(waypoints []Waypoint, start time.Time, duration time.Duration) (*Scenario, error) {
	if len(waypoints) == 0 {
		return nil, fmt.Errorf("no waypoints")
	}
	for i, wp := range waypoints {
		if !wp.Target.Valid() {
			return nil, fmt.Errorf("waypoint %d (%s): invalid target %+v", i+1, wp.Name, wp.Target)
		}
	}
	start = start.UTC().Truncate(time.Millisecond)

	dwell := d.calculateDwellTime(duration, len(waypoints))
	hold := time.Duration(float64(dwell) * d.HoldShare).Truncate(time.Millisecond)
	if hold <= 0 || hold >= dwell {
		hold = dwell / 2
	}

	s := &Scenario{Version: CurrentVersion}
	first := d.cameraPose(waypoints[0])
	s.Home = &Pose{
		Position: geo.Cartographic{Lon: first.Position.Lon, Lat: first.Position.Lat, Height: d.HomeHeight},
		Heading:  first.Heading,
		Pitch:    -90,
	}

	t := start.Add(d.Intro)
	for i, wp := range waypoints {
		pose := d.cameraPose(wp)
		focus := wp.Name
		if focus == "" {
			focus = fmt.Sprintf("waypoint_%d", i+1)
		}

		s.Keyframes = append(s.Keyframes, Keyframe{
			ID:    uuid.NewString(),
			Time:  timecode.Format(t),
			Focus: focus,
			Pose:  pose,
		})

		held := Keyframe{
			ID:    uuid.NewString(),
			Time:  timecode.Format(t.Add(hold)),
			Focus: focus,
			Pose:  pose,
		}
		if wp.Orbit {
			held.OrbitCenter = []float64{wp.Target.Lon, wp.Target.Lat}
		}
		s.Keyframes = append(s.Keyframes, held)

		if wp.Caption != "" {
			s.Captions = append(s.Captions, Caption{
				ID:       uuid.NewString(),
				Interval: timecode.Interval{Start: t, End: t.Add(dwell)},
				Text:     wp.Caption,
			})
		}
		t = t.Add(dwell)
	}

	stop := start.Add(duration)
	if end := t.Add(d.Outro); end.After(stop) {
		stop = end
	}
	s.Clock = ClockSpec{
		Start: timecode.Format(start),
		Stop:  timecode.Format(stop),
		Speed: 1,
		Loop:  clock.Clamped.String(),
	}
	return s, nil
}

// calculateDwellTime determines how long to spend at each waypoint
func (d *Director) calculateDwellTime(total time.Duration, count int) time.Duration {
	available := total - d.Intro - d.Outro
	if available <= 0 {
		available = total
	}

	dwell := available / time.Duration(count)

	// Clamp to min/max
	if dwell < d.MinDwell {
		dwell = d.MinDwell
	}
	if dwell > d.MaxDwell {
		dwell = d.MaxDwell
	}

	return dwell.Truncate(time.Millisecond)
}

// cameraPose places the camera behind the target along its heading and
// tilts it down onto the target.
func (d *Director) cameraPose(wp Waypoint) Pose {
	rng, height := wp.Range, wp.Height
	if rng <= 0 {
		rng = d.DefaultRange
	}
	if height <= 0 {
		height = d.DefaultHeight
	}

	back := geo.Radians(wp.Heading + 180)
	east, north := rng*math.Sin(back), rng*math.Cos(back)
	lat := wp.Target.Lat + north/metersPerDegree
	lon := wp.Target.Lon + east/(metersPerDegree*math.Cos(geo.Radians(wp.Target.Lat)))

	return Pose{
		Position: geo.Cartographic{Lon: lon, Lat: lat, Height: wp.Target.Height + height},
		Heading:  wp.Heading,
		Pitch:    -geo.Degrees(math.Atan2(height, rng)),
	}
}
