package director

import (
	"errors"
	"fmt"

	"github.com/ivlev/geostory/internal/camera"
	"github.com/ivlev/geostory/internal/clock"
	"github.com/ivlev/geostory/internal/geo"
	"github.com/ivlev/geostory/internal/timecode"
)

// CurrentVersion is written into generated scenarios.
const CurrentVersion = "1.0"

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a complete presentation: clock range, camera keyframes and
// the timed captions, audio and video.
type Scenario struct {
	Version   string     `yaml:"version"`
	Clock     ClockSpec  `yaml:"clock"`
	Home      *Pose      `yaml:"home,omitempty"`
	Keyframes []Keyframe `yaml:"keyframes"`
	Captions  []Caption  `yaml:"captions,omitempty"`
	Audio     []Media    `yaml:"audio,omitempty"`
	Video     []Media    `yaml:"video,omitempty"`
}

// ClockSpec holds the presentation range as ISO-8601 UTC timestamps.
type ClockSpec struct {
	Start string  `yaml:"start"`
	Stop  string  `yaml:"stop"`
	Speed float64 `yaml:"speed,omitempty"`
	Loop  string  `yaml:"loop,omitempty"` // loop-stop, clamped, unbounded
}

// Pose is a camera placement. Angles are degrees.
type Pose struct {
	Position geo.Cartographic `yaml:"position"`
	Heading  float64          `yaml:"heading"`
	Pitch    float64          `yaml:"pitch"`
	Roll     float64          `yaml:"roll,omitempty"`
}

// Keyframe represents a camera position at a specific time
type Keyframe struct {
	ID    string `yaml:"id,omitempty"`
	Time  string `yaml:"time"`
	Focus string `yaml:"focus,omitempty"` // Description of what the camera looks at
	Pose  `yaml:",inline"`
	// OrbitCenter is [lon, lat] of the ground point circled while flying
	// into this keyframe. Empty means a straight flight.
	OrbitCenter []float64 `yaml:"orbit_center,omitempty,flow"`
}

type Caption struct {
	ID       string            `yaml:"id,omitempty"`
	Interval timecode.Interval `yaml:"interval"`
	Text     string            `yaml:"text"`
}

type Media struct {
	ID       string            `yaml:"id,omitempty"`
	Interval timecode.Interval `yaml:"interval"`
	Src      string            `yaml:"src"`
}

// ClockConfig converts the clock section. The clock starts paused.
func (s *Scenario) ClockConfig() (clock.Config, error) {
	start, err := timecode.Parse(s.Clock.Start)
	if err != nil {
		return clock.Config{}, fmt.Errorf("%w: clock start: %w", ErrInvalidScenario, err)
	}
	stop, err := timecode.Parse(s.Clock.Stop)
	if err != nil {
		return clock.Config{}, fmt.Errorf("%w: clock stop: %w", ErrInvalidScenario, err)
	}
	loop, err := clock.ParseLoopPolicy(s.Clock.Loop)
	if err != nil {
		return clock.Config{}, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return clock.Config{Start: start, Stop: stop, Speed: s.Clock.Speed, Loop: loop}, nil
}

// CameraKeyframes converts every keyframe. Ordering and duplicate checks
// are left to the track.
func (s *Scenario) CameraKeyframes() ([]camera.Keyframe, error) {
	out := make([]camera.Keyframe, 0, len(s.Keyframes))
	for i, k := range s.Keyframes {
		ck, err := k.ToCamera()
		if err != nil {
			return nil, fmt.Errorf("keyframe %d (%s): %w", i, k.ID, err)
		}
		out = append(out, ck)
	}
	return out, nil
}

// HomePose is the viewer's starting pose, if the scenario sets one.
func (s *Scenario) HomePose(conv geo.Converter) (camera.Pose, bool) {
	if s.Home == nil {
		return camera.Pose{}, false
	}
	return camera.Pose{
		Position:    conv.ToCartesian(s.Home.Position),
		Orientation: s.Home.orientation(),
	}, true
}

// StartPose is where the camera sits before the first keyframe: the home
// pose, or the earliest keyframe's pose when there is no home.
func (s *Scenario) StartPose(conv geo.Converter) (camera.Pose, bool) {
	if home, ok := s.HomePose(conv); ok {
		return home, true
	}
	keyframes, err := s.CameraKeyframes()
	if err != nil || len(keyframes) == 0 {
		return camera.Pose{}, false
	}
	first := keyframes[0]
	for _, k := range keyframes[1:] {
		if k.Time.Before(first.Time) {
			first = k
		}
	}
	return first.Pose(conv), true
}

// Validate checks everything that can be checked without building the
// presentation.
func (s *Scenario) Validate() error {
	if s.Version == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidScenario)
	}
	if _, err := s.ClockConfig(); err != nil {
		return err
	}
	if _, err := s.CameraKeyframes(); err != nil {
		return err
	}
	for _, c := range s.Captions {
		if err := c.Interval.Validate(); err != nil {
			return fmt.Errorf("caption %s: %w", c.ID, err)
		}
	}
	for _, m := range append(append([]Media{}, s.Audio...), s.Video...) {
		if err := m.Interval.Validate(); err != nil {
			return fmt.Errorf("media %s: %w", m.ID, err)
		}
		if m.Src == "" {
			return fmt.Errorf("%w: media %s has no src", ErrInvalidScenario, m.ID)
		}
	}
	return nil
}

// ToCamera converts degrees to radians and picks the transition.
func (k Keyframe) ToCamera() (camera.Keyframe, error) {
	ts, err := timecode.Parse(k.Time)
	if err != nil {
		return camera.Keyframe{}, fmt.Errorf("%w: %w", camera.ErrInvalidKeyframe, err)
	}
	ck := camera.Keyframe{
		ID:         k.ID,
		Time:       ts,
		Position:   k.Position,
		Heading:    geo.Radians(k.Heading),
		Pitch:      geo.Radians(k.Pitch),
		Transition: camera.Default{Roll: geo.Radians(k.Roll)},
	}
	switch len(k.OrbitCenter) {
	case 0:
	case 2:
		ck.Transition = camera.Orbit{Center: geo.Cartographic{Lon: k.OrbitCenter[0], Lat: k.OrbitCenter[1]}}
	default:
		return camera.Keyframe{}, fmt.Errorf("%w: orbit_center must be [lon, lat]", camera.ErrInvalidKeyframe)
	}
	return ck, nil
}

func (p Pose) orientation() geo.HPR {
	return geo.HPR{
		Heading: geo.Radians(p.Heading),
		Pitch:   geo.Radians(p.Pitch),
		Roll:    geo.Radians(p.Roll),
	}
}
