package camera

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ivlev/geostory/internal/geo"
)

var (
	ErrDuplicateKeyframe = errors.New("duplicate keyframe time")
	ErrInvalidKeyframe   = errors.New("invalid keyframe")
	ErrKeyframeNotFound  = errors.New("keyframe not found")
)

// Transition selects how the camera moves into a keyframe. It is either
// Default or Orbit.
type Transition interface {
	transition()
}

// Default flies linearly to the keyframe position while slerping
// orientation.
type Default struct {
	Roll float64
}

// Orbit circles Center once over the segment, keeping the distance and
// height recorded in the keyframe position.
type Orbit struct {
	Center geo.Cartographic
}

func (Default) transition() {}
func (Orbit) transition()   {}

// Keyframe is an authored camera pose anchored to a timestamp.
type Keyframe struct {
	ID         string
	Time       time.Time
	Position   geo.Cartographic
	Heading    float64
	Pitch      float64
	Transition Transition
}

// Orientation returns the stored heading, pitch and roll. Orbit keyframes
// have no roll.
func (k Keyframe) Orientation() geo.HPR {
	o := geo.HPR{Heading: k.Heading, Pitch: k.Pitch}
	if d, ok := k.Transition.(Default); ok {
		o.Roll = d.Roll
	}
	return o
}

// Pose is the keyframe's own pose in viewer space.
func (k Keyframe) Pose(conv geo.Converter) Pose {
	return Pose{
		Position:    conv.ToCartesian(k.Position),
		Orientation: k.Orientation(),
	}
}

// IsOrbit reports whether the keyframe uses the orbit transition.
func (k Keyframe) IsOrbit() bool {
	_, ok := k.Transition.(Orbit)
	return ok
}

func (k Keyframe) validate() error {
	if k.Time.IsZero() {
		return fmt.Errorf("%w: missing time", ErrInvalidKeyframe)
	}
	if !k.Position.Valid() {
		return fmt.Errorf("%w: position %+v", ErrInvalidKeyframe, k.Position)
	}
	if !finite(k.Heading) || !finite(k.Pitch) {
		return fmt.Errorf("%w: heading %v pitch %v", ErrInvalidKeyframe, k.Heading, k.Pitch)
	}
	switch tr := k.Transition.(type) {
	case nil:
	case Default:
		if !finite(tr.Roll) {
			return fmt.Errorf("%w: roll %v", ErrInvalidKeyframe, tr.Roll)
		}
	case Orbit:
		if !tr.Center.Valid() {
			return fmt.Errorf("%w: orbit center %+v", ErrInvalidKeyframe, tr.Center)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
