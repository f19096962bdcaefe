package camera

import "github.com/ivlev/geostory/internal/geo"

// Pose is one camera write: a Cartesian position and an orientation.
type Pose struct {
	Position    geo.Cartesian3 `json:"position"`
	Orientation geo.HPR        `json:"orientation"`
}

// Viewer is the 3D scene's camera handle.
type Viewer interface {
	// SetView moves the camera.
	SetView(p Pose) error
	// CurrentPose reports the live camera, used as the starting point of the
	// flight into the first keyframe.
	CurrentPose() Pose
}
