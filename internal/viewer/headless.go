package viewer

import (
	"sync"

	"github.com/ivlev/geostory/internal/camera"
)

// Headless is a camera.Viewer without a screen. It keeps the last pose and
// counts writes.
type Headless struct {
	mu     sync.Mutex
	pose   camera.Pose
	writes int
}

func NewHeadless(home camera.Pose) *Headless {
	return &Headless{pose: home}
}

func (h *Headless) SetView(p camera.Pose) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pose = p
	h.writes++
	return nil
}

func (h *Headless) CurrentPose() camera.Pose {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pose
}

func (h *Headless) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}
