package viewer

import (
	"fmt"

	"github.com/ivlev/geostory/internal/clock"
	"github.com/ivlev/geostory/internal/timecode"
)

// TypeTransport carries play/pause/seek/speed requests from a client.
const TypeTransport = "transport"

// TransportCommand is a client's request to move the presentation clock.
type TransportCommand struct {
	Op    string  `json:"op"`             // play, pause, seek, speed
	Time  string  `json:"time,omitempty"` // seek target, ISO-8601 UTC
	Speed float64 `json:"speed,omitempty"`
}

// Apply performs the command on c. It must run on the clock's goroutine.
func (t TransportCommand) Apply(c *clock.Clock) error {
	switch t.Op {
	case "play":
		c.Play()
	case "pause":
		c.Pause()
	case "seek":
		ts, err := timecode.Parse(t.Time)
		if err != nil {
			return fmt.Errorf("seek: %w", err)
		}
		return c.Seek(ts)
	case "speed":
		return c.SetSpeed(t.Speed)
	default:
		return fmt.Errorf("unknown transport op %q", t.Op)
	}
	return nil
}

// OnTransport sets the handler for client transport requests. Requests
// arriving without a handler are dropped.
func (h *Hub) OnTransport(fn func(TransportCommand)) {
	h.mu.Lock()
	h.onTransport = fn
	h.mu.Unlock()
}

func (h *Hub) transport(cmd TransportCommand) {
	h.mu.RLock()
	fn := h.onTransport
	h.mu.RUnlock()
	if fn == nil {
		h.logger.Debug("transport request without handler", "op", cmd.Op)
		return
	}
	fn(cmd)
}
