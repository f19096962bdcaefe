package viewer

import "time"

// RemoteSink forwards playback calls to every connected client's media
// element with the same id.
type RemoteSink struct {
	hub *Hub
	id  string
}

func (s *RemoteSink) Seek(offset time.Duration) error {
	return s.hub.command(MediaCommand{ID: s.id, Op: "seek", Offset: offset.Seconds()})
}

func (s *RemoteSink) Start() error {
	return s.hub.command(MediaCommand{ID: s.id, Op: "start"})
}

func (s *RemoteSink) Stop() error {
	return s.hub.command(MediaCommand{ID: s.id, Op: "stop"})
}

func (s *RemoteSink) SetPlaybackRate(rate float64) error {
	return s.hub.command(MediaCommand{ID: s.id, Op: "rate", Rate: rate})
}
