package engine

import (
	"context"
	"io"

	"github.com/jonboulle/clockwork"

	"github.com/ivlev/geostory/internal/activation"
	"github.com/ivlev/geostory/internal/director"
	"github.com/ivlev/geostory/internal/logging"
	"github.com/ivlev/geostory/internal/media"
	"github.com/ivlev/geostory/internal/viewer"
)

// Modalities, in clock registration order after the camera.
const (
	Captions = "captions"
	Audio    = "audio"
	Video    = "video"
)

// SinkFactory builds the loader for each scenario resource.
type SinkFactory interface {
	Caption(c director.Caption) activation.LoadFunc
	Media(kind string, m director.Media) activation.LoadFunc
}

// HeadlessSinks prints captions and tracks media positions locally.
type HeadlessSinks struct {
	Out    io.Writer
	Wall   clockwork.Clock
	Logger *logging.Logger
	Probe  media.ProbeFunc
}

func (h HeadlessSinks) Caption(c director.Caption) activation.LoadFunc {
	sink := media.NewCaptionSink(c.ID, c.Text, h.Out)
	return func(_ context.Context) (activation.Sink, error) { return sink, nil }
}

func (h HeadlessSinks) Media(kind string, m director.Media) activation.LoadFunc {
	var opts []media.PlayerOption
	if h.Wall != nil {
		opts = append(opts, media.WithWallClock(h.Wall))
	}
	if h.Logger != nil {
		opts = append(opts, media.WithLogger(h.Logger.WithComponent(kind)))
	}
	return media.PlayerLoader(m.Src, h.Probe, opts...)
}

// RemoteSinks hands every resource to the connected viewers.
type RemoteSinks struct {
	Hub *viewer.Hub
}

func (r RemoteSinks) Caption(c director.Caption) activation.LoadFunc {
	return r.Hub.Loader(c.ID, Captions, c.Text)
}

func (r RemoteSinks) Media(kind string, m director.Media) activation.LoadFunc {
	return r.Hub.Loader(m.ID, kind, m.Src)
}
