// Package engine assembles a presentation from a scenario: one clock, the
// camera track and the caption, audio and video activators, driven by a
// render loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/geostory/internal/activation"
	"github.com/ivlev/geostory/internal/camera"
	"github.com/ivlev/geostory/internal/clock"
	"github.com/ivlev/geostory/internal/config"
	"github.com/ivlev/geostory/internal/director"
	"github.com/ivlev/geostory/internal/geo"
	"github.com/ivlev/geostory/internal/logging"
	"github.com/ivlev/geostory/internal/metrics"
	"github.com/ivlev/geostory/internal/system"
	"github.com/ivlev/geostory/internal/timecode"
)

// SubscriberName is the engine's own name on the clock.
const SubscriberName = "engine"

// Deps are the outside pieces a presentation drives.
type Deps struct {
	Viewer  camera.Viewer
	Sinks   SinkFactory
	Wall    clockwork.Clock
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// Out receives the console lines and the performance report.
	Out io.Writer
}

// Presentation is one loaded scenario.
type Presentation struct {
	Config   *config.Config
	Scenario *director.Scenario

	Clock    *clock.Clock
	Track    *camera.Track
	Captions *activation.Activator
	Audio    *activation.Activator
	Video    *activation.Activator

	driver  *clock.Driver
	loader  *activation.Loader
	futures map[string]*activation.Future
	wall    clockwork.Clock
	out     io.Writer
	logger  *logging.Logger
	metrics *metrics.Registry

	frames int
	stats  Report
}

// Report summarizes a run.
type Report struct {
	Build        string
	Wall         time.Duration
	Frames       int
	Presentation time.Duration
	SinksReady   int
	SinksTotal   int
	Faults       int
	Process      system.Stats
}

// New builds the presentation. Sink loads start immediately under ctx; Run
// can wait for them.
func New(ctx context.Context, cfg *config.Config, sc *director.Scenario, deps Deps) (*Presentation, error) {
	if deps.Viewer == nil || deps.Sinks == nil {
		return nil, errors.New("engine: viewer and sink factory are required")
	}
	if deps.Wall == nil {
		deps.Wall = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}

	ccfg, err := sc.ClockConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Speed != 0 && cfg.Speed != 1 {
		ccfg.Speed = cfg.Speed
	}
	clk, err := clock.New(ccfg, clock.WithLogger(deps.Logger.WithComponent("clock")), clock.WithMetrics(deps.Metrics))
	if err != nil {
		return nil, fmt.Errorf("clock: %w", err)
	}

	if home, ok := sc.HomePose(geo.WGS84{}); ok {
		if err := deps.Viewer.SetView(home); err != nil {
			deps.Logger.Warn("home pose not applied", "error", err)
		}
	}

	driver := clock.NewDriver(clk, cfg.FPS,
		clock.WithWallClock(deps.Wall), clock.WithDriverLogger(deps.Logger))

	p := &Presentation{
		Config:   cfg,
		Scenario: sc,
		Clock:    clk,
		driver:   driver,
		loader:   activation.NewLoader(ctx),
		futures:  make(map[string]*activation.Future),
		wall:     deps.Wall,
		out:      deps.Out,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}

	// Registration order on the clock: camera, captions, audio, video.
	p.Track = camera.NewTrack(clk, deps.Viewer,
		camera.WithLogger(deps.Logger), camera.WithMetrics(deps.Metrics))
	keyframes, err := sc.CameraKeyframes()
	if err != nil {
		return nil, err
	}
	for _, k := range keyframes {
		if _, err := p.Track.AddKeyframe(k); err != nil {
			return nil, fmt.Errorf("keyframe %s: %w", k.ID, err)
		}
	}

	p.Captions = p.newActivator(Captions)
	p.Audio = p.newActivator(Audio)
	p.Video = p.newActivator(Video)

	for _, c := range sc.Captions {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if err := p.add(p.Captions, c.ID, c.Interval, c.Text, deps.Sinks.Caption(c)); err != nil {
			return nil, err
		}
	}
	for _, m := range sc.Audio {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if err := p.add(p.Audio, m.ID, m.Interval, m.Src, deps.Sinks.Media(Audio, m)); err != nil {
			return nil, err
		}
	}
	for _, m := range sc.Video {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if err := p.add(p.Video, m.ID, m.Interval, m.Src, deps.Sinks.Media(Video, m)); err != nil {
			return nil, err
		}
	}

	clk.Subscribe(clock.EventTick, SubscriberName, func(clock.Event) { p.frames++ })
	return p, nil
}

func (p *Presentation) newActivator(name string) *activation.Activator {
	return activation.New(name, p.Clock,
		activation.WithLogger(p.logger),
		activation.WithMetrics(p.metrics),
		activation.WithFaultBuffer(p.Config.FaultBuffer))
}

func (p *Presentation) add(a *activation.Activator, id string, iv timecode.Interval, label string, load activation.LoadFunc) error {
	fut := p.loader.Load(load)
	if _, err := a.Add(activation.Resource{ID: id, Interval: iv, Sink: fut, Label: label}); err != nil {
		return fmt.Errorf("%s %s: %w", a.Name(), id, err)
	}
	p.futures[a.Name()+"/"+id] = fut
	return nil
}

// Preload waits for every sink to resolve or for timeout. Failed loads are
// reported by the activators on the first tick; here they only count.
func (p *Presentation) Preload(ctx context.Context, timeout time.Duration) (ready, total int) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	total = len(p.futures)
	for key, fut := range p.futures {
		if _, err := fut.Wait(waitCtx); err != nil {
			p.logger.Warn("sink not ready", "resource", key, "error", err)
			continue
		}
		ready++
	}
	return ready, total
}

// Run plays the presentation until ctx ends, the run limit passes or, with
// ExitOnStop, the clock halts at a bound.
func (p *Presentation) Run(ctx context.Context) error {
	started := p.wall.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.Config.Preload && len(p.futures) > 0 {
		fmt.Fprintf(p.out, "[*] Ожидание готовности медиа (%d)...\n", len(p.futures))
		p.stats.SinksReady, p.stats.SinksTotal = p.Preload(runCtx, p.Config.PreloadTimeout)
		fmt.Fprintf(p.out, "[*] Готово: %d/%d\n", p.stats.SinksReady, p.stats.SinksTotal)
	} else {
		p.stats.SinksTotal = len(p.futures)
	}

	if p.Config.ExitOnStop {
		p.Clock.Subscribe(clock.EventStop, SubscriberName, func(ev clock.Event) {
			if !ev.Playing {
				cancel()
			}
		})
	}

	fmt.Fprintln(p.out, "--- [PRESENTATION] ---")
	fmt.Fprintf(p.out, "[*] Время: %s -> %s | Скорость: x%g | Цикл: %s\n",
		p.Clock.StartTime().Format(time.RFC3339), p.Clock.StopTime().Format(time.RFC3339), p.Clock.Speed(), p.Clock.Loop())
	fmt.Fprintf(p.out, "[*] Ключевых кадров: %d | Субтитры: %d | Аудио: %d | Видео: %d | FPS: %d\n",
		p.Track.Len(), p.Captions.Len(), p.Audio.Len(), p.Video.Len(), p.Config.FPS)
	fmt.Fprintln(p.out, "----------------------")

	// The loop has not started, so the clock is still ours to write.
	if err := p.Clock.Seek(p.Clock.CurrentTime()); err != nil {
		return err
	}
	p.Clock.Play()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := p.driver.Run(gctx)
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		p.drainFaults(gctx.Done())
		return nil
	})
	if p.Config.Duration > 0 {
		g.Go(func() error {
			select {
			case <-p.wall.After(p.Config.Duration):
				p.logger.Info("run limit reached", "duration", p.Config.Duration)
				cancel()
			case <-gctx.Done():
			}
			return nil
		})
	}
	err := g.Wait()

	p.stats.Wall = p.wall.Since(started)
	p.stats.Frames = p.frames
	p.stats.Presentation = p.Clock.CurrentTime().Sub(p.Clock.StartTime())
	p.flushFaults()

	p.Captions.Close()
	p.Audio.Close()
	p.Video.Close()
	p.Track.Close()
	p.Clock.UnsubscribeAll(SubscriberName)

	if p.Config.ShowStats {
		p.printReport()
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Control runs fn on the render loop, the clock's only writer while Run
// is active. Commands sent before Run wait until the loop starts.
func (p *Presentation) Control(ctx context.Context, fn func(*clock.Clock)) error {
	return p.driver.Do(ctx, fn)
}

// TogglePause plays a paused presentation and pauses a playing one.
func (p *Presentation) TogglePause(ctx context.Context) error {
	return p.Control(ctx, func(c *clock.Clock) {
		if c.IsPlaying() {
			c.Pause()
			fmt.Fprintf(p.out, "[*] Пауза: %s\n", timecode.Format(c.CurrentTime()))
			return
		}
		c.Play()
		fmt.Fprintf(p.out, "[*] Продолжение: %s\n", timecode.Format(c.CurrentTime()))
	})
}

// Result returns the figures of the last run.
func (p *Presentation) Result() Report { return p.stats }

// drainFaults prints activator faults until done is closed.
func (p *Presentation) drainFaults(done <-chan struct{}) {
	captions, audio, video := p.Captions.Faults(), p.Audio.Faults(), p.Video.Faults()
	for {
		select {
		case f := <-captions:
			p.fault(f)
		case f := <-audio:
			p.fault(f)
		case f := <-video:
			p.fault(f)
		case <-done:
			return
		}
	}
}

// flushFaults prints whatever is still buffered.
func (p *Presentation) flushFaults() {
	for _, ch := range []<-chan activation.Fault{p.Captions.Faults(), p.Audio.Faults(), p.Video.Faults()} {
		for len(ch) > 0 {
			p.fault(<-ch)
		}
	}
}

func (p *Presentation) fault(f activation.Fault) {
	p.stats.Faults++
	fmt.Fprintf(p.out, "[!] %s/%s: %s: %v\n", f.Modality, f.Resource, f.Op, f.Err)
}

func (p *Presentation) printReport() {
	statsCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	proc, err := system.Collect(statsCtx)
	if err != nil {
		p.logger.Warn("process stats unavailable", "error", err)
	}
	p.stats.Process = proc
	p.stats.Build = p.Config.BuildVersion

	fps := 0.0
	if secs := p.stats.Wall.Seconds(); secs > 0 {
		fps = float64(p.stats.Frames) / secs
	}

	report := fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Frames: %d\n"+
			"Presentation Time: %.2fs\n"+
			"Sinks Ready: %d/%d\n"+
			"Sink Faults: %d\n"+
			"Effective FPS: %.2f\n"+
			"%s\n"+
			"----------------------------\n",
		p.stats.Build, p.stats.Wall.Seconds(), p.stats.Frames, p.stats.Presentation.Seconds(),
		p.stats.SinksReady, p.stats.SinksTotal, p.stats.Faults, fps, proc,
	)
	fmt.Fprint(p.out, report)

	if p.Config.BenchmarkLog == "" {
		return
	}
	// Логирование в файл
	logEntry := fmt.Sprintf("[%s] Build: %s | Input: %s | Frames: %d | Total: %.2fs | FPS: %.2f | Faults: %d\n",
		time.Now().Format("2006-01-02 15:04:05"),
		p.stats.Build,
		filepath.Base(p.Config.InputPath),
		p.stats.Frames,
		p.stats.Wall.Seconds(),
		fps,
		p.stats.Faults,
	)
	f, err := os.OpenFile(p.Config.BenchmarkLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(p.out, "[!] Не удалось записать %s: %v\n", p.Config.BenchmarkLog, err)
		return
	}
	defer f.Close()
	f.WriteString(logEntry)
}
