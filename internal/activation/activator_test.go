package activation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/geostory/internal/clock"
	"github.com/ivlev/geostory/internal/timecode"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return base.Add(time.Duration(sec * float64(time.Second)))
}

func span(t *testing.T, from, to float64) timecode.Interval {
	t.Helper()
	iv, err := timecode.NewInterval(at(from), at(to))
	require.NoError(t, err)
	return iv
}

// fakeSink records every call as a short string.
type fakeSink struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	panic map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{fail: map[string]error{}, panic: map[string]bool{}}
}

func (s *fakeSink) record(op string, format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic[op] {
		panic(op + " exploded")
	}
	if err := s.fail[op]; err != nil {
		return err
	}
	if format == "" {
		s.calls = append(s.calls, op)
	} else {
		s.calls = append(s.calls, op+"("+fmt.Sprintf(format, args...)+")")
	}
	return nil
}

func (s *fakeSink) Seek(offset time.Duration) error { return s.record("seek", "%s", offset) }
func (s *fakeSink) Start() error                    { return s.record("start", "") }
func (s *fakeSink) Stop() error                     { return s.record("stop", "") }
func (s *fakeSink) SetPlaybackRate(rate float64) error {
	return s.record("rate", "%g", rate)
}

func (s *fakeSink) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.calls
	s.calls = nil
	return out
}

func newClock(t *testing.T, playing bool) *clock.Clock {
	t.Helper()
	c, err := clock.New(clock.Config{Start: base, Stop: at(10), Playing: playing})
	require.NoError(t, err)
	return c
}

func TestAudioWindowScenario(t *testing.T) {
	c := newClock(t, true)
	a := New("audio", c)
	sink := newFakeSink()
	id, err := a.Add(Resource{ID: "narration", Interval: span(t, 2, 7), Sink: Ready(sink)})
	require.NoError(t, err)
	assert.Equal(t, "narration", id)

	a.OnTick(at(0))
	assert.Empty(t, sink.take())
	assert.Empty(t, a.Active())

	a.OnTick(at(2))
	assert.Equal(t, []string{"seek(0s)", "start"}, sink.take())
	assert.Equal(t, []string{"narration"}, a.Active())

	a.OnTick(at(5))
	assert.Empty(t, sink.take())

	a.OnTick(at(7))
	assert.Equal(t, []string{"stop"}, sink.take())
	assert.Empty(t, a.Active())
}

func TestRepeatedTicksAreIdempotent(t *testing.T) {
	c := newClock(t, true)
	a := New("captions", c)
	sink := newFakeSink()
	_, err := a.Add(Resource{Interval: span(t, 1, 3), Sink: Ready(sink)})
	require.NoError(t, err)

	a.OnTick(at(1.5))
	a.OnTick(at(1.5))
	a.OnTick(at(2))
	a.OnTick(at(2.5))
	assert.Equal(t, []string{"seek(500ms)", "start"}, sink.take())

	a.OnTick(at(4))
	a.OnTick(at(4))
	assert.Equal(t, []string{"stop"}, sink.take())
}

func TestActiveSetMatchesContainment(t *testing.T) {
	c := newClock(t, true)
	a := New("video", c)
	windows := map[string][2]float64{
		"a": {0, 2},
		"b": {1, 4},
		"c": {3, 3.5},
		"d": {6, 10},
	}
	for id, w := range windows {
		_, err := a.Add(Resource{ID: id, Interval: span(t, w[0], w[1]), Sink: Ready(newFakeSink())})
		require.NoError(t, err)
	}

	for _, sec := range []float64{0, 0.5, 1, 2, 3, 3.25, 3.5, 5, 6, 9.9, 10, 4, 1.5} {
		now := at(sec)
		a.OnTick(now)
		for id, w := range windows {
			want := !now.Before(at(w[0])) && now.Before(at(w[1]))
			st, err := a.Status(id)
			require.NoError(t, err)
			assert.Equal(t, want, st.Active, "resource %s at %.2fs", id, sec)
		}
	}
}

func TestSeekRepositionsActiveResources(t *testing.T) {
	c := newClock(t, true)
	a := New("audio", c)
	sink := newFakeSink()
	_, err := a.Add(Resource{Interval: span(t, 2, 8), Sink: Ready(sink)})
	require.NoError(t, err)

	require.NoError(t, c.Seek(at(3)))
	assert.Equal(t, []string{"seek(1s)", "start"}, sink.take())

	require.NoError(t, c.Seek(at(6)))
	assert.Equal(t, []string{"seek(4s)"}, sink.take())

	require.NoError(t, c.Seek(at(1)))
	assert.Equal(t, []string{"stop"}, sink.take())
}

func TestEditRepositionsOnNextTick(t *testing.T) {
	c := newClock(t, true)
	a := New("audio", c)
	sink := newFakeSink()
	id, err := a.Add(Resource{Interval: span(t, 2, 8), Sink: Ready(sink)})
	require.NoError(t, err)

	a.OnTick(at(4))
	sink.take()

	require.NoError(t, a.Edit(id, span(t, 3, 9)))
	a.OnTick(at(4))
	assert.Equal(t, []string{"seek(1s)"}, sink.take())

	require.NoError(t, a.Edit(id, span(t, 5, 9)))
	a.OnTick(at(4))
	assert.Equal(t, []string{"stop"}, sink.take())

	assert.ErrorIs(t, a.Edit("missing", span(t, 1, 2)), ErrResourceNotFound)
	assert.ErrorIs(t, a.Edit(id, timecode.Interval{Start: at(5), End: at(5)}), ErrInvalidInterval)
}

func TestEditRejectsIntervalOutsidePresentation(t *testing.T) {
	c := newClock(t, true)
	a := New("video", c)
	sink := newFakeSink()
	id, err := a.Add(Resource{Interval: span(t, 2, 8), Sink: Ready(sink)})
	require.NoError(t, err)
	a.OnTick(at(4))
	sink.take()

	assert.ErrorIs(t, a.Edit(id, span(t, 11, 12)), ErrInvalidInterval)
	assert.ErrorIs(t, a.Edit(id, span(t, -5, -1)), ErrInvalidInterval)

	// The old interval still holds.
	a.OnTick(at(4))
	assert.Empty(t, sink.take())
	assert.Equal(t, []string{id}, a.Active())

	unbounded, err := clock.New(clock.Config{Start: base, Stop: at(10), Loop: clock.Unbounded})
	require.NoError(t, err)
	free := New("video", unbounded)
	id, err = free.Add(Resource{Interval: span(t, 2, 8), Sink: Ready(newFakeSink())})
	require.NoError(t, err)
	assert.NoError(t, free.Edit(id, span(t, 11, 12)))
}

func TestPendingSinkActivatesOnceReady(t *testing.T) {
	c := newClock(t, true)
	a := New("video", c)
	sink := newFakeSink()
	release := make(chan struct{})

	loader := NewLoader(context.Background())
	fut := loader.Load(func(ctx context.Context) (Sink, error) {
		<-release
		return sink, nil
	})
	_, err := a.Add(Resource{ID: "clip", Interval: span(t, 1, 5), Sink: fut})
	require.NoError(t, err)

	a.OnTick(at(2))
	assert.Empty(t, a.Active())
	st, err := a.Status("clip")
	require.NoError(t, err)
	assert.False(t, st.Ready)

	close(release)
	require.NoError(t, loader.Wait())

	a.OnTick(at(3))
	assert.Equal(t, []string{"clip"}, a.Active())
	assert.Equal(t, []string{"seek(2s)", "start"}, sink.take())
}

func TestPendingSinkGetsCurrentRate(t *testing.T) {
	c := newClock(t, true)
	a := New("audio", c)
	sink := newFakeSink()
	release := make(chan struct{})
	loader := NewLoader(context.Background())
	fut := loader.Load(func(ctx context.Context) (Sink, error) {
		<-release
		return sink, nil
	})
	_, err := a.Add(Resource{Interval: span(t, 1, 5), Sink: fut})
	require.NoError(t, err)

	require.NoError(t, c.SetSpeed(2))
	close(release)
	require.NoError(t, loader.Wait())

	a.OnTick(at(2))
	assert.Equal(t, []string{"rate(2)", "seek(1s)", "start"}, sink.take())
}

func TestLoadFailureIsReportedOnce(t *testing.T) {
	c := newClock(t, true)
	a := New("video", c)
	boom := errors.New("codec missing")
	_, err := a.Add(Resource{ID: "broken", Interval: span(t, 0, 5), Sink: Failed(boom)})
	require.NoError(t, err)

	a.OnTick(at(1))
	a.OnTick(at(2))

	select {
	case f := <-a.Faults():
		assert.Equal(t, "broken", f.Resource)
		assert.Equal(t, "load", f.Op)
		assert.ErrorIs(t, f, boom)
		assert.ErrorIs(t, f, ErrSinkFault)
	default:
		t.Fatal("expected a load fault")
	}
	select {
	case f := <-a.Faults():
		t.Fatalf("unexpected second fault: %v", f)
	default:
	}
	assert.Empty(t, a.Active())
}

func TestSinkFaultIsContained(t *testing.T) {
	c := newClock(t, true)
	a := New("audio", c)
	bad := newFakeSink()
	bad.fail["start"] = errors.New("device busy")
	good := newFakeSink()
	_, err := a.Add(Resource{ID: "bad", Interval: span(t, 0, 5), Sink: Ready(bad)})
	require.NoError(t, err)
	_, err = a.Add(Resource{ID: "good", Interval: span(t, 0, 5), Sink: Ready(good)})
	require.NoError(t, err)

	a.OnTick(at(1))
	assert.Equal(t, []string{"good"}, a.Active())
	assert.Equal(t, []string{"seek(1s)", "start"}, good.take())

	f := <-a.Faults()
	assert.Equal(t, "bad", f.Resource)
	assert.Equal(t, "start", f.Op)

	// A faulted resource is skipped on continuous ticks.
	bad.take()
	a.OnTick(at(2))
	assert.Empty(t, bad.take())

	// A seek gives it another chance.
	delete(bad.fail, "start")
	require.NoError(t, c.Seek(at(3)))
	assert.ElementsMatch(t, []string{"bad", "good"}, a.Active())
	assert.Equal(t, []string{"seek(3s)", "start"}, bad.take())
}

func TestSinkPanicIsContained(t *testing.T) {
	c := newClock(t, true)
	a := New("captions", c)
	sink := newFakeSink()
	sink.panic["seek"] = true
	_, err := a.Add(Resource{ID: "caption", Interval: span(t, 0, 5), Sink: Ready(sink)})
	require.NoError(t, err)

	assert.NotPanics(t, func() { a.OnTick(at(1)) })
	assert.Empty(t, a.Active())

	f := <-a.Faults()
	assert.Equal(t, "seek", f.Op)
	assert.Contains(t, f.Error(), "exploded")
}

func TestPauseAndPlayFollowClock(t *testing.T) {
	c := newClock(t, true)
	a := New("audio", c)
	sink := newFakeSink()
	_, err := a.Add(Resource{ID: "music", Interval: span(t, 0, 10), Sink: Ready(sink)})
	require.NoError(t, err)

	a.OnTick(at(1))
	sink.take()

	c.Pause()
	assert.False(t, a.IsPlaying())
	assert.Equal(t, []string{"stop"}, sink.take())
	assert.Equal(t, []string{"music"}, a.Active())

	c.Play()
	assert.True(t, a.IsPlaying())
	assert.Equal(t, []string{"start"}, sink.take())
}

func TestActivationWhilePausedSeeksWithoutStarting(t *testing.T) {
	c := newClock(t, false)
	a := New("audio", c)
	sink := newFakeSink()
	_, err := a.Add(Resource{Interval: span(t, 2, 6), Sink: Ready(sink)})
	require.NoError(t, err)

	require.NoError(t, c.Seek(at(3)))
	assert.Equal(t, []string{"seek(1s)"}, sink.take())

	c.Play()
	assert.Equal(t, []string{"start"}, sink.take())
}

func TestSpeedChangeReachesInactiveSinks(t *testing.T) {
	c := newClock(t, true)
	a := New("video", c)
	active, idle := newFakeSink(), newFakeSink()
	_, err := a.Add(Resource{Interval: span(t, 0, 5), Sink: Ready(active)})
	require.NoError(t, err)
	_, err = a.Add(Resource{Interval: span(t, 6, 9), Sink: Ready(idle)})
	require.NoError(t, err)

	a.OnTick(at(1))
	active.take()

	require.NoError(t, c.SetSpeed(0.5))
	assert.Equal(t, []string{"rate(0.5)"}, active.take())
	assert.Equal(t, []string{"rate(0.5)"}, idle.take())
}

func TestClampedStopPauses(t *testing.T) {
	c, err := clock.New(clock.Config{Start: base, Stop: at(4), Playing: true, Loop: clock.Clamped})
	require.NoError(t, err)
	a := New("audio", c)
	sink := newFakeSink()
	_, err = a.Add(Resource{Interval: span(t, 1, 6), Sink: Ready(sink)})
	require.NoError(t, err)

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"seek(1s)", "start"}, sink.take())

	c.Advance(5 * time.Second)
	assert.False(t, a.IsPlaying())
	assert.Equal(t, []string{"stop"}, sink.take())
}

func TestAddValidation(t *testing.T) {
	c := newClock(t, true)
	a := New("captions", c)

	_, err := a.Add(Resource{Interval: timecode.Interval{Start: at(3), End: at(2)}, Sink: Ready(newFakeSink())})
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = a.Add(Resource{Interval: span(t, 11, 12), Sink: Ready(newFakeSink())})
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = a.Add(Resource{Interval: span(t, 1, 2)})
	assert.Error(t, err)

	id, err := a.Add(Resource{Interval: span(t, 1, 2), Sink: Ready(newFakeSink())})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = a.Add(Resource{ID: id, Interval: span(t, 1, 2), Sink: Ready(newFakeSink())})
	assert.ErrorIs(t, err, ErrDuplicateResource)
}

func TestRemoveStopsActive(t *testing.T) {
	c := newClock(t, true)
	a := New("captions", c)
	sink := newFakeSink()
	id, err := a.Add(Resource{Interval: span(t, 0, 5), Sink: Ready(sink)})
	require.NoError(t, err)
	a.OnTick(at(1))
	sink.take()

	require.NoError(t, a.Remove(id))
	assert.Equal(t, []string{"stop"}, sink.take())
	assert.Equal(t, 0, a.Len())
	assert.ErrorIs(t, a.Remove(id), ErrResourceNotFound)
}

func TestCloseDetaches(t *testing.T) {
	c := newClock(t, true)
	a := New("audio", c)
	sink := newFakeSink()
	_, err := a.Add(Resource{Interval: span(t, 0, 5), Sink: Ready(sink)})
	require.NoError(t, err)
	a.OnTick(at(1))
	sink.take()

	a.Close()
	assert.Equal(t, []string{"stop"}, sink.take())
	assert.NotContains(t, c.Subscribers(clock.EventTick), "audio")
}

func TestFaultBufferOverflowDoesNotBlock(t *testing.T) {
	c := newClock(t, true)
	a := New("video", c, WithFaultBuffer(1))
	for i := 0; i < 3; i++ {
		_, err := a.Add(Resource{Interval: span(t, 0, 5), Sink: Failed(errors.New("nope"))})
		require.NoError(t, err)
	}
	done := make(chan struct{})
	go func() {
		a.OnTick(at(1))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick blocked on full fault channel")
	}
	assert.Len(t, a.Faults(), 1)
}

func TestLoaderWaitReportsFirstError(t *testing.T) {
	loader := NewLoader(context.Background())
	ok := loader.Load(func(context.Context) (Sink, error) { return newFakeSink(), nil })
	bad := loader.Load(func(context.Context) (Sink, error) { return nil, errors.New("missing file") })
	panicky := loader.Load(func(context.Context) (Sink, error) { panic("boom") })

	assert.Error(t, loader.Wait())

	s, err := ok.Poll()
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = bad.Poll()
	assert.EqualError(t, err, "missing file")

	_, err = panicky.Wait(context.Background())
	assert.ErrorContains(t, err, "panicked")
}

func TestFuturePollBeforeResolve(t *testing.T) {
	f := newFuture()
	_, err := f.Poll()
	assert.ErrorIs(t, err, ErrSinkNotReady)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.resolve(nil, nil)
	_, err = f.Poll()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSinkNotReady)
}
