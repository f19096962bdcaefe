package viewer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/geostory/internal/camera"
	"github.com/ivlev/geostory/internal/clock"
	"github.com/ivlev/geostory/internal/geo"
	"github.com/ivlev/geostory/internal/metrics"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ts := httptest.NewServer(NewMux(hub, metrics.New()))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return hub, ts
}

func dial(t *testing.T, hub *Hub, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	before := hub.Clients()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Clients() > before }, 2*time.Second, 10*time.Millisecond)
	return conn
}

// next reads until a message of the given type arrives.
func next(t *testing.T, conn *websocket.Conn, kind string) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Type == kind {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, kind string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: kind, Data: payload}))
}

func TestSetViewBroadcasts(t *testing.T) {
	hub, ts := newTestServer(t)
	a := dial(t, hub, ts)
	b := dial(t, hub, ts)

	pose := camera.Pose{
		Position:    geo.Cartesian3{X: 1, Y: 2, Z: 3},
		Orientation: geo.HPR{Heading: 0.5},
	}
	require.NoError(t, hub.SetView(pose))
	assert.Equal(t, pose, hub.CurrentPose())

	for _, conn := range []*websocket.Conn{a, b} {
		msg := next(t, conn, TypePose)
		var got camera.Pose
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		if got == (camera.Pose{}) {
			// The connect-time replay came first.
			msg = next(t, conn, TypePose)
			require.NoError(t, json.Unmarshal(msg.Data, &got))
		}
		assert.Equal(t, pose, got)
	}
}

func TestClientPoseReportUpdatesCurrentPose(t *testing.T) {
	hub, ts := newTestServer(t)
	conn := dial(t, hub, ts)

	reported := camera.Pose{Position: geo.Cartesian3{X: 6378137}}
	send(t, conn, TypePose, reported)

	require.Eventually(t, func() bool { return hub.CurrentPose() == reported }, 2*time.Second, 10*time.Millisecond)
}

func TestLoaderWaitsForReadyReport(t *testing.T) {
	hub, ts := newTestServer(t)
	conn := dial(t, hub, ts)

	type result struct {
		sink any
		err  error
	}
	done := make(chan result, 1)
	go func() {
		s, err := hub.Loader("narration", "audio", "narration.mp3")(context.Background())
		done <- result{s, err}
	}()

	msg := next(t, conn, TypeLoad)
	var req LoadRequest
	require.NoError(t, json.Unmarshal(msg.Data, &req))
	assert.Equal(t, LoadRequest{ID: "narration", Kind: "audio", Src: "narration.mp3"}, req)

	select {
	case <-done:
		t.Fatal("loader resolved before the client was ready")
	case <-time.After(50 * time.Millisecond):
	}

	send(t, conn, TypeReady, Report{ID: "narration"})
	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loader never resolved")
	}
	require.NoError(t, res.err)
	sink := res.sink.(*RemoteSink)

	require.NoError(t, sink.Seek(1500*time.Millisecond))
	msg = next(t, conn, TypeMedia)
	var cmd MediaCommand
	require.NoError(t, json.Unmarshal(msg.Data, &cmd))
	assert.Equal(t, MediaCommand{ID: "narration", Op: "seek", Offset: 1.5}, cmd)

	require.NoError(t, sink.SetPlaybackRate(2))
	msg = next(t, conn, TypeMedia)
	require.NoError(t, json.Unmarshal(msg.Data, &cmd))
	assert.Equal(t, MediaCommand{ID: "narration", Op: "rate", Rate: 2}, cmd)
}

func TestLoaderReportsClientError(t *testing.T) {
	hub, ts := newTestServer(t)
	conn := dial(t, hub, ts)

	errCh := make(chan error, 1)
	go func() {
		_, err := hub.Loader("clip", "video", "missing.webm")(context.Background())
		errCh <- err
	}()
	next(t, conn, TypeLoad)
	send(t, conn, TypeError, Report{ID: "clip", Error: "404"})

	select {
	case err := <-errCh:
		assert.ErrorContains(t, err, "missing.webm")
	case <-time.After(2 * time.Second):
		t.Fatal("loader never resolved")
	}
}

func TestLateClientGetsPendingLoads(t *testing.T) {
	hub, ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := hub.Loader("music", "audio", "music.ogg")(ctx)
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.loads) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn := dial(t, hub, ts)
	msg := next(t, conn, TypeLoad)
	assert.Contains(t, string(msg.Data), "music.ogg")

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestCloseFailsPendingLoads(t *testing.T) {
	hub := NewHub()
	errCh := make(chan error, 1)
	go func() {
		_, err := hub.Loader("x", "video", "x.mp4")(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.loads) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.ErrorIs(t, <-errCh, ErrHubClosed)
	assert.ErrorIs(t, (&RemoteSink{hub: hub, id: "x"}).Start(), ErrHubClosed)
}

func TestMuxServesMetricsAndHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "geostory_")
}

func TestResetSeedsReplayWithoutBroadcast(t *testing.T) {
	hub, ts := newTestServer(t)
	early := dial(t, hub, ts)
	next(t, early, TypePose) // connect-time replay

	start := camera.Pose{Position: geo.Cartesian3{X: 4200000, Y: 170000, Z: 4780000}}
	hub.Reset(start)
	assert.Equal(t, start, hub.CurrentPose())

	late := dial(t, hub, ts)
	var got camera.Pose
	require.NoError(t, json.Unmarshal(next(t, late, TypePose).Data, &got))
	assert.Equal(t, start, got)

	early.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := early.ReadMessage()
	assert.Error(t, err, "reset must not reach connected clients")
}

func TestTransportRequestsReachHandler(t *testing.T) {
	hub, ts := newTestServer(t)
	conn := dial(t, hub, ts)

	got := make(chan TransportCommand, 1)
	hub.OnTransport(func(cmd TransportCommand) { got <- cmd })

	want := TransportCommand{Op: "seek", Time: "2024-06-01T12:00:05.000Z"}
	send(t, conn, TypeTransport, want)
	select {
	case cmd := <-got:
		assert.Equal(t, want, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("transport request never arrived")
	}
}

func TestTransportCommandApply(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := clock.New(clock.Config{Start: start, Stop: start.Add(time.Minute)})
	require.NoError(t, err)

	require.NoError(t, TransportCommand{Op: "play"}.Apply(c))
	assert.True(t, c.IsPlaying())
	require.NoError(t, TransportCommand{Op: "pause"}.Apply(c))
	assert.False(t, c.IsPlaying())

	require.NoError(t, TransportCommand{Op: "seek", Time: "2024-06-01T12:00:05.000Z"}.Apply(c))
	assert.Equal(t, start.Add(5*time.Second), c.CurrentTime())
	require.NoError(t, TransportCommand{Op: "speed", Speed: 4}.Apply(c))
	assert.Equal(t, 4.0, c.Speed())

	assert.Error(t, TransportCommand{Op: "seek", Time: "noon"}.Apply(c))
	assert.ErrorIs(t, TransportCommand{Op: "seek", Time: "2024-06-01T13:00:00.000Z"}.Apply(c), clock.ErrOutOfRange)
	assert.Error(t, TransportCommand{Op: "rewind"}.Apply(c))
}
