package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryIsolated(t *testing.T) {
	a := New()
	b := New()

	a.Ticks.Inc()
	a.Activations.WithLabelValues("audio", "start").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Ticks))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Activations.WithLabelValues("audio", "start")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.PoseWrites.Add(3)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "geostory_camera_pose_writes_total 3")
}

func TestGetReturnsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
