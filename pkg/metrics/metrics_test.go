/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thisnick/openclaw-agentmail/pkg/config"
	"go.uber.org/zap"
)

func resetOnce() sync.Once {
	return sync.Once{}
}

func reset(enabled bool) {
	once = resetOnce()
	registry = nil
	Enabled = enabled
}

func TestInit(t *testing.T) {
	reset(false)
	t.Cleanup(func() { reset(false); Init() })

	reg := Init()
	require.NotNil(t, reg)

	// Noop metrics must not panic
	ConnectionState.WithLabelValues("open").Set(1)
	ReconnectAttemptsTotal.Inc()
	FramesReceivedTotal.WithLabelValues("event").Inc()
	WakeDurationSeconds.WithLabelValues("invoke-tool").Observe(0.1)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestInitEnabled(t *testing.T) {
	reset(true)
	t.Cleanup(func() { reset(false); Init() })

	reg := Init()
	require.NotNil(t, reg)

	ReconnectAttemptsTotal.Inc()
	ReconnectAttemptsTotal.Inc()
	NotificationsTotal.WithLabelValues("enqueued").Inc()

	c, ok := ReconnectAttemptsTotal.(prometheus.Collector)
	require.True(t, ok)
	assert.Equal(t, float64(2), testutil.ToFloat64(c))

	n, ok := NotificationsTotal.WithLabelValues("enqueued").(prometheus.Collector)
	require.True(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(n))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["agentmail_bridge_reconnect_attempts_total"])
	assert.True(t, names["agentmail_bridge_notifications_total"])
}

func TestGetRegistry(t *testing.T) {
	reset(true)
	t.Cleanup(func() { reset(false); Init() })

	reg := GetRegistry()
	require.NotNil(t, reg)
	assert.Same(t, reg, GetRegistry())
}

func TestSetConnectionState(t *testing.T) {
	reset(true)
	t.Cleanup(func() { reset(false); Init() })
	Init()

	all := []string{"idle", "connecting", "open"}
	SetConnectionState("connecting", all)
	SetConnectionState("open", all)

	for _, tt := range []struct {
		state string
		want  float64
	}{
		{"idle", 0},
		{"connecting", 0},
		{"open", 1},
	} {
		g, ok := ConnectionState.WithLabelValues(tt.state).(prometheus.Collector)
		require.True(t, ok)
		assert.Equal(t, tt.want, testutil.ToFloat64(g), tt.state)
	}
}

func TestAttemptBucket(t *testing.T) {
	tests := []struct {
		attempt int
		want    string
	}{
		{0, "1"},
		{1, "1"},
		{2, "2-3"},
		{3, "2-3"},
		{6, "4-6"},
		{7, "7+"},
		{100, "7+"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AttemptBucket(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestServer_StartStop(t *testing.T) {
	reset(true)
	t.Cleanup(func() { reset(false); Init() })

	var running atomic.Bool
	srv := NewServer(config.MetricsConfig{Enabled: true, Host: "127.0.0.1", Port: 0}, running.Load, zap.NewNop())
	require.NoError(t, srv.Start())

	host, _, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)

	Up.Set(1)

	base := "http://" + srv.Addr()
	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "agentmail_bridge_up 1")

	// Health follows the bridge state
	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	running.Store(true)
	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, srv.Stop(ctx))
}

func TestNewServer_Addr(t *testing.T) {
	srv := NewServer(config.MetricsConfig{Host: "127.0.0.1", Port: 9091}, nil, zap.NewNop())
	assert.Equal(t, "127.0.0.1:9091", srv.Addr())

	// A nil readiness check is always healthy
	w := httptest.NewRecorder()
	srv.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegister(t *testing.T) {
	reset(true)
	t.Cleanup(func() { reset(false); Init() })
	Init()

	// Registering the same collector twice is harmless
	assert.NotPanics(t, func() { register(ReconnectAttemptsTotal) })

	clash := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "a different help string",
	})
	assert.Panics(t, func() { register(clash) })
}

func TestStartQueueMetricsUpdater(t *testing.T) {
	reset(true)
	t.Cleanup(func() { reset(false); Init() })
	Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartQueueMetricsUpdater(ctx, 5*time.Millisecond, func(context.Context) (int, error) {
		return 7, nil
	})

	g, ok := QueuePending.(prometheus.Collector)
	require.True(t, ok)
	require.Eventually(t, func() bool { return testutil.ToFloat64(g) == 7 }, 2*time.Second, 5*time.Millisecond)
}
