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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "agentmail_bridge"
)

// Enabled controls whether real Prometheus collectors are created.
// It must be set before Init is called.
var Enabled bool

var (
	once     sync.Once
	registry *prometheus.Registry

	ConnectionState        GaugeVec
	ReconnectAttemptsTotal Counter
	ConnectFailuresTotal   CounterVec
	SessionsOpen           Gauge
	SessionDurationSeconds HistogramVec
	BackoffDelaySeconds    HistogramVec
	FramesReceivedTotal    CounterVec
	NotificationsTotal     CounterVec
	WakeRequestsTotal      CounterVec
	WakeDurationSeconds    HistogramVec
	QueuePending           Gauge
	Up                     Gauge
)

// initMetrics initializes all metric variables.
// This must be called after Enabled is set to ensure proper noop behavior when disabled.
func initMetrics() {
	ConnectionState = newGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Event stream connection state (1 for the current state, 0 otherwise)",
		},
		[]string{"state"},
	)

	ReconnectAttemptsTotal = newCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts after a session ended or failed to open",
		},
	)

	ConnectFailuresTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Total number of failed session opens",
		},
		[]string{"reason"},
	)

	SessionsOpen = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Number of open event stream sessions (never more than 1)",
		},
	)

	SessionDurationSeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of event stream sessions in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 14400, 86400},
		},
		[]string{"close_code"},
	)

	BackoffDelaySeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backoff_delay_seconds",
			Help:      "Backoff delay applied before reconnect attempts in seconds",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 60},
		},
		[]string{"attempt_bucket"},
	)

	FramesReceivedTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames by classification",
		},
		[]string{"kind"},
	)

	NotificationsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of message notifications handed to the task queue",
		},
		[]string{"status"},
	)

	WakeRequestsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_requests_total",
			Help:      "Total number of wake requests by strategy and outcome",
		},
		[]string{"strategy", "status"},
	)

	WakeDurationSeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wake_duration_seconds",
			Help:      "Duration of wake HTTP calls in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"strategy"},
	)

	QueuePending = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Number of pending notifications in the task queue",
		},
	)

	Up = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "Whether the bridge is running (1) or stopped (0)",
		},
	)
}

func initRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	register(ConnectionState)
	register(ReconnectAttemptsTotal)
	register(ConnectFailuresTotal)
	register(SessionsOpen)
	register(SessionDurationSeconds)
	register(BackoffDelaySeconds)
	register(FramesReceivedTotal)
	register(NotificationsTotal)
	register(WakeRequestsTotal)
	register(WakeDurationSeconds)
	register(QueuePending)
	register(Up)
}

// Init initializes the metrics registry with all collectors.
// Metric variables are always usable after Init, as noops when disabled.
func Init() *prometheus.Registry {
	once.Do(func() {
		initMetrics()

		if !Enabled {
			registry = prometheus.NewRegistry()
			return
		}
		initRegistry()
	})

	return registry
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return Init()
	}
	return registry
}

// SetConnectionState marks state as the current connection state
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		if s == state {
			ConnectionState.WithLabelValues(s).Set(1)
		} else {
			ConnectionState.WithLabelValues(s).Set(0)
		}
	}
}

// AttemptBucket groups attempt numbers into a bounded label set
func AttemptBucket(attempt int) string {
	switch {
	case attempt <= 1:
		return "1"
	case attempt <= 3:
		return "2-3"
	case attempt <= 6:
		return "4-6"
	default:
		return "7+"
	}
}

func init() {
	// Metric variables must never be nil, even if Init is never called
	initMetrics()
}
