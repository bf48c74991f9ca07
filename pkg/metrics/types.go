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
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is the subset of prometheus.Counter used by the bridge
type Counter interface {
	Inc()
	Add(float64)
}

// CounterVec is a labelled Counter family
type CounterVec interface {
	WithLabelValues(lvs ...string) Counter
}

// Gauge is the subset of prometheus.Gauge used by the bridge
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

// GaugeVec is a labelled Gauge family
type GaugeVec interface {
	WithLabelValues(lvs ...string) Gauge
}

// Histogram is the subset of prometheus.Histogram used by the bridge
type Histogram interface {
	Observe(float64)
}

// HistogramVec is a labelled Histogram family
type HistogramVec interface {
	WithLabelValues(lvs ...string) Histogram
}

type promCounterVec struct{ *prometheus.CounterVec }

func (v promCounterVec) WithLabelValues(lvs ...string) Counter {
	return v.CounterVec.WithLabelValues(lvs...)
}

type promGaugeVec struct{ *prometheus.GaugeVec }

func (v promGaugeVec) WithLabelValues(lvs ...string) Gauge {
	return v.GaugeVec.WithLabelValues(lvs...)
}

type promHistogramVec struct{ *prometheus.HistogramVec }

func (v promHistogramVec) WithLabelValues(lvs ...string) Histogram {
	return v.HistogramVec.WithLabelValues(lvs...)
}

// noop implementations are used when metrics are disabled

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) WithLabelValues(...string) Counter { return noopCounter{} }

type noopGauge struct{}

func (noopGauge) Set(float64) {}
func (noopGauge) Inc()        {}
func (noopGauge) Dec()        {}
func (noopGauge) Add(float64) {}
func (noopGauge) Sub(float64) {}

type noopGaugeVec struct{}

func (noopGaugeVec) WithLabelValues(...string) Gauge { return noopGauge{} }

type noopHistogram struct{}

func (noopHistogram) Observe(float64) {}

type noopHistogramVec struct{}

func (noopHistogramVec) WithLabelValues(...string) Histogram { return noopHistogram{} }

func newCounter(opts prometheus.CounterOpts) Counter {
	if !Enabled {
		return noopCounter{}
	}
	return prometheus.NewCounter(opts)
}

func newCounterVec(opts prometheus.CounterOpts, labels []string) CounterVec {
	if !Enabled {
		return noopCounterVec{}
	}
	return promCounterVec{prometheus.NewCounterVec(opts, labels)}
}

func newGauge(opts prometheus.GaugeOpts) Gauge {
	if !Enabled {
		return noopGauge{}
	}
	return prometheus.NewGauge(opts)
}

func newGaugeVec(opts prometheus.GaugeOpts, labels []string) GaugeVec {
	if !Enabled {
		return noopGaugeVec{}
	}
	return promGaugeVec{prometheus.NewGaugeVec(opts, labels)}
}

func newHistogramVec(opts prometheus.HistogramOpts, labels []string) HistogramVec {
	if !Enabled {
		return noopHistogramVec{}
	}
	return promHistogramVec{prometheus.NewHistogramVec(opts, labels)}
}

// register adds a real collector to the registry; noop values are skipped.
// Re-registering the same collector is a no-op, any other conflict panics
// like MustRegister.
func register(v interface{}) {
	if !Enabled || registry == nil {
		return
	}

	var c prometheus.Collector
	switch m := v.(type) {
	case promCounterVec:
		c = m.CounterVec
	case promGaugeVec:
		c = m.GaugeVec
	case promHistogramVec:
		c = m.HistogramVec
	case prometheus.Collector:
		c = m
	default:
		return
	}

	err := registry.Register(c)
	var already prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &already) {
		panic(fmt.Sprintf("metrics: failed to register collector: %v", err))
	}
}
