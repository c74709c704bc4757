// Package metrics records build and push outcomes of a run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/steigerbuild/steiger/pkg/util/console"
)

var histogramBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400}

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
	OutcomePushed   = "pushed"
	OutcomeSkipped  = "skipped"
)

// Metrics is a set of run collectors on a private registry. A nil *Metrics
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	builds        *prometheus.CounterVec
	pushes        *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steiger",
			Name:      "builds_total",
			Help:      "Number of service builds by backend and outcome",
		}, []string{"backend", "outcome"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steiger",
			Name:      "pushes_total",
			Help:      "Number of images pushed or skipped because the registry had them",
		}, []string{"outcome"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "steiger",
			Name:      "build_duration_seconds",
			Help:      "Wall time of service builds",
			Buckets:   histogramBuckets,
		}, []string{"backend"}),
	}
	m.Registry.MustRegister(m.builds, m.pushes, m.buildDuration)
	return m
}

func (m *Metrics) RecordBuild(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.builds.With(prometheus.Labels{"backend": backend, "outcome": outcome}).Inc()
	m.buildDuration.With(prometheus.Labels{"backend": backend}).Observe(d.Seconds())
}

func (m *Metrics) RecordPush(outcome string) {
	if m == nil {
		return
	}
	m.pushes.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// Push sends the collected metrics to a Prometheus Pushgateway.
func (m *Metrics) Push(ctx context.Context, gateway, job string) error {
	if m == nil || gateway == "" {
		return nil
	}
	err := push.New(gateway, job).Gatherer(m.Registry).PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", gateway, err)
	}
	console.Debugf("pushed run metrics to %s", gateway)
	return nil
}
