package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestSetPoolStats(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetPoolStats(3, 2, 5)
	if v := getGaugeValue(c.sessionsAvailable); v != 3 {
		t.Errorf("expected available=3, got %v", v)
	}
	if v := getGaugeValue(c.sessionsUnavailable); v != 2 {
		t.Errorf("expected unavailable=2, got %v", v)
	}
	if v := getGaugeValue(c.sessionsTotal); v != 5 {
		t.Errorf("expected total=5, got %v", v)
	}

	// A second call replaces (not increments) the value.
	c.SetPoolStats(1, 4, 5)
	if v := getGaugeValue(c.sessionsAvailable); v != 1 {
		t.Errorf("expected available=1 after update, got %v", v)
	}
}

func TestObservePoolExhaustedAndReaped(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObservePoolExhausted()
	c.ObservePoolExhausted()
	c.ObserveSessionReaped()

	if v := getCounterValue(c.poolExhaustedTotal); v != 2 {
		t.Errorf("expected poolExhaustedTotal=2, got %v", v)
	}
	if v := getCounterValue(c.sessionsReapedTotal); v != 1 {
		t.Errorf("expected sessionsReapedTotal=1, got %v", v)
	}
}

func TestObserveQuery(t *testing.T) {
	c, reg := newTestCollector(t)

	c.ObserveQuery("ok", 100*time.Millisecond)
	c.ObserveQuery("ok", 200*time.Millisecond)
	c.ObserveQuery("error", 5*time.Millisecond)

	val := getCounterValue(c.queriesTotal.WithLabelValues("ok"))
	if val != 2 {
		t.Errorf("expected ok queries=2, got %v", val)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "shimgate_query_duration_seconds" {
			found = true
			for _, m := range f.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "outcome" && l.GetValue() == "ok" {
						if m.GetHistogram().GetSampleCount() != 2 {
							t.Errorf("expected 2 ok samples, got %d", m.GetHistogram().GetSampleCount())
						}
					}
				}
			}
		}
	}
	if !found {
		t.Error("query duration metric not found")
	}
}

func TestObserveEngineConnectFailure(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveEngineConnectFailure()
	c.ObserveEngineConnectFailure()

	if v := getCounterValue(c.engineConnectFailuresTotal); v != 2 {
		t.Errorf("expected engineConnectFailuresTotal=2, got %v", v)
	}
}

func TestObserveDrainBytesAndLines(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveDrainBytes(128)
	c.ObserveDrainBytes(64)
	c.ObserveDrainLines(3)

	if v := getCounterValue(c.drainBytesTotal); v != 192 {
		t.Errorf("expected drainBytesTotal=192, got %v", v)
	}
	if v := getCounterValue(c.drainLinesTotal); v != 3 {
		t.Errorf("expected drainLinesTotal=3, got %v", v)
	}
}

func TestObserveHealthCheck(t *testing.T) {
	c, reg := newTestCollector(t)

	c.ObserveHealthCheck(5*time.Millisecond, nil)
	c.ObserveHealthCheck(5*time.Millisecond, errors.New("dial failed"))

	if v := getCounterValue(c.healthCheckErrors); v != 1 {
		t.Errorf("expected healthCheckErrors=1, got %v", v)
	}

	families, _ := reg.Gather()
	var found bool
	for _, f := range families {
		if f.GetName() == "shimgate_health_check_duration_seconds" {
			found = true
			m := f.GetMetric()
			if len(m) > 0 && m[0].GetHistogram().GetSampleCount() != 2 {
				t.Errorf("expected 2 health check samples, got %d", m[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Error("health check duration metric not found")
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	// Calling New() multiple times should not panic because each creates
	// its own registry instead of using the global default.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	c1.SetPoolStats(1, 0, 1)
	c2.SetPoolStats(2, 0, 2)

	if v := getGaugeValue(c1.sessionsAvailable); v != 1 {
		t.Errorf("c1 expected available=1, got %v", v)
	}
	if v := getGaugeValue(c2.sessionsAvailable); v != 2 {
		t.Errorf("c2 expected available=2, got %v", v)
	}
}
