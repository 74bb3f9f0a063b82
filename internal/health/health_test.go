package health

import (
	"sync"
	"testing"
)

func TestOverallOnEmptyMonitorIsUnknown(t *testing.T) {
	m := NewMonitor()
	if got := m.Overall(); got != Unknown {
		t.Fatalf("Overall() = %q, want %q", got, Unknown)
	}
	s := m.Summary()
	if s["status"] != "unknown" {
		t.Fatalf("Summary status = %v, want unknown", s["status"])
	}
	if components, _ := s["components"].(map[string]string); len(components) != 0 {
		t.Fatalf("Summary components = %v, want empty", components)
	}
}

func TestOverallReturnsWorstStatus(t *testing.T) {
	m := NewMonitor()
	m.Update("snapshot", Healthy, "")
	m.Update("stats", Degraded, "cpu sample failed")

	if got := m.Overall(); got != Degraded {
		t.Fatalf("Overall() = %q, want %q", got, Degraded)
	}

	m.Update("stats", Healthy, "")
	if got := m.Overall(); got != Healthy {
		t.Fatalf("Overall() after recovery = %q, want %q", got, Healthy)
	}
}

func TestUnhealthyWorseThanDegraded(t *testing.T) {
	m := NewMonitor()
	m.Update("a", Degraded, "")
	m.Update("b", Unhealthy, "down")

	if got := m.Overall(); got != Unhealthy {
		t.Fatalf("Overall() = %q, want %q", got, Unhealthy)
	}
}

func TestGetAndAllAreOrdered(t *testing.T) {
	m := NewMonitor()
	m.Update("stats", Healthy, "")
	m.Update("snapshot", Degraded, "skipped")

	c, ok := m.Get("snapshot")
	if !ok || c.Status != Degraded || c.Message != "skipped" {
		t.Fatalf("Get(snapshot) = %+v, %v", c, ok)
	}
	if c.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not set")
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatal("Get of an unknown component should report false")
	}

	all := m.All()
	if len(all) != 2 || all[0].Name != "snapshot" || all[1].Name != "stats" {
		t.Fatalf("All() = %+v, want snapshot then stats", all)
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{Healthy, Degraded, Unhealthy, Unknown} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("bogus").Valid() {
		t.Error("bogus status should be invalid")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Update("snapshot", Healthy, "")
			} else {
				m.Update("stats", Degraded, "slow")
			}
			m.Overall()
			m.Summary()
		}(i)
	}
	wg.Wait()

	if got := len(m.All()); got != 2 {
		t.Fatalf("len(All()) = %d, want 2", got)
	}
}
