package metrics

import (
	"sync"
	"testing"
)

func TestGaugeLatest(t *testing.T) {
	c := NewCollector(16)
	c.SetGauge("batch.height", 10, nil)
	c.SetGauge("batch.height", 20, map[string]string{"market": "ETH-USDC"})

	e := c.Latest("batch.height")
	if e == nil {
		t.Fatal("no latest entry")
	}
	if e.Value != 20 {
		t.Errorf("Value = %v, want 20", e.Value)
	}
	if e.Tags["market"] != "ETH-USDC" {
		t.Errorf("Tags = %v", e.Tags)
	}
	if e.Type != "gauge" {
		t.Errorf("Type = %s", e.Type)
	}
}

func TestCounterAccumulates(t *testing.T) {
	c := NewCollector(16)
	for i := 0; i < 3; i++ {
		c.Inc("order.committed", nil)
	}
	if got := c.Counter("order.committed"); got != 3 {
		t.Errorf("Counter = %v, want 3", got)
	}
	if e := c.Latest("order.committed"); e == nil || e.Value != 3 {
		t.Errorf("Latest = %+v", e)
	}
}

func TestRetentionCap(t *testing.T) {
	c := NewCollector(2)
	c.SetGauge("a", 1, nil)
	c.SetGauge("b", 2, nil)
	c.SetGauge("c", 3, nil)

	if got := len(c.All()); got != 2 {
		t.Errorf("retained %d entries, want 2", got)
	}
	// Latest still tracks everything.
	if e := c.Latest("c"); e == nil || e.Value != 3 {
		t.Errorf("Latest(c) = %+v", e)
	}
}

func TestNilCollectorNoops(t *testing.T) {
	var c *Collector
	c.SetGauge("x", 1, nil)
	c.Inc("y", nil)
	if c.Latest("x") != nil || c.Counter("y") != 0 || c.All() != nil {
		t.Fatal("nil collector not a no-op")
	}
}

func TestConcurrentUse(t *testing.T) {
	c := NewCollector(1024)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc("batch.settled", nil)
			}
		}()
	}
	wg.Wait()
	if got := c.Counter("batch.settled"); got != 800 {
		t.Errorf("Counter = %v, want 800", got)
	}
}
