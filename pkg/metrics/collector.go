package metrics

import (
	"sync"
	"time"

	"github.com/cuemby/terrapool/pkg/events"
	"github.com/cuemby/terrapool/pkg/types"
)

// AgentCounter reports the number of agents per pool and status
type AgentCounter interface {
	Counts() map[string]map[types.AgentStatus]int
}

// Collector keeps the metrics in line with the daemon state: attempt
// counters follow the event stream, agent gauges are refreshed periodically
type Collector struct {
	broker   *events.Broker
	agents   AgentCounter
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(broker *events.Broker, agents AgentCounter) *Collector {
	return &Collector{
		broker:   broker,
		agents:   agents,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	var sub events.Subscriber
	if c.broker != nil {
		sub = c.broker.Subscribe()
	}

	ticker := time.NewTicker(c.interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		if sub != nil {
			defer c.broker.Unsubscribe(sub)
		}

		// Collect immediately on start
		c.collect()

		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					sub = nil
					continue
				}
				c.observe(ev)
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) observe(ev *events.Event) {
	switch ev.Type {
	case events.EventAttemptSucceeded:
		AttemptsTotal.WithLabelValues(ev.Pool, ev.Template, "succeeded").Inc()
	case events.EventAttemptFailed:
		AttemptsTotal.WithLabelValues(ev.Pool, ev.Template, "failed").Inc()
	case events.EventAgentOnline, events.EventAgentOffline, events.EventAgentTerminated:
		c.collect()
	}
}

func (c *Collector) collect() {
	if c.agents == nil {
		return
	}

	AgentsTotal.Reset()
	for pool, statuses := range c.agents.Counts() {
		for status, n := range statuses {
			AgentsTotal.WithLabelValues(pool, string(status)).Set(float64(n))
		}
	}
}
