package monitoring

import (
	"sync"
	"time"
)

// Monitor keeps the latest sync facts for the status endpoint
type Monitor struct {
	mu      sync.RWMutex
	facts   map[string]interface{}
	started time.Time
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{
		facts:   make(map[string]interface{}),
		started: time.Now(),
	}
}

// SetGauge records the current value of a named count.
func (m *Monitor) SetGauge(name string, value int) {
	m.mu.Lock()
	m.facts[name] = value
	m.mu.Unlock()
}

// Forget drops every recorded fact. The store calls it on sign-out so the next account
// starts from a clean status.
func (m *Monitor) Forget() {
	m.mu.Lock()
	m.facts = make(map[string]interface{})
	m.mu.Unlock()
}

// RecordSync records the outcome of one store operation under "<op>_" prefixed keys.
// A successful run clears the previous error.
func (m *Monitor) RecordSync(op string, count int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := op + "_"
	m.facts[prefix+"last_run"] = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		m.facts[prefix+"last_error"] = err.Error()
		return
	}
	delete(m.facts, prefix+"last_error")
	m.facts[prefix+"count"] = count
}

// Facts returns a copy of every fact plus the process uptime.
func (m *Monitor) Facts() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]interface{}, len(m.facts)+1)
	for k, v := range m.facts {
		out[k] = v
	}
	out["uptime_seconds"] = time.Since(m.started).Seconds()
	return out
}
