package relay

import "sync"

// Metrics counts relay deliveries and best-effort drops. Dropped messages
// never surface as errors to the sender; they only show up here.
type Metrics struct {
	mu        sync.Mutex
	delivered map[Channel]uint64
	dropped   map[Channel]uint64
	retried   uint64
}

// NewMetrics returns zeroed relay metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		delivered: make(map[Channel]uint64),
		dropped:   make(map[Channel]uint64),
	}
}

func (m *Metrics) addDelivered(channel Channel) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.delivered[channel]++
	m.mu.Unlock()
}

func (m *Metrics) addDropped(channel Channel) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.dropped[channel]++
	m.mu.Unlock()
}

func (m *Metrics) addRetried() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.retried++
	m.mu.Unlock()
}

// Dropped returns the drop count for a channel.
func (m *Metrics) Dropped(channel Channel) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[channel]
}

// Snapshot returns counters keyed for the metrics endpoint.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.delivered)+len(m.dropped)+1)
	for channel, count := range m.delivered {
		out["delivered_"+string(channel)] = count
	}
	for channel, count := range m.dropped {
		out["dropped_"+string(channel)] = count
	}
	out["control_retries"] = m.retried
	return out
}
