// Package metrics holds the process-wide counters surfaced by the admin
// HTTP surface's /metrics route. Counters are a mutex-guarded map of
// per-type request counts plus one routed-message counter, kept as a
// handful of process-global values instead of one struct per connection.
package metrics

import "sync"

// Counters tracks request volume and message fan-out across the whole
// process. The zero value is usable.
type Counters struct {
	mu             sync.Mutex
	requestsByType map[string]int64
	messagesRouted int64
}

// New returns an empty Counters.
func New() *Counters {
	return &Counters{requestsByType: make(map[string]int64)}
}

// RecordRequest increments the count for a dispatched frame type.
func (c *Counters) RecordRequest(msgType string) {
	c.mu.Lock()
	if c.requestsByType == nil {
		c.requestsByType = make(map[string]int64)
	}
	c.requestsByType[msgType]++
	c.mu.Unlock()
}

// RecordMessageRouted increments the count of chat/push messages fanned
// out to room members.
func (c *Counters) RecordMessageRouted() {
	c.mu.Lock()
	c.messagesRouted++
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy safe to marshal to JSON.
type Snapshot struct {
	MessagesRouted int64            `json:"messages_routed"`
	RequestsByType map[string]int64 `json:"requests_by_type"`
}

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	byType := make(map[string]int64, len(c.requestsByType))
	for k, v := range c.requestsByType {
		byType[k] = v
	}
	return Snapshot{MessagesRouted: c.messagesRouted, RequestsByType: byType}
}
