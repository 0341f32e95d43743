package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu            sync.Mutex
	requestCount  map[string]int64
	requestMillis map[string]int64
	errorCount    map[string]int64
}

// Counter is one entry of a metrics snapshot.
type Counter struct {
	Key        string `json:"key"`
	Count      int64  `json:"count"`
	TotalMilli int64  `json:"total_ms,omitempty"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests []Counter `json:"requests"`
	Errors   []Counter `json:"errors"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:  make(map[string]int64),
		requestMillis: make(map[string]int64),
		errorCount:    make(map[string]int64),
	}
}

// RecordRequest increments counters for requests. Route is the matched
// route pattern so ids do not explode the key space.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(route, method, strconv.Itoa(status))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.requestMillis[key] += duration.Milliseconds()
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	key := pathKey(route, method, code)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// Snapshot copies the counters sorted by key.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Requests: make([]Counter, 0, len(m.requestCount)),
		Errors:   make([]Counter, 0, len(m.errorCount)),
	}
	for key, count := range m.requestCount {
		snap.Requests = append(snap.Requests, Counter{Key: key, Count: count, TotalMilli: m.requestMillis[key]})
	}
	for key, count := range m.errorCount {
		snap.Errors = append(snap.Errors, Counter{Key: key, Count: count})
	}
	sort.Slice(snap.Requests, func(i, j int) bool { return snap.Requests[i].Key < snap.Requests[j].Key })
	sort.Slice(snap.Errors, func(i, j int) bool { return snap.Errors[i].Key < snap.Errors[j].Key })
	return snap
}

func pathKey(route, method, suffix string) string {
	return method + " " + route + "|" + suffix
}
