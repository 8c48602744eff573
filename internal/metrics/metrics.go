package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex           sync.RWMutex
	requests        int64
	rejected        int64
	queueDepth      int
	selections      map[string]int64
	forwardFailures map[string]int64
	responseTimes   map[string][]time.Duration
	statusCodes     map[string]map[int]int64
	healthStatus    map[string]bool
	startTime       time.Time
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Rejected      int64                     `json:"rejected"`
	QueueDepth    int                       `json:"queue_depth"`
	Uptime        time.Duration             `json:"uptime"`
	Backends      map[string]BackendMetrics `json:"backends"`
	Algorithm     string                    `json:"algorithm"`
}

type BackendMetrics struct {
	Selections      int64         `json:"selections"`
	ForwardFailures int64         `json:"forward_failures"`
	Healthy         bool          `json:"healthy"`
	AvgResponse     time.Duration `json:"avg_response"`
	P50Response     time.Duration `json:"p50_response"`
	P95Response     time.Duration `json:"p95_response"`
	P99Response     time.Duration `json:"p99_response"`
	StatusCodes     map[int]int64 `json:"status_codes"`
}

func (m *Metrics) IncrementRequests() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests++
}

func (m *Metrics) RecordRejection() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejected++
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.queueDepth = depth
}

func (m *Metrics) RecordBackendSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[backend]++
}

func (m *Metrics) RecordForwardFailure(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.forwardFailures[backend]++
}

func (m *Metrics) RecordResponse(backend string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[backend] = append(m.responseTimes[backend], duration)

	if len(m.responseTimes[backend]) > maxSamples {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}

	if m.statusCodes[backend] == nil {
		m.statusCodes[backend] = make(map[int]int64)
	}
	m.statusCodes[backend][statusCode]++
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) Snapshot(algorithm string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalRequests: m.requests,
		Rejected:      m.rejected,
		QueueDepth:    m.queueDepth,
		Uptime:        time.Since(m.startTime),
		Backends:      make(map[string]BackendMetrics),
		Algorithm:     algorithm,
	}

	// Collect all unique backend URLs
	allBackends := make(map[string]bool)
	for backend := range m.selections {
		allBackends[backend] = true
	}
	for backend := range m.forwardFailures {
		allBackends[backend] = true
	}
	for backend := range m.responseTimes {
		allBackends[backend] = true
	}
	for backend := range m.healthStatus {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		bm := BackendMetrics{
			Selections:      m.selections[backend],
			ForwardFailures: m.forwardFailures[backend],
			Healthy:         m.healthStatus[backend],
			StatusCodes:     copyCodes(m.statusCodes[backend]),
		}

		durations := m.responseTimes[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		selections:      make(map[string]int64),
		forwardFailures: make(map[string]int64),
		responseTimes:   make(map[string][]time.Duration),
		statusCodes:     make(map[string]map[int]int64),
		healthStatus:    make(map[string]bool),
		startTime:       time.Now(),
	}
}

func copyCodes(codes map[int]int64) map[int]int64 {
	if codes == nil {
		return nil
	}

	out := make(map[int]int64, len(codes))
	for code, n := range codes {
		out[code] = n
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
