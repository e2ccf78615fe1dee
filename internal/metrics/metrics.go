package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type routeStats struct {
	registrations int64
	requests      int64
	failures      map[string]int64
}

type endpointStats struct {
	selections    int64
	responseTimes []time.Duration
	statusCodes   map[int]int64
}

type Metrics struct {
	mutex     sync.RWMutex
	routes    map[string]*routeStats
	endpoints map[string]*endpointStats
	unmatched int64
	startTime time.Time
}

type Snapshot struct {
	TotalRequests int64                      `json:"total_requests"`
	TotalFailures int64                      `json:"total_failures"`
	Unmatched     int64                      `json:"unmatched"`
	Uptime        time.Duration              `json:"uptime"`
	Routes        map[string]RouteMetrics    `json:"routes"`
	Endpoints     map[string]EndpointMetrics `json:"endpoints"`
}

type RouteMetrics struct {
	Registrations int64            `json:"registrations"`
	Requests      int64            `json:"requests"`
	Failures      map[string]int64 `json:"failures"`
}

type EndpointMetrics struct {
	Selections  int64         `json:"selections"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		routes:    make(map[string]*routeStats),
		endpoints: make(map[string]*endpointStats),
		startTime: time.Now(),
	}
}

func (m *Metrics) RecordRegistration(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.route(route).registrations++
}

// RecordResponse counts a request on route answered by endpoint.
func (m *Metrics) RecordResponse(route, endpoint string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.route(route).requests++

	es := m.endpoint(endpoint)
	es.selections++
	es.responseTimes = append(es.responseTimes, duration)
	if len(es.responseTimes) > maxSamples {
		es.responseTimes = es.responseTimes[1:]
	}
	if statusCode > 0 {
		es.statusCodes[statusCode]++
	}
}

// RecordFailure counts a failed request. An empty endpoint means no
// endpoint was selected.
func (m *Metrics) RecordFailure(route, endpoint, code string, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	rs := m.route(route)
	rs.requests++
	rs.failures[code]++

	if endpoint == "" {
		return
	}

	es := m.endpoint(endpoint)
	es.selections++
	if statusCode > 0 {
		es.statusCodes[statusCode]++
	}
}

func (m *Metrics) RecordUnmatched() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unmatched++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:        time.Since(m.startTime),
		Unmatched:     m.unmatched,
		TotalRequests: m.unmatched,
		TotalFailures: m.unmatched,
		Routes:        make(map[string]RouteMetrics, len(m.routes)),
		Endpoints:     make(map[string]EndpointMetrics, len(m.endpoints)),
	}

	for route, rs := range m.routes {
		failures := make(map[string]int64, len(rs.failures))
		for code, n := range rs.failures {
			failures[code] = n
			snap.TotalFailures += n
		}
		snap.TotalRequests += rs.requests
		snap.Routes[route] = RouteMetrics{
			Registrations: rs.registrations,
			Requests:      rs.requests,
			Failures:      failures,
		}
	}

	for endpoint, es := range m.endpoints {
		codes := make(map[int]int64, len(es.statusCodes))
		for code, n := range es.statusCodes {
			codes[code] = n
		}
		em := EndpointMetrics{
			Selections:  es.selections,
			StatusCodes: codes,
		}

		if len(es.responseTimes) > 0 {
			sorted := make([]time.Duration, len(es.responseTimes))
			copy(sorted, es.responseTimes)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			em.AvgResponse = average(sorted)
			em.P50Response = percentile(sorted, 0.50)
			em.P95Response = percentile(sorted, 0.95)
			em.P99Response = percentile(sorted, 0.99)
		}

		snap.Endpoints[endpoint] = em
	}

	return snap
}

func (m *Metrics) route(route string) *routeStats {
	rs, ok := m.routes[route]
	if !ok {
		rs = &routeStats{failures: make(map[string]int64)}
		m.routes[route] = rs
	}
	return rs
}

func (m *Metrics) endpoint(endpoint string) *endpointStats {
	es, ok := m.endpoints[endpoint]
	if !ok {
		es = &endpointStats{statusCodes: make(map[int]int64)}
		m.endpoints[endpoint] = es
	}
	return es
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
