// Package circuitbreaker guards backend endpoints with one circuit breaker
// each, built on sony/gobreaker.
//
// A breaker counts transport failures (unreachable or timed out) against
// its endpoint. Once ConsecutiveFailures is reached it opens and forwards to
// that endpoint fail fast with backend_unreachable until OpenTimeout has
// passed; then HalfOpenRequests probes decide whether it closes again. A
// backend that answers with a non-2xx status is alive and does not count.
//
// The breaker never changes which endpoint is selected: round-robin rotation
// continues and an open endpoint simply fails its turn.
//
//	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{
//		ConsecutiveFailures: 5,
//		OpenTimeout:         30 * time.Second,
//	}, logger)
//	forwarder := circuitbreaker.Wrap(backendClient, breakers)
package circuitbreaker
