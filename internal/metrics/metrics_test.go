package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/discovery-proxy/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("RecordRegistration", func() {
		It("should count registrations per route", func() {
			m.RecordRegistration("/svc")
			m.RecordRegistration("/svc")
			m.RecordRegistration("/other")

			snap := m.Snapshot()
			Expect(snap.Routes["/svc"].Registrations).To(Equal(int64(2)))
			Expect(snap.Routes["/other"].Registrations).To(Equal(int64(1)))
			Expect(snap.TotalRequests).To(Equal(int64(0)))
		})
	})

	Describe("RecordResponse", func() {
		It("should record requests, selections and status codes", func() {
			m.RecordResponse("/svc", "10.0.0.1:9001", 100*time.Millisecond, 200)
			m.RecordResponse("/svc", "10.0.0.1:9001", 200*time.Millisecond, 201)
			m.RecordResponse("/svc", "10.0.0.2:9002", 50*time.Millisecond, 200)

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Routes["/svc"].Requests).To(Equal(int64(3)))

			ep := snap.Endpoints["10.0.0.1:9001"]
			Expect(ep.Selections).To(Equal(int64(2)))
			Expect(ep.AvgResponse).To(Equal(150 * time.Millisecond))
			Expect(ep.StatusCodes[200]).To(Equal(int64(1)))
			Expect(ep.StatusCodes[201]).To(Equal(int64(1)))
		})

		It("should calculate percentiles correctly", func() {
			for i := 1; i <= 100; i++ {
				m.RecordResponse("/svc", "10.0.0.1:9001", time.Duration(i)*time.Millisecond, 200)
			}

			ep := m.Snapshot().Endpoints["10.0.0.1:9001"]
			Expect(ep.P50Response).To(BeNumerically("~", 50*time.Millisecond, 1*time.Millisecond))
			Expect(ep.P95Response).To(BeNumerically("~", 95*time.Millisecond, 1*time.Millisecond))
			Expect(ep.P99Response).To(BeNumerically("~", 99*time.Millisecond, 1*time.Millisecond))
		})

		It("should limit stored response times to 1000", func() {
			for i := 1; i <= 1500; i++ {
				m.RecordResponse("/svc", "10.0.0.1:9001", time.Duration(i)*time.Millisecond, 200)
			}

			ep := m.Snapshot().Endpoints["10.0.0.1:9001"]
			Expect(ep.AvgResponse).To(BeNumerically(">", 500*time.Millisecond))
			Expect(ep.Selections).To(Equal(int64(1500)))
		})
	})

	Describe("RecordFailure", func() {
		It("should count failures by code", func() {
			m.RecordFailure("/svc", "10.0.0.1:9001", "backend_unreachable", 0)
			m.RecordFailure("/svc", "10.0.0.1:9001", "backend_error", 503)
			m.RecordFailure("/register", "", "invalid_argument", 0)

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.TotalFailures).To(Equal(int64(3)))
			Expect(snap.Routes["/svc"].Failures).To(Equal(map[string]int64{
				"backend_unreachable": 1,
				"backend_error":       1,
			}))
			Expect(snap.Endpoints["10.0.0.1:9001"].Selections).To(Equal(int64(2)))
			Expect(snap.Endpoints["10.0.0.1:9001"].StatusCodes[503]).To(Equal(int64(1)))
			Expect(snap.Endpoints).NotTo(HaveKey(""))
		})
	})

	Describe("RecordUnmatched", func() {
		It("should count without creating routes", func() {
			m.RecordUnmatched()
			m.RecordUnmatched()

			snap := m.Snapshot()
			Expect(snap.Unmatched).To(Equal(int64(2)))
			Expect(snap.TotalRequests).To(Equal(int64(2)))
			Expect(snap.TotalFailures).To(Equal(int64(2)))
			Expect(snap.Routes).To(BeEmpty())
		})
	})

	Describe("Snapshot", func() {
		It("should include uptime", func() {
			time.Sleep(10 * time.Millisecond)
			Expect(m.Snapshot().Uptime).To(BeNumerically(">", 0))
		})

		It("should handle empty metrics", func() {
			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(0)))
			Expect(snap.Routes).To(BeEmpty())
			Expect(snap.Endpoints).To(BeEmpty())
		})

		It("should return independent snapshot", func() {
			m.RecordFailure("/svc", "", "backend_error", 0)
			snap1 := m.Snapshot()
			m.RecordFailure("/svc", "", "backend_error", 0)
			snap2 := m.Snapshot()

			Expect(snap1.Routes["/svc"].Failures["backend_error"]).To(Equal(int64(1)))
			Expect(snap2.Routes["/svc"].Failures["backend_error"]).To(Equal(int64(2)))
		})
	})
})
