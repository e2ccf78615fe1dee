package registry_test

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
	"github.com/angeloszaimis/discovery-proxy/internal/registry"
)

func mustEndpoint(host string, port int) registry.Endpoint {
	ep, err := registry.NewEndpoint(host, port)
	if err != nil {
		panic(err)
	}
	return ep
}

var _ = Describe("Registry", func() {
	var (
		reg *registry.Registry
		ep1 registry.Endpoint
		ep2 registry.Endpoint
		ep3 registry.Endpoint
	)

	BeforeEach(func() {
		reg = registry.New()
		ep1 = mustEndpoint("10.0.0.1", 9001)
		ep2 = mustEndpoint("10.0.0.2", 9002)
		ep3 = mustEndpoint("10.0.0.3", 9003)
	})

	Describe("Register", func() {
		It("should create a route on first registration", func() {
			outcome, err := reg.Register("/svc", ep1)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Added).To(BeTrue())
			Expect(outcome.Count).To(Equal(1))
			Expect(outcome.Endpoint).To(Equal(ep1))
			Expect(reg.Len()).To(Equal(1))
		})

		It("should append new endpoints in registration order", func() {
			reg.Register("/svc", ep1)
			reg.Register("/svc", ep2)
			outcome, err := reg.Register("/svc", ep3)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Count).To(Equal(3))
			Expect(reg.Endpoints("/svc")).To(Equal([]registry.Endpoint{ep1, ep2, ep3}))
		})

		It("should be idempotent for the same endpoint", func() {
			reg.Register("/svc", ep1)
			outcome, err := reg.Register("/svc", ep1)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Added).To(BeFalse())
			Expect(outcome.Count).To(Equal(1))
			Expect(reg.Endpoints("/svc")).To(HaveLen(1))
		})

		It("should keep routes independent", func() {
			reg.Register("/a", ep1)
			reg.Register("/b", ep1)
			reg.Register("/b", ep2)
			Expect(reg.Endpoints("/a")).To(HaveLen(1))
			Expect(reg.Endpoints("/b")).To(HaveLen(2))
		})

		It("should not move the cursor when appending", func() {
			reg.Register("/svc", ep1)
			reg.Register("/svc", ep2)
			Expect(reg.Select("/svc")).To(Equal(ep1))

			reg.Register("/svc", ep3)
			Expect(reg.Select("/svc")).To(Equal(ep2))
			Expect(reg.Select("/svc")).To(Equal(ep3))
			Expect(reg.Select("/svc")).To(Equal(ep1))
		})

		DescribeTable("should reject invalid input",
			func(path string, ep registry.Endpoint) {
				_, err := reg.Register(path, ep)
				Expect(apperror.IsInvalidArgument(err)).To(BeTrue())
				Expect(reg.Len()).To(Equal(0))
			},
			Entry("empty path", "", mustEndpoint("10.0.0.1", 9001)),
			Entry("relative path", "svc", mustEndpoint("10.0.0.1", 9001)),
			Entry("zero endpoint", "/svc", registry.Endpoint{}),
		)
	})

	Describe("Select", func() {
		It("should fail with UnknownRoute for an unregistered path", func() {
			_, err := reg.Select("/unknown")
			Expect(err).To(HaveOccurred())
			Expect(apperror.IsUnknownRoute(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("/unknown"))
		})

		It("should fail with InvalidArgument for an empty path", func() {
			_, err := reg.Select("")
			Expect(apperror.IsInvalidArgument(err)).To(BeTrue())
		})

		It("should rotate through endpoints in registration order", func() {
			reg.Register("/svc", ep1)
			reg.Register("/svc", ep2)

			Expect(reg.Select("/svc")).To(Equal(ep1))
			Expect(reg.Select("/svc")).To(Equal(ep2))
			Expect(reg.Select("/svc")).To(Equal(ep1))
		})

		It("should return the only endpoint repeatedly", func() {
			reg.Register("/svc", ep1)
			for i := 0; i < 3; i++ {
				Expect(reg.Select("/svc")).To(Equal(ep1))
			}
		})

		It("should visit every endpoint once per cycle", func() {
			const n = 7
			var registered []registry.Endpoint
			for i := 0; i < n; i++ {
				ep := mustEndpoint("10.0.1.1", 9000+i)
				registered = append(registered, ep)
				reg.Register("/svc", ep)
			}

			for cycle := 0; cycle < 3; cycle++ {
				var got []registry.Endpoint
				for i := 0; i < n; i++ {
					ep, err := reg.Select("/svc")
					Expect(err).NotTo(HaveOccurred())
					got = append(got, ep)
				}
				Expect(got).To(Equal(registered))
			}
		})

		It("should fail the call and recover from a corrupted cursor", func() {
			reg.Register("/svc", ep1)
			reg.Register("/svc", ep2)
			reg.CorruptCursor("/svc", 42)

			_, err := reg.Select("/svc")
			Expect(apperror.Is(err, apperror.CodeInternal)).To(BeTrue())

			Expect(reg.Select("/svc")).To(Equal(ep1))
		})
	})

	Describe("Endpoints", func() {
		It("should return nil for unknown routes", func() {
			Expect(reg.Endpoints("/nope")).To(BeNil())
		})

		It("should return a copy", func() {
			reg.Register("/svc", ep1)
			eps := reg.Endpoints("/svc")
			eps[0] = ep2
			Expect(reg.Endpoints("/svc")).To(Equal([]registry.Endpoint{ep1}))
		})
	})

	Describe("Routes", func() {
		It("should snapshot routes sorted by path", func() {
			reg.Register("/b", ep2)
			reg.Register("/a", ep1)
			reg.Select("/b")

			routes := reg.Routes()
			Expect(routes).To(HaveLen(2))
			Expect(routes[0].Path).To(Equal("/a"))
			Expect(routes[1].Path).To(Equal("/b"))
			Expect(routes[1].Endpoints).To(Equal([]registry.Endpoint{ep2}))
			Expect(routes[1].Cursor).To(Equal(0))
		})
	})

	Describe("Concurrency", func() {
		It("should store exactly K endpoints for K concurrent registrations", func() {
			const k = 200
			var wg sync.WaitGroup
			for i := 0; i < k; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := reg.Register("/svc", mustEndpoint("10.0.2.1", 10000+i))
					Expect(err).NotTo(HaveOccurred())
				}(i)
			}
			wg.Wait()

			eps := reg.Endpoints("/svc")
			Expect(eps).To(HaveLen(k))

			seen := make(map[registry.Endpoint]bool, k)
			for _, ep := range eps {
				Expect(seen).NotTo(HaveKey(ep))
				seen[ep] = true
			}
		})

		It("should not duplicate under concurrent re-registration", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					reg.Register("/svc", ep1)
				}()
			}
			wg.Wait()
			Expect(reg.Endpoints("/svc")).To(HaveLen(1))
		})

		It("should hand out each cursor position once under concurrent selection", func() {
			const n = 4
			for i := 0; i < n; i++ {
				reg.Register("/svc", mustEndpoint("10.0.3.1", 9000+i))
			}

			const rounds = 250
			var (
				wg     sync.WaitGroup
				mutex  sync.Mutex
				counts = make(map[string]int)
			)
			for i := 0; i < n*rounds; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					ep, err := reg.Select("/svc")
					Expect(err).NotTo(HaveOccurred())
					mutex.Lock()
					counts[ep.String()]++
					mutex.Unlock()
				}()
			}
			wg.Wait()

			Expect(counts).To(HaveLen(n))
			for i := 0; i < n; i++ {
				Expect(counts[fmt.Sprintf("10.0.3.1:%d", 9000+i)]).To(Equal(rounds))
			}
		})

		It("should allow registration and selection to interleave", func() {
			reg.Register("/svc", ep1)

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					reg.Register("/svc", mustEndpoint("10.0.4.1", 9000+i))
				}(i)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := reg.Select("/svc")
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			Expect(reg.Endpoints("/svc")).To(HaveLen(51))
		})
	})
})
