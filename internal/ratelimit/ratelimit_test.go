package ratelimit_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/discovery-proxy/internal/ratelimit"
)

var _ = Describe("Limiter", func() {
	It("should allow everything when disabled", func() {
		l := ratelimit.NewLimiter(0, 0)
		Expect(l.Enabled()).To(BeFalse())
		for i := 0; i < 100; i++ {
			Expect(l.Allow("10.0.0.1")).To(BeTrue())
		}
		Expect(l.Len()).To(Equal(0))
	})

	It("should treat a nil limiter as disabled", func() {
		var l *ratelimit.Limiter
		Expect(l.Allow("10.0.0.1")).To(BeTrue())
	})

	It("should enforce the burst per key", func() {
		l := ratelimit.NewLimiter(1, 2)
		Expect(l.Allow("a")).To(BeTrue())
		Expect(l.Allow("a")).To(BeTrue())
		Expect(l.Allow("a")).To(BeFalse())

		Expect(l.Allow("b")).To(BeTrue())
		Expect(l.Len()).To(Equal(2))
	})

	It("should default the burst to the rate", func() {
		l := ratelimit.NewLimiter(3, 0)
		for i := 0; i < 3; i++ {
			Expect(l.Allow("a")).To(BeTrue())
		}
		Expect(l.Allow("a")).To(BeFalse())
	})

	Context("with a bounded key set", func() {
		var (
			l     *ratelimit.Limiter
			clock time.Time
		)

		BeforeEach(func() {
			clock = time.Unix(1_700_000_000, 0)
			l = ratelimit.NewLimiterWithMaxKeys(1, 1, 3)
			l.SetClock(func() time.Time { return clock })
		})

		tick := func() { clock = clock.Add(time.Millisecond) }

		It("should never hold more buckets than the bound", func() {
			for i := 0; i < 50; i++ {
				l.Allow(fmt.Sprintf("10.0.0.%d", i))
				tick()
			}
			Expect(l.Len()).To(BeNumerically("<=", 3))
		})

		It("should drop the least recently used drained bucket", func() {
			for _, key := range []string{"a", "b", "c"} {
				Expect(l.Allow(key)).To(BeTrue())
				tick()
			}
			Expect(l.Allow("b")).To(BeFalse())
			tick()
			Expect(l.Allow("c")).To(BeFalse())
			tick()

			Expect(l.Allow("d")).To(BeTrue())
			Expect(l.Len()).To(Equal(3))

			// b and c kept their drained buckets; a starts over.
			Expect(l.Allow("b")).To(BeFalse())
			Expect(l.Allow("c")).To(BeFalse())
		})

		It("should drop refilled buckets before drained ones", func() {
			Expect(l.Allow("a")).To(BeTrue())
			clock = clock.Add(2 * time.Second)
			Expect(l.Allow("b")).To(BeTrue())
			Expect(l.Allow("c")).To(BeTrue())

			Expect(l.Allow("d")).To(BeTrue())
			Expect(l.Len()).To(Equal(3))
			Expect(l.Allow("b")).To(BeFalse())
			Expect(l.Allow("c")).To(BeFalse())
		})
	})
})

var _ = Describe("Middleware", func() {
	var (
		log  *slog.Logger
		next http.Handler
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	serve := func(h http.Handler, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/svc", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	It("should pass requests through when disabled", func() {
		h := ratelimit.Middleware(ratelimit.NewLimiter(0, 0), nil, log)(next)
		Expect(serve(h, "10.0.0.1:5000").Code).To(Equal(http.StatusOK))
	})

	It("should reject requests over the limit", func() {
		h := ratelimit.Middleware(ratelimit.NewLimiter(1, 1), nil, log)(next)

		Expect(serve(h, "10.0.0.1:5000").Code).To(Equal(http.StatusOK))

		w := serve(h, "10.0.0.1:5001")
		Expect(w.Code).To(Equal(http.StatusTooManyRequests))
		Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))

		var body map[string]string
		Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("err", "rate limit exceeded"))
	})

	It("should keep clients independent", func() {
		h := ratelimit.Middleware(ratelimit.NewLimiter(1, 1), nil, log)(next)

		Expect(serve(h, "10.0.0.1:5000").Code).To(Equal(http.StatusOK))
		Expect(serve(h, "10.0.0.2:5000").Code).To(Equal(http.StatusOK))
	})

	It("should use the supplied key function", func() {
		key := func(*http.Request) string { return "everyone" }
		h := ratelimit.Middleware(ratelimit.NewLimiter(1, 1), key, log)(next)

		Expect(serve(h, "10.0.0.1:5000").Code).To(Equal(http.StatusOK))
		Expect(serve(h, "10.0.0.2:5000").Code).To(Equal(http.StatusTooManyRequests))
	})

	It("should ignore X-Forwarded-For when keying by peer address", func() {
		limiter := ratelimit.NewLimiter(1, 1)
		h := ratelimit.Middleware(limiter, ratelimit.RemoteHost, log)(next)

		allowed := 0
		for i := 0; i < 50; i++ {
			req := httptest.NewRequest(http.MethodGet, "/svc", nil)
			req.RemoteAddr = "192.0.2.7:40000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code == http.StatusOK {
				allowed++
			}
		}

		Expect(allowed).To(Equal(1))
		Expect(limiter.Len()).To(Equal(1))
	})
})
