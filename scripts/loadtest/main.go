// Loadtest sends concurrent requests to one proxied route and reports how
// they were spread across backends, using the X-Backend-Server header.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/svc -concurrency 10 -requests 1000
//
// With round-robin selection every backend should receive the same share,
// give or take one request per backend.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type backendStats struct {
	count     int
	latencies []time.Duration
}

func main() {
	var (
		target      = flag.String("url", "http://localhost:8080/svc", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		timeoutSec  = flag.Int("timeout", 10, "Per-request timeout in seconds")
	)
	flag.Parse()

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	jobs := make(chan int)
	var wg sync.WaitGroup
	var failure int32

	stats := make(map[string]*backendStats)
	statusCodes := make(map[int]int)
	var mu sync.Mutex

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				start := time.Now()
				resp, err := client.Get(*target)
				dur := time.Since(start)
				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				backend := resp.Header.Get("X-Backend-Server")
				if backend == "" {
					backend = "(none)"
				}

				mu.Lock()
				statusCodes[resp.StatusCode]++
				bs, ok := stats[backend]
				if !ok {
					bs = &backendStats{}
					stats[backend] = bs
				}
				bs.count++
				bs.latencies = append(bs.latencies, dur)
				mu.Unlock()

				if resp.StatusCode != http.StatusOK {
					atomic.AddInt32(&failure, 1)
				}
			}
		}()
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	elapsed := time.Since(testStart)

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *target)
	fmt.Printf("Requests: %d  Concurrency: %d  Failures: %d\n", *requests, *concurrency, failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", elapsed, float64(*requests)/elapsed.Seconds())

	fmt.Println("\nStatus codes:")
	var codes []int
	for code := range statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, statusCodes[code])
	}

	fmt.Println("\nBackend distribution:")
	var names []string
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	lowest, highest := *requests, 0
	for _, name := range names {
		bs := stats[name]
		sort.Slice(bs.latencies, func(i, j int) bool { return bs.latencies[i] < bs.latencies[j] })
		p50 := bs.latencies[int(float64(len(bs.latencies)-1)*0.50)]
		p99 := bs.latencies[int(float64(len(bs.latencies)-1)*0.99)]
		fmt.Printf("  %s -> %d  p50=%v p99=%v\n", name, bs.count, p50, p99)

		lowest = min(lowest, bs.count)
		highest = max(highest, bs.count)
	}

	if len(names) > 1 && highest-lowest > 1 {
		fmt.Printf("\nUneven distribution: spread of %d requests\n", highest-lowest)
		os.Exit(2)
	}
	if failure > 0 {
		os.Exit(2)
	}
}
