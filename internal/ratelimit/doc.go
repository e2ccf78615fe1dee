// Package ratelimit throttles inbound requests with per-client token buckets.
package ratelimit
