// Package handler adapts the dispatcher to net/http. It parses each inbound
// request, tags it with a request ID and writes the dispatcher's response as
// JSON.
package handler
