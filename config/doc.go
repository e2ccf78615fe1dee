// Package config loads the proxy configuration from an optional YAML file,
// a .env file and environment variables, and validates it. It covers the
// listeners, the backend client, rate limiting, circuit breaking, seed routes
// and logging.
package config
