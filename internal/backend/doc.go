// Package backend forwards requests to registered backend endpoints.
//
// A Client performs one bounded-time HTTP call per request and classifies
// the outcome: transport failures become backend_unreachable, deadline
// overruns become backend_timeout and non-2xx answers become backend_error
// carrying a *StatusError. Redirects are returned to the caller, never
// followed.
package backend
