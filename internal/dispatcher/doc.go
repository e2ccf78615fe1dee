// Package dispatcher turns a parsed inbound request into a response. Requests
// for /register add an endpoint to the registry; every other path is a route
// whose next endpoint receives the forwarded request.
//
// Responses always carry a JSON object body, {"msg": ...} on success and
// {"err": ...} on failure.
package dispatcher
