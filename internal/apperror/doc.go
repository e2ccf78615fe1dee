// Package apperror defines the typed failures shared by the registry, the
// dispatcher and the HTTP layer.
//
// Every error carries a machine-readable code. The code alone decides the
// HTTP status a client sees (see StatusCode), so lower layers never deal
// with HTTP and the dispatcher never guesses.
package apperror
