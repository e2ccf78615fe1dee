// Package registry holds the in-memory mapping from logical route to the
// backend endpoints registered under it.
//
// Each route keeps an append-only endpoint sequence and a round-robin
// cursor. Register and Select are safe for concurrent use: the route map is
// guarded by a read/write lock and every route serialises its own appends
// and selections, so routes never contend with each other.
//
//	reg := registry.New()
//	ep, _ := registry.NewEndpoint("10.0.0.1", 9001)
//	reg.Register("/svc", ep)
//	next, err := reg.Select("/svc")
package registry
