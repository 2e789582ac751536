// Package dispatch owns reply correlation and event fan-out for one
// relay connection.
//
// Ownership boundary:
// - positional reply queue (no request identifiers on the wire)
// - event listener registry, permanent and one-shot
// - lazy subscribe bookkeeping
//
// A Dispatcher is not safe for concurrent use. The owner feeds it from a
// single goroutine; see the relay package.
package dispatch
