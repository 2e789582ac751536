// Package protocol owns the relay wire message model.
//
// Ownership boundary:
// - outbound request shape ({do|get, params, scope})
// - inbound classification (event vs reply)
// - positional param accessors
//
// Framing lives in the frame subpackage; correlation lives in dispatch.
package protocol
