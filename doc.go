// Package loom is the scene-graph kernel of a spatial compositor server.
//
// Remote clients create, mutate and query a shared tree of addressable
// `Node`s. A `Node` is little more than an identity (a path in the client's
// object space) plus a name-keyed dispatch table of one-way *signals* and
// request/response *methods*. What makes a node useful are its *aspects*:
// optional capability modules (`Spatial`, `Field`, `Zone`, `Sound`, input,
// items, pulses) attached at most once over the node's lifetime.
//
// ## How it works
//
// A `Server` owns the per-kind registries of live instances and accepts
// client connections over QUIC. Each connection becomes a `Client` with its
// own `Scenegraph`; inbound frames resolve a path to a `Node` and dispatch
// into its signal or method table. Server-internal clients exist too: they
// have no message sender and their nodes are headless.
//
// Capability-scoped sharing is done with `Alias` nodes: proxies that forward
// dispatch to an original node, filtered by explicit allow-lists. An alias
// never owns its original; once the original is destroyed the alias reports
// a broken reference instead of forwarding.
//
// The spatial side is built on signed-distance fields. A `Field` evaluates
// distance in its own local frame (it satisfies sdfx's `sdf.SDF3`, so a
// renderer can consume it directly), and a `Zone` uses its field to capture
// nearby zoneable `Spatial`s, exclusively re-parenting them and projecting
// filtered, diffed visibility back to the zone's client as aliases.
//
// ## Design Principles
//
// The kernel performs no blocking I/O: signal dispatch and zone recompute
// are synchronous, and the only suspension point is an outbound typed method
// call waiting on its correlated response. Errors are local to the
// triggering call; a failing handler never poisons a registry or an
// unrelated node.
//
// Registries are owned by one `Server` value and threaded through
// constructors, never process-wide globals, so several servers (and tests)
// can run side by side in one process.
package loom
