// Package store is the shared room store: a Redis-backed source of truth for
// room membership, per-connection room pointers, statuses, join timestamps,
// peak counters, and the statistics histograms that piggyback on leave
// transitions.
//
// Room-mutating transitions (join, leave) run as server-side Lua scripts so
// the store itself is the serialization point across processes; no
// per-connection protocol state is held in process memory. Cross-process
// delivery uses one pub/sub channel per connection identity.
package store
