// Package protocol models the client/server message envelope of the
// signaling relay: inbound frame parsing with a fixed per-event argument
// schema, and the JSON payloads sent back to connections.
//
// This package models the wire surface only; room semantics live in
// internal/rooms.
package protocol
