// Package server runs the jukebox session protocol.
//
// Each accepted connection gets one Engine. The engine authenticates the
// peer with exactly one handshake, then serves catalog listings, filters and
// track downloads until the peer disconnects or breaks the protocol.
//
// Service owns the listener, bounds how many sessions run at once and
// optionally exposes an admin HTTP surface with health, metrics and a
// read-only catalog view.
package server
