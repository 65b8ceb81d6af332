// Package session owns the jukebox client<->server message transport.
//
// Ownership boundary:
// - message types and the status token vocabulary
// - the authentication handshake line
// - framed and legacy connection codecs
// - timeout/backoff configuration
//
// Turn-taking: every exchange is strictly request/response. Exactly one side
// writes at a time, so a Conn is never shared between goroutines.
package session
