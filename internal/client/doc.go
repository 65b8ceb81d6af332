// Package client speaks the jukebox session protocol from the user side:
// authentication, catalog listing and filtering, and track downloads.
package client
