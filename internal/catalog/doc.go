// Package catalog reads the song catalog.
//
// The catalog is plain text, one song per line, five comma-separated fields
// in the order title, artist, album, genre, year. There is no header row and
// no quoting. A song's Position is its 1-based line ordinal within one scan
// and is not stored anywhere.
package catalog
