package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldCount is the number of comma-separated fields in one catalog line.
const FieldCount = 5

var (
	ErrStorage           = errors.New("catalog: storage failure")
	ErrMalformedRecord   = fmt.Errorf("%w: malformed record", ErrStorage)
	ErrInvalidFilterKind = errors.New("catalog: invalid filter kind")
)

type Song struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Genre    string `json:"genre"`
	Year     string `json:"year"`
}

// ParseLine splits one catalog line into a Song at the given position.
// Fields past the fifth are ignored.
func ParseLine(line string, position int) (Song, error) {
	fields := strings.Split(line, ",")
	if len(fields) < FieldCount {
		return Song{}, fmt.Errorf("%w: line %d has %d fields, want %d", ErrMalformedRecord, position, len(fields), FieldCount)
	}
	for i := range fields[:FieldCount] {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return Song{
		Position: position,
		Title:    fields[0],
		Artist:   fields[1],
		Album:    fields[2],
		Genre:    fields[3],
		Year:     fields[4],
	}, nil
}

// FormatLine renders the listing line sent to clients.
func FormatLine(s Song) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(s.Position))
	for _, f := range []string{s.Title, s.Artist, s.Album, s.Genre, s.Year} {
		b.WriteString(" - ")
		b.WriteString(f)
	}
	return b.String()
}

// FilterKind selects the field a filter compares against.
type FilterKind int

const (
	ByArtist FilterKind = 1
	ByGenre  FilterKind = 2
)

func (k FilterKind) String() string {
	switch k {
	case ByArtist:
		return "artist"
	case ByGenre:
		return "genre"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k FilterKind) Valid() bool {
	return k == ByArtist || k == ByGenre
}

// Opcode is the wire form of k.
func (k FilterKind) Opcode() string {
	return strconv.Itoa(int(k))
}

// ParseFilterKind accepts the wire opcodes "1" and "2" as well as the names
// "artist" and "genre".
func ParseFilterKind(raw string) (FilterKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "artist":
		return ByArtist, nil
	case "2", "genre":
		return ByGenre, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidFilterKind, raw)
	}
}

// Matches reports whether the field selected by kind equals text, ignoring
// case. Partial matches never count.
func Matches(s Song, kind FilterKind, text string) bool {
	switch kind {
	case ByArtist:
		return strings.EqualFold(s.Artist, text)
	case ByGenre:
		return strings.EqualFold(s.Genre, text)
	default:
		return false
	}
}
