// Package media resolves track files and streams them over a session
// connection as chunk messages followed by an end marker.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Extension is appended to an ordinal to form a track file name.
const Extension = ".mp3"

var (
	ErrInvalidTrackName = errors.New("media: invalid track name")
	ErrTrackNotFound    = errors.New("media: track not found")
	ErrTrackUnavailable = errors.New("media: track unavailable")
)

// TrackName returns the file name used to request the track at ordinal.
func TrackName(ordinal int) string {
	return strconv.Itoa(ordinal) + Extension
}

// ParseTrackName returns the ordinal encoded in a "<n>.mp3" name. Anything
// else, including names with path separators, is rejected.
func ParseTrackName(name string) (int, error) {
	stem, ok := strings.CutSuffix(name, Extension)
	if !ok || stem == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTrackName, name)
	}
	for _, r := range stem {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTrackName, name)
		}
	}
	n, err := strconv.Atoi(stem)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTrackName, name)
	}
	return n, nil
}

// Library serves track files from one directory.
type Library struct {
	Root string
}

func NewLibrary(root string) *Library {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = "."
	}
	return &Library{Root: resolved}
}

// Track is an opened track file.
type Track struct {
	Name string
	Size int64
	io.ReadCloser
}

// Open opens the named track. A missing file is ErrTrackNotFound; a file
// that exists but cannot be read is ErrTrackUnavailable.
func (l *Library) Open(name string) (*Track, error) {
	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, name)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrTrackUnavailable, name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrTrackUnavailable, name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTrackUnavailable, name, err)
	}
	return &Track{Name: name, Size: info.Size(), ReadCloser: f}, nil
}

func (l *Library) resolve(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrackName, name)
	}
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return "", fmt.Errorf("%w: resolve root: %w", ErrTrackUnavailable, err)
	}
	path := filepath.Join(root, name)
	if !isWithin(path, root) || path == root {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrackName, name)
	}
	return path, nil
}

func isWithin(path string, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}
