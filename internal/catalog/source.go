package catalog

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"os"
	"strings"
)

// Source yields catalog songs in line order. Every call to Scan reads the
// backing data again. A yielded error ends the sequence.
type Source interface {
	Scan(ctx context.Context) iter.Seq2[Song, error]
}

// FileSource reads the catalog from a text file.
type FileSource struct {
	Path string
}

var _ Source = (*FileSource)(nil)

func NewFileSource(path string) *FileSource {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = "media.csv"
	}
	return &FileSource{Path: resolved}
}

func (s *FileSource) Scan(ctx context.Context) iter.Seq2[Song, error] {
	return func(yield func(Song, error) bool) {
		f, err := os.Open(s.Path)
		if err != nil {
			yield(Song{}, fmt.Errorf("%w: open %s: %w", ErrStorage, s.Path, err))
			return
		}
		defer f.Close()
		scanLines(ctx, bufio.NewScanner(f), yield, s.Path)
	}
}

// MemorySource holds catalog lines in memory and parses them like a file.
type MemorySource struct {
	Lines []string
}

var _ Source = (*MemorySource)(nil)

func NewMemorySource(lines ...string) *MemorySource {
	return &MemorySource{Lines: lines}
}

func (s *MemorySource) Scan(ctx context.Context) iter.Seq2[Song, error] {
	return func(yield func(Song, error) bool) {
		sc := bufio.NewScanner(strings.NewReader(strings.Join(s.Lines, "\n")))
		scanLines(ctx, sc, yield, "memory")
	}
}

func scanLines(ctx context.Context, sc *bufio.Scanner, yield func(Song, error) bool, name string) {
	position := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			yield(Song{}, err)
			return
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		position++
		song, err := ParseLine(line, position)
		if err != nil {
			yield(Song{}, fmt.Errorf("%s: %w", name, err))
			return
		}
		if !yield(song, nil) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		yield(Song{}, fmt.Errorf("%w: read %s: %w", ErrStorage, name, err))
	}
}

// Filter yields the songs of src that match kind and text. Positions are
// those of the unfiltered scan.
func Filter(ctx context.Context, src Source, kind FilterKind, text string) iter.Seq2[Song, error] {
	return func(yield func(Song, error) bool) {
		if !kind.Valid() {
			yield(Song{}, fmt.Errorf("%w: %d", ErrInvalidFilterKind, int(kind)))
			return
		}
		for song, err := range src.Scan(ctx) {
			if err != nil {
				yield(Song{}, err)
				return
			}
			if !Matches(song, kind, text) {
				continue
			}
			if !yield(song, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Song, error]) ([]Song, error) {
	var out []Song
	for song, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, song)
	}
	return out, nil
}
