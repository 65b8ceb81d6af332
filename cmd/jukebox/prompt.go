package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/jukebox/internal/catalog"
	"github.com/danmuck/jukebox/internal/client"
)

// terminalPrompter reads one answer per line. Unparseable menu answers come
// back as -1 so the session reports an invalid option and asks again.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(in), out: out}
}

func (p *terminalPrompter) MenuChoice(ctx context.Context) (int, error) {
	return p.number(ctx, "\n1. Login\n2. Register\n3. Quit\nChoose an option: ")
}

func (p *terminalPrompter) Credentials(ctx context.Context) (string, string, error) {
	username, err := p.ask(ctx, "Username: ")
	if err != nil {
		return "", "", err
	}
	password, err := p.ask(ctx, "Password: ")
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

func (p *terminalPrompter) CatalogChoice(ctx context.Context) (int, error) {
	return p.number(ctx, "\n1. List songs\n2. Filter songs\n3. Download a song\n4. Quit\nChoose an option: ")
}

func (p *terminalPrompter) FilterChoice(ctx context.Context) (catalog.FilterKind, error) {
	line, err := p.ask(ctx, "Filter by\n1. Artist\n2. Genre\nChoose an option: ")
	if err != nil {
		return 0, err
	}
	kind, err := catalog.ParseFilterKind(line)
	if err != nil {
		return 0, nil
	}
	return kind, nil
}

func (p *terminalPrompter) FilterText(ctx context.Context) (string, error) {
	return p.ask(ctx, "Text to match: ")
}

func (p *terminalPrompter) TrackOrdinal(ctx context.Context) (int, error) {
	for {
		line, err := p.ask(ctx, "Track number (0 to cancel): ")
		if err != nil {
			return 0, err
		}
		n, err := client.ParseOrdinal(line)
		if err == nil {
			return n, nil
		}
		fmt.Fprintln(p.out, "Enter a track number.")
	}
}

func (p *terminalPrompter) number(ctx context.Context, prompt string) (int, error) {
	line, err := p.ask(ctx, prompt)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return -1, nil
	}
	return n, nil
}

func (p *terminalPrompter) ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
