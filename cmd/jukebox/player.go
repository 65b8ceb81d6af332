package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

var errNoPlayer = errors.New("no audio player configured")

// execPlayer runs an external command line player on a downloaded track.
type execPlayer struct {
	command string
}

func (p execPlayer) Play(ctx context.Context, path string) error {
	if p.command == "" {
		return errNoPlayer
	}
	bin, err := exec.LookPath(p.command)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin, path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
