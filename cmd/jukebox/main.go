package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/jukebox/internal/client"
	"github.com/danmuck/jukebox/internal/logging"
	"github.com/danmuck/jukebox/internal/observability"
	"github.com/danmuck/jukebox/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "jukebox: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in := &client.Interactive{
		Connect: func(ctx context.Context) (*client.Client, error) {
			return client.Dial(ctx, cfg.Client)
		},
		Prompter: newTerminalPrompter(os.Stdin, os.Stdout),
		Player:   execPlayer{command: cfg.Player},
		Out:      os.Stdout,
	}
	err = in.Run(ctx)
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// setupLogging installs the env-configured runtime logger tagged with the
// binary name; a level from flags or the config file wins over the env.
func setupLogging(level string) {
	observability.InitLogger("jukebox")
	if lvl, ok := logging.ParseLevel(level); ok {
		zerolog.SetGlobalLevel(lvl)
	}
}

func parseFlags(args []string) (appConfig, error) {
	fs := pflag.NewFlagSet("jukebox", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to a TOML config file")
	addr := fs.StringP("addr", "a", "", "server address host:port")
	mode := fs.String("mode", "", "wire mode: framed or legacy")
	downloadDir := fs.StringP("download-dir", "d", "", "directory for downloaded tracks")
	player := fs.String("player", "", "command used to play downloaded tracks")
	level := fs.String("log-level", "", "log level: trace, debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		return appConfig{}, err
	}
	// A bare positional argument is taken as the server address.
	if rest := fs.Args(); len(rest) == 1 && !fs.Changed("addr") {
		cfg.Client.Address = rest[0]
	} else if len(rest) > 0 {
		return appConfig{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if fs.Changed("addr") {
		cfg.Client.Address = *addr
	}
	if fs.Changed("mode") {
		m, err := session.ParseWireMode(*mode)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Client.WireMode = m
	}
	if fs.Changed("download-dir") {
		cfg.Client.DownloadDir = *downloadDir
	}
	if fs.Changed("player") {
		cfg.Player = *player
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *level
	}
	return cfg, nil
}
