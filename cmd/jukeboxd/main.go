package main

import (
	"fmt"
	"os"

	"github.com/danmuck/jukebox/internal/logging"
	"github.com/danmuck/jukebox/internal/observability"
	"github.com/danmuck/jukebox/internal/protocol/session"
	"github.com/danmuck/jukebox/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "jukeboxd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, level, err := parseFlags(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	setupLogging(level)
	log.Info().
		Str("accounts", cfg.AccountsPath).
		Str("catalog", cfg.CatalogPath).
		Str("media", cfg.MediaDir).
		Msg("jukeboxd starting")

	return server.NewService(cfg).Run()
}

// setupLogging installs the env-configured runtime logger tagged with the
// binary name; a level from flags or the config file wins over the env.
func setupLogging(level string) {
	observability.InitLogger("jukeboxd")
	if lvl, ok := logging.ParseLevel(level); ok {
		zerolog.SetGlobalLevel(lvl)
	}
}

// parseFlags loads the optional config file and then applies any flags the
// user set explicitly.
func parseFlags(args []string) (server.ServiceConfig, string, error) {
	fs := pflag.NewFlagSet("jukeboxd", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to a TOML config file")
	addr := fs.String("addr", "", "session listen address")
	adminAddr := fs.String("admin-addr", "", "admin HTTP listen address (empty disables)")
	mode := fs.String("mode", "", "wire mode: framed or legacy")
	accountsPath := fs.String("accounts", "", "account store file")
	catalogPath := fs.String("catalog", "", "catalog CSV file")
	mediaDir := fs.String("media", "", "directory holding <n>.mp3 tracks")
	maxSessions := fs.Int("max-sessions", 0, "concurrent sessions served (1 is serial)")
	level := fs.String("log-level", "", "log level: trace, debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return server.ServiceConfig{}, "", err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return server.ServiceConfig{}, "", fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, fileLevel, err := loadServiceConfig(*configPath)
	if err != nil {
		return server.ServiceConfig{}, "", err
	}
	if fs.Changed("addr") {
		cfg.ListenAddr = *addr
	}
	if fs.Changed("admin-addr") {
		cfg.AdminListenAddr = *adminAddr
	}
	if fs.Changed("mode") {
		m, err := session.ParseWireMode(*mode)
		if err != nil {
			return server.ServiceConfig{}, "", err
		}
		cfg.WireMode = m
	}
	if fs.Changed("accounts") {
		cfg.AccountsPath = *accountsPath
	}
	if fs.Changed("catalog") {
		cfg.CatalogPath = *catalogPath
	}
	if fs.Changed("media") {
		cfg.MediaDir = *mediaDir
	}
	if fs.Changed("max-sessions") {
		if *maxSessions <= 0 {
			return server.ServiceConfig{}, "", fmt.Errorf("--max-sessions must be positive, got %d", *maxSessions)
		}
		cfg.MaxSessions = *maxSessions
	}
	if fs.Changed("log-level") {
		fileLevel = *level
	}
	return cfg, fileLevel, nil
}
