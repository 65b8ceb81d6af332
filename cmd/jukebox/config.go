package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/jukebox/internal/client"
	"github.com/danmuck/jukebox/internal/protocol/session"
)

const defaultPlayer = "mpg123"

// jukebox config.toml key mapping to client settings.
type fileConfig struct {
	Addr               string `toml:"addr"`
	WireMode           string `toml:"wire_mode"`
	DownloadDir        string `toml:"download_dir"`
	Player             string `toml:"player"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	LogLevel           string `toml:"log_level"`
}

type appConfig struct {
	Client   client.Config
	Player   string
	LogLevel string
}

func defaultAppConfig() appConfig {
	return appConfig{
		Client:   client.DefaultConfig(),
		Player:   defaultPlayer,
		LogLevel: "warn",
	}
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load jukebox config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("load jukebox config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.Client.Address = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("wire_mode") {
		mode, err := session.ParseWireMode(raw.WireMode)
		if err != nil {
			return appConfig{}, fmt.Errorf("load jukebox config: %w", err)
		}
		cfg.Client.WireMode = mode
	}
	if meta.IsDefined("download_dir") {
		cfg.Client.DownloadDir = strings.TrimSpace(raw.DownloadDir)
	}
	if meta.IsDefined("player") {
		cfg.Player = strings.TrimSpace(raw.Player)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Client.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return cfg, nil
}
