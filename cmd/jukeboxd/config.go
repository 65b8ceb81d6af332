package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/jukebox/internal/protocol/session"
	"github.com/danmuck/jukebox/internal/server"
)

// jukeboxd config.toml key mapping to server runtime settings.
type fileConfig struct {
	Addr            string   `toml:"addr"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	AccountsPath    string   `toml:"accounts_path"`
	CatalogPath     string   `toml:"catalog_path"`
	MediaDir        string   `toml:"media_dir"`
	ChunkSize       int      `toml:"chunk_size"`
	WireMode        string   `toml:"wire_mode"`
	MaxSessions     int      `toml:"max_sessions"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	LegacyPacing    string   `toml:"legacy_pacing"`
	LogLevel        string   `toml:"log_level"`
}

// jukeboxd loader for TOML config with default overlay.
func loadServiceConfig(path string) (server.ServiceConfig, string, error) {
	cfg := server.DefaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, "", nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, "", fmt.Errorf("load jukeboxd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return server.ServiceConfig{}, "", fmt.Errorf("load jukeboxd config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("accounts_path") {
		cfg.AccountsPath = strings.TrimSpace(raw.AccountsPath)
	}
	if meta.IsDefined("catalog_path") {
		cfg.CatalogPath = strings.TrimSpace(raw.CatalogPath)
	}
	if meta.IsDefined("media_dir") {
		cfg.MediaDir = strings.TrimSpace(raw.MediaDir)
	}
	if meta.IsDefined("chunk_size") {
		if raw.ChunkSize <= 0 {
			return server.ServiceConfig{}, "", fmt.Errorf("load jukeboxd config: chunk_size must be positive, got %d", raw.ChunkSize)
		}
		if limit := cfg.Session.MaxPayloadBytes; uint64(raw.ChunkSize) > limit {
			return server.ServiceConfig{}, "", fmt.Errorf("load jukeboxd config: chunk_size %d exceeds frame payload limit %d", raw.ChunkSize, limit)
		}
		cfg.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("wire_mode") {
		mode, err := session.ParseWireMode(raw.WireMode)
		if err != nil {
			return server.ServiceConfig{}, "", fmt.Errorf("load jukeboxd config: %w", err)
		}
		cfg.WireMode = mode
	}
	if meta.IsDefined("max_sessions") {
		if raw.MaxSessions <= 0 {
			return server.ServiceConfig{}, "", fmt.Errorf("load jukeboxd config: max_sessions must be positive, got %d", raw.MaxSessions)
		}
		cfg.MaxSessions = raw.MaxSessions
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"read_timeout", raw.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"legacy_pacing", raw.LegacyPacing, &cfg.Session.LegacyPacing},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || v < 0 {
			return server.ServiceConfig{}, "", fmt.Errorf("load jukeboxd config: invalid %s %q", d.key, d.raw)
		}
		*d.dst = v
	}

	return cfg, strings.TrimSpace(raw.LogLevel), nil
}
