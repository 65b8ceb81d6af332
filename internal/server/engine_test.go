package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/jukebox/internal/accounts"
	"github.com/danmuck/jukebox/internal/catalog"
	"github.com/danmuck/jukebox/internal/client"
	"github.com/danmuck/jukebox/internal/media"
	"github.com/danmuck/jukebox/internal/protocol/session"
	"github.com/danmuck/jukebox/internal/testutil/testlog"
)

var testCatalog = []string{
	"Bohemian Rhapsody,Queen,A Night at the Opera,Rock,1975",
	"Hound Dog,Elvis Presley,Single,Rock n Roll,1956",
	"Smells Like Teen Spirit,Nirvana,Nevermind,rock,1991",
	"So What,Miles Davis,Kind of Blue,Jazz,1959",
	"Under Pressure,QUEEN,Hot Space,Rock,1981",
}

type engineHarness struct {
	engine *Engine
	client *client.Client
	peer   session.Conn
	raw    net.Conn
	done   chan error
	media  string
}

func testDeps(t *testing.T, lines ...string) Deps {
	t.Helper()
	if len(lines) == 0 {
		lines = testCatalog
	}
	return Deps{
		Accounts: accounts.NewFileStore(filepath.Join(t.TempDir(), "accounts.db")),
		Catalog:  catalog.NewMemorySource(lines...),
		Library:  media.NewLibrary(t.TempDir()),
	}
}

func startEngine(t *testing.T, deps Deps, mode session.WireMode) *engineHarness {
	t.Helper()
	a, b := net.Pipe()
	cfg := session.DefaultConfig()
	cfg.Mode = mode
	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = 5 * time.Second

	h := &engineHarness{
		engine: NewEngine(session.NewConn(a, cfg), deps, 0),
		raw:    b,
		done:   make(chan error, 1),
		media:  deps.Library.Root,
	}
	h.client = client.New(b, client.Config{Session: cfg, WireMode: mode, DownloadDir: t.TempDir()})
	h.peer = session.NewConn(b, cfg)
	go func() {
		h.done <- h.engine.Run(context.Background())
		_ = a.Close()
	}()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return h
}

func (h *engineHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("engine did not finish")
		return nil
	}
}

func writeTrack(t *testing.T, dir string, ordinal int, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, media.TrackName(ordinal)), content, 0o644); err != nil {
		t.Fatalf("write track: %v", err)
	}
}

func TestEngineRegisterThenListOrdinals(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startEngine(t, testDeps(t), session.WireFramed)

	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	lines, err := h.client.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(lines) != len(testCatalog) {
		t.Fatalf("expected %d lines, got %d", len(testCatalog), len(lines))
	}
	seen := map[string]bool{}
	for k, line := range lines {
		if !strings.HasPrefix(line, strconv.Itoa(k+1)+" - ") {
			t.Fatalf("line %d has wrong ordinal: %q", k+1, line)
		}
		if seen[line] {
			t.Fatalf("duplicate line %q", line)
		}
		seen[line] = true
	}
	if lines[0] != "1 - Bohemian Rhapsody - Queen - A Night at the Opera - Rock - 1975" {
		t.Fatalf("unexpected first line %q", lines[0])
	}

	_ = h.client.Close()
	if err := h.wait(t); err != nil {
		t.Fatalf("clean disconnect should return nil, got %v", err)
	}
	if h.engine.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", h.engine.State())
	}
}

func TestEngineFilterGenreExactCaseInsensitive(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startEngine(t, testDeps(t), session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	lines, err := h.client.Filter(ctx, catalog.ByGenre, "Rock")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	want := []string{
		"1 - Bohemian Rhapsody - Queen - A Night at the Opera - Rock - 1975",
		"3 - Smells Like Teen Spirit - Nirvana - Nevermind - rock - 1991",
		"5 - Under Pressure - QUEEN - Hot Space - Rock - 1981",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected filter result:\n%s", strings.Join(lines, "\n"))
	}

	lines, err = h.client.Filter(ctx, catalog.ByArtist, "queen")
	if err != nil || len(lines) != 2 {
		t.Fatalf("artist filter: %v %q", err, lines)
	}
	lines, err = h.client.Filter(ctx, catalog.ByArtist, "Que")
	if err != nil || len(lines) != 0 {
		t.Fatalf("partial artist must not match: %v %q", err, lines)
	}
}

func TestEngineLoginOutcomes(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	deps := testDeps(t)

	h := startEngine(t, deps, session.WireFramed)
	if _, err := h.client.Login(ctx, "alice", "pw"); !errors.Is(err, client.ErrEmptyStore) {
		t.Fatalf("expected ErrEmptyStore, got %v", err)
	}
	if err := h.wait(t); !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}

	h = startEngine(t, deps, session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = h.client.Close()
	_ = h.wait(t)

	h = startEngine(t, deps, session.WireFramed)
	if _, err := h.client.Login(ctx, "alice", "wrong"); !errors.Is(err, client.ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	// one attempt per connection
	if err := h.wait(t); !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}

	h = startEngine(t, deps, session.WireFramed)
	if _, err := h.client.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = h.client.Close()
	if err := h.wait(t); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}

func TestEngineRegisterSaveFailed(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	store := accounts.NewMemoryStore()
	store.FailNext(accounts.ErrSaveFailed)
	deps := testDeps(t)
	deps.Accounts = store

	h := startEngine(t, deps, session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); !errors.Is(err, client.ErrSaveFailed) {
		t.Fatalf("expected ErrSaveFailed, got %v", err)
	}
	if err := h.wait(t); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("failed save must not store the account")
	}
}

func TestEngineMalformedHandshake(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startEngine(t, testDeps(t), session.WireFramed)
	go func() {
		_ = h.peer.Send(ctx, session.TextMessage(session.MsgHandshake, "1:alice"))
	}()
	msg, err := h.peer.Receive(ctx, session.MsgStatus)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if h.peer.Tokens().Parse(msg.Text()) != session.StatusError {
		t.Fatalf("expected error token, got %q", msg.Text())
	}
	if err := h.wait(t); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestEngineUnknownOpcode(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startEngine(t, testDeps(t), session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	go func() {
		_ = h.peer.Send(ctx, session.TextMessage(session.MsgCommand, "7"))
	}()
	msg, err := h.peer.Receive(ctx, session.MsgStatus)
	if err != nil || h.peer.Tokens().Parse(msg.Text()) != session.StatusError {
		t.Fatalf("expected error token, got %q err=%v", msg.Text(), err)
	}
	if err := h.wait(t); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestEngineInvalidFilterKindKeepsSession(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startEngine(t, testDeps(t), session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	go func() {
		for _, cmd := range []string{"2", "9", "Rock"} {
			_ = h.peer.Send(ctx, session.TextMessage(session.MsgCommand, cmd))
		}
	}()
	msg, err := h.peer.Receive(ctx, session.MsgRecord)
	if err != nil || msg.Type != session.MsgStatus {
		t.Fatalf("expected status reply, got %+v err=%v", msg, err)
	}
	lines, err := h.client.List(ctx)
	if err != nil || len(lines) != len(testCatalog) {
		t.Fatalf("session should continue after a bad filter kind: %v len=%d", err, len(lines))
	}
}

func TestEngineCatalogShortLineIsStorageFailure(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startEngine(t, testDeps(t, "One,A,B,Rock,1990", "Two,A,B"), session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	lines, err := h.client.List(ctx)
	if !errors.Is(err, client.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected the line before the bad one, got %q", lines)
	}
	if err := h.wait(t); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
}

func TestEngineDownloadMissingTrack(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startEngine(t, testDeps(t), session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.client.Download(ctx, 42); !errors.Is(err, client.ErrNoSuchTrack) {
		t.Fatalf("expected ErrNoSuchTrack, got %v", err)
	}
	if _, err := os.Stat(h.client.LocalPath(42)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no local file may be created, stat err=%v", err)
	}
	if _, err := h.client.List(ctx); err != nil {
		t.Fatalf("session should continue: %v", err)
	}
}

func TestEngineDownloadByteIdentical(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	deps := testDeps(t)
	content := make([]byte, 5000)
	for i := range content {
		content[i] = byte(i * 7)
	}
	writeTrack(t, deps.Library.Root, 1, content)
	writeTrack(t, deps.Library.Root, 2, []byte("FIN"))

	h := startEngine(t, deps, session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	path, err := h.client.Download(ctx, 1)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("downloaded file differs: len=%d err=%v", len(got), err)
	}

	path, err = h.client.Download(ctx, 2)
	if err != nil {
		t.Fatalf("download sentinel-shaped file: %v", err)
	}
	got, err = os.ReadFile(path)
	if err != nil || string(got) != "FIN" {
		t.Fatalf("file equal to the sentinel must survive framing, got %q err=%v", got, err)
	}

	if _, err := h.client.Download(ctx, 1); !errors.Is(err, client.ErrAlreadyDownloaded) {
		t.Fatalf("expected ErrAlreadyDownloaded, got %v", err)
	}
	if _, err := h.client.List(ctx); err != nil {
		t.Fatalf("no request should have been sent for an existing file: %v", err)
	}
}

func TestEngineDownloadUnavailableTrack(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	deps := testDeps(t)
	if err := os.Mkdir(filepath.Join(deps.Library.Root, media.TrackName(3)), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	h := startEngine(t, deps, session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.client.Download(ctx, 3); !errors.Is(err, client.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if err := h.wait(t); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
}

func TestEngineCancelDownload(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startEngine(t, testDeps(t), session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.client.CancelDownload(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	lines, err := h.client.List(ctx)
	if err != nil || len(lines) != len(testCatalog) {
		t.Fatalf("menu should resume after cancel: %v len=%d", err, len(lines))
	}
}

func TestEnginePeerCloseMidExchangeIsTransportFailure(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startEngine(t, testDeps(t), session.WireFramed)
	if _, err := h.client.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.peer.Send(ctx, session.TextMessage(session.MsgCommand, OpFilter)); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = h.raw.Close()
	if err := h.wait(t); !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
}

func TestEngineLegacyWire(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	deps := testDeps(t)
	writeTrack(t, deps.Library.Root, 1, bytes.Repeat([]byte("ab"), 1500))
	writeTrack(t, deps.Library.Root, 2, []byte("FIN"))

	h := startEngine(t, deps, session.WireLegacy)
	reply, err := h.client.Register(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reply.Token != session.LegacyTokens().Success {
		t.Fatalf("expected legacy success token, got %q", reply.Token)
	}
	lines, err := h.client.Filter(ctx, catalog.ByGenre, "rock")
	if err != nil || len(lines) != 3 || !strings.HasPrefix(lines[1], "3 - ") {
		t.Fatalf("legacy filter: %v %q", err, lines)
	}
	path, err := h.client.Download(ctx, 1)
	if err != nil {
		t.Fatalf("legacy download: %v", err)
	}
	if got, _ := os.ReadFile(path); len(got) != 3000 {
		t.Fatalf("legacy download size %d", len(got))
	}

	// the unframed wire cannot carry a file whose content equals the sentinel
	path, err = h.client.Download(ctx, 2)
	if err != nil {
		t.Fatalf("legacy sentinel download: %v", err)
	}
	if got, _ := os.ReadFile(path); len(got) != 0 {
		t.Fatalf("expected legacy transfer to end early, got %q", got)
	}
}
