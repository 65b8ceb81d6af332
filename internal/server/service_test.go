package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
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

type serviceHarness struct {
	svc    *Service
	addr   string
	cfg    ServiceConfig
	cancel context.CancelFunc
	done   chan error
}

func startService(t *testing.T, mutate func(*ServiceConfig)) *serviceHarness {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "media.csv")
	if err := os.WriteFile(catalogPath, []byte(strings.Join(testCatalog, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	mediaDir := filepath.Join(dir, "media")
	if err := os.Mkdir(mediaDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg := DefaultServiceConfig()
	cfg.AccountsPath = filepath.Join(dir, "accounts.db")
	cfg.CatalogPath = catalogPath
	cfg.MediaDir = mediaDir
	cfg.Session.ReadTimeout = 5 * time.Second
	cfg.Session.WriteTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := NewService(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	h := &serviceHarness{svc: svc, addr: ln.Addr().String(), cfg: svc.Config(), cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("service did not stop")
		}
	})
	return h
}

func (h *serviceHarness) dial(t *testing.T) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, client.Config{
		Address:            h.addr,
		WireMode:           h.cfg.WireMode,
		DownloadDir:        t.TempDir(),
		Session:            h.cfg.Session,
		MaxConnectAttempts: 3,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServiceRegisterTwiceAppendsOneRecord(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startService(t, nil)

	first := h.dial(t)
	if _, err := first.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_ = first.Close()

	second := h.dial(t)
	reply, err := second.Register(ctx, "alice", "other")
	if !errors.Is(err, client.ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
	if reply.Token != session.DefaultTokens().DuplicateUser {
		t.Fatalf("unexpected token %q", reply.Token)
	}

	n, err := accounts.NewFileStore(h.cfg.AccountsPath).Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected exactly one record, got n=%d err=%v", n, err)
	}
}

func TestServiceSerialSessions(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startService(t, nil)

	first := h.dial(t)
	if _, err := first.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	second := h.dial(t)
	loggedIn := make(chan error, 1)
	go func() {
		_, err := second.Login(ctx, "alice", "pw")
		loggedIn <- err
	}()
	select {
	case err := <-loggedIn:
		t.Fatalf("second session served while the first is active: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	if got := h.svc.Sessions(); len(got) != 1 || got[0].Username != "alice" || got[0].State != StateInCatalogMenu.String() {
		t.Fatalf("unexpected session snapshot: %+v", got)
	}

	_ = first.Close()
	select {
	case err := <-loggedIn:
		if err != nil {
			t.Fatalf("second login: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("second session never served")
	}
}

func TestServiceConcurrentSessions(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startService(t, func(cfg *ServiceConfig) { cfg.MaxSessions = 4 })

	seed := h.dial(t)
	if _, err := seed.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	other := h.dial(t)
	if _, err := other.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("concurrent login: %v", err)
	}
	lines, err := other.List(ctx)
	if err != nil || len(lines) != len(testCatalog) {
		t.Fatalf("list: %v len=%d", err, len(lines))
	}
}

func TestServiceShutdownClosesSessions(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startService(t, nil)
	c := h.dial(t)
	if _, err := c.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
		h.done <- nil
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
	if _, err := c.List(ctx); err == nil {
		t.Fatalf("expected the session to be closed")
	}
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	h := startService(t, nil)
	router := h.svc.AdminRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog?genre=ROCK", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog status=%d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Songs []catalog.Song `json:"songs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Songs) != 3 || body.Songs[1].Position != 3 {
		t.Fatalf("unexpected catalog body: %+v", body.Songs)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "jukebox_http_requests_total") {
		t.Fatalf("metrics status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions status=%d", rec.Code)
	}
}

func TestAdminCatalogStorageError(t *testing.T) {
	testlog.Start(t)
	svc := NewServiceWithConfig(DefaultServiceConfig(), Deps{
		Accounts: accounts.NewMemoryStore(),
		Catalog:  catalog.NewFileSource(filepath.Join(t.TempDir(), "missing.csv")),
	})
	rec := httptest.NewRecorder()
	svc.AdminRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestServiceLegacyWireSurvivesSlowReader(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startService(t, func(cfg *ServiceConfig) { cfg.WireMode = session.WireLegacy })
	content := bytes.Repeat([]byte("xy"), 700)
	writeTrack(t, h.cfg.MediaDir, 1, content)

	raw, err := net.Dial("tcp", h.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	peer := session.NewConn(raw, h.cfg.Session)

	hs := session.Handshake{Op: session.OpRegister, Username: "alice", Password: "pw"}
	if err := peer.Send(ctx, session.TextMessage(session.MsgHandshake, hs.String())); err != nil {
		t.Fatalf("send handshake: %v", err)
	}
	if reply, err := peer.Receive(ctx, session.MsgStatus); err != nil || reply.Text() != session.LegacyTokens().Success {
		t.Fatalf("register reply %q err=%v", reply.Text(), err)
	}

	// the opcode and the track name go out back to back
	for _, cmd := range []string{OpDownload, media.TrackName(1)} {
		if err := peer.Send(ctx, session.TextMessage(session.MsgCommand, cmd)); err != nil {
			t.Fatalf("send %q: %v", cmd, err)
		}
	}
	// by the time the reader wakes up the whole transfer sits in the socket
	time.Sleep(700 * time.Millisecond)
	status, err := peer.Receive(ctx, session.MsgStatus)
	if err != nil || peer.Tokens().Parse(status.Text()) != session.StatusProceed {
		t.Fatalf("expected proceed, got %q err=%v", status.Text(), err)
	}
	var got bytes.Buffer
	if _, err := media.Receive(ctx, peer, &got); err != nil {
		t.Fatalf("receive track: %v", err)
	}
	if !bytes.Equal(got.Bytes(), content) {
		t.Fatalf("track differs: got %d bytes want %d", got.Len(), len(content))
	}

	// a cancel right after the opcode must not merge into one message
	if err := peer.Send(ctx, session.TextMessage(session.MsgCommand, OpDownload)); err != nil {
		t.Fatalf("send download: %v", err)
	}
	if err := peer.Send(ctx, session.EndMessage()); err != nil {
		t.Fatalf("send cancel: %v", err)
	}
	if err := peer.Send(ctx, session.TextMessage(session.MsgCommand, OpList)); err != nil {
		t.Fatalf("send list: %v", err)
	}
	var lines []string
	for {
		msg, err := peer.Receive(ctx, session.MsgRecord)
		if err != nil {
			t.Fatalf("receive listing: %v", err)
		}
		if msg.IsEnd() {
			break
		}
		lines = append(lines, msg.Text())
	}
	if len(lines) != len(testCatalog) || !strings.HasPrefix(lines[4], "5 - Under Pressure") {
		t.Fatalf("unexpected listing after cancel: %q", lines)
	}
}

func TestServiceClampsChunkSizeToFramePayload(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.ChunkSize = 4 * 1024 * 1024
	svc := NewServiceWithConfig(cfg, Deps{Accounts: accounts.NewMemoryStore(), Catalog: catalog.NewMemorySource()})
	if got, limit := svc.Config().ChunkSize, int(svc.Config().Session.MaxPayloadBytes); got != limit {
		t.Fatalf("expected chunk size clamped to %d, got %d", limit, got)
	}
}

func TestServiceFramedDownloadWithLargeChunks(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	h := startService(t, func(cfg *ServiceConfig) { cfg.ChunkSize = 8 * 1024 * 1024 })
	content := bytes.Repeat([]byte("0123456789abcdef"), 128*1024)
	writeTrack(t, h.cfg.MediaDir, 1, content)

	c := h.dial(t)
	if _, err := c.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	path, err := c.Download(ctx, 1)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if got, _ := os.ReadFile(path); !bytes.Equal(got, content) {
		t.Fatalf("download differs: %d bytes", len(got))
	}
}
