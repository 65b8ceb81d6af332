package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/jukebox/internal/catalog"
	"github.com/danmuck/jukebox/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const adminNode = "jukeboxd"

var startedAt = time.Now()

// AdminRouter builds the read-only admin HTTP surface.
func (s *Service) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(adminNode))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"uptime":          time.Since(startedAt).String(),
			"service":         adminNode,
			"mode":            string(s.cfg.WireMode),
			"active_sessions": s.ActiveSessions(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": s.Sessions()})
	})

	r.GET("/catalog", func(c *gin.Context) {
		ctx := c.Request.Context()
		seq := s.deps.Catalog.Scan(ctx)
		if artist := strings.TrimSpace(c.Query("artist")); artist != "" {
			seq = catalog.Filter(ctx, s.deps.Catalog, catalog.ByArtist, artist)
		} else if genre := strings.TrimSpace(c.Query("genre")); genre != "" {
			seq = catalog.Filter(ctx, s.deps.Catalog, catalog.ByGenre, genre)
		}
		songs, err := catalog.Collect(seq)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if songs == nil {
			songs = []catalog.Song{}
		}
		c.JSON(http.StatusOK, gin.H{"songs": songs})
	})
	return r
}

// ServeAdmin runs the admin HTTP server on addr until ctx is done.
func (s *Service) ServeAdmin(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	return s.ServeAdminListener(ctx, ln)
}

func (s *Service) ServeAdminListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("server.admin listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
