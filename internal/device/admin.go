package device

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/hublink/internal/auth"
	"github.com/danmuck/hublink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const adminShutdownTimeout = 2 * time.Second

// AdminRouter exposes health, readiness, link status and metrics.
func (s *Service) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.DeviceID))
	if origins := normalizeOrigins(s.cfg.AdminCORSOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    s.uptime().String(),
			"component": "devicectl",
			"device_id": s.cfg.DeviceID,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		ready := s.Ready() && s.client.Connected()
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":     ready,
			"device_id": s.cfg.DeviceID,
		})
	})
	guarded := r.Group("/")
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		guarded.Use(auth.Require(auth.AnyOf{
			auth.StaticToken{Token: token},
			auth.DeviceToken{Secret: s.cfg.PrimaryKey, Hub: s.cfg.HubName, DeviceID: s.cfg.DeviceID, Now: s.now},
		}))
	}
	guarded.GET("/links", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": s.client.Status(),
			"stats":  s.Stats(),
		})
	})
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// serveAdmin serves the admin router until ctx ends.
func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.AdminRouter(), ReadHeaderTimeout: 5 * time.Second}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("device.Service.serveAdmin listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return s.now().Sub(s.started)
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
