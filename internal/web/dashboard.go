// Package web implements the simulation's optional read-only
// dashboard: a JSON snapshot of the live run plus the Prometheus
// /metrics endpoint, with no mutable surface to protect.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pcsim/internal/config"
	"pcsim/internal/metrics"
	"pcsim/internal/platform/logger"
	"pcsim/internal/version"
	tlsutil "pcsim/pkg/tls"
)

// Snapshot is the live state the supervisor exposes to the dashboard.
type Snapshot struct {
	Producers      int       `json:"producers"`
	Consumers      int       `json:"consumers"`
	Capacity       int       `json:"capacity"`
	QueueDepth     int       `json:"queue_depth"`
	StartedAt      time.Time `json:"started_at"`
	MessagesProduced uint64  `json:"messages_produced"`
	MessagesConsumed uint64  `json:"messages_consumed"`
	ProducerBlocks   uint64  `json:"producer_blocks"`
	ConsumerBlocks   uint64  `json:"consumer_blocks"`
}

// SnapshotFunc returns the current run snapshot. Supplied by the
// supervisor; called on every GET /api/v1/snapshot.
type SnapshotFunc func() Snapshot

// Dashboard serves the run snapshot, a static liveness check, and
// the Prometheus registry over HTTP(S).
type Dashboard struct {
	app      *fiber.App
	cfg      config.DashboardConfig
	snapshot SnapshotFunc
}

// New builds a dashboard bound to cfg. snapshot is called on demand,
// never cached by the dashboard itself.
func New(cfg config.DashboardConfig, authToken string, snapshot SnapshotFunc) *Dashboard {
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		DisableStartupMessage: true,
	})

	log := logger.Slog()

	app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if authToken != "" && path != "/metrics" && path != "/healthz" {
			auth := c.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != authToken {
				return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
			}
		}
		return c.Next()
	})

	metrics.Init()
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      metrics.Registry(),
	})))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": version.Version})
	})

	d := &Dashboard{cfg: cfg, snapshot: snapshot}

	router := mux.NewRouter()
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/snapshot", d.handleSnapshot).Methods(http.MethodGet)
	app.Use("/api", adaptor.HTTPHandler(router))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "running", "version": version.Version})
	})

	if log != nil {
		log.Debug("dashboard routes registered", "addr", cfg.Addr)
	}

	d.app = app
	return d
}

func (d *Dashboard) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := d.snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// ListenAndServe blocks serving the dashboard until Shutdown is
// called or a fatal listener error occurs. TLS is self-signed when
// cfg.TLS is set and no cert/key pair already exists on disk.
func (d *Dashboard) ListenAndServe() error {
	if !d.cfg.TLS {
		return d.app.Listen(d.cfg.Addr)
	}

	certFile, keyFile := d.cfg.CertFile, d.cfg.KeyFile
	if certFile == "" || keyFile == "" {
		certFile, keyFile = "./certs/pcsim.crt", "./certs/pcsim.key"
	}
	cf, kf, err := tlsutil.EnsurePairExists(certFile, keyFile, []string{"127.0.0.1", "localhost"}, 0)
	if err != nil {
		return err
	}
	cert, err := tls.LoadX509KeyPair(cf, kf)
	if err != nil {
		return err
	}
	ln, err := tls.Listen("tcp", d.cfg.Addr, &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	})
	if err != nil {
		return err
	}
	return d.app.Listener(ln)
}

// Shutdown gracefully stops the dashboard's listener.
func (d *Dashboard) Shutdown(ctx context.Context) error {
	return d.app.ShutdownWithContext(ctx)
}
