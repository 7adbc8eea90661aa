// Package api exposes the read-only HTTP surface for the enclosing UI:
// server listings, live status, backup records, an SSE event feed, and
// Prometheus metrics. Mutations stay on the imperative orchestrator API.
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mcpilot/mcpilot/internal/backupengine"
	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/health"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/mcpilot/mcpilot/internal/registry"
)

// Directory is the read-only slice of the orchestrator the API serves.
type Directory interface {
	Servers(ctx context.Context) ([]*models.ServerRecord, error)
	Server(ctx context.Context, serverID string) (*models.ServerRecord, error)
	Status(ctx context.Context, serverID string) (string, error)
	Backups() ([]backupengine.Record, error)
}

// Config holds the router's build information.
type Config struct {
	Version   string
	Commit    string
	BuildDate string
}

// Router wraps a gin engine with the read-only routes.
type Router struct {
	Engine *gin.Engine

	cfg    Config
	dir    Directory
	bus    *events.Bus
	sys    *health.Collector
	logger zerolog.Logger
}

// NewRouter assembles the engine. bus may be nil; the events endpoint then
// reports 503. sys may be nil; the system endpoint then reports 503.
func NewRouter(cfg Config, dir Directory, bus *events.Bus, sys *health.Collector, logger zerolog.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := &Router{
		Engine: gin.New(),
		cfg:    cfg,
		dir:    dir,
		bus:    bus,
		sys:    sys,
		logger: logger.With().Str("component", "api").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(requestLogger(r.logger))

	r.Engine.GET("/healthz", r.health)
	r.Engine.GET("/version", r.version)
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Engine.Group("/api")
	apiGroup.GET("/servers", r.listServers)
	apiGroup.GET("/servers/:id", r.getServer)
	apiGroup.GET("/servers/:id/status", r.getStatus)
	apiGroup.GET("/backups", r.listBackups)
	apiGroup.GET("/system", r.getSystem)
	apiGroup.GET("/events", r.streamEvents)

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests.
func (r *Router) Serve(ctx context.Context, listen string) error {
	srv := &http.Server{Addr: listen, Handler: r.Engine}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	r.logger.Info().Str("listen", listen).Msg("api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (r *Router) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    r.cfg.Version,
		"commit":     r.cfg.Commit,
		"build_date": r.cfg.BuildDate,
	})
}

// serverView is the wire shape for a server record. Env values may carry
// resolved secrets, so only the key names go out.
type serverView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	InstallPath string   `json:"install_path"`
	Command     []string `json:"command,omitempty"`
	EnvKeys     []string `json:"env_keys,omitempty"`
	Version     string   `json:"version,omitempty"`
	Enabled     bool     `json:"enabled"`
	Image       string   `json:"image,omitempty"`
	RepoURL     string   `json:"repo_url,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

func viewOf(server *models.ServerRecord) serverView {
	view := serverView{
		ID:          server.ID,
		Name:        server.Name,
		Kind:        string(server.Kind),
		InstallPath: server.InstallPath,
		Command:     server.Command,
		Version:     server.Version,
		Enabled:     server.Enabled,
		Image:       server.Image,
		RepoURL:     server.RepoURL,
		CreatedAt:   server.CreatedAt.Format(time.RFC3339),
	}
	for key := range server.Env {
		view.EnvKeys = append(view.EnvKeys, key)
	}
	sort.Strings(view.EnvKeys)
	return view
}

func (r *Router) listServers(c *gin.Context) {
	servers, err := r.dir.Servers(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	views := make([]serverView, 0, len(servers))
	for _, server := range servers {
		views = append(views, viewOf(server))
	}
	c.JSON(http.StatusOK, gin.H{"servers": views})
}

func (r *Router) getServer(c *gin.Context) {
	server, err := r.dir.Server(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(server))
}

func (r *Router) getStatus(c *gin.Context) {
	id := c.Param("id")
	status, err := r.dir.Status(c.Request.Context(), id)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": id, "status": status})
}

func (r *Router) listBackups(c *gin.Context) {
	backups, err := r.dir.Backups()
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups})
}

func (r *Router) getSystem(c *gin.Context) {
	if r.sys == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "system metrics not available"})
		return
	}
	c.JSON(http.StatusOK, r.sys.Collect(c.Request.Context()))
}

func (r *Router) fail(c *gin.Context, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}
	r.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
