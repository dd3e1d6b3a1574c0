// Package server exposes the aggregation engine over HTTP.
package server

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/logmesh/logmesh/internal/aggregator"
	"github.com/logmesh/logmesh/internal/broadcast"
	"github.com/logmesh/logmesh/internal/cache"
	"github.com/logmesh/logmesh/internal/discovery"
	"github.com/logmesh/logmesh/internal/model"
	"github.com/logmesh/logmesh/internal/registry"
	"github.com/logmesh/logmesh/internal/watcher"
)

// Server wires the engine components behind a Gin router.
type Server struct {
	engine     *gin.Engine
	aggregator *aggregator.Aggregator
	registry   *registry.Store
	discovery  *discovery.Discovery
	watcher    *watcher.Watcher
	hub        *broadcast.Hub
	cache      *cache.ResultCache
	log        *zap.Logger
	port       string
	started    time.Time
}

// New creates the HTTP server.
func New(agg *aggregator.Aggregator, reg *registry.Store, disc *discovery.Discovery, w *watcher.Watcher, hub *broadcast.Hub, rc *cache.ResultCache, port string, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	s := &Server{
		engine:     engine,
		aggregator: agg,
		registry:   reg,
		discovery:  disc,
		watcher:    w,
		hub:        hub,
		cache:      rc,
		log:        log,
		port:       port,
		started:    time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"uptime":      time.Since(s.started).Truncate(time.Second).String(),
			"users":       len(s.registry.Users()),
			"watches":     len(s.watcher.List()),
			"subscribers": s.hub.SubscriberCount(),
			"dropped":     s.hub.Dropped(),
		})
	})

	api := s.engine.Group("/api")
	{
		api.POST("/aggregate", s.handleAggregate)
		api.DELETE("/cache", s.handleClearCache)

		api.GET("/aliases/:user", s.handleListAliases)
		api.GET("/aliases/:user/:name/files", s.handleBrowseAlias)
		api.PUT("/aliases/:user/:name", s.handlePutAlias)
		api.DELETE("/aliases/:user/:name", s.handleRemoveAlias)

		api.GET("/watches", s.handleListWatches)
		api.POST("/watches", s.handleStartWatch)
		api.POST("/watches/restart", s.handleRestartWatch)
		api.DELETE("/watches", s.handleStopWatch)
	}

	s.engine.GET("/ws", s.handleWebSocket)

	s.engine.GET("/debug/pprof/", gin.WrapF(pprof.Index))
	s.engine.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
	s.engine.GET("/debug/pprof/heap", gin.WrapH(pprof.Handler("heap")))
	s.engine.GET("/debug/pprof/goroutine", gin.WrapH(pprof.Handler("goroutine")))
}

// handleAggregate answers one aggregation query. Partial results with
// failure metadata are preferred over a total failure.
func (s *Server) handleAggregate(c *gin.Context) {
	var query model.AggregationQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.aggregator.Aggregate(c.Request.Context(), query)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, aggregator.ErrBadQuery):
			status = http.StatusBadRequest
		case errors.Is(err, aggregator.ErrNoSources):
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleClearCache(c *gin.Context) {
	s.cache.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleListAliases(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.AliasesForUser(c.Param("user")))
}

// handleBrowseAlias lists every supported file under an alias's directory,
// regardless of modification date.
func (s *Server) handleBrowseAlias(c *gin.Context) {
	alias, ok := s.registry.Alias(c.Param("user"), c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown alias"})
		return
	}
	files, err := s.discovery.Browse(alias.BasePath)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, discovery.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"basePath": alias.BasePath, "files": files})
}

func (s *Server) handlePutAlias(c *gin.Context) {
	var body struct {
		BasePath string `json:"basePath" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.registry.Put(c.Param("user"), c.Param("name"), body.BasePath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemoveAlias(c *gin.Context) {
	err := s.registry.Remove(c.Param("user"), c.Param("name"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrAliasNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListWatches(c *gin.Context) {
	c.JSON(http.StatusOK, s.watcher.List())
}

// bindWatchTarget resolves a {userId, aliasName} body against the registry.
func (s *Server) bindWatchTarget(c *gin.Context) (watcher.Target, bool) {
	var body struct {
		UserID    string `json:"userId" binding:"required"`
		AliasName string `json:"aliasName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return watcher.Target{}, false
	}
	alias, ok := s.registry.Alias(body.UserID, body.AliasName)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown alias"})
		return watcher.Target{}, false
	}
	return watcher.Target{
		UserID:    alias.UserID,
		AliasName: alias.AliasName,
		BasePath:  alias.BasePath,
	}, true
}

func (s *Server) handleStartWatch(c *gin.Context) {
	target, ok := s.bindWatchTarget(c)
	if !ok {
		return
	}
	if err := s.watcher.Watch(target); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, watcher.ErrAlreadyWatched) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(s.watcher.Status(target.BasePath))})
}

func (s *Server) handleRestartWatch(c *gin.Context) {
	target, ok := s.bindWatchTarget(c)
	if !ok {
		return
	}
	if err := s.watcher.Restart(target); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(s.watcher.Status(target.BasePath))})
}

func (s *Server) handleStopWatch(c *gin.Context) {
	target, ok := s.bindWatchTarget(c)
	if !ok {
		return
	}
	s.watcher.Unwatch(target.BasePath)
	c.Status(http.StatusNoContent)
}

// Start runs the server. Blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("port", s.port))
	return s.engine.Run(":" + s.port)
}
