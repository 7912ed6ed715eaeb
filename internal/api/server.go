package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/adaxion/LibMythicPlus/internal/store"
	"github.com/adaxion/LibMythicPlus/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultHistoryLimit = 10

// Server represents the server configuration with a router, a Redis client, a logger, and the tracker.
type Server struct {
	router      *gin.Engine
	redisClient *store.RedisClient
	tracker     *service.Tracker
	logger      *logrus.Logger
}

// NewServer initializes a new server. redisClient may be nil when persistence is off, and relay
// is mounted at /relay when set.
func NewServer(redisClient *store.RedisClient, tracker *service.Tracker, relay http.Handler, logger *logrus.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	server := &Server{
		router:      router,
		redisClient: redisClient,
		tracker:     tracker,
		logger:      logger,
	}
	server.setupRoutes()
	if relay != nil {
		router.GET("/relay", gin.WrapH(relay))
	}

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes defines all the routes for the server.
func (s *Server) setupRoutes() {
	s.router.GET("/ping", s.handlePing)
	s.router.GET("/redis-ping", s.handleRedisPing)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/season", s.handleGetSeason)
	s.router.GET("/session", s.handleGetSession)
	s.router.GET("/session/status", s.handleGetSessionStatus)
	s.router.GET("/keystone/owned", s.handleGetOwnedKeystone)
	s.router.GET("/keystone/slotted", s.handleGetSlottedKeystone)
	s.router.GET("/affixes/:level", s.handleGetAffixes)
	s.router.GET("/history", s.handleGetHistory)
	s.router.POST("/host/signals", s.handlePostSignal)
}

// handlePing is a handler for the API health check route.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// handleRedisPing is a handler for the Redis health check route.
func (s *Server) handleRedisPing(c *gin.Context) {
	if s.redisClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Redis is not configured"})
		return
	}
	err := s.redisClient.Ping(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Error("api: handleRedisPing - Failed to ping Redis")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ping Redis"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (s *Server) handleReady(c *gin.Context) {
	ready, fired := s.tracker.Gate.Ready()
	c.JSON(http.StatusOK, gin.H{"ready": fired, "available": ready.Available})
}

// handleGetSeason returns the loaded reference data once every field is in.
func (s *Server) handleGetSeason(c *gin.Context) {
	season, status := s.tracker.Loader.Season()
	if status.Unavailable {
		c.JSON(http.StatusNotFound, gin.H{"error": "No seasonal activity available"})
		return
	}
	if !status.Complete() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Season data is still loading", "status": status})
		return
	}
	c.JSON(http.StatusOK, season)
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, ok := s.tracker.Sessions.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleGetSessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":  s.tracker.Sessions.IsActive(),
		"present": s.tracker.Sessions.IsActiveAndPresent(),
	})
}

func (s *Server) handleGetOwnedKeystone(c *gin.Context) {
	keystone, err := s.tracker.Sessions.OwnedKeystone(c.Request.Context())
	if err != nil {
		s.hostError(c, err, "Failed to get owned keystone")
		return
	}
	c.JSON(http.StatusOK, keystone)
}

func (s *Server) handleGetSlottedKeystone(c *gin.Context) {
	keystone, err := s.tracker.Sessions.SlottedKeystone(c.Request.Context())
	if err != nil {
		s.hostError(c, err, "Failed to get slotted keystone")
		return
	}
	c.JSON(http.StatusOK, keystone)
}

// handleGetAffixes returns the affixes a keystone of the given level carries this season.
func (s *Server) handleGetAffixes(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil || level < model.MinKeystoneLevel {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("level must be an integer of at least %d", model.MinKeystoneLevel)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": level, "affixes": s.tracker.Sessions.AffixesForLevel(level)})
}

// handleGetHistory lists the local player's most recent finished runs.
func (s *Server) handleGetHistory(c *gin.Context) {
	if s.redisClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Run history is not configured"})
		return
	}
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > store.HistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 50"})
			return
		}
		limit = n
	}

	runs, err := s.redisClient.History(c.Request.Context(), s.tracker.LocalID(), limit)
	if err != nil {
		s.logger.WithError(err).Error("api: handleGetHistory - Failed to get run history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// handlePostSignal feeds one host notification to the tracker.
func (s *Server) handlePostSignal(c *gin.Context) {
	var signal host.Signal
	if err := c.ShouldBindJSON(&signal); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signal body"})
		return
	}
	if err := signal.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.tracker.HandleSignal(c.Request.Context(), signal); err != nil {
		s.hostError(c, err, "Failed to handle signal")
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) hostError(c *gin.Context, err error, msg string) {
	if errors.Is(err, host.ErrNotReady) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Game client data not ready"})
		return
	}
	s.logger.WithError(err).Error("api: " + msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// Run starts the HTTP server on a specific address.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
