package site

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"jwgl-scraper/scraper"
)

// Server exposes the scraped portal data as a small read-only JSON API, so
// other tools can consume normalized schedules without speaking the portal's
// HTML dialect.
type Server struct {
	client *scraper.Client
	logger *slog.Logger
}

// NewServer builds a Server over client.
func NewServer(client *scraper.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{client: client, logger: logger}
}

// Run serves the API on the given port until the listener fails.
func (s *Server) Run(port string, production bool) error {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(s.requestLogger())
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/schedule", s.handleSchedule)
		api.GET("/semesters", s.handleSemesters)
		api.GET("/user", s.handleUser)
		api.GET("/session", s.handleSession)
		api.POST("/cache/invalidate", s.handleInvalidateCache)
	}

	handler := cors.Default().Handler(router)
	s.logger.Info("starting http server", "port", port)
	return http.ListenAndServe(":"+port, handler)
}

// requestLogger logs one line per request in the slog format the rest of
// the program uses.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now()})
}

func (s *Server) handleSchedule(c *gin.Context) {
	year := c.Query("year")
	semester := c.Query("semester")

	units, err := s.client.FetchSchedule(year, semester)
	if err != nil {
		s.logger.Error("schedule fetch failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(units), "units": units})
}

func (s *Server) handleSemesters(c *gin.Context) {
	semesters, err := s.client.AvailableSemesters()
	if err != nil {
		s.logger.Error("semester fetch failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"semesters": semesters})
}

func (s *Server) handleUser(c *gin.Context) {
	info, err := s.client.UserInfo()
	if err != nil {
		s.logger.Error("user info fetch failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.client.Session().Info())
}

func (s *Server) handleInvalidateCache(c *gin.Context) {
	s.client.InvalidateCache()
	c.JSON(http.StatusOK, gin.H{"status": "flushed"})
}
