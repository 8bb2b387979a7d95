// Package server exposes the export pipeline over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bjaus/tabexport/history"
	"github.com/bjaus/tabexport/pipeline"
)

// HistoryReader lists recorded exports.
type HistoryReader interface {
	Recent(ctx context.Context, formID, limit int) ([]history.ExportRecord, error)
	Summary(ctx context.Context, formID int) (history.FormSummary, error)
}

// Config wires a Server. Pipeline and Signer are required.
type Config struct {
	Pipeline *pipeline.Pipeline
	// Signer issues the nonces the pipeline's authorizer verifies.
	Signer   *pipeline.Signer
	NonceTTL time.Duration
	// APIKey is the bearer key that grants export capability. Empty grants it
	// to every caller.
	APIKey  string
	History HistoryReader
	Logger  *logrus.Entry
}

// Server routes export requests to the pipeline.
type Server struct {
	pipeline *pipeline.Pipeline
	signer   *pipeline.Signer
	nonceTTL time.Duration
	apiKey   string
	history  HistoryReader
	log      *logrus.Entry
	engine   *gin.Engine
}

// New returns a Server for c.
func New(c Config) (*Server, error) {
	if c.Pipeline == nil || c.Signer == nil {
		return nil, errors.New("server: pipeline and signer are required")
	}
	log := c.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ttl := c.NonceTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	s := &Server{
		pipeline: c.Pipeline,
		signer:   c.Signer,
		nonceTTL: ttl,
		apiKey:   c.APIKey,
		history:  c.History,
		log:      log,
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(s.authenticate())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.GET("/formats", s.formats)

	export := r.Group("/export")
	export.POST("", s.requireCaller, s.export)
	export.POST("/async", s.requireCaller, s.exportAsync)
	export.GET("/download", s.download)
	export.GET("/nonce", s.requireCaller, s.nonce)
	export.POST("/options", s.requireCaller, s.options)

	if s.history != nil {
		h := r.Group("/history", s.requireCaller)
		h.GET("", s.recent)
		h.GET("/:form_id", s.summary)
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("Server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// authenticate stores the caller's export capability in the request context.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok := s.apiKey == ""
		if !ok {
			token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
			ok = found && subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) == 1
		}
		c.Request = c.Request.WithContext(pipeline.WithCaller(c.Request.Context(), ok))
		c.Next()
	}
}

func (s *Server) requireCaller(c *gin.Context) {
	if !pipeline.CallerCanExport(c.Request.Context()) {
		fail(c, http.StatusForbidden, "Permission denied.")
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"bytes":    c.Writer.Size(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}

func succeed(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "data": gin.H{"message": message}})
}
