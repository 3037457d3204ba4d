// Package server exposes invoice validation over HTTP for callers running
// outside the process.
//
// Routes:
//
//	POST   /v1/validate  validate an invoice or run recognition output through the pipeline
//	GET    /healthz      liveness and cache state
//	DELETE /v1/cache     clear cache entries matching ?pattern= (all when empty)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"finscribe/internal/errkind"
	"finscribe/internal/logger"
	"finscribe/internal/pipeline"
	"finscribe/pkg/models"
)

const (
	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 25 << 20
)

// Server serves the validation API.
type Server struct {
	pipeline *pipeline.Pipeline
	router   *gin.Engine
	log      zerolog.Logger
}

// New creates the server and registers its routes.
func New(p *pipeline.Pipeline) *Server {
	s := &Server{
		pipeline: p,
		router:   gin.New(),
		log:      logger.WithComponent("server"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())

	s.router.GET("/healthz", s.health)
	v1 := s.router.Group("/v1")
	v1.POST("/validate", s.validate)
	v1.DELETE("/cache", s.clearCache)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Validation service listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down validation service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		reqLog := logger.WithRequestID(requestID).With().Str("component", "server").Logger()
		c.Request = c.Request.WithContext(logger.IntoContext(c.Request.Context(), reqLog))

		c.Next()

		reqLog.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) health(c *gin.Context) {
	cache := s.pipeline.Cache()
	if c.Query("probe") == "true" && !cache.Enabled() {
		cache.Reprobe(c.Request.Context())
	}

	backend := "none"
	if b := cache.Backend(); b != nil {
		backend = b.Name()
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"cache": gin.H{
			"enabled": cache.Enabled(),
			"backend": backend,
		},
	})
}

func (s *Server) clearCache(c *gin.Context) {
	pattern := c.Query("pattern")
	deleted := s.pipeline.Cache().Clear(c.Request.Context(), pattern)
	if pattern == "" {
		pattern = "*"
	}
	c.JSON(http.StatusOK, gin.H{"pattern": pattern, "deleted": deleted})
}

func (s *Server) validate(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx, s.log)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var req models.ValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.OCRText == "" && len(req.OCRJSON) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "one of ocr_text or ocr_json is required"})
		return
	}
	if req.DocID == "" {
		req.DocID = uuid.NewString()
	}
	log = log.With().Str("doc_id", req.DocID).Logger()

	resp := models.ValidationResponse{DocID: req.DocID}

	if len(req.OCRJSON) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(req.OCRJSON, &fields); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"doc_id": req.DocID, "error": "ocr_json must be a JSON object"})
			return
		}
		if isInvoice(fields) {
			validated, report := s.pipeline.ValidateJSON(req.OCRJSON)
			resp.Status = models.StatusFor(report)
			resp.Corrected = &models.CorrectedInvoice{Invoice: validated, Validation: report}
			log.Debug().Str("status", resp.Status).Msg("Invoice validated directly")
			c.JSON(http.StatusOK, resp)
			return
		}
	}

	result := &models.RecognitionResult{Text: req.OCRText}
	if len(req.OCRJSON) > 0 {
		if err := json.Unmarshal(req.OCRJSON, result); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"doc_id": req.DocID, "error": "ocr_json is not a recognition result: " + err.Error()})
			return
		}
		if result.Text == "" {
			result.Text = req.OCRText
		}
	}

	out, err := s.pipeline.ProcessRecognition(ctx, result)
	resp.Status = out.Status
	switch {
	case err == nil:
		resp.Corrected = &models.CorrectedInvoice{Invoice: *out.Invoice, Validation: *out.Report}
		c.JSON(http.StatusOK, resp)
	case errkind.KindOf(err) == errkind.UnrepresentableInput:
		resp.Status = models.StatusUnrepresentable
		resp.Error = "nothing extractable"
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, pipeline.ErrNoEnricher):
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
	default:
		log.Error().Err(err).Msg("Validation pipeline failed")
		resp.Status = models.StatusFailed
		resp.Error = err.Error()
		c.JSON(http.StatusBadGateway, resp)
	}
}

func isInvoice(fields map[string]json.RawMessage) bool {
	_, items := fields["line_items"]
	_, summary := fields["financial_summary"]
	return items || summary
}
