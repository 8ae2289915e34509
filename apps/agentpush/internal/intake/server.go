// Package intake is the HTTP front door for relayed push data messages and
// agent record lookups.
package intake

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slush-dev/agentpush"
	"github.com/slush-dev/agentpush/incoming"
	"github.com/slush-dev/agentpush/store"
)

// Agents reads and updates agent records.
type Agents interface {
	Record(ctx context.Context, userID string) (agentpush.AgentStatusRecord, error)
	UpdateStatus(ctx context.Context, userID, status string) error
}

// Calls presents call invites. incoming.Runner implements it.
type Calls interface {
	Present(ctx context.Context, raw string) incoming.Result
	Submit(raw string) bool
}

// Server serves the intake API.
type Server struct {
	agents Agents
	calls  Calls
	logger *slog.Logger
	engine *gin.Engine
}

// New builds the router.
func New(agents Agents, calls Calls, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{agents: agents, calls: calls, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.POST("/push", s.handlePush)
	v1.GET("/agents/:id", s.handleGetAgent)
	v1.PUT("/agents/:id/status", s.handleSetStatus)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("intake listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type pushResponse struct {
	Queued  bool               `json:"queued,omitempty"`
	State   string             `json:"state,omitempty"`
	Caller  string             `json:"caller,omitempty"`
	Handoff *agentpush.Handoff `json:"handoff,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// handlePush accepts a relayed data message: a flat JSON object of strings.
// With ?wait=true the call is presented inline and the outcome returned;
// otherwise it is queued.
func (s *Server) handlePush(c *gin.Context) {
	var data map[string]string
	if err := c.ShouldBindJSON(&data); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "body must be a flat JSON object of strings"})
		return
	}
	if len(data) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "empty data message"})
		return
	}
	raw, err := agentpush.EncodeDataMap(data)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if c.Query("wait") != "true" {
		if !s.calls.Submit(raw) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "call queue is full"})
			return
		}
		c.JSON(http.StatusAccepted, pushResponse{Queued: true})
		return
	}

	res := s.calls.Present(c.Request.Context(), raw)
	resp := pushResponse{State: res.State.String(), Caller: res.Caller, Handoff: res.Handoff}
	status := http.StatusOK
	switch {
	case errors.Is(res.Err, incoming.ErrNoInvite):
		status = http.StatusUnprocessableEntity
		resp.Error = res.Err.Error()
	case res.Err != nil:
		loggerFrom(c).Warn("call finished with error", "error", res.Err)
		resp.Error = res.Err.Error()
	}
	c.JSON(status, resp)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	rec, err := s.agents.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	if err := s.agents.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	var werr *agentpush.RemoteWriteError
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	case errors.As(err, &werr):
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "remote store write failed"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
