// Package server exposes a read-only dashboard over a run: REST endpoints
// for champion, diagnostics, and lineage, a sandboxed expression preview,
// and a websocket stream of per-generation diagnostics.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"strategos/internal/dataset"
	"strategos/internal/model"
	"strategos/internal/sandbox"
	"strategos/internal/storage"
)

// Server serves one run's state. It reads from the store on demand, so it
// can run alongside a live run or against a finished one.
type Server struct {
	store  storage.Store
	runID  string
	exec   sandbox.Executor
	data   *dataset.Dataset
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func New(store storage.Store, runID string, exec sandbox.Executor, data *dataset.Dataset, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  store,
		runID:  runID,
		exec:   exec,
		data:   data,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: map[*websocket.Conn]struct{}{},
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/champion", s.handleChampion)
	api.GET("/diagnostics", s.handleDiagnostics)
	api.GET("/lineage", s.handleLineage)
	api.GET("/strategies/:id", s.handleStrategy)
	api.POST("/expressions/preview", s.handleExpressionPreview)

	r.GET("/ws", s.handleWebsocket)
	return r
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("dashboard listening", "addr", addr)

	select {
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Broadcast pushes one generation's diagnostics to every connected client.
// It satisfies the population manager's listener signature.
func (s *Server) Broadcast(diag model.GenerationDiagnostics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(diag); err != nil {
			s.logger.Warn("websocket write failed", "error", err)
			_ = conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	diagnostics, ok, err := s.store.GetGenerationDiagnostics(c.Request.Context(), s.runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := gin.H{"run_id": s.runID, "generations_completed": 0}
	if ok && len(diagnostics) > 0 {
		latest := diagnostics[len(diagnostics)-1]
		status["generations_completed"] = len(diagnostics)
		status["latest"] = latest
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleChampion(c *gin.Context) {
	champion, ok, err := s.store.GetChampion(c.Request.Context(), s.runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no champion established"})
		return
	}
	c.JSON(http.StatusOK, champion)
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	diagnostics, ok, err := s.store.GetGenerationDiagnostics(c.Request.Context(), s.runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		diagnostics = nil
	}
	c.JSON(http.StatusOK, diagnostics)
}

func (s *Server) handleLineage(c *gin.Context) {
	lineage, ok, err := s.store.GetLineage(c.Request.Context(), s.runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		lineage = nil
	}
	c.JSON(http.StatusOK, lineage)
}

func (s *Server) handleStrategy(c *gin.Context) {
	strategy, ok, err := s.store.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown strategy"})
		return
	}
	c.JSON(http.StatusOK, strategy)
}

// handleExpressionPreview runs a raw expression payload through the sandbox
// against the loaded dataset and returns the head of the result series.
func (s *Server) handleExpressionPreview(c *gin.Context) {
	if s.exec == nil || s.data == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "expression preview unavailable"})
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<16))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	values, err := s.exec.Execute(c.Request.Context(), raw, s.data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	head := values
	if len(head) > 32 {
		head = head[:32]
	}
	c.JSON(http.StatusOK, gin.H{"rows": len(values), "head": head})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Reader loop exists only to notice the close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				delete(s.clients, conn)
				s.mu.Unlock()
				_ = conn.Close()
				return
			}
		}
	}()
}
