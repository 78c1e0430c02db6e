// Package httpapi exposes the orchestrator over HTTP: task CRUD, log
// retrieval, the operator debug feed, and a websocket progress stream.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cairnhq/cairn/internal/config"
	"github.com/cairnhq/cairn/internal/manager"
	"github.com/cairnhq/cairn/internal/store"
)

// Server serves the REST and websocket API in front of one Manager.
type Server struct {
	cfg *config.Config
	st  *store.Store
	mgr *manager.Manager

	httpServer *http.Server
}

func NewServer(cfg *config.Config, st *store.Store, mgr *manager.Manager) *Server {
	return &Server{cfg: cfg, st: st, mgr: mgr}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	{
		api.GET("/tasks", s.listTasks)
		api.POST("/tasks", s.createTask)
		api.GET("/tasks/:id", s.getTask)
		api.DELETE("/tasks/:id", s.deleteTask)
		api.GET("/tasks/:id/logs", s.taskLogs)
		api.POST("/tasks/:id/subtasks", s.spawnSubtasks)
		api.GET("/runs/:run_id/log", s.runLog)
		api.GET("/debug", s.debugMessages)
	}
	r.GET("/ws/progress", s.progressStream)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	return r
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()
	slog.Info("http api listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type createTaskBody struct {
	Description string   `json:"description" binding:"required"`
	Owner       string   `json:"owner"`
	Kind        string   `json:"agent_kind"`
	Repos       []string `json:"repos"`
	Branch      string   `json:"branch"`
	Provider    string   `json:"model_provider"`
	Model       string   `json:"model_name"`
}

func (s *Server) createTask(c *gin.Context) {
	var body createTaskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID, err := s.mgr.CreateTask(manager.CreateTaskRequest{
		Description: body.Description,
		Owner:       body.Owner,
		Kind:        body.Kind,
		Repos:       body.Repos,
		Branch:      body.Branch,
		Provider:    body.Provider,
		Model:       body.Model,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if runID == "" {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "run_id": runID})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run_id": runID})
}

func (s *Server) listTasks(c *gin.Context) {
	rows, err := s.st.ListActiveTasks()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": rows})
}

func (s *Server) getTask(c *gin.Context) {
	payload, err := s.st.GetActiveTask(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	runIDs, err := s.st.RunIDsForTask(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": c.Param("id"), "payload": payload, "run_ids": runIDs})
}

func (s *Server) deleteTask(c *gin.Context) {
	if err := s.mgr.RemoveTask(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
}

func (s *Server) taskLogs(c *gin.Context) {
	logs, err := s.st.LogsForTask(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": c.Param("id"), "logs": logs})
}

func (s *Server) runLog(c *gin.Context) {
	runID := c.Param("run_id")
	agentType := c.Query("agent_type")
	if agentType == "" {
		// Most runs have exactly one log; pick the freshest.
		logs, err := s.st.LogsForRun(runID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(logs) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no log for run"})
			return
		}
		c.JSON(http.StatusOK, logs[0])
		return
	}

	logData, err := s.st.LoadLog(runID, agentType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no log for run"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logData)
}

func (s *Server) spawnSubtasks(c *gin.Context) {
	subIDs, err := s.mgr.SpawnSubtasks(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subtask_ids": subIDs})
}

func (s *Server) debugMessages(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("n", "100"))
	msgs, err := s.st.DebugMessages(n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// requestLogger logs one line per request through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
