package server

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/events"
	"github.com/aristath/blogflow/internal/pipeline"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	Topic            string   `json:"topic" binding:"required"`
	ReferenceContent string   `json:"reference_content"`
	ReferenceURLs    []string `json:"reference_urls"`
	TargetWordCount  int      `json:"target_word_count" binding:"omitempty,min=100,max=20000"`
	Style            string   `json:"style"`
	TargetAudience   string   `json:"target_audience"`
	Run              bool     `json:"run"` // Start the pipeline immediately
}

// wsMessage wraps an event with its type for websocket clients.
type wsMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}

// fail maps pipeline errors to HTTP statuses.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrAlreadyRunning), errors.Is(err, pipeline.ErrNotRunnable):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, APIResponse{Success: false, Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, APIResponse{Success: false, Error: msg})
}

func (s *Server) handleHealth(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	id, err := s.repo.CreateTask(c.Request.Context(), pipeline.TaskSpec{
		Topic:            req.Topic,
		ReferenceContent: req.ReferenceContent,
		ReferenceURLs:    req.ReferenceURLs,
		TargetWordCount:  req.TargetWordCount,
		Style:            req.Style,
		TargetAudience:   req.TargetAudience,
	})
	if err != nil {
		fail(c, err)
		return
	}

	if req.Run {
		if err := s.startRun(id); err != nil {
			fail(c, err)
			return
		}
	}

	task, err := s.repo.GetTask(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, task)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := s.orch.DeleteTask(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: "task deleted", Data: gin.H{"id": id}})
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.repo.ListTasks(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.repo.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, task)
}

func (s *Server) handleState(c *gin.Context) {
	state, err := s.orch.GetWorkflowState(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, state)
}

func (s *Server) handleProgress(c *gin.Context) {
	snap, found := s.orch.GetProgress(c.Param("id"))
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, APIResponse{Success: false, Error: "no progress recorded"})
		return
	}
	ok(c, http.StatusOK, snap)
}

// runnable checks that taskID exists and has not run yet.
func (s *Server) runnable(c *gin.Context, taskID string) bool {
	task, err := s.repo.GetTask(c.Request.Context(), taskID)
	if err != nil {
		fail(c, err)
		return false
	}
	if task.Status != pipeline.StatusCreated {
		c.AbortWithStatusJSON(http.StatusConflict, APIResponse{
			Success: false,
			Error:   "task is " + task.Status.String() + ": " + pipeline.ErrNotRunnable.Error(),
		})
		return false
	}
	return true
}

func (s *Server) handleRun(c *gin.Context) {
	taskID := c.Param("id")
	if !s.runnable(c, taskID) {
		return
	}
	if err := s.startRun(taskID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Message: "workflow started", Data: gin.H{"task_id": taskID}})
}

// handleStream runs the task and streams its events as server-sent events.
// The run is bound to the request: a client that disconnects cancels it.
func (s *Server) handleStream(c *gin.Context) {
	taskID := c.Param("id")
	if !s.runnable(c, taskID) {
		return
	}
	ch, err := s.orch.StartWorkflow(c.Request.Context(), taskID)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		e, open := <-ch
		if !open {
			return false
		}
		c.SSEvent(e.EventType(), e)
		return true
	})
	// Drain whatever is left if the client went away mid-run.
	for range ch {
	}
}

// handleWebSocket mirrors bus events for one task until its run finishes or
// the client disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := s.repo.GetTask(c.Request.Context(), taskID); err != nil {
		fail(c, err)
		return
	}
	if s.bus == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, APIResponse{Success: false, Error: "event bus not configured"})
		return
	}

	// Subscribe before upgrading so no event after the handshake is missed.
	sub := s.bus.SubscribeAll(256)
	defer s.bus.Unsubscribe(sub)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied
		log.Printf("WARNING: websocket upgrade failed for %s: %v", taskID, err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, open := <-sub:
			if !open {
				return
			}
			if e.TaskID() != taskID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(wsMessage{Type: e.EventType(), Event: e}); err != nil {
				return
			}
			if _, finished := e.(events.WorkflowFinishedEvent); finished {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "workflow finished"))
				return
			}
		case <-gone:
			return
		case <-s.runCtx.Done():
			return
		}
	}
}

func (s *Server) handleInvocations(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := s.repo.GetTask(c.Request.Context(), taskID); err != nil {
		fail(c, err)
		return
	}
	records, err := s.repo.ListInvocations(c.Request.Context(), taskID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, records)
}

func (s *Server) handleArtifact(c *gin.Context) {
	kind := artifact.Kind(c.Param("kind"))
	switch kind {
	case artifact.KindResearch, artifact.KindDraft, artifact.KindReview:
	default:
		badRequest(c, "unknown artifact kind "+string(kind))
		return
	}

	taskID := c.Param("id")
	if _, err := s.repo.GetTask(c.Request.Context(), taskID); err != nil {
		fail(c, err)
		return
	}
	a, found, err := s.repo.GetArtifact(c.Request.Context(), taskID, kind)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, APIResponse{Success: false, Error: string(kind) + " not produced yet"})
		return
	}
	ok(c, http.StatusOK, a)
}
