package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parley-io/parley/internal/models"
	"github.com/parley-io/parley/internal/session"
	"github.com/parley-io/parley/internal/task"
)

// apiResponse is the uniform JSON envelope for every endpoint. Success and
// ErrorCode are mutually exclusive.
type apiResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
}

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, apiResponse{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, status int, code, message string, data interface{}) {
	c.JSON(status, apiResponse{Message: message, ErrorCode: code, Data: data})
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/health", handleHealth())

	api := router.Group("/api")
	api.POST("/sessions", handleCreateSession(opts.Dispatcher))
	api.POST("/sessions/:id/complete", handleCompleteSession(opts.Dispatcher))
	api.GET("/sessions/:id/status", handleSessionStatus(opts.Sessions, opts.Dispatcher))
	api.POST("/messages/batch", handleMessageBatch(opts.Sessions, opts.MaxInactive))
	api.GET("/tasks/next", handleNextTask(opts.Dispatcher))
	api.GET("/tasks/:id/send_info", handleSendInfo(opts.Dispatcher))
	api.GET("/tasks/pending", handlePendingTasks(opts.Dispatcher))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok(c, "ok", nil)
	}
}

type createSessionRequest struct {
	AccountID          string `json:"account_id" binding:"required"`
	ShopName           string `json:"shop_name"`
	ShopID             string `json:"shop_id"`
	Platform           string `json:"platform"`
	TaskType           string `json:"task_type" binding:"required"`
	ExternalTaskType   string `json:"external_task_type"`
	ExternalTaskID     string `json:"external_task_id" binding:"required"`
	SendContent        string `json:"send_content"`
	Level              string `json:"level"`
	MaxInactiveMinutes int    `json:"max_inactive_minutes"`
}

func handleCreateSession(d *task.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, session.CodeCreateFailed, err.Error(), nil)
			return
		}
		taskType, err := models.ParseTaskType(req.TaskType)
		if err != nil {
			fail(c, http.StatusBadRequest, session.CodeInvalidTaskType, err.Error(), nil)
			return
		}
		externalType := req.ExternalTaskType
		if externalType == "" {
			externalType = string(taskType)
		}

		res, err := d.CreateSessionTask(c.Request.Context(), task.CreateRequest{
			AccountID:        req.AccountID,
			ShopName:         req.ShopName,
			ShopID:           req.ShopID,
			Platform:         req.Platform,
			TaskType:         taskType,
			ExternalTaskType: externalType,
			ExternalTaskID:   req.ExternalTaskID,
			SendContent:      req.SendContent,
			Level:            req.Level,
			MaxInactive:      time.Duration(req.MaxInactiveMinutes) * time.Minute,
		})
		if err != nil {
			fail(c, http.StatusInternalServerError, session.CodeCreateFailed, err.Error(), nil)
			return
		}
		if !res.Success {
			status := http.StatusConflict
			if res.ErrorCode != session.CodeUnavailable {
				status = http.StatusBadRequest
			}
			fail(c, status, res.ErrorCode, res.ErrorMessage, gin.H{
				"conflict_session_id": res.ConflictSessionID,
			})
			return
		}
		ok(c, "session task created", gin.H{
			"task_id":    res.TaskID,
			"session_id": res.SessionID,
			"level":      res.Level,
		})
	}
}

type completeSessionRequest struct {
	// Success reports whether the worker actually sent the content; a
	// skipped task cancels its session instead of activating it.
	Success      *bool  `json:"success" binding:"required"`
	ErrorMessage string `json:"error_message"`
}

func handleCompleteSession(d *task.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req completeSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, session.CodeCreateFailed, err.Error(), nil)
			return
		}
		found, err := d.CompleteSessionTask(c.Param("id"), *req.Success, req.ErrorMessage)
		if err != nil {
			fail(c, http.StatusInternalServerError, session.CodeCreateFailed, err.Error(), nil)
			return
		}
		if !found {
			fail(c, http.StatusNotFound, session.CodeCreateFailed, "no task for session", nil)
			return
		}
		ok(c, "task completed", nil)
	}
}

func handleSessionStatus(m *session.Manager, d *task.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			fail(c, http.StatusInternalServerError, session.CodeCreateFailed, err.Error(), nil)
			return
		}
		if sess == nil {
			fail(c, http.StatusNotFound, session.CodeCreateFailed, "unknown session", nil)
			return
		}
		data := gin.H{
			"session_id":    sess.SessionID,
			"account_id":    sess.AccountID,
			"shop_name":     sess.ShopName,
			"task_type":     sess.TaskType,
			"state":         sess.State,
			"created_by":    sess.CreatedBy,
			"priority":      sess.Priority,
			"message_count": sess.MessageCount,
			"last_activity": sess.LastActivity,
		}
		if sess.ExternalTaskID != nil {
			if row, err := d.GetTaskByExternalID(*sess.ExternalTaskID); err == nil && row != nil {
				data["task_id"] = row.ID
				data["task_status"] = row.TaskStatus
			}
		}
		ok(c, "session status", data)
	}
}

type batchMessage struct {
	MessageID  string    `json:"message_id" binding:"required"`
	Content    string    `json:"content"`
	FromSource string    `json:"from_source" binding:"required"`
	Sender     string    `json:"sender"`
	SentAt     time.Time `json:"sent_at"`
}

type messageBatchRequest struct {
	AccountID          string         `json:"account_id"`
	Platform           string         `json:"platform"`
	ShopName           string         `json:"shop_name" binding:"required"`
	ShopID             string         `json:"shop_id"`
	Messages           []batchMessage `json:"messages" binding:"required"`
	MaxInactiveMinutes int            `json:"max_inactive_minutes"`
}

func handleMessageBatch(m *session.Manager, maxInactive time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req messageBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, session.CodeCreateFailed, err.Error(), nil)
			return
		}

		accountID := req.AccountID
		if accountID == "" {
			accountID = ExtractAccountID(req.Platform, req.Messages)
		}
		if accountID == "" {
			fail(c, http.StatusBadRequest, session.CodeCreateFailed, "account id missing and not derivable from the batch", nil)
			return
		}
		if err := m.EnsureParticipants(accountID, req.Platform, req.ShopName, req.ShopID); err != nil {
			fail(c, http.StatusInternalServerError, session.CodeCreateFailed, err.Error(), nil)
			return
		}

		msgs := make([]session.MessageData, 0, len(req.Messages))
		for _, bm := range req.Messages {
			sentAt := bm.SentAt
			if sentAt.IsZero() {
				sentAt = time.Now()
			}
			msgs = append(msgs, session.MessageData{
				MessageID:  bm.MessageID,
				Content:    bm.Content,
				FromSource: bm.FromSource,
				Sender:     bm.Sender,
				SentAt:     sentAt,
			})
		}

		window := maxInactive
		if req.MaxInactiveMinutes > 0 {
			window = time.Duration(req.MaxInactiveMinutes) * time.Minute
		}
		res := m.ProcessBatch(c.Request.Context(), msgs, accountID, req.ShopName, window)
		ok(c, "batch processed", gin.H{
			"processed":         res.Processed,
			"skipped":           res.Skipped,
			"active_session_id": res.ActiveSessionID,
			"operations":        res.Operations,
			"errors":            res.Errors,
		})
	}
}

func handleNextTask(d *task.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, err := d.DequeueNext(c.Request.Context())
		if err != nil {
			fail(c, http.StatusInternalServerError, session.CodeCreateFailed, err.Error(), nil)
			return
		}
		if row == nil {
			ok(c, "no pending tasks", nil)
			return
		}
		ok(c, "next task", gin.H{
			"task_id":            row.ID,
			"session_id":         row.SessionID,
			"external_task_type": row.ExternalTaskType,
			"external_task_id":   row.ExternalTaskID,
		})
	}
}

func handleSendInfo(d *task.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, session.CodeCreateFailed, "task id must be numeric", nil)
			return
		}
		info, err := d.DispatchInfo(c.Request.Context(), uint(id))
		if err != nil {
			fail(c, http.StatusNotFound, session.CodeCreateFailed, err.Error(), nil)
			return
		}
		ok(c, "send info", info)
	}
}

func handlePendingTasks(d *task.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				fail(c, http.StatusBadRequest, session.CodeCreateFailed, "limit must be a positive integer", nil)
				return
			}
			limit = n
		}
		rows, err := d.PendingTasks(limit)
		if err != nil {
			fail(c, http.StatusInternalServerError, session.CodeCreateFailed, err.Error(), nil)
			return
		}
		out := make([]gin.H, 0, len(rows))
		for _, row := range rows {
			out = append(out, gin.H{
				"task_id":            row.ID,
				"session_id":         row.SessionID,
				"external_task_type": row.ExternalTaskType,
				"external_task_id":   row.ExternalTaskID,
				"created_at":         row.TaskCreatedAt,
			})
		}
		ok(c, "pending tasks", gin.H{"tasks": out, "count": len(out)})
	}
}
