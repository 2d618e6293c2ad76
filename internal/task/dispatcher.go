// Package task implements the send-task dispatcher: admission-gated task
// creation, the five-level priority queue hand-off to external workers,
// completion with session settlement, and dispatch-info resolution for
// auto-bargain orders.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/parley-io/parley/internal/models"
	"github.com/parley-io/parley/internal/queue"
	"github.com/parley-io/parley/internal/session"
	"gorm.io/gorm"
)

// Resolver turns a stored task into the concrete dispatch payload a
// worker needs: where to open the conversation and what to send.
type Resolver interface {
	Resolve(ctx context.Context, task *models.SessionTask) (*SendInfo, error)
}

// SendInfo is the dispatch payload for one task.
type SendInfo struct {
	TaskID      uint   `json:"task_id"`
	SessionID   string `json:"session_id"`
	ShopName    string `json:"shop_name"`
	SendURL     string `json:"send_url"`
	SendContent string `json:"send_content"`
}

// Dispatcher coordinates task rows, the level queues and session
// admission.
type Dispatcher struct {
	db       *gorm.DB
	queue    queue.Queue
	sessions *session.Manager
	resolver Resolver

	maxInactive time.Duration
}

// Options configures a Dispatcher. A nil Resolver makes DispatchInfo
// return the stored content without a send URL.
type Options struct {
	Resolver    Resolver
	MaxInactive time.Duration
}

func NewDispatcher(gdb *gorm.DB, q queue.Queue, sessions *session.Manager, opts Options) *Dispatcher {
	maxInactive := opts.MaxInactive
	if maxInactive <= 0 {
		maxInactive = 2 * time.Hour
	}
	return &Dispatcher{
		db:          gdb,
		queue:       q,
		sessions:    sessions,
		resolver:    opts.Resolver,
		maxInactive: maxInactive,
	}
}

// CreateRequest describes a send-task to create and enqueue.
type CreateRequest struct {
	AccountID        string
	ShopName         string
	ShopID           string // optional, backfilled onto the shop row when known
	Platform         string
	TaskType         models.TaskType
	ExternalTaskType string
	ExternalTaskID   string
	SendContent      string
	// Level overrides the queue level derived from the task type's
	// priority; empty means derive.
	Level string
	// MaxInactive overrides the dispatcher's inactivity window for this
	// request; zero means use the default.
	MaxInactive time.Duration
}

// CreateResult reports task creation. On admission failure the session
// gate's error code and conflict are carried through.
type CreateResult struct {
	Success           bool
	TaskID            uint
	SessionID         string
	Level             string
	ErrorCode         string
	ErrorMessage      string
	ConflictSessionID string
}

// CreateSessionTask runs robot admission for the pair, creates the backing
// session and the task row, and enqueues the task id on its priority
// level. A task whose external id was seen before is rejected.
func (d *Dispatcher) CreateSessionTask(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.ExternalTaskID == "" {
		return CreateResult{
			ErrorCode:    session.CodeCreateFailed,
			ErrorMessage: "external task id is required",
		}, nil
	}

	var existing models.SessionTask
	err := d.db.Where("external_task_id = ?", req.ExternalTaskID).First(&existing).Error
	if err == nil {
		return CreateResult{
			ErrorCode:    session.CodeCreateFailed,
			ErrorMessage: fmt.Sprintf("task %s already exists", req.ExternalTaskID),
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return CreateResult{}, fmt.Errorf("task: check external id %s: %w", req.ExternalTaskID, err)
	}

	if err := session.EnsureAccount(d.db, req.AccountID, req.AccountID, req.Platform); err != nil {
		return CreateResult{}, err
	}
	if req.ShopName != "" {
		if err := session.EnsureShop(d.db, req.ShopName, req.ShopID); err != nil {
			return CreateResult{}, err
		}
	}

	maxInactive := req.MaxInactive
	if maxInactive <= 0 {
		maxInactive = d.maxInactive
	}
	created, err := d.sessions.CreateRobotSession(req.AccountID, req.ShopName, req.TaskType, req.ExternalTaskID, maxInactive)
	if err != nil {
		return CreateResult{}, fmt.Errorf("task: create session for %s: %w", req.ExternalTaskID, err)
	}
	if !created.Success {
		return CreateResult{
			ErrorCode:         created.ErrorCode,
			ErrorMessage:      created.ErrorMessage,
			ConflictSessionID: created.ConflictSessionID,
		}, nil
	}

	row := models.SessionTask{
		ExternalTaskType: req.ExternalTaskType,
		ExternalTaskID:   req.ExternalTaskID,
		TaskCreatedAt:    time.Now(),
		TaskStatus:       models.TaskStatusNotStarted,
		SendContent:      req.SendContent,
		SessionID:        created.SessionID,
	}
	if err := d.db.Create(&row).Error; err != nil {
		return CreateResult{}, fmt.Errorf("task: insert task %s: %w", req.ExternalTaskID, err)
	}

	level := req.Level
	if level == "" {
		level, err = queue.LevelForPriority(req.TaskType.Priority())
		if err != nil {
			return CreateResult{}, fmt.Errorf("task: derive level for %s: %w", req.TaskType, err)
		}
	}
	if !queue.ValidLevel(level) {
		return CreateResult{}, fmt.Errorf("task: invalid queue level %q", level)
	}
	if err := d.queue.Enqueue(ctx, level, strconv.FormatUint(uint64(row.ID), 10)); err != nil {
		return CreateResult{}, fmt.Errorf("task: enqueue task %d: %w", row.ID, err)
	}

	return CreateResult{
		Success:   true,
		TaskID:    row.ID,
		SessionID: created.SessionID,
		Level:     level,
	}, nil
}

// DequeueNext pops the next task id to execute, scanning the levels in
// priority order. Returns nil when every level is empty.
func (d *Dispatcher) DequeueNext(ctx context.Context) (*models.SessionTask, error) {
	raw, err := d.queue.DequeueNext(ctx)
	if err != nil {
		return nil, fmt.Errorf("task: dequeue: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("task: malformed queued id %q: %w", raw, err)
	}
	return d.GetTask(uint(id))
}

// GetTask loads a task row by id, or nil when unknown.
func (d *Dispatcher) GetTask(id uint) (*models.SessionTask, error) {
	var row models.SessionTask
	err := d.db.First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task: get %d: %w", id, err)
	}
	return &row, nil
}

// GetTaskByExternalID loads a task row by the upstream task id.
func (d *Dispatcher) GetTaskByExternalID(externalID string) (*models.SessionTask, error) {
	var row models.SessionTask
	err := d.db.Where("external_task_id = ?", externalID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task: get by external id %s: %w", externalID, err)
	}
	return &row, nil
}

// CompleteSessionTask marks the session's task done or skipped and
// settles the session: a delivered task leaves the session active for
// the follow-up conversation, a skipped one cancels it. It reports
// whether a task was found for the session; repeated completion calls
// for the same session are benign no-ops.
func (d *Dispatcher) CompleteSessionTask(sessionID string, success bool, errorMessage string) (bool, error) {
	found := false
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var row models.SessionTask
		if err := tx.Where("session_id = ?", sessionID).
			Order("id DESC").
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("task: load for session %s: %w", sessionID, err)
		}
		found = true
		if row.TaskStatus != models.TaskStatusNotStarted {
			return nil
		}

		status := models.TaskStatusDone
		sessionState := models.StateActive
		opType := "task_done"
		if !success {
			status = models.TaskStatusSkipped
			sessionState = models.StateCancelled
			opType = "task_skipped"
		}

		now := time.Now()
		if err := tx.Model(&models.SessionTask{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"task_status":      status,
				"task_finished_at": now,
			}).Error; err != nil {
			return fmt.Errorf("task: finish %d: %w", row.ID, err)
		}

		// Only settle a session the task still owns; a pair superseded in
		// the meantime is left alone.
		if err := tx.Model(&models.Session{}).
			Where("session_id = ? AND state IN ?", row.SessionID,
				[]models.SessionState{models.StatePending, models.StateActive}).
			Updates(map[string]interface{}{
				"state":         sessionState,
				"last_activity": now,
			}).Error; err != nil {
			return fmt.Errorf("task: settle session %s: %w", row.SessionID, err)
		}

		op := models.SessionOperation{
			SessionID:     row.SessionID,
			OperationType: opType,
			OperatorID:    "system",
			OperatorType:  "system",
			OperationAt:   now,
		}
		if errorMessage != "" {
			raw, err := json.Marshal(map[string]string{"error": errorMessage})
			if err != nil {
				return fmt.Errorf("task: marshal completion data: %w", err)
			}
			s := string(raw)
			op.OperationData = &s
		}
		if err := tx.Create(&op).Error; err != nil {
			return fmt.Errorf("task: log completion of %d: %w", row.ID, err)
		}
		return nil
	})
	return found, err
}

// DispatchInfo resolves the payload a worker needs to execute the task.
func (d *Dispatcher) DispatchInfo(ctx context.Context, id uint) (*SendInfo, error) {
	row, err := d.GetTask(id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("task: dispatch info for %d: unknown task", id)
	}

	if d.resolver != nil {
		info, err := d.resolver.Resolve(ctx, row)
		if err != nil {
			return nil, fmt.Errorf("task: resolve %d: %w", id, err)
		}
		return info, nil
	}

	sess, err := d.sessions.GetSession(row.SessionID)
	if err != nil {
		return nil, err
	}
	info := &SendInfo{
		TaskID:      row.ID,
		SessionID:   row.SessionID,
		SendContent: row.SendContent,
	}
	if sess != nil {
		info.ShopName = sess.ShopName
	}
	return info, nil
}

// PendingTasks returns up to limit unstarted tasks in creation order.
func (d *Dispatcher) PendingTasks(limit int) ([]models.SessionTask, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.SessionTask
	err := d.db.Where("task_status = ?", models.TaskStatusNotStarted).
		Order("task_created_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("task: list pending: %w", err)
	}
	return rows, nil
}

// QueueDepths reports the number of queued ids per level.
func (d *Dispatcher) QueueDepths(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, len(queue.Levels))
	for _, level := range queue.Levels {
		n, err := d.queue.Len(ctx, level)
		if err != nil {
			return nil, fmt.Errorf("task: depth of %s: %w", level, err)
		}
		depths[level] = n
	}
	return depths, nil
}
