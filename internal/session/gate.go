package session

import (
	"fmt"
	"time"

	"github.com/parley-io/parley/internal/models"
)

// Availability is the outcome of robot admission control.
type Availability struct {
	Available         bool
	Reason            string
	ConflictSessionID string
	ConflictTaskType  models.TaskType
}

// CreationResult reports session creation with machine-readable failure
// codes. Success and error fields are mutually exclusive.
type CreationResult struct {
	Success           bool
	SessionID         string
	ErrorCode         string
	ErrorMessage      string
	ConflictSessionID string
}

// Error codes for robot session admission and creation.
const (
	CodeShopRequired    = "SHOP_REQUIRED"
	CodeInvalidTaskType = "INVALID_TASK_TYPE"
	CodeUnavailable     = "UNAVAILABLE"
	CodeCreateFailed    = "CREATE_FAILED"
)

// CanCreateRobotSession decides whether a new automated session may be
// opened for the pair. A human-owned (transferred) live session blocks
// admission regardless of inactivity; a stale robot-owned one is timed out
// and the slot freed.
func (m *Manager) CanCreateRobotSession(accountID, shopName string, taskType models.TaskType, maxInactive time.Duration) (Availability, error) {
	unlock := m.locks.lock(accountID, shopName)
	defer unlock()
	return m.canCreateLocked(accountID, shopName, taskType, maxInactive)
}

func (m *Manager) canCreateLocked(accountID, shopName string, taskType models.TaskType, maxInactive time.Duration) (Availability, error) {
	if shopName == "" {
		return Availability{Reason: CodeShopRequired}, nil
	}
	if !taskType.IsRobot() {
		return Availability{Reason: CodeInvalidTaskType}, nil
	}

	// The gate sees pending robot sessions too: a second automated task
	// must not pile onto a pair whose first send is still in flight.
	open, err := findOpenSession(m.db, accountID, shopName)
	if err != nil {
		return Availability{}, err
	}
	if open == nil {
		return Availability{Available: true}, nil
	}

	// A session handed to a human is never reclaimed by the robot path,
	// no matter how stale.
	if open.State == models.StateTransferred {
		return Availability{
			Reason:            "human-owned session in progress",
			ConflictSessionID: open.SessionID,
			ConflictTaskType:  open.TaskType,
		}, nil
	}

	if time.Since(open.LastActivity) > maxInactive {
		if err := markTimedOut(m.db, open.SessionID); err != nil {
			return Availability{}, err
		}
		return Availability{Available: true}, nil
	}

	if open.State == models.StateActive || open.State == models.StatePending {
		return Availability{
			Reason:            "automated session in progress",
			ConflictSessionID: open.SessionID,
			ConflictTaskType:  open.TaskType,
		}, nil
	}

	return Availability{
		Reason:            fmt.Sprintf("session in state %s", open.State),
		ConflictSessionID: open.SessionID,
		ConflictTaskType:  open.TaskType,
	}, nil
}

// CreateRobotSession re-runs the admission gate under the pair lock and,
// when the slot is free, creates a pending robot session with the priority
// derived from the task type.
func (m *Manager) CreateRobotSession(accountID, shopName string, taskType models.TaskType, externalTaskID string, maxInactive time.Duration) (CreationResult, error) {
	unlock := m.locks.lock(accountID, shopName)
	defer unlock()

	avail, err := m.canCreateLocked(accountID, shopName, taskType, maxInactive)
	if err != nil {
		return CreationResult{}, err
	}
	if !avail.Available {
		code := CodeUnavailable
		if avail.Reason == CodeShopRequired || avail.Reason == CodeInvalidTaskType {
			code = avail.Reason
		}
		return CreationResult{
			ErrorCode:         code,
			ErrorMessage:      avail.Reason,
			ConflictSessionID: avail.ConflictSessionID,
		}, nil
	}

	timeoutAt := time.Now().Add(maxInactive)
	sessionID, err := m.createLocked(Spec{
		AccountID:      accountID,
		ShopName:       shopName,
		TaskType:       taskType,
		State:          models.StatePending,
		CreatedBy:      models.OwnerRobot,
		Priority:       taskType.Priority(),
		ExternalTaskID: externalTaskID,
		TimeoutAt:      &timeoutAt,
	})
	if err != nil {
		return CreationResult{}, err
	}

	return CreationResult{Success: true, SessionID: sessionID}, nil
}
