package models

import "fmt"

// TaskType classifies a session by the kind of work it carries. Manual
// types are opened on behalf of a human operator; auto types are opened
// by the robot dispatch path.
type TaskType string

const (
	TaskManualCustomerService TaskType = "manual_customer_service"
	TaskManualComplaint       TaskType = "manual_complaint"
	TaskManualUrgent          TaskType = "manual_urgent"
	TaskAutoBargain           TaskType = "auto_bargain"
	TaskAutoFollowUp          TaskType = "auto_follow_up"
)

// AllTaskTypes lists every valid task type, used for validation.
var AllTaskTypes = []TaskType{
	TaskManualCustomerService,
	TaskManualComplaint,
	TaskManualUrgent,
	TaskAutoBargain,
	TaskAutoFollowUp,
}

// ParseTaskType validates a raw string against the closed task type set.
func ParseTaskType(s string) (TaskType, error) {
	for _, t := range AllTaskTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("models: unknown task type %q", s)
}

// IsHuman reports whether the task type belongs to the manual sub-set.
func (t TaskType) IsHuman() bool {
	switch t {
	case TaskManualCustomerService, TaskManualComplaint, TaskManualUrgent:
		return true
	}
	return false
}

// IsRobot reports whether the task type belongs to the automated sub-set.
func (t TaskType) IsRobot() bool {
	switch t {
	case TaskAutoBargain, TaskAutoFollowUp:
		return true
	}
	return false
}

// Priority returns the dispatch priority for the task type, 1 highest.
func (t TaskType) Priority() int {
	if p, ok := taskTypePriority[t]; ok {
		return p
	}
	return PriorityLow
}

// Priority levels, 1 = highest.
const (
	PriorityEmergency = 1 // manual_urgent
	PriorityHigh      = 2 // manual_customer_service, manual_complaint
	PriorityMedium    = 3 // auto_bargain
	PriorityLow       = 4 // auto_follow_up
)

var taskTypePriority = map[TaskType]int{
	TaskManualUrgent:          PriorityEmergency,
	TaskManualCustomerService: PriorityHigh,
	TaskManualComplaint:       PriorityHigh,
	TaskAutoBargain:           PriorityMedium,
	TaskAutoFollowUp:          PriorityLow,
}

// SessionState is the lifecycle state of a session. Completed, cancelled
// and timeout are terminal.
type SessionState string

const (
	StatePending     SessionState = "pending"
	StateActive      SessionState = "active"
	StateTransferred SessionState = "transferred"
	StateCompleted   SessionState = "completed"
	StateCancelled   SessionState = "cancelled"
	StateTimeout     SessionState = "timeout"
)

// LiveStates are the states in which a session occupies its
// (account, shop) slot.
var LiveStates = []SessionState{StateActive, StateTransferred}

// OpenStates are the non-terminal states. A pending robot session has no
// messages yet and is not live, but it still holds the pair against a
// second automated task.
var OpenStates = []SessionState{StatePending, StateActive, StateTransferred}

// IsLive reports whether the session still occupies its slot.
func (s SessionState) IsLive() bool {
	return s == StateActive || s == StateTransferred
}

// IsTerminal reports whether the state permits no further transitions.
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateTimeout:
		return true
	}
	return false
}

// ParseSessionState validates a raw string against the closed state set.
func ParseSessionState(s string) (SessionState, error) {
	switch SessionState(s) {
	case StatePending, StateActive, StateTransferred,
		StateCompleted, StateCancelled, StateTimeout:
		return SessionState(s), nil
	}
	return "", fmt.Errorf("models: unknown session state %q", s)
}

// Session owners.
const (
	OwnerRobot = "robot"
	OwnerHuman = "human"
)

// Message sources.
const (
	SourceShop    = "shop"
	SourceAccount = "account"
)

// TransferStatus tracks acceptance of a hand-off record.
type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferAccepted TransferStatus = "accepted"
	TransferRejected TransferStatus = "rejected"
)

// UrgencyLevel grades a hand-off.
type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "low"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyUrgent UrgencyLevel = "urgent"
)

// Task statuses for outbound work items.
const (
	TaskStatusNotStarted = 0
	TaskStatusDone       = 1
	TaskStatusSkipped    = 2
)
