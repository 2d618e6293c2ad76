package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parley-io/parley/internal/models"
	"github.com/parley-io/parley/internal/notify"
	"gorm.io/gorm"
)

// ProcessResult aggregates the outcome of one message batch. The batch is
// the unit of failure isolation: errors are collected here instead of
// propagating, so messages already processed are not lost from the result.
type ProcessResult struct {
	Processed       int
	Skipped         int
	ActiveSessionID string
	Operations      []string
	Errors          []string
}

// ProcessBatch ingests a batch of inbound messages for the pair. Messages
// whose id is already stored are skipped (idempotent re-delivery), the
// continuity policy picks or creates the target session, and intervention
// detection may hand an automation-owned session to a human.
func (m *Manager) ProcessBatch(ctx context.Context, msgs []MessageData, accountID, shopName string, maxInactive time.Duration) ProcessResult {
	unlock := m.locks.lock(accountID, shopName)
	defer unlock()

	var result ProcessResult

	fresh, skipped, err := m.dedup(msgs)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Skipped = skipped
	if len(fresh) == 0 {
		return result
	}

	decision, err := m.decideLocked(accountID, shopName, maxInactive)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if decision.CreateNew {
		m.processNewSession(ctx, fresh, accountID, shopName, &result)
	} else {
		m.processJoin(ctx, fresh, accountID, shopName, decision.SessionID, &result)
	}
	return result
}

// dedup partitions the batch into unseen messages and a skip count.
func (m *Manager) dedup(msgs []MessageData) ([]MessageData, int, error) {
	fresh := make([]MessageData, 0, len(msgs))
	skipped := 0
	for _, msg := range msgs {
		var existing models.Message
		err := m.db.Where("message_id = ?", msg.MessageID).First(&existing).Error
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, skipped, fmt.Errorf("session: dedup message %s: %w", msg.MessageID, err)
		}
		fresh = append(fresh, msg)
	}
	return fresh, skipped, nil
}

// processNewSession opens a human-owned urgent session for the batch and
// notifies the operators.
func (m *Manager) processNewSession(ctx context.Context, msgs []MessageData, accountID, shopName string, result *ProcessResult) {
	sessionID, err := m.createLocked(Spec{
		AccountID: accountID,
		ShopName:  shopName,
		TaskType:  models.TaskManualUrgent,
		State:     models.StateTransferred,
		CreatedBy: models.OwnerHuman,
		Priority:  models.PriorityEmergency,
	})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}
	result.ActiveSessionID = sessionID
	result.Operations = append(result.Operations, "create_session")

	m.attachAll(sessionID, msgs, result)
	m.notifyHandOff(ctx, sessionID, accountID, shopName, msgs, "new conversation", result)
}

// processJoin attaches the batch to the existing live session and then
// arbitrates control: a human-owned session re-notifies on every batch, an
// automation-owned one is checked for intervention.
func (m *Manager) processJoin(ctx context.Context, msgs []MessageData, accountID, shopName, sessionID string, result *ProcessResult) {
	result.ActiveSessionID = sessionID
	result.Operations = append(result.Operations, "join_session")

	m.attachAll(sessionID, msgs, result)

	sess, err := m.GetSession(sessionID)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}
	if sess == nil {
		result.Errors = append(result.Errors, fmt.Sprintf("session %s disappeared during batch", sessionID))
		return
	}

	switch sess.State {
	case models.StateTransferred:
		// The human owner must see every new message.
		m.notifyHandOff(ctx, sessionID, accountID, shopName, msgs, "new messages on transferred session", result)
	case models.StateActive:
		if !m.detectIntervention(msgs) {
			return
		}
		switched, err := m.SwitchControl(sessionID, models.OwnerHuman, "human intervention detected")
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return
		}
		if switched {
			result.Operations = append(result.Operations, "switch_to_human")
			m.notifyHandOff(ctx, sessionID, accountID, shopName, msgs, "human intervention detected", result)
		}
	}
}

// attachAll attaches each message, counting successes and recording
// per-message failures without aborting the rest of the batch.
func (m *Manager) attachAll(sessionID string, msgs []MessageData, result *ProcessResult) {
	for _, msg := range msgs {
		ok, err := m.AttachMessage(sessionID, msg)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.Processed++
	}
}

// notifyHandOff fires the notification side effect. Delivery failures are
// recorded but the batch result is unaffected: notification is
// fire-and-retry, nothing downstream consumes its return value.
func (m *Manager) notifyHandOff(ctx context.Context, sessionID, accountID, shopName string, msgs []MessageData, reason string, result *ProcessResult) {
	if m.notifier == nil {
		return
	}
	contents := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		contents = append(contents, msg.Content)
	}
	handOff := notify.HandOff{
		SessionID: sessionID,
		AccountID: accountID,
		ShopName:  shopName,
		Reason:    reason,
		Messages:  contents,
	}
	if err := notify.Send(ctx, m.notifier, handOff); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("notify: %v", err))
		return
	}
	result.Operations = append(result.Operations, "notify_human")
}
