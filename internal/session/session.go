// Package session implements the conversation lifecycle engine: session
// creation and supersession, message attachment, robot/human hand-off,
// continuity decisions and robot admission control.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parley-io/parley/internal/db"
	"github.com/parley-io/parley/internal/models"
	"github.com/parley-io/parley/internal/notify"
	"gorm.io/gorm"
)

// Manager owns all mutating operations against sessions. Mutations for a
// given (account, shop) pair are serialized through a per-pair lock, which
// closes the check-then-act races in creation, admission and timeout
// detection.
type Manager struct {
	db       *gorm.DB
	locks    *pairLocks
	detector Detector
	notifier notify.Notifier
}

// Options configures a Manager. A nil Detector disables intervention
// detection; a nil Notifier disables hand-off notifications.
type Options struct {
	Detector Detector
	Notifier notify.Notifier
}

// NewManager creates a session Manager on the given store.
func NewManager(gdb *gorm.DB, opts Options) *Manager {
	return &Manager{
		db:       gdb,
		locks:    newPairLocks(),
		detector: opts.Detector,
		notifier: opts.Notifier,
	}
}

// MessageData is one inbound chat utterance before it is attached to a
// session.
type MessageData struct {
	MessageID  string
	Content    string
	FromSource string // "shop" or "account"
	Sender     string
	SentAt     time.Time
}

// Spec describes a session to create.
type Spec struct {
	AccountID      string
	ShopName       string
	TaskType       models.TaskType
	State          models.SessionState
	CreatedBy      string
	Priority       int
	ExternalTaskID string
	TimeoutAt      *time.Time
}

// GenerateID creates a unique session id in sess_xxxxxxxxxxxx format.
func GenerateID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "sess_" + hex[:12]
}

// EnsureParticipants creates the account and shop rows when missing, so
// a session created afterwards always has its owners on record.
func (m *Manager) EnsureParticipants(accountID, platform, shopName, shopID string) error {
	if err := EnsureAccount(m.db, accountID, accountID, platform); err != nil {
		return err
	}
	if shopName != "" {
		return EnsureShop(m.db, shopName, shopID)
	}
	return nil
}

// EnsureAccount creates the account row if it does not exist yet.
func EnsureAccount(gdb *gorm.DB, accountID, accountName, platform string) error {
	var existing models.Account
	err := gdb.Where("account_id = ?", accountID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("session: check account %s: %w", accountID, err)
	}
	account := models.Account{
		AccountID:   accountID,
		AccountName: accountName,
		Platform:    platform,
		IsActive:    true,
	}
	if err := gdb.Create(&account).Error; err != nil {
		if db.IsDuplicateEntry(err) {
			return nil
		}
		return fmt.Errorf("session: create account %s: %w", accountID, err)
	}
	return nil
}

// EnsureShop creates the shop row if it does not exist, keyed by the shop
// name. A previously unknown shop id is backfilled in place when it
// becomes known.
func EnsureShop(gdb *gorm.DB, shopName, shopID string) error {
	if shopName == "" {
		return fmt.Errorf("session: shop name is required")
	}
	var existing models.Shop
	err := gdb.Where("shop_name = ?", shopName).First(&existing).Error
	if err == nil {
		if shopID != "" && existing.ShopID == nil {
			if err := gdb.Model(&existing).Update("shop_id", shopID).Error; err != nil {
				return fmt.Errorf("session: backfill shop id for %s: %w", shopName, err)
			}
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("session: check shop %s: %w", shopName, err)
	}
	shop := models.Shop{ShopName: shopName}
	if shopID != "" {
		shop.ShopID = &shopID
	}
	if err := gdb.Create(&shop).Error; err != nil {
		if db.IsDuplicateEntry(err) {
			return nil
		}
		return fmt.Errorf("session: create shop %s: %w", shopName, err)
	}
	return nil
}

// Create creates a new session for the pair described by spec, completing
// every currently live session for the same pair first so the single-live
// invariant holds. Returns the new session id.
func (m *Manager) Create(spec Spec) (string, error) {
	unlock := m.locks.lock(spec.AccountID, spec.ShopName)
	defer unlock()
	return m.createLocked(spec)
}

// createLocked runs the complete-existing-then-insert sequence inside one
// transaction. Callers must hold the pair lock.
func (m *Manager) createLocked(spec Spec) (string, error) {
	sessionID := GenerateID()
	now := time.Now()

	err := m.db.Transaction(func(tx *gorm.DB) error {
		// Supersede whatever is live for the pair.
		if err := tx.Model(&models.Session{}).
			Where("account_id = ? AND shop_name = ? AND state IN ?",
				spec.AccountID, spec.ShopName, models.LiveStates).
			Updates(map[string]interface{}{
				"state":         models.StateCompleted,
				"last_activity": now,
			}).Error; err != nil {
			return fmt.Errorf("complete existing sessions: %w", err)
		}

		sess := models.Session{
			SessionID:    sessionID,
			AccountID:    spec.AccountID,
			ShopName:     spec.ShopName,
			TaskType:     spec.TaskType,
			State:        spec.State,
			CreatedBy:    spec.CreatedBy,
			Priority:     spec.Priority,
			MessageCount: 0,
			CreatedAt:    now,
			LastActivity: now,
			TimeoutAt:    spec.TimeoutAt,
		}
		if spec.ExternalTaskID != "" {
			sess.ExternalTaskID = &spec.ExternalTaskID
		}
		if err := tx.Create(&sess).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		return logOperation(tx, sessionID, "create", spec.CreatedBy, spec.CreatedBy, map[string]interface{}{
			"task_type": spec.TaskType,
			"state":     spec.State,
		})
	})
	if err != nil {
		return "", fmt.Errorf("session: create for (%s, %s): %w", spec.AccountID, spec.ShopName, err)
	}
	return sessionID, nil
}

// AttachMessage stores one message on a session, bumps the message count
// and advances last_activity to the message's sent-at time when later than
// the current value. A pending session becomes active on its first
// message. Returns false without error when the session id is unknown, the
// session is terminal, or the message id was already stored.
func (m *Manager) AttachMessage(sessionID string, msg MessageData) (bool, error) {
	attached := false
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var sess models.Session
		if err := tx.Where("session_id = ?", sessionID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("load session: %w", err)
		}
		if sess.State.IsTerminal() {
			return nil
		}

		row := models.Message{
			MessageID:  msg.MessageID,
			SessionID:  sessionID,
			Content:    msg.Content,
			FromSource: msg.FromSource,
			Sender:     msg.Sender,
			SentAt:     msg.SentAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			if db.IsDuplicateEntry(err) {
				return nil
			}
			return fmt.Errorf("insert message %s: %w", msg.MessageID, err)
		}

		updates := map[string]interface{}{
			"message_count": gorm.Expr("message_count + 1"),
		}
		// sent_at, not wall clock: keeps the timeout computation stable
		// when batches replay out of order.
		if msg.SentAt.After(sess.LastActivity) {
			updates["last_activity"] = msg.SentAt
		}
		if sess.State == models.StatePending {
			updates["state"] = models.StateActive
		}
		if err := tx.Model(&models.Session{}).
			Where("session_id = ?", sessionID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		attached = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("session: attach message to %s: %w", sessionID, err)
	}
	return attached, nil
}

// SwitchControl hands a session between robot and human operation. Every
// successful switch appends a transfer record. Returns false without error
// for unknown or terminal sessions.
func (m *Manager) SwitchControl(sessionID, newOwner, reason string) (bool, error) {
	switched := false
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var err error
		switched, err = switchControlTx(tx, sessionID, newOwner, reason)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("session: switch control of %s: %w", sessionID, err)
	}
	return switched, nil
}

func switchControlTx(tx *gorm.DB, sessionID, newOwner, reason string) (bool, error) {
	if newOwner != models.OwnerRobot && newOwner != models.OwnerHuman {
		return false, fmt.Errorf("invalid owner %q", newOwner)
	}

	var sess models.Session
	if err := tx.Where("session_id = ?", sessionID).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load session: %w", err)
	}
	if sess.State.IsTerminal() {
		return false, nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"created_by":    newOwner,
		"last_activity": now,
	}
	if newOwner == models.OwnerHuman {
		updates["state"] = models.StateTransferred
		updates["transferred_at"] = now
		if reason != "" {
			updates["transfer_reason"] = reason
		}
	} else {
		updates["state"] = models.StateActive
	}
	if err := tx.Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error; err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}

	urgency := models.UrgencyMedium
	if newOwner == models.OwnerHuman {
		urgency = models.UrgencyHigh
	}
	transfer := models.SessionTransfer{
		SessionID:     sessionID,
		FromType:      sess.CreatedBy,
		ToType:        newOwner,
		TransferredBy: newOwner,
		TransferredAt: now,
		Status:        models.TransferPending,
		UrgencyLevel:  urgency,
	}
	if reason != "" {
		transfer.TransferReason = &reason
	}
	if err := tx.Create(&transfer).Error; err != nil {
		return false, fmt.Errorf("insert transfer record: %w", err)
	}

	if err := logOperation(tx, sessionID, "transfer", newOwner, newOwner, map[string]interface{}{
		"from": sess.CreatedBy,
		"to":   newOwner,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// FindLiveSession returns the most recently active live session for the
// pair, or nil when none exists.
func (m *Manager) FindLiveSession(accountID, shopName string) (*models.Session, error) {
	return findLiveSession(m.db, accountID, shopName)
}

func findLiveSession(gdb *gorm.DB, accountID, shopName string) (*models.Session, error) {
	var sess models.Session
	err := gdb.Where("account_id = ? AND shop_name = ? AND state IN ?",
		accountID, shopName, models.LiveStates).
		Order("last_activity DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: find live session for (%s, %s): %w", accountID, shopName, err)
	}
	return &sess, nil
}

// findOpenSession is the admission-gate variant of findLiveSession: it
// also sees pending robot sessions, which hold the pair against a second
// automated task even before their first message.
func findOpenSession(gdb *gorm.DB, accountID, shopName string) (*models.Session, error) {
	var sess models.Session
	err := gdb.Where("account_id = ? AND shop_name = ? AND state IN ?",
		accountID, shopName, models.OpenStates).
		Order("last_activity DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: find open session for (%s, %s): %w", accountID, shopName, err)
	}
	return &sess, nil
}

// GetSession returns the session with the given id, or nil when unknown.
func (m *Manager) GetSession(sessionID string) (*models.Session, error) {
	var sess models.Session
	err := m.db.Where("session_id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	return &sess, nil
}

// markTimedOut flips a session to the timeout state.
func markTimedOut(gdb *gorm.DB, sessionID string) error {
	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Session{}).
			Where("session_id = ? AND state IN ?", sessionID, models.OpenStates).
			Updates(map[string]interface{}{
				"state":         models.StateTimeout,
				"last_activity": time.Now(),
			}).Error; err != nil {
			return err
		}
		return logOperation(tx, sessionID, "timeout", "system", "system", nil)
	})
	if err != nil {
		return fmt.Errorf("session: mark %s timed out: %w", sessionID, err)
	}
	return nil
}

// logOperation appends a write-only audit row for a state-changing action.
func logOperation(tx *gorm.DB, sessionID, opType, operatorID, operatorType string, data map[string]interface{}) error {
	op := models.SessionOperation{
		SessionID:     sessionID,
		OperationType: opType,
		OperatorID:    operatorID,
		OperatorType:  operatorType,
		OperationAt:   time.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal operation data: %w", err)
		}
		s := string(raw)
		op.OperationData = &s
	}
	if err := tx.Create(&op).Error; err != nil {
		return fmt.Errorf("insert operation log: %w", err)
	}
	return nil
}
