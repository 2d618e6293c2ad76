package session

import (
	"fmt"
	"time"

	"github.com/parley-io/parley/internal/models"
	"gorm.io/gorm"
)

// SweepTimeouts flips automation-owned active sessions whose last activity
// is older than window to the timeout state, and returns how many were
// affected. Human-owned (transferred) sessions are left alone: those are
// only superseded on the message path, where the operator sees the
// conversation that replaces them.
//
// Timeout detection is otherwise lazy (evaluated when a pair is next
// consulted); the sweep exists for stricter timeliness and is optional.
func SweepTimeouts(gdb *gorm.DB, window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window)
	res := gdb.Model(&models.Session{}).
		Where("state = ? AND created_by = ? AND last_activity < ?",
			models.StateActive, models.OwnerRobot, cutoff).
		Updates(map[string]interface{}{
			"state":         models.StateTimeout,
			"last_activity": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("session: sweep timeouts: %w", res.Error)
	}
	return res.RowsAffected, nil
}
