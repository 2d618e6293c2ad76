package session

import (
	"time"
)

// Decision is the outcome of a continuity check: either the batch joins
// the named live session, or a new session must be created.
type Decision struct {
	CreateNew bool
	SessionID string // set when joining
}

// Decide determines whether a new message batch continues the current live
// session for the pair or starts a new one. A live session that has been
// inactive longer than maxInactive is flipped to timeout and no longer
// joinable.
func (m *Manager) Decide(accountID, shopName string, maxInactive time.Duration) (Decision, error) {
	unlock := m.locks.lock(accountID, shopName)
	defer unlock()
	return m.decideLocked(accountID, shopName, maxInactive)
}

// decideLocked evaluates the continuity policy. Callers must hold the pair
// lock so the timeout check-and-mark cannot race a concurrent creation.
func (m *Manager) decideLocked(accountID, shopName string, maxInactive time.Duration) (Decision, error) {
	// No shop key, no continuity to evaluate.
	if shopName == "" {
		return Decision{CreateNew: true}, nil
	}

	live, err := findLiveSession(m.db, accountID, shopName)
	if err != nil {
		return Decision{}, err
	}
	if live == nil {
		return Decision{CreateNew: true}, nil
	}

	if time.Since(live.LastActivity) > maxInactive {
		if err := markTimedOut(m.db, live.SessionID); err != nil {
			return Decision{}, err
		}
		return Decision{CreateNew: true}, nil
	}

	return Decision{SessionID: live.SessionID}, nil
}
