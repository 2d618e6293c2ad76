package session

import "strings"

// AutomationMarker is the fixed prefix automated replies are expected to
// carry. Operator-authored messages normally lack it.
const AutomationMarker = "hi"

// Detector decides whether a message was authored by a human operator.
// It is a pluggable predicate so the heuristic can be swapped without
// touching the state machine.
type Detector interface {
	HumanAuthored(msg MessageData) bool
}

// PrefixDetector is the production heuristic: a message signals human
// intervention iff it was sent from the operator's own account side, its
// content does not start with the automation marker, and its sender
// nickname is on the configured allow-list of human-operated accounts.
//
// This is a heuristic, not a classifier. An automated reply that omits
// the marker is a false positive; a human reply that happens to start
// with the marker is a false negative. Both are accepted limitations.
type PrefixDetector struct {
	marker    string
	nicknames map[string]struct{}
}

// NewPrefixDetector builds a PrefixDetector over the given allow-list. An
// empty marker falls back to the fixed automation marker.
func NewPrefixDetector(marker string, nicknames []string) *PrefixDetector {
	if marker == "" {
		marker = AutomationMarker
	}
	set := make(map[string]struct{}, len(nicknames))
	for _, n := range nicknames {
		set[n] = struct{}{}
	}
	return &PrefixDetector{marker: marker, nicknames: set}
}

// HumanAuthored applies the three-part heuristic to one message.
func (d *PrefixDetector) HumanAuthored(msg MessageData) bool {
	if msg.FromSource != "account" {
		return false
	}
	if strings.HasPrefix(msg.Content, d.marker) {
		return false
	}
	_, listed := d.nicknames[msg.Sender]
	return listed
}

// detectIntervention reports whether any message in the batch signals
// human intervention.
func (m *Manager) detectIntervention(msgs []MessageData) bool {
	if m.detector == nil {
		return false
	}
	for _, msg := range msgs {
		if m.detector.HumanAuthored(msg) {
			return true
		}
	}
	return false
}
