package sshpool

import (
	"sync"
	"time"
)

// Status represents the lifecycle state of a pooled session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusReady      Status = "ready"
	StatusDead       Status = "dead"
)

// String returns the string representation of a Status.
func (s Status) String() string {
	return string(s)
}

// Elevation represents the privilege level of a session's shell.
type Elevation string

const (
	ElevationNone    Elevation = "none"
	ElevationPending Elevation = "pending"
	ElevationEnabled Elevation = "enabled"
)

// String returns the string representation of an Elevation.
func (e Elevation) String() string {
	return string(e)
}

// StateTransition records a status change for debugging.
type StateTransition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// StateCallback is called when a session's status changes. The callback
// receives the session key string, old status, and new status.
type StateCallback func(key string, from, to Status)

// maxTransitionsPerKey limits the number of stored transitions per session key.
const maxTransitionsPerKey = 50

// StateTracker records session status transitions and fires callbacks.
// Callbacks run outside the tracker lock.
type StateTracker struct {
	mu          sync.RWMutex
	states      map[string]Status
	transitions map[string][]StateTransition
	callbacks   []StateCallback
}

// NewStateTracker creates an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{
		states:      make(map[string]Status),
		transitions: make(map[string][]StateTransition),
	}
}

// SetState updates the status for key, recording the transition and firing
// callbacks when the status actually changed. Returns the previous status.
func (t *StateTracker) SetState(key string, newState Status) Status {
	t.mu.Lock()
	oldState, ok := t.states[key]
	if !ok {
		oldState = StatusConnecting
	}

	if oldState == newState {
		t.mu.Unlock()
		return oldState
	}

	t.states[key] = newState

	trans := StateTransition{
		From:      oldState,
		To:        newState,
		Timestamp: time.Now(),
	}
	transitions := t.transitions[key]
	transitions = append(transitions, trans)
	if len(transitions) > maxTransitionsPerKey {
		transitions = transitions[len(transitions)-maxTransitionsPerKey:]
	}
	t.transitions[key] = transitions

	cbs := make([]StateCallback, len(t.callbacks))
	copy(cbs, t.callbacks)
	t.mu.Unlock()

	// Fire callbacks outside the lock to avoid deadlocks
	for _, cb := range cbs {
		cb(key, oldState, newState)
	}

	return oldState
}

// GetTransitions returns a copy of the transition history for key.
func (t *StateTracker) GetTransitions(key string) []StateTransition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	transitions := t.transitions[key]
	result := make([]StateTransition, len(transitions))
	copy(result, transitions)
	return result
}

// Clear removes status and transition history for key.
func (t *StateTracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
	delete(t.transitions, key)
}

// OnStateChange registers a callback that fires on every status change.
func (t *StateTracker) OnStateChange(cb StateCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}
