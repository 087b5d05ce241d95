package sshexec

import (
	"time"

	"github.com/gluk-w/remsh/internal/sshpool"
)

// Status is the lifecycle state of a tracked command.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// String returns the string representation of a Status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != "" && s != StatusRunning
}

// Snapshot is a point-in-time copy of a command record, safe to hand out
// after the registry lock is released.
type Snapshot struct {
	ID           string     `json:"command_id"`
	SessionKey   string     `json:"session_key"`
	Command      string     `json:"command"`
	Status       Status     `json:"status"`
	Output       string     `json:"output"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	Truncated    bool       `json:"truncated"`
	CompletedVia string     `json:"completed_via,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// record is the registry's mutable state for one command. All fields are
// guarded by the registry lock except sess and kick, which are set once at
// registration.
type record struct {
	id           string
	sessionKey   string
	command      string
	status       Status
	output       []byte
	exitCode     *int
	truncated    bool
	completedVia string
	startedAt    time.Time
	endedAt      *time.Time

	// interruptAt, once set, is the deadline after which the driver
	// force-finalizes the command as interrupted.
	interruptAt time.Time

	sess *sshpool.Session
	kick chan struct{}
}

func (r *record) snapshot() Snapshot {
	snap := Snapshot{
		ID:           r.id,
		SessionKey:   r.sessionKey,
		Command:      r.command,
		Status:       r.status,
		Output:       string(r.output),
		Truncated:    r.truncated,
		CompletedVia: r.completedVia,
		StartedAt:    r.startedAt,
	}
	if r.exitCode != nil {
		code := *r.exitCode
		snap.ExitCode = &code
	}
	if r.endedAt != nil {
		ended := *r.endedAt
		snap.EndedAt = &ended
	}
	return snap
}

// wake nudges the driver without blocking.
func (r *record) wake() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}
