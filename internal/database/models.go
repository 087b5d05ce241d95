package database

import "time"

// Host is a registered remote host. Secrets are stored as fernet tokens
// (see internal/crypto) and never serialized to JSON.
type Host struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Alias       string    `gorm:"uniqueIndex;not null;size:128" json:"alias"`
	Hostname    string    `gorm:"not null" json:"hostname"`
	Port        int       `gorm:"not null;default:22" json:"port"`
	Username    string    `json:"username"`
	KeyPath     string    `json:"key_path"`
	EncPassword string    `json:"-"` // fernet-encrypted
	EncEnable   string    `json:"-"` // fernet-encrypted enable password
	EncSudo     string    `json:"-"` // fernet-encrypted sudo password
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CommandArchive is the persisted copy of a command record that reached a
// terminal status. The in-memory registry keeps only the bounded recent
// window; the archive keeps everything until retention purge.
type CommandArchive struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	CommandID  string     `gorm:"uniqueIndex;not null;size:64" json:"command_id"`
	SessionKey string     `gorm:"index;not null" json:"session_key"`
	Command    string     `gorm:"type:text" json:"command"`
	Status     string     `gorm:"not null" json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Output     string     `gorm:"type:text" json:"output"`
	Truncated  bool       `gorm:"default:false" json:"truncated"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// AuditLog is one audit trail entry. Written by sshaudit, purged by the
// retention job.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID    string    `gorm:"size:64" json:"event_id"`
	SessionKey string    `gorm:"index" json:"session_key"`
	EventType  string    `gorm:"index;not null" json:"event_type"`
	Username   string    `json:"username"`
	SourceIP   string    `json:"source_ip"`
	Details    string    `gorm:"type:text" json:"details"`
	Duration   int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
