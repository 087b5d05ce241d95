package sshaudit

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gluk-w/remsh/internal/database"
	"github.com/gluk-w/remsh/internal/logutil"
)

// Event types recorded in the audit trail.
const (
	EventSessionOpened      = "session_opened"
	EventSessionClosed      = "session_closed"
	EventSessionLost        = "session_lost"
	EventCommandStarted     = "command_started"
	EventCommandCompleted   = "command_completed"
	EventCommandFailed      = "command_failed"
	EventCommandInterrupted = "command_interrupted"
	EventCommandPromoted    = "command_promoted"
	EventInterruptRequested = "interrupt_requested"
	EventInputSent          = "input_sent"
	EventFileRead           = "file_read"
	EventFileWritten        = "file_written"
	EventPermissionDenied   = "permission_denied"
)

// DefaultRetentionDays is the default number of days to keep audit entries.
const DefaultRetentionDays = 90

// Entry contains the fields needed to record an audit event.
type Entry struct {
	SessionKey string
	EventType  string
	Username   string
	SourceIP   string
	Details    string
	DurationMs int64
}

// Auditor records and queries the audit trail. It writes rows to the
// database and also emits a log line per event for observability.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time // injectable clock for testing
}

// NewAuditor creates an Auditor that writes to the given database.
// If retentionDays is 0 or negative, DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Record writes an audit event to the database and the standard logger.
// Each event gets a unique event ID. Details are stored verbatim so the
// trail stays usable for investigation; only the log line is sanitized.
func (a *Auditor) Record(entry Entry) error {
	row := database.AuditLog{
		EventID:    uuid.NewString(),
		SessionKey: entry.SessionKey,
		EventType:  entry.EventType,
		Username:   entry.Username,
		SourceIP:   entry.SourceIP,
		Details:    entry.Details,
		Duration:   entry.DurationMs,
	}

	if err := a.db.Create(&row).Error; err != nil {
		log.Printf("[ssh-audit] failed to write audit entry: %v", err)
		return err
	}

	log.Printf("[ssh-audit] %s session=%s user=%s ip=%s details=%s",
		entry.EventType,
		entry.SessionKey,
		entry.Username,
		entry.SourceIP,
		logutil.SanitizeForLog(entry.Details),
	)
	return nil
}

// QueryOptions specifies filters for retrieving audit entries.
// Zero values mean "no filter" for string fields.
type QueryOptions struct {
	SessionKey string
	EventType  string
	Username   string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// QueryResult contains audit entries and pagination metadata.
type QueryResult struct {
	Entries []database.AuditLog `json:"entries"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Query retrieves audit entries matching the given options, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&database.AuditLog{})

	if opts.SessionKey != "" {
		tx = tx.Where("session_key = ?", opts.SessionKey)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Username != "" {
		tx = tx.Where("username = ?", opts.Username)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	entries := make([]database.AuditLog, 0)
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes audit entries older than the given number of days.
// If days is 0 or negative, the configured retention period is used.
// Returns the number of rows deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.RetentionDays()
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.AuditLog{})
	if result.Error != nil {
		log.Printf("[ssh-audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[ssh-audit] purged %d audit entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.retentionDays
}

// SetRetentionDays updates the retention period at runtime. Values of 0
// or less reset it to the default.
func (a *Auditor) SetRetentionDays(days int) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	a.mu.Lock()
	a.retentionDays = days
	a.mu.Unlock()
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
