// Package sshexec runs commands on pooled interactive shells. A command is
// typed into the session, its output drained from the session buffer, and
// completion judged heuristically from prompt shapes and idle time. Commands
// that outlive the caller's timeout are promoted to tracked async records
// instead of being killed.
package sshexec

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/remsh/internal/errdefs"
	"github.com/gluk-w/remsh/internal/hostcfg"
	"github.com/gluk-w/remsh/internal/logutil"
	"github.com/gluk-w/remsh/internal/sshpool"
)

const (
	pollInterval     = 50 * time.Millisecond
	probeTimeout     = 2 * time.Second
	promptTailBytes  = 512
	maxDrainDuration = 24 * time.Hour
)

var (
	sudoPromptRE = regexp.MustCompile(`(?i)(\[sudo\] password for [^\r\n:]+:|password for [^\r\n:]+:|password:)\s*$`)
	sudoDenialRE = regexp.MustCompile(`(?i)sorry, try again|is not in the sudoers file|authentication failure|permission denied`)
	exitCodeRE   = regexp.MustCompile(`(?m)^(\d{1,3})\r?$`)
)

// Gate approves actions before they reach the network. Implementations
// decide per host; hosts without restrictions approve everything.
type Gate interface {
	Approve(ctx context.Context, host, action string) bool
}

// Config controls engine behavior. Zero values fall back to defaults.
type Config struct {
	DefaultTimeout time.Duration
	IdleWindow     time.Duration
	InterruptGrace time.Duration
	MaxOutputBytes int
	HistoryLimit   int
	CheckDangerous bool
}

// Request describes one command submission.
type Request struct {
	// Alias is the name the caller addressed the host by, used for gate
	// decisions. Key and Creds are the resolved identity and secrets.
	Alias   string
	Key     sshpool.Key
	Creds   hostcfg.Credentials
	Command string
	Timeout time.Duration
}

// Result is the outcome of a command that completed within its timeout.
type Result struct {
	Output       string        `json:"output"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	Truncated    bool          `json:"truncated"`
	CompletedVia string        `json:"completed_via"`
	Duration     time.Duration `json:"-"`
}

// Handle refers to a command tracked in the registry.
type Handle struct {
	ID string `json:"command_id"`
}

// Engine drives commands over pooled sessions.
type Engine struct {
	pool *sshpool.Manager
	reg  *Registry
	det  *Detector
	gate Gate
	cfg  Config

	// Archive, when set, receives every terminal command record. Audit,
	// when set, receives engine events. Both run outside locks and are
	// best effort.
	Archive func(Snapshot)
	Audit   func(event, sessionKey, details string)
}

// New creates an engine over pool. gate may be nil to approve everything.
func New(pool *sshpool.Manager, gate Gate, cfg Config) *Engine {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.InterruptGrace <= 0 {
		cfg.InterruptGrace = 5 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 10 * 1024 * 1024
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &Engine{
		pool: pool,
		reg:  NewRegistry(cfg.HistoryLimit),
		det:  NewDetector(cfg.IdleWindow),
		gate: gate,
		cfg:  cfg,
	}
}

// driveState carries one command's cursor through the sync phase and a
// possible detached drain phase.
type driveState struct {
	start    int64 // buffer offset where this command's output begins
	cursor   int64 // next unread buffer offset
	lastByte time.Time
	limiter  *outputLimiter

	isSudo       bool
	sudoPass     string
	sudoInjected bool
	sudoDenied   bool

	truncNotified bool
	emit          func([]byte)
	markTrunc     func()
}

func (e *Engine) newDriveState(s *sshpool.Session, req Request) *driveState {
	start := s.Buffer().End()
	trimmed := strings.TrimSpace(req.Command)
	return &driveState{
		start:    start,
		cursor:   start,
		lastByte: time.Now(),
		limiter:  newOutputLimiter(e.cfg.MaxOutputBytes),
		isSudo:   trimmed == "sudo" || strings.HasPrefix(trimmed, "sudo "),
		sudoPass: req.Creds.SudoPassword,
	}
}

// pump moves new session output through the limiter into the sink, answers
// sudo password prompts, and returns the detector's verdict.
func (e *Engine) pump(s *sshpool.Session, st *driveState) Verdict {
	buf := s.Buffer()
	if end := buf.End(); end > st.cursor {
		chunk := buf.Since(st.cursor)
		st.cursor += int64(len(chunk))
		st.lastByte = time.Now()
		if capped := st.limiter.add(chunk); len(capped) > 0 {
			st.emit(capped)
		}
		if st.limiter.truncated && !st.truncNotified {
			st.truncNotified = true
			if st.markTrunc != nil {
				st.markTrunc()
			}
		}
	}

	tailFrom := st.cursor - promptTailBytes
	if tailFrom < st.start {
		tailFrom = st.start
	}
	tail := buf.Since(tailFrom)

	if st.isSudo && !st.sudoDenied && sudoDenialRE.Match(tail) {
		st.sudoDenied = true
	}
	if st.isSudo && st.sudoPass != "" && !st.sudoInjected && sudoPromptRE.Match(tail) {
		if err := s.WriteInput([]byte(st.sudoPass + "\n")); err == nil {
			st.sudoInjected = true
			st.lastByte = time.Now()
		}
	}

	return e.det.Detect(tail, time.Since(st.lastByte))
}

// Execute runs a command and waits up to the request timeout. Three
// outcomes: a Result when the command finished in time, a Handle when it
// was promoted to async, or an error. Promotion is not a failure; the
// command keeps running and the handle resolves to its record.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, *Handle, error) {
	if err := ValidateCommand(req.Command, e.cfg.CheckDangerous); err != nil {
		return nil, nil, err
	}
	if e.gate != nil && !e.gate.Approve(ctx, req.Alias, "execute: "+req.Command) {
		e.auditEvent("permission_denied", req.Key.String(), req.Command)
		return nil, nil, errdefs.PermissionByUserf("execution on %q was denied by the approval gate", req.Alias)
	}

	s, err := e.pool.Acquire(ctx, req.Key, req.Creds)
	if err != nil {
		return nil, nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	s.CmdMu.Lock()
	// The wait for the session lock can outlive the session itself.
	if !s.Alive() {
		s.CmdMu.Unlock()
		return nil, nil, errdefs.SessionLostf("session %s died while the command was queued", s.Key)
	}

	st := e.newDriveState(s, req)
	var out []byte
	st.emit = func(p []byte) { out = append(out, p...) }

	startedAt := time.Now()
	if err := s.WriteInput([]byte(req.Command + "\n")); err != nil {
		s.CmdMu.Unlock()
		return nil, nil, err
	}
	e.auditEvent("command_started", req.Key.String(), req.Command)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		verdict := e.pump(s, st)
		if verdict != StillRunning {
			var exit *int
			if verdict == CompletePromptMatch {
				exit = e.probeExitCode(s)
			}
			s.CmdMu.Unlock()

			res := &Result{
				Output:       string(out),
				ExitCode:     exit,
				Truncated:    st.limiter.truncated,
				CompletedVia: verdict.String(),
				Duration:     time.Since(startedAt),
			}
			if st.sudoDenied {
				e.auditEvent("command_failed", req.Key.String(), req.Command)
				e.archiveSync(req, startedAt, res, StatusFailed)
				return nil, nil, errdefs.Permissionf("privilege escalation failed for %q on %s", logutil.Truncate(req.Command, 80), req.Key)
			}
			e.auditEvent("command_completed", req.Key.String(), req.Command)
			e.archiveSync(req, startedAt, res, StatusCompleted)
			return res, nil, nil
		}

		if s.Buffer().Closed() {
			s.CmdMu.Unlock()
			e.auditEvent("session_lost", req.Key.String(), req.Command)
			return nil, nil, errdefs.SessionLostf("session %s disconnected while running %q", s.Key, logutil.Truncate(req.Command, 80))
		}

		select {
		case <-s.Buffer().Notify():
		case <-time.After(pollInterval):
		case <-deadline.C:
			return nil, e.promote(req, s, st, out, startedAt), nil
		case <-ctx.Done():
			// The caller went away; the command keeps running detached.
			return nil, e.promote(req, s, st, out, startedAt), nil
		}
	}
}

// promote registers the still-running command and hands the session lock to
// a detached drain goroutine. Called exactly once per promoted command.
func (e *Engine) promote(req Request, s *sshpool.Session, st *driveState, out []byte, startedAt time.Time) *Handle {
	rec := &record{
		id:         uuid.NewString(),
		sessionKey: req.Key.String(),
		command:    req.Command,
		status:     StatusRunning,
		output:     out,
		truncated:  st.limiter.truncated,
		startedAt:  startedAt,
		sess:       s,
		kick:       make(chan struct{}, 1),
	}
	e.reg.Register(rec)
	st.emit = func(p []byte) { e.reg.AppendOutput(rec.id, p) }
	st.markTrunc = func() { e.reg.SetTruncated(rec.id) }

	e.auditEvent("command_promoted", req.Key.String(), rec.id)
	log.Printf("[sshexec] command %s on %s still running after %s, promoted to async", rec.id, req.Key, time.Since(startedAt).Round(time.Millisecond))
	go e.drain(rec, s, st)
	return &Handle{ID: rec.id}
}

// ExecuteAsync validates, connects and registers the command, then drives
// it on a detached goroutine. The returned handle is valid immediately,
// even while the command waits its turn on the session.
func (e *Engine) ExecuteAsync(ctx context.Context, req Request) (*Handle, error) {
	if err := ValidateCommand(req.Command, e.cfg.CheckDangerous); err != nil {
		return nil, err
	}
	if e.gate != nil && !e.gate.Approve(ctx, req.Alias, "execute: "+req.Command) {
		e.auditEvent("permission_denied", req.Key.String(), req.Command)
		return nil, errdefs.PermissionByUserf("execution on %q was denied by the approval gate", req.Alias)
	}

	s, err := e.pool.Acquire(ctx, req.Key, req.Creds)
	if err != nil {
		return nil, err
	}

	rec := &record{
		id:         uuid.NewString(),
		sessionKey: req.Key.String(),
		command:    req.Command,
		status:     StatusRunning,
		startedAt:  time.Now(),
		sess:       s,
		kick:       make(chan struct{}, 1),
	}
	e.reg.Register(rec)
	e.auditEvent("command_started", req.Key.String(), req.Command)

	go func() {
		s.CmdMu.Lock()
		if !s.Alive() {
			if snap, ok := e.reg.Finalize(rec.id, StatusFailed, nil, "disconnect"); ok {
				e.afterTerminal(snap)
			}
			s.CmdMu.Unlock()
			return
		}
		st := e.newDriveState(s, req)
		st.emit = func(p []byte) { e.reg.AppendOutput(rec.id, p) }
		st.markTrunc = func() { e.reg.SetTruncated(rec.id) }

		if err := s.WriteInput([]byte(req.Command + "\n")); err != nil {
			if snap, ok := e.reg.Finalize(rec.id, StatusFailed, nil, "disconnect"); ok {
				e.afterTerminal(snap)
			}
			s.CmdMu.Unlock()
			return
		}
		st.lastByte = time.Now()
		e.drain(rec, s, st)
	}()

	return &Handle{ID: rec.id}, nil
}

// drain owns the session lock and drives a registered record to a terminal
// status. It runs on a detached goroutine for promoted commands and on the
// submission goroutine for async ones.
func (e *Engine) drain(rec *record, s *sshpool.Session, st *driveState) {
	defer s.CmdMu.Unlock()

	giveUp := time.NewTimer(maxDrainDuration)
	defer giveUp.Stop()

	for {
		verdict := e.pump(s, st)
		if verdict != StillRunning {
			var exit *int
			if verdict == CompletePromptMatch {
				exit = e.probeExitCode(s)
			}
			status := StatusCompleted
			if st.sudoDenied {
				status = StatusFailed
			}
			if !e.reg.interruptDeadline(rec.id).IsZero() {
				status = StatusInterrupted
			}
			if snap, ok := e.reg.Finalize(rec.id, status, exit, verdict.String()); ok {
				e.afterTerminal(snap)
			}
			return
		}

		if deadline := e.reg.interruptDeadline(rec.id); !deadline.IsZero() && time.Now().After(deadline) {
			// The remote ignored the interrupt; stop tracking regardless.
			if snap, ok := e.reg.Finalize(rec.id, StatusInterrupted, nil, "interrupt"); ok {
				e.afterTerminal(snap)
			}
			return
		}

		if s.Buffer().Closed() {
			if snap, ok := e.reg.Finalize(rec.id, StatusFailed, nil, "disconnect"); ok {
				e.auditEvent("session_lost", rec.sessionKey, rec.id)
				e.afterTerminal(snap)
			}
			return
		}

		select {
		case <-s.Buffer().Notify():
		case <-rec.kick:
		case <-time.After(pollInterval):
		case <-giveUp.C:
			if snap, ok := e.reg.Finalize(rec.id, StatusFailed, nil, "abandoned"); ok {
				e.afterTerminal(snap)
			}
			return
		}
	}
}

// Interrupt sends the interrupt byte to a running command and waits up to
// the grace period for a terminal status. Interrupting an already-finished
// command acks with its final snapshot.
func (e *Engine) Interrupt(ctx context.Context, id string) (Snapshot, error) {
	deadline := time.Now().Add(e.cfg.InterruptGrace)
	snap, err := e.reg.RequestInterrupt(id, deadline)
	if err != nil || snap.Status.Terminal() {
		return snap, err
	}

	if s, err := e.reg.liveSession(id); err == nil {
		if err := s.SendInterrupt(); err != nil {
			log.Printf("[sshexec] interrupt byte for %s failed: %v", id, err)
		}
	}
	e.auditEvent("interrupt_requested", snap.SessionKey, id)

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	waitUntil := deadline.Add(500 * time.Millisecond)
	for {
		snap, err = e.reg.Get(id)
		if err != nil {
			return Snapshot{}, err
		}
		if snap.Status.Terminal() || time.Now().After(waitUntil) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, nil
		case <-ticker.C:
		}
	}
}

// SendInput writes a line of input to a running command's shell.
func (e *Engine) SendInput(id, input string) error {
	s, err := e.reg.liveSession(id)
	if err != nil {
		return err
	}
	if err := s.WriteInput([]byte(input + "\n")); err != nil {
		return err
	}
	e.auditEvent("input_sent", s.Key.String(), id)
	return nil
}

// Status returns the record snapshot for id.
func (e *Engine) Status(id string) (Snapshot, error) {
	return e.reg.Get(id)
}

// List returns known records, optionally filtered by status.
func (e *Engine) List(status Status) []Snapshot {
	return e.reg.List(status)
}

// History returns recent terminal records, newest first.
func (e *Engine) History(limit int) []Snapshot {
	if limit <= 0 || limit > e.cfg.HistoryLimit {
		limit = e.cfg.HistoryLimit
	}
	return e.reg.History(limit)
}

// probeExitCode asks the shell for the last exit status. It runs only after
// a prompt match, while the driver still holds the session lock, so the
// probe's output cannot leak into another command's record. It returns only
// once the prompt behind the digits has arrived; releasing the lock earlier
// would let the next command mistake the stale prompt for its own completion.
func (e *Engine) probeExitCode(s *sshpool.Session) *int {
	buf := s.Buffer()
	start := buf.End()
	if err := s.WriteInput([]byte("echo $?\n")); err != nil {
		return nil
	}
	deadline := time.Now().Add(probeTimeout)
	var code *int
	for time.Now().Before(deadline) {
		out := buf.Since(start)
		if m := exitCodeRE.FindSubmatch(out); m != nil {
			if n, err := strconv.Atoi(string(m[1])); err == nil {
				code = &n
			}
			if e.det.Detect(out, 0) == CompletePromptMatch {
				return code
			}
		}
		if buf.Closed() {
			return code
		}
		select {
		case <-buf.Notify():
		case <-time.After(pollInterval):
		}
	}
	return code
}

func (e *Engine) afterTerminal(snap Snapshot) {
	switch snap.Status {
	case StatusCompleted:
		e.auditEvent("command_completed", snap.SessionKey, snap.ID)
	case StatusInterrupted:
		e.auditEvent("command_interrupted", snap.SessionKey, snap.ID)
	default:
		e.auditEvent("command_failed", snap.SessionKey, snap.ID)
	}
	if e.Archive != nil {
		e.Archive(snap)
	}
	log.Printf("[sshexec] command %s finished with status %s", snap.ID, snap.Status)
}

// archiveSync persists a command that completed without ever entering the
// registry.
func (e *Engine) archiveSync(req Request, startedAt time.Time, res *Result, status Status) {
	if e.Archive == nil {
		return
	}
	ended := time.Now()
	var exit *int
	if res.ExitCode != nil {
		code := *res.ExitCode
		exit = &code
	}
	e.Archive(Snapshot{
		ID:           uuid.NewString(),
		SessionKey:   req.Key.String(),
		Command:      req.Command,
		Status:       status,
		Output:       res.Output,
		ExitCode:     exit,
		Truncated:    res.Truncated,
		CompletedVia: res.CompletedVia,
		StartedAt:    startedAt,
		EndedAt:      &ended,
	})
}

func (e *Engine) auditEvent(event, sessionKey, details string) {
	if e.Audit != nil {
		e.Audit(event, sessionKey, logutil.SanitizeForLog(logutil.Truncate(details, 200)))
	}
}
