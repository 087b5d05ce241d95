package sshpool

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/remsh/internal/errdefs"
)

const ctrlC = 0x03

var (
	passwordPromptRE  = regexp.MustCompile(`(?i)password[^\n]*:\s*$`)
	elevatedPromptRE  = regexp.MustCompile(`#\s*$`)
	elevationDenialRE = regexp.MustCompile(`(?i)denied|incorrect|invalid|authentication fail|bad secret`)
)

// Session is a live interactive shell on a remote host. One Session exists
// per Key; every command for that key runs on it in turn.
type Session struct {
	Key         Key
	ConnectedAt time.Time

	// HostKeyFingerprint is the SHA256 fingerprint the host presented at
	// handshake. Recorded for the trail; never used to reject.
	HostKeyFingerprint string

	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	buf    *OutputBuffer

	tracker *StateTracker

	// CmdMu serializes commands on this session. A driver holds it from
	// submission until the command reaches a terminal status, including
	// the detached drain phase after promotion.
	CmdMu sync.Mutex

	writeMu sync.Mutex

	mu           sync.Mutex
	status       Status
	elevation    Elevation
	lastActivity time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Buffer returns the session's output buffer.
func (s *Session) Buffer() *OutputBuffer {
	return s.buf
}

// Client returns the underlying transport client, used for subchannels
// such as file transfers.
func (s *Session) Client() *ssh.Client {
	return s.client
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Elevation returns the shell's privilege level.
func (s *Session) Elevation() Elevation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elevation
}

// Alive reports whether the session has not been marked dead.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status != StatusDead
}

// LastActivity returns the time of the last write or received output.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Done returns a channel closed when the session dies.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	if s.tracker != nil {
		s.tracker.SetState(s.Key.String(), st)
	}
}

func (s *Session) setElevation(e Elevation) {
	s.mu.Lock()
	s.elevation = e
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// WriteInput writes raw bytes to the shell's stdin. A write failure marks
// the session dead.
func (s *Session) WriteInput(p []byte) error {
	if !s.Alive() {
		return errdefs.SessionLostf("session %s is not connected", s.Key)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(p); err != nil {
		s.markDead()
		return errdefs.SessionLost(fmt.Errorf("write to session %s: %w", s.Key, err))
	}
	s.touch()
	return nil
}

// SendInterrupt writes the interrupt control byte to the shell.
func (s *Session) SendInterrupt() error {
	return s.WriteInput([]byte{ctrlC})
}

// Probe sends a transport keepalive and reports whether the host answered.
// A failed probe marks the session dead.
func (s *Session) Probe() error {
	if !s.Alive() {
		return errdefs.SessionLostf("session %s is not connected", s.Key)
	}
	if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		s.markDead()
		return fmt.Errorf("keepalive for %s: %w", s.Key, err)
	}
	return nil
}

// markDead transitions the session to dead exactly once, closing the output
// buffer and the done channel. The transport is left for Close to tear down.
func (s *Session) markDead() {
	s.mu.Lock()
	already := s.status == StatusDead
	s.status = StatusDead
	s.mu.Unlock()
	if already {
		return
	}
	s.buf.Close()
	s.closeOnce.Do(func() { close(s.done) })
	if s.tracker != nil {
		s.tracker.SetState(s.Key.String(), StatusDead)
	}
}

// Close marks the session dead and tears down the transport.
func (s *Session) Close() error {
	s.markDead()
	if s.sess != nil {
		s.sess.Close()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// relayOutput drains the shell's combined output into the buffer until EOF.
func (s *Session) relayOutput(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.buf.Write(buf[:n])
			s.touch()
		}
		if err != nil {
			s.markDead()
			return
		}
	}
}

// waitSettled blocks until no output has arrived for quiet, or max elapses.
// Used after opening the shell so the login banner does not bleed into the
// first command's output.
func (s *Session) waitSettled(ctx context.Context, quiet, max time.Duration) {
	deadline := time.NewTimer(max)
	defer deadline.Stop()
	for {
		end := s.buf.End()
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-s.buf.Notify():
		case <-time.After(quiet):
			if s.buf.End() == end {
				return
			}
		}
	}
}

// waitFor blocks until re matches the output written since offset from,
// returning the accumulated tail and whether it matched.
func (s *Session) waitFor(ctx context.Context, from int64, re *regexp.Regexp, timeout time.Duration) (string, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		tail := string(s.buf.Since(from))
		if re.MatchString(tail) {
			return tail, true
		}
		if s.buf.Closed() {
			return tail, false
		}
		select {
		case <-ctx.Done():
			return tail, false
		case <-deadline.C:
			return tail, false
		case <-s.buf.Notify():
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// elevate runs the enable sequence on a fresh shell: send "enable", answer
// the password prompt, then confirm the shell reached a privileged prompt.
func (s *Session) elevate(ctx context.Context, password string) error {
	s.setElevation(ElevationPending)
	start := s.buf.End()
	if err := s.WriteInput([]byte("enable\n")); err != nil {
		return err
	}
	tail, ok := s.waitFor(ctx, start, passwordPromptRE, 10*time.Second)
	if !ok {
		// Some shells elevate without asking. Accept a privileged prompt,
		// otherwise report what we saw.
		if elevatedPromptRE.MatchString(tail) {
			s.setElevation(ElevationEnabled)
			return nil
		}
		s.setElevation(ElevationNone)
		return fmt.Errorf("no password prompt after enable on %s", s.Key)
	}

	start = s.buf.End()
	if err := s.WriteInput([]byte(password + "\n")); err != nil {
		return err
	}
	tail, _ = s.waitFor(ctx, start, elevatedPromptRE, 3*time.Second)
	if elevationDenialRE.MatchString(tail) {
		s.setElevation(ElevationNone)
		return fmt.Errorf("elevation rejected on %s", s.Key)
	}
	s.setElevation(ElevationEnabled)
	return nil
}
