package sshexec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validationError marks a command rejected before touching the network.
type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

func validationErrorf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidationErr reports whether err is a command validation rejection.
func IsValidationErr(err error) bool {
	var v *validationError
	return errors.As(err, &v)
}

// backgroundPatterns reject commands that detach from the shell. A job that
// forks into the background returns the prompt immediately, so completion
// detection would report success while the work is still running.
var backgroundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`&\s*$`),
	regexp.MustCompile(`(?i)\bnohup\b`),
	regexp.MustCompile(`(?i)\bdisown\b`),
	regexp.MustCompile(`(?i)\bscreen\b`),
	regexp.MustCompile(`(?i)\btmux\b`),
}

// dangerousPatterns flag destructive commands when paranoid checking is
// enabled.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{.*:\|:.*\};\s*:`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bformat\b`),
}

// rmRootRE captures the target of a recursive force delete. Deletes under
// /home and /tmp are tolerated; anything else rooted at / is flagged.
var rmRootRE = regexp.MustCompile(`\brm\s+.*-rf\s+(/\S*)`)

// ValidateCommand screens a command before submission. Background-execution
// patterns are always rejected; destructive patterns only when
// checkDangerous is set.
func ValidateCommand(command string, checkDangerous bool) error {
	if strings.TrimSpace(command) == "" {
		return validationErrorf("empty command")
	}
	for _, re := range backgroundPatterns {
		if re.MatchString(command) {
			return validationErrorf("command appears to start a background process (matched %q): run it in the foreground and use async execution for long jobs", re.String())
		}
	}
	if checkDangerous {
		if m := rmRootRE.FindStringSubmatch(command); m != nil {
			target := m[1]
			if !strings.HasPrefix(target, "/home") && !strings.HasPrefix(target, "/tmp") {
				return validationErrorf("command blocked as dangerous: recursive delete of %s", target)
			}
		}
		for _, re := range dangerousPatterns {
			if re.MatchString(command) {
				return validationErrorf("command blocked as dangerous (matched %q)", re.String())
			}
		}
	}
	return nil
}

// truncationMarker is appended once when a command's output hits the cap.
func truncationMarker(max int) string {
	return fmt.Sprintf("\n\n[OUTPUT TRUNCATED: Maximum output size of %d bytes exceeded]", max)
}

// outputLimiter enforces the per-command output cap. Once the cap is hit
// the marker is emitted and every later chunk is swallowed, while the
// driver keeps reading the session for completion detection.
type outputLimiter struct {
	max       int
	n         int
	truncated bool
}

func newOutputLimiter(max int) *outputLimiter {
	return &outputLimiter{max: max}
}

// add returns the portion of p that fits under the cap, with the truncation
// marker appended on the crossing chunk.
func (l *outputLimiter) add(p []byte) []byte {
	if l.truncated || len(p) == 0 {
		return nil
	}
	if l.n+len(p) <= l.max {
		l.n += len(p)
		return p
	}
	keep := l.max - l.n
	if keep < 0 {
		keep = 0
	}
	l.n = l.max
	l.truncated = true
	out := make([]byte, 0, keep+len(truncationMarker(l.max)))
	out = append(out, p[:keep]...)
	out = append(out, truncationMarker(l.max)...)
	return out
}
