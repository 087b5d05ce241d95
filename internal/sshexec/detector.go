package sshexec

import (
	"bytes"
	"regexp"
	"time"
)

// Verdict is the detector's judgment of a command's state.
type Verdict int

const (
	StillRunning Verdict = iota
	CompletePromptMatch
	CompleteIdleTimeout
)

// String names the verdict for records and logs.
func (v Verdict) String() string {
	switch v {
	case CompletePromptMatch:
		return "prompt"
	case CompleteIdleTimeout:
		return "idle"
	default:
		return "running"
	}
}

// DefaultPromptPatterns match the trailing line of shell output against
// common prompt shapes: user@host furniture, or a bare word such as a
// hostname or device name, followed by a prompt sigil.
var DefaultPromptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\w.-]+@[\w.-]+[^\r\n]*[#$%>]\s*$`),
	regexp.MustCompile(`^[\w.-]+(?:\([^)\r\n]*\))?\s*[#$%>]\s*$`),
	regexp.MustCompile(`^\[[^\]\r\n]+\][#$%>]\s*$`),
}

// Detector decides whether a command has finished, judging only the output
// produced since submission and the time since the last byte arrived. It
// holds no state and performs no IO, so a session driver can call it on
// every wakeup.
type Detector struct {
	patterns   []*regexp.Regexp
	idleWindow time.Duration
}

// NewDetector builds a detector. idleWindow <= 0 uses two seconds; an empty
// pattern list uses DefaultPromptPatterns.
func NewDetector(idleWindow time.Duration, patterns ...*regexp.Regexp) *Detector {
	if idleWindow <= 0 {
		idleWindow = 2 * time.Second
	}
	if len(patterns) == 0 {
		patterns = DefaultPromptPatterns
	}
	return &Detector{patterns: patterns, idleWindow: idleWindow}
}

// IdleWindow returns the configured idle window.
func (d *Detector) IdleWindow() time.Duration {
	return d.idleWindow
}

// Detect inspects the buffered tail and the idle duration since the last
// byte. A recognized prompt wins over the idle rule when both hold.
func (d *Detector) Detect(tail []byte, idle time.Duration) Verdict {
	if d.matchesPrompt(tail) {
		return CompletePromptMatch
	}
	if idle >= d.idleWindow {
		return CompleteIdleTimeout
	}
	return StillRunning
}

func (d *Detector) matchesPrompt(tail []byte) bool {
	line := lastLine(tail)
	if len(line) == 0 {
		return false
	}
	for _, re := range d.patterns {
		if re.Match(line) {
			return true
		}
	}
	return false
}

// lastLine returns the trailing line of b, capped so prompt matching stays
// cheap on large tails.
func lastLine(b []byte) []byte {
	if len(b) > 512 {
		b = b[len(b)-512:]
	}
	if i := bytes.LastIndexAny(b, "\r\n"); i >= 0 {
		return b[i+1:]
	}
	return b
}
