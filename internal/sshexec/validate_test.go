package sshexec

import (
	"strings"
	"testing"
)

func TestValidateBackgroundPatterns(t *testing.T) {
	blocked := []string{
		"sleep 100 &",
		"make build &   ",
		"nohup ./server",
		"NOHUP ./server",
		"disown %1",
		"screen -S work",
		"tmux new -s dev",
	}
	for _, cmd := range blocked {
		err := ValidateCommand(cmd, false)
		if err == nil {
			t.Errorf("ValidateCommand(%q) = nil, want rejection", cmd)
			continue
		}
		if !IsValidationErr(err) {
			t.Errorf("ValidateCommand(%q) error is not a validation error: %v", cmd, err)
		}
	}

	allowed := []string{
		"ls -la",
		"make build",
		"tail -n 50 /var/log/syslog",
		"echo 'a && b'",
		"df -h",
	}
	for _, cmd := range allowed {
		if err := ValidateCommand(cmd, false); err != nil {
			t.Errorf("ValidateCommand(%q) = %v, want nil", cmd, err)
		}
	}
}

func TestValidateEmptyCommand(t *testing.T) {
	for _, cmd := range []string{"", "   ", "\t\n"} {
		if err := ValidateCommand(cmd, false); !IsValidationErr(err) {
			t.Errorf("ValidateCommand(%q) = %v, want validation error", cmd, err)
		}
	}
}

func TestValidateDangerousPatterns(t *testing.T) {
	dangerous := []string{
		"rm -rf /",
		"rm -rf /var/lib",
		"sudo rm -rf /etc",
		"dd if=/dev/zero of=/dev/sda",
		"mkfs.ext4 /dev/sdb1",
		":(){ :|:& };:",
	}
	for _, cmd := range dangerous {
		if err := ValidateCommand(cmd, true); !IsValidationErr(err) {
			t.Errorf("ValidateCommand(%q, dangerous checks on) = %v, want rejection", cmd, err)
		}
		// Without the flag the same commands pass validation.
		if err := ValidateCommand(cmd, false); err != nil {
			t.Errorf("ValidateCommand(%q, dangerous checks off) = %v, want nil", cmd, err)
		}
	}

	tolerated := []string{
		"rm -rf /home/alice/build",
		"rm -rf /tmp/cache",
		"ls /dev",
		"dd if=backup.img of=restore.img",
	}
	for _, cmd := range tolerated {
		if err := ValidateCommand(cmd, true); err != nil {
			t.Errorf("ValidateCommand(%q, dangerous checks on) = %v, want nil", cmd, err)
		}
	}
}

func TestOutputLimiter(t *testing.T) {
	l := newOutputLimiter(10)

	if got := l.add([]byte("12345")); string(got) != "12345" {
		t.Errorf("first chunk = %q, want passthrough", got)
	}
	if l.truncated {
		t.Fatal("limiter should not be truncated under the cap")
	}

	crossing := l.add([]byte("67890ABCDEF"))
	if !l.truncated {
		t.Fatal("limiter should be truncated after crossing the cap")
	}
	// Bytes up to the cap are kept, the marker follows, bytes past the cap
	// are dropped.
	if want := "67890" + truncationMarker(10); string(crossing) != want {
		t.Errorf("crossing chunk = %q, want %q", crossing, want)
	}

	if got := l.add([]byte("zzz")); got != nil {
		t.Errorf("chunks after truncation should be swallowed, got %q", got)
	}
}

func TestOutputLimiterExactCap(t *testing.T) {
	l := newOutputLimiter(5)
	if got := l.add([]byte("12345")); string(got) != "12345" {
		t.Errorf("exact-cap chunk = %q, want passthrough", got)
	}
	if l.truncated {
		t.Error("hitting the cap exactly is not a truncation")
	}
	if got := l.add([]byte("6")); !strings.Contains(string(got), "[OUTPUT TRUNCATED") {
		t.Errorf("next chunk should carry the marker, got %q", got)
	}
}
