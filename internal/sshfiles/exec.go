package sshfiles

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/remsh/internal/logutil"
)

// executeCommand runs cmd on a one-shot exec session and returns stdout,
// stderr, the exit code, and any transport-level error. A non-zero exit
// is not a transport error.
func executeCommand(client *ssh.Client, cmd string) (stdout, stderr string, exitCode int, err error) {
	start := time.Now()

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	runErr := session.Run(cmd)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		log.Printf("[sshfiles] SLOW exec (%s): %s", elapsed.Round(time.Millisecond), logutil.Truncate(cmd, 80))
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			return outBuf.String(), errBuf.String(), exitErr.ExitStatus(), nil
		}
		return outBuf.String(), errBuf.String(), -1, runErr
	}
	return outBuf.String(), errBuf.String(), 0, nil
}

// executeCommandWithStdin runs cmd with input piped to its stdin. Used for
// the sudo install step, whose password arrives on stdin via sudo -S.
func executeCommandWithStdin(client *ssh.Client, cmd string, input []byte) (stdout, stderr string, exitCode int, err error) {
	start := time.Now()

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	stdinPipe, err := session.StdinPipe()
	if err != nil {
		return "", "", -1, fmt.Errorf("create stdin pipe: %w", err)
	}

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	if err := session.Start(cmd); err != nil {
		return "", "", -1, fmt.Errorf("start command: %w", err)
	}
	if _, err := io.Copy(stdinPipe, bytes.NewReader(input)); err != nil {
		return outBuf.String(), errBuf.String(), -1, fmt.Errorf("write to stdin: %w", err)
	}
	stdinPipe.Close()

	waitErr := session.Wait()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		log.Printf("[sshfiles] SLOW stdin exec (%s, %d bytes): %s", elapsed.Round(time.Millisecond), len(input), logutil.Truncate(cmd, 80))
	}

	if waitErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			return outBuf.String(), errBuf.String(), exitErr.ExitStatus(), nil
		}
		return outBuf.String(), errBuf.String(), -1, waitErr
	}
	return outBuf.String(), errBuf.String(), 0, nil
}
