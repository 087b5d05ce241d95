// Package sshfiles transfers files to and from remote hosts over the
// pooled SSH connections.
//
// The fast path opens an SFTP subsystem channel on the session's client
// and caches it for reuse. When escalation is requested, reads fall back
// to an elevated command routed through the execution engine, and writes
// stage base64 chunks through one-shot exec sessions before a single
// sudo round-trip moves the content into place. Content is capped at
// 2 MiB per operation in either direction.
package sshfiles

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/remsh/internal/errdefs"
	"github.com/gluk-w/remsh/internal/hostcfg"
	"github.com/gluk-w/remsh/internal/logutil"
	"github.com/gluk-w/remsh/internal/sshexec"
	"github.com/gluk-w/remsh/internal/sshpool"
)

const (
	// maxTransferBytes is the hard ceiling on file content per operation,
	// enforced regardless of the requested max_bytes.
	maxTransferBytes = 2 << 20

	// sudoChunkSize is the raw payload size per exec round-trip on the
	// elevated write path. Base64 expansion keeps the resulting command
	// line well under typical ARG_MAX limits.
	sudoChunkSize = 48000

	// sudoReadTimeout bounds the elevated read command; past it the
	// command is interrupted and the read fails.
	sudoReadTimeout = 60 * time.Second
)

// errNoSFTP marks a host whose SSH daemon refused the sftp subsystem.
// Hardened hosts do this; escalated fallback can still reach their files.
var errNoSFTP = errors.New("sftp subsystem unavailable")

// ReadRequest describes one remote file read.
type ReadRequest struct {
	Alias    string
	Key      sshpool.Key
	Creds    hostcfg.Credentials
	Path     string
	MaxBytes int64
	UseSudo  bool
}

// ReadResult carries the file content and whether the size cap cut it.
type ReadResult struct {
	Content   []byte `json:"content"`
	Truncated bool   `json:"truncated"`
}

// WriteRequest describes one remote file write.
type WriteRequest struct {
	Alias    string
	Key      sshpool.Key
	Creds    hostcfg.Credentials
	Path     string
	Content  []byte
	Append   bool
	MakeDirs bool
	Perm     os.FileMode
	UseSudo  bool
}

// Entry is one remote directory listing row.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

// Service performs file transfers over pooled sessions. SFTP clients are
// cached per session client and dropped when the pool replaces a session.
type Service struct {
	pool   *sshpool.Manager
	engine *sshexec.Engine
	gate   sshexec.Gate

	// Audit receives file_read / file_written events when set.
	Audit func(event, sessionKey, details string)

	mu      sync.Mutex
	clients map[sshpool.Key]*cachedClient
}

type cachedClient struct {
	owner *ssh.Client
	sftp  *sftp.Client
}

func NewService(pool *sshpool.Manager, engine *sshexec.Engine, gate sshexec.Gate) *Service {
	return &Service{
		pool:    pool,
		engine:  engine,
		gate:    gate,
		clients: make(map[sshpool.Key]*cachedClient),
	}
}

// Read fetches up to MaxBytes of a remote file, capped at 2 MiB. The SFTP
// path is tried first; a permission failure (or a missing sftp subsystem)
// falls back to an elevated read when UseSudo is set.
func (s *Service) Read(ctx context.Context, req ReadRequest) (*ReadResult, error) {
	if s.gate != nil && !s.gate.Approve(ctx, req.Alias, "read file: "+req.Path) {
		s.audit("permission_denied", req.Key.String(), "read "+req.Path)
		return nil, errdefs.PermissionByUserf("file read on %q was denied by the approval gate", req.Alias)
	}
	limit := transferLimit(req.MaxBytes)

	start := time.Now()
	content, truncated, err := s.readDirect(ctx, req, limit)
	if err != nil {
		if !req.UseSudo || !escalationEligible(err) {
			return nil, err
		}
		log.Printf("[sshfiles] direct read of %s on %s failed (%v), retrying elevated", req.Path, req.Key, err)
		content, truncated, err = s.readElevated(ctx, req, limit)
		if err != nil {
			return nil, err
		}
	}

	s.audit("file_read", req.Key.String(), req.Path)
	log.Printf("[sshfiles] read %s (%d bytes) from %s in %s", req.Path, len(content), req.Key, time.Since(start).Round(time.Millisecond))
	return &ReadResult{Content: content, Truncated: truncated}, nil
}

func (s *Service) readDirect(ctx context.Context, req ReadRequest, limit int64) ([]byte, bool, error) {
	sc, err := s.sftpClient(ctx, req.Key, req.Creds)
	if err != nil {
		return nil, false, err
	}
	f, err := sc.Open(req.Path)
	if err != nil {
		s.dropIfBroken(req.Key, sc, err)
		return nil, false, classifyPathErr("read", req.Path, err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		s.dropIfBroken(req.Key, sc, err)
		return nil, false, classifyPathErr("read", req.Path, err)
	}
	if int64(len(content)) > limit {
		return content[:limit], true, nil
	}
	return content, false, nil
}

// readElevated routes the read through the execution engine so the sudo
// password round-trip and output capture reuse the interactive session.
// The content travels base64-encoded to survive the terminal channel.
func (s *Service) readElevated(ctx context.Context, req ReadRequest, limit int64) ([]byte, bool, error) {
	cmd := fmt.Sprintf("sudo head -c %d %s | base64", limit+1, shellQuote(req.Path))
	res, handle, err := s.engine.Execute(ctx, sshexec.Request{
		Alias:   req.Alias,
		Key:     req.Key,
		Creds:   req.Creds,
		Command: cmd,
		Timeout: sudoReadTimeout,
	})
	if err != nil {
		return nil, false, err
	}
	if handle != nil {
		if _, ierr := s.engine.Interrupt(ctx, handle.ID); ierr != nil {
			log.Printf("[sshfiles] interrupting stalled elevated read %s: %v", handle.ID, ierr)
		}
		return nil, false, fmt.Errorf("elevated read of %s did not finish within %s", req.Path, sudoReadTimeout)
	}

	if rerr := classifyRemoteOutput("read", req.Path, res.Output); rerr != nil {
		return nil, false, rerr
	}
	content, err := decodeShellBase64(res.Output)
	if err != nil {
		return nil, false, fmt.Errorf("decode elevated read of %s: %w", req.Path, err)
	}
	if res.ExitCode != nil && *res.ExitCode != 0 && len(content) == 0 {
		return nil, false, fmt.Errorf("elevated read of %s exited %d", req.Path, *res.ExitCode)
	}
	if int64(len(content)) > limit {
		return content[:limit], true, nil
	}
	return content, false, nil
}

// Write stores content to a remote file. Oversized content is rejected
// before anything touches the network. Escalation is an up-front choice:
// UseSudo selects the staged elevated path, otherwise SFTP writes directly.
func (s *Service) Write(ctx context.Context, req WriteRequest) error {
	if int64(len(req.Content)) > maxTransferBytes {
		return errdefs.TooLargef("write %s: content is %d bytes, limit is %d", req.Path, len(req.Content), maxTransferBytes)
	}
	if s.gate != nil && !s.gate.Approve(ctx, req.Alias, "write file: "+req.Path) {
		s.audit("permission_denied", req.Key.String(), "write "+req.Path)
		return errdefs.PermissionByUserf("file write on %q was denied by the approval gate", req.Alias)
	}

	start := time.Now()
	var err error
	if req.UseSudo {
		err = s.writeElevated(ctx, req)
	} else {
		err = s.writeDirect(ctx, req)
	}
	if err != nil {
		return err
	}

	s.audit("file_written", req.Key.String(), req.Path)
	log.Printf("[sshfiles] wrote %s (%d bytes) to %s in %s", req.Path, len(req.Content), req.Key, time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Service) writeDirect(ctx context.Context, req WriteRequest) error {
	sc, err := s.sftpClient(ctx, req.Key, req.Creds)
	if err != nil {
		return err
	}
	if req.MakeDirs {
		if err := sc.MkdirAll(path.Dir(req.Path)); err != nil {
			s.dropIfBroken(req.Key, sc, err)
			return classifyPathErr("create parent directories for", req.Path, err)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE
	if req.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := sc.OpenFile(req.Path, flags)
	if err != nil {
		s.dropIfBroken(req.Key, sc, err)
		return classifyPathErr("write", req.Path, err)
	}
	_, werr := f.Write(req.Content)
	cerr := f.Close()
	if werr != nil {
		s.dropIfBroken(req.Key, sc, werr)
		return classifyPathErr("write", req.Path, werr)
	}
	if cerr != nil {
		return classifyPathErr("write", req.Path, cerr)
	}

	if req.Perm != 0 {
		if err := sc.Chmod(req.Path, req.Perm); err != nil {
			return classifyPathErr("chmod", req.Path, err)
		}
	}
	return nil
}

// writeElevated stages the content into a temp file through unprivileged
// exec sessions, then installs it with a single sudo invocation that
// reads the password from stdin.
func (s *Service) writeElevated(ctx context.Context, req WriteRequest) error {
	sess, err := s.pool.Acquire(ctx, req.Key, req.Creds)
	if err != nil {
		return err
	}
	client := sess.Client()
	tmp := "/tmp/.remsh-upload-" + uuid.NewString()

	if err := s.stageContent(client, tmp, req.Content); err != nil {
		s.cleanupStaged(client, tmp)
		return err
	}

	install := "sudo -S sh -c " + shellQuote(installScript(req, tmp))
	_, stderr, code, err := executeCommandWithStdin(client, install, []byte(req.Creds.SudoPassword+"\n"))
	if err != nil {
		s.cleanupStaged(client, tmp)
		return fmt.Errorf("install %s: %w", req.Path, err)
	}
	if code != 0 {
		s.cleanupStaged(client, tmp)
		return classifySudoFailure(req.Path, stderr)
	}
	return nil
}

func (s *Service) stageContent(client *ssh.Client, tmp string, content []byte) error {
	if _, stderr, code, err := executeCommand(client, "> "+shellQuote(tmp)); err != nil {
		return fmt.Errorf("stage upload: %w", err)
	} else if code != 0 {
		return fmt.Errorf("stage upload: %s", strings.TrimSpace(stderr))
	}

	for i := 0; i < len(content); i += sudoChunkSize {
		end := i + sudoChunkSize
		if end > len(content) {
			end = len(content)
		}
		b64 := base64.StdEncoding.EncodeToString(content[i:end])
		cmd := fmt.Sprintf("echo '%s' | base64 -d >> %s", b64, shellQuote(tmp))
		if _, stderr, code, err := executeCommand(client, cmd); err != nil {
			return fmt.Errorf("stage upload chunk: %w", err)
		} else if code != 0 {
			return fmt.Errorf("stage upload chunk: %s", strings.TrimSpace(stderr))
		}
	}
	// Empty content still leaves a valid zero-byte staging file.
	return nil
}

func (s *Service) cleanupStaged(client *ssh.Client, tmp string) {
	if _, _, _, err := executeCommand(client, "rm -f "+shellQuote(tmp)); err != nil {
		log.Printf("[sshfiles] cleanup of staged upload %s failed: %v", tmp, err)
	}
}

// installScript builds the elevated shell script that moves staged content
// into place, creating parents and applying the mode when requested.
func installScript(req WriteRequest, tmp string) string {
	var parts []string
	if req.MakeDirs {
		parts = append(parts, "mkdir -p "+shellQuote(path.Dir(req.Path)))
	}
	if req.Append {
		parts = append(parts, fmt.Sprintf("cat %s >> %s", shellQuote(tmp), shellQuote(req.Path)))
		parts = append(parts, "rm -f "+shellQuote(tmp))
	} else {
		parts = append(parts, fmt.Sprintf("mv %s %s", shellQuote(tmp), shellQuote(req.Path)))
	}
	if req.Perm != 0 {
		parts = append(parts, fmt.Sprintf("chmod %04o %s", req.Perm.Perm(), shellQuote(req.Path)))
	}
	return strings.Join(parts, " && ")
}

// List returns the entries of a remote directory, sorted by name.
func (s *Service) List(ctx context.Context, alias string, key sshpool.Key, creds hostcfg.Credentials, dir string) ([]Entry, error) {
	if s.gate != nil && !s.gate.Approve(ctx, alias, "list directory: "+dir) {
		return nil, errdefs.PermissionByUserf("directory listing on %q was denied by the approval gate", alias)
	}
	sc, err := s.sftpClient(ctx, key, creds)
	if err != nil {
		return nil, err
	}
	infos, err := sc.ReadDir(dir)
	if err != nil {
		s.dropIfBroken(key, sc, err)
		return nil, classifyPathErr("list", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, Entry{
			Name:    fi.Name(),
			Size:    fi.Size(),
			Mode:    fi.Mode().String(),
			ModTime: fi.ModTime().UTC(),
			IsDir:   fi.IsDir(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Close discards all cached SFTP clients. Pooled sessions stay open; the
// pool owns their lifecycle.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.clients {
		c.sftp.Close()
		delete(s.clients, key)
	}
}

// sftpClient returns the cached SFTP client for the key's current session,
// building a fresh one when the pool has replaced the underlying client.
func (s *Service) sftpClient(ctx context.Context, key sshpool.Key, creds hostcfg.Credentials) (*sftp.Client, error) {
	sess, err := s.pool.Acquire(ctx, key, creds)
	if err != nil {
		return nil, err
	}
	owner := sess.Client()

	s.mu.Lock()
	if c, ok := s.clients[key]; ok && c.owner == owner {
		s.mu.Unlock()
		return c.sftp, nil
	}
	s.mu.Unlock()

	sc, err := sftp.NewClient(owner)
	if err != nil {
		return nil, fmt.Errorf("open sftp subsystem on %s: %w: %v", key, errNoSFTP, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.clients[key]; ok {
		if cur.owner == owner {
			// Lost a race with another caller; keep theirs.
			go sc.Close()
			return cur.sftp, nil
		}
		// Stale client from a replaced session.
		go cur.sftp.Close()
	}
	s.clients[key] = &cachedClient{owner: owner, sftp: sc}
	return sc, nil
}

// dropIfBroken discards a cached client after a transport-level failure so
// the next call rebuilds the subsystem channel.
func (s *Service) dropIfBroken(key sshpool.Key, sc *sftp.Client, err error) {
	if !errors.Is(err, sftp.ErrSSHFxConnectionLost) && !errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[key]; ok && c.sftp == sc {
		delete(s.clients, key)
		go sc.Close()
	}
}

func (s *Service) audit(event, sessionKey, details string) {
	if s.Audit == nil {
		return
	}
	s.Audit(event, sessionKey, logutil.Truncate(logutil.SanitizeForLog(details), 200))
}

// escalationEligible reports whether a direct-path failure is the kind
// sudo can overcome.
func escalationEligible(err error) bool {
	return errdefs.IsPermission(err) || errors.Is(err, errNoSFTP)
}

// transferLimit clamps the requested byte cap to the hard ceiling.
func transferLimit(maxBytes int64) int64 {
	if maxBytes <= 0 || maxBytes > maxTransferBytes {
		return maxTransferBytes
	}
	return maxBytes
}

// classifyPathErr maps SFTP status errors onto the service error taxonomy.
func classifyPathErr(op, p string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return errdefs.Pathf("%s %s: no such file or directory", op, p)
	case errors.Is(err, os.ErrPermission):
		return errdefs.Permissionf("%s %s: permission denied", op, p)
	default:
		return fmt.Errorf("%s %s: %w", op, p, err)
	}
}

// classifyRemoteOutput inspects shell output for well-known failure text.
func classifyRemoteOutput(op, p, output string) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "no such file or directory"):
		return errdefs.Pathf("%s %s: no such file or directory", op, p)
	case strings.Contains(lower, "is a directory"), strings.Contains(lower, "not a directory"):
		return errdefs.Pathf("%s %s: %s", op, p, "path is not a regular file")
	case strings.Contains(lower, "permission denied"):
		return errdefs.Permissionf("%s %s: permission denied", op, p)
	}
	return nil
}

// classifySudoFailure maps stderr from the elevated install step.
func classifySudoFailure(p, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "try again"),
		strings.Contains(lower, "incorrect password"),
		strings.Contains(lower, "not in the sudoers"),
		strings.Contains(lower, "authentication failure"):
		return errdefs.Permissionf("privilege escalation failed writing %s", p)
	case strings.Contains(lower, "no such file or directory"):
		return errdefs.Pathf("write %s: no such file or directory", p)
	case strings.Contains(lower, "permission denied"):
		return errdefs.Permissionf("write %s: permission denied", p)
	default:
		if msg == "" {
			msg = "unknown failure"
		}
		return fmt.Errorf("elevated write of %s failed: %s", p, logutil.Truncate(msg, 200))
	}
}

// decodeShellBase64 reassembles base64 content from terminal output,
// skipping prompt and password-prompt lines interleaved by the shell.
func decodeShellBase64(raw string) ([]byte, error) {
	var b strings.Builder
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" || !isBase64Line(line) {
			continue
		}
		b.WriteString(line)
	}
	if b.Len() == 0 {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(b.String())
}

func isBase64Line(line string) bool {
	for _, r := range line {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=':
		default:
			return false
		}
	}
	return true
}

// shellQuote wraps a string in single quotes, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
