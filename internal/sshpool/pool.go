// Package sshpool maintains one persistent interactive shell per remote
// identity. Sessions are created lazily, reused across commands, probed by
// keepalives, and replaced transparently on the next acquire after they die.
package sshpool

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/remsh/internal/errdefs"
	"github.com/gluk-w/remsh/internal/hostcfg"
	"github.com/gluk-w/remsh/internal/sshkeys"
)

// Key identifies a pooled session. Requests sharing user, host and port
// share one interactive shell.
type Key struct {
	User string `json:"user"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String renders the key as user@host:port.
func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%d", k.User, k.Host, k.Port)
}

// Info is a point-in-time view of one pooled session.
type Info struct {
	Key                string    `json:"key"`
	User               string    `json:"user"`
	Host               string    `json:"host"`
	Port               int       `json:"port"`
	Status             Status    `json:"status"`
	Elevation          Elevation `json:"elevation"`
	ConnectedAt        time.Time `json:"connected_at"`
	LastActivity       time.Time `json:"last_activity"`
	HostKeyFingerprint string    `json:"host_key_fingerprint,omitempty"`
}

// Config controls pool behavior. Zero values fall back to defaults.
type Config struct {
	DialTimeout       time.Duration
	KeepaliveInterval time.Duration
	BufferSize        int
}

// Manager owns the session pool.
type Manager struct {
	cfg     Config
	tracker *StateTracker

	mu       sync.Mutex
	sessions map[Key]*Session
	locks    map[Key]*sync.Mutex
}

// NewManager creates an empty pool.
func NewManager(cfg Config) *Manager {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	m := &Manager{
		cfg:      cfg,
		tracker:  NewStateTracker(),
		sessions: make(map[Key]*Session),
		locks:    make(map[Key]*sync.Mutex),
	}
	m.tracker.OnStateChange(func(key string, from, to Status) {
		log.Printf("[sshpool] session %s: %s -> %s", key, from, to)
	})
	return m
}

// Tracker exposes the state tracker so callers can observe transitions.
func (m *Manager) Tracker() *StateTracker {
	return m.tracker
}

// keyLock returns the per-key creation lock, so concurrent acquires for the
// same key cannot dial twice.
func (m *Manager) keyLock(key Key) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Acquire returns the live session for key, creating or replacing it as
// needed. A failed create caches nothing; the next call starts fresh.
func (m *Manager) Acquire(ctx context.Context, key Key, creds hostcfg.Credentials) (*Session, error) {
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	s := m.sessions[key]
	m.mu.Unlock()

	if s != nil {
		if s.Alive() && s.Probe() == nil {
			s.touch()
			return s, nil
		}
		log.Printf("[sshpool] session %s is dead, replacing", key)
		m.remove(key, s)
		s.Close()
	}

	s, err := m.connect(ctx, key, creds)
	if err != nil {
		m.tracker.Clear(key.String())
		return nil, errdefs.Connection(fmt.Errorf("connect %s: %w", key, err))
	}

	m.mu.Lock()
	m.sessions[key] = s
	m.mu.Unlock()
	go m.keepaliveLoop(s)
	return s, nil
}

// connect dials the host, opens a PTY shell, waits for the login banner to
// settle and runs elevation when an enable password is configured.
func (m *Manager) connect(ctx context.Context, key Key, creds hostcfg.Credentials) (*Session, error) {
	m.tracker.SetState(key.String(), StatusConnecting)

	methods, err := authMethods(creds)
	if err != nil {
		return nil, err
	}
	hostKeyCb, hostKeyFP := sshkeys.HostKeyRecorder("")
	clientCfg := &ssh.ClientConfig{
		User:            key.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCb,
		Timeout:         m.cfg.DialTimeout,
	}

	addr := net.JoinHostPort(key.Host, fmt.Sprintf("%d", key.Port))
	dialer := net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0, // suppress command echo where the line discipline honors it
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &Session{
		Key:                key,
		ConnectedAt:        time.Now(),
		HostKeyFingerprint: *hostKeyFP,
		client:             client,
		sess:               sess,
		stdin:              stdin,
		buf:                NewOutputBuffer(m.cfg.BufferSize),
		tracker:            m.tracker,
		status:             StatusConnecting,
		elevation:          ElevationNone,
		lastActivity:       time.Now(),
		done:               make(chan struct{}),
	}
	go s.relayOutput(stdout)

	s.waitSettled(ctx, 400*time.Millisecond, 5*time.Second)
	if !s.Alive() {
		s.Close()
		return nil, fmt.Errorf("shell on %s closed during startup", key)
	}

	if creds.EnablePassword != "" {
		if err := s.elevate(ctx, creds.EnablePassword); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.setStatus(StatusReady)
	log.Printf("[sshpool] session %s established (host key %s)", key, s.HostKeyFingerprint)
	return s, nil
}

// authMethods builds the client auth list from the resolved credentials.
func authMethods(creds hostcfg.Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if creds.KeyPath != "" {
		signer, err := sshkeys.LoadSigner(creds.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load key %s: %w", creds.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		password := creds.Password
		methods = append(methods, ssh.Password(password))
		methods = append(methods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no credentials: configure a key path or password")
	}
	return methods, nil
}

// keepaliveLoop probes the session until it dies. A failed probe marks the
// session dead; replacement happens lazily on the next Acquire.
func (m *Manager) keepaliveLoop(s *Session) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.Done():
			return
		case <-ticker.C:
			if err := s.Probe(); err != nil {
				log.Printf("[sshpool] keepalive failed for %s: %v", s.Key, err)
				return
			}
		}
	}
}

// remove deletes key from the pool only if it still maps to s.
func (m *Manager) remove(key Key, s *Session) {
	m.mu.Lock()
	if m.sessions[key] == s {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
}

// Get returns the pooled session for key without connecting.
func (m *Manager) Get(key Key) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Close tears down the session for key if one exists.
func (m *Manager) Close(key Key) bool {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	m.tracker.Clear(key.String())
	log.Printf("[sshpool] session %s closed", key)
	return true
}

// CloseAll tears down every pooled session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make(map[Key]*Session, len(m.sessions))
	for k, s := range m.sessions {
		sessions[k] = s
	}
	m.sessions = make(map[Key]*Session)
	m.mu.Unlock()

	for k, s := range sessions {
		s.Close()
		m.tracker.Clear(k.String())
	}
	if len(sessions) > 0 {
		log.Printf("[sshpool] closed %d sessions", len(sessions))
	}
}

// List returns a snapshot of every pooled session.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, Info{
			Key:                s.Key.String(),
			User:               s.Key.User,
			Host:               s.Key.Host,
			Port:               s.Key.Port,
			Status:             s.Status(),
			Elevation:          s.Elevation(),
			ConnectedAt:        s.ConnectedAt,
			LastActivity:       s.LastActivity(),
			HostKeyFingerprint: s.HostKeyFingerprint,
		})
	}
	return infos
}
