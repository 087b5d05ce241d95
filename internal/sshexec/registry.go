package sshexec

import (
	"sort"
	"sync"
	"time"

	"github.com/gluk-w/remsh/internal/errdefs"
	"github.com/gluk-w/remsh/internal/sshpool"
)

// Registry tracks every known command in memory. It is the single
// synchronization point for record state: drivers and API readers only
// touch records through it. The footprint is bounded; when the cap is
// exceeded the oldest terminal records are evicted. Running records are
// never evicted, so an id returned by async execution stays resolvable
// until its command ends.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record
	order   []string
	limit   int
}

// NewRegistry creates a registry retaining up to limit records.
func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = 100
	}
	return &Registry{
		records: make(map[string]*record),
		limit:   limit,
	}
}

// Register adds a record and enforces the cap.
func (g *Registry) Register(r *record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[r.id] = r
	g.order = append(g.order, r.id)
	g.evictLocked()
}

// evictLocked removes oldest terminal records until the cap holds. The
// registry may temporarily exceed the cap when everything is running.
func (g *Registry) evictLocked() {
	for len(g.records) > g.limit {
		evicted := false
		for i, id := range g.order {
			r, ok := g.records[id]
			if !ok {
				g.order = append(g.order[:i], g.order[i+1:]...)
				evicted = true
				break
			}
			if r.status.Terminal() {
				delete(g.records, id)
				g.order = append(g.order[:i], g.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

// Get returns a snapshot of the record for id.
func (g *Registry) Get(id string) (Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[id]
	if !ok {
		return Snapshot{}, errdefs.NotFoundf("command %s not found; it may have been evicted", id)
	}
	return r.snapshot(), nil
}

// AppendOutput adds already-limited output bytes to a running record.
func (g *Registry) AppendOutput(id string, p []byte) {
	if len(p) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[id]
	if !ok || r.status.Terminal() {
		return
	}
	r.output = append(r.output, p...)
}

// SetTruncated marks a record's output as capped.
func (g *Registry) SetTruncated(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.records[id]; ok {
		r.truncated = true
	}
}

// Finalize moves a record to a terminal status. It is idempotent: a record
// already terminal is left untouched. Returns the resulting snapshot and
// whether this call performed the transition.
func (g *Registry) Finalize(id string, status Status, exitCode *int, via string) (Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[id]
	if !ok {
		return Snapshot{}, false
	}
	if r.status.Terminal() {
		return r.snapshot(), false
	}
	now := time.Now()
	r.status = status
	r.exitCode = exitCode
	r.completedVia = via
	r.endedAt = &now
	return r.snapshot(), true
}

// RequestInterrupt records an interrupt deadline on a running command and
// wakes its driver. Requests against terminal records are a no-op ack.
func (g *Registry) RequestInterrupt(id string, deadline time.Time) (Snapshot, error) {
	g.mu.Lock()
	r, ok := g.records[id]
	if !ok {
		g.mu.Unlock()
		return Snapshot{}, errdefs.NotFoundf("command %s not found; it may have been evicted", id)
	}
	snap := r.snapshot()
	if r.status.Terminal() {
		g.mu.Unlock()
		return snap, nil
	}
	if r.interruptAt.IsZero() || deadline.Before(r.interruptAt) {
		r.interruptAt = deadline
	}
	g.mu.Unlock()
	r.wake()
	return snap, nil
}

// interruptDeadline returns the interrupt deadline for id, zero when none
// was requested.
func (g *Registry) interruptDeadline(id string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.records[id]; ok {
		return r.interruptAt
	}
	return time.Time{}
}

// liveSession returns the session a running record is attached to.
func (g *Registry) liveSession(id string) (*sshpool.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[id]
	if !ok {
		return nil, errdefs.NotFoundf("command %s not found; it may have been evicted", id)
	}
	if r.status.Terminal() {
		return nil, errdefs.NotFoundf("command %s is not running", id)
	}
	return r.sess, nil
}

// List returns snapshots of every record, optionally filtered by status,
// newest submission first.
func (g *Registry) List(status Status) []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Snapshot, 0, len(g.records))
	for _, r := range g.records {
		if status != "" && r.status != status {
			continue
		}
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// History returns up to limit terminal records, most recently ended first.
func (g *Registry) History(limit int) []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Snapshot, 0, len(g.records))
	for _, r := range g.records {
		if r.status.Terminal() {
			out = append(out, r.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		if out[i].EndedAt != nil {
			ti = *out[i].EndedAt
		}
		if out[j].EndedAt != nil {
			tj = *out[j].EndedAt
		}
		return ti.After(tj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of retained records.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}
