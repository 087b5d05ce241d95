package hostcfg

import (
	"context"
	"log"

	"github.com/gluk-w/remsh/internal/logutil"
)

// EnvGate approves or denies privileged actions on hosts flagged paranoid.
// Hosts without the flag are always approved. Flagged hosts are denied
// unless auto-approval is configured, since a headless service has no
// interactive approver to ask.
type EnvGate struct {
	Resolver    *Resolver
	AutoApprove bool
}

// NewEnvGate creates a gate backed by the resolver's paranoia flags.
func NewEnvGate(r *Resolver, autoApprove bool) *EnvGate {
	return &EnvGate{Resolver: r, AutoApprove: autoApprove}
}

// Approve reports whether action may proceed on host.
func (g *EnvGate) Approve(ctx context.Context, host, action string) bool {
	if !g.Resolver.Paranoia(host) {
		return true
	}
	if g.AutoApprove {
		log.Printf("[gate] auto-approved on paranoid host %s: %s", host, logutil.Truncate(logutil.SanitizeForLog(action), 120))
		return true
	}
	log.Printf("[gate] denied on paranoid host %s (no approver attached): %s", host, logutil.Truncate(logutil.SanitizeForLog(action), 120))
	return false
}
