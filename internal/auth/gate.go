package auth

import (
	"regexp"
	"strings"
	"sync/atomic"

	"relaybot/internal/models"
)

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,64}$`)

const (
	ReasonMalformedIdentity = "malformed identity"
	ReasonUnroutable        = "unroutable event"
	ReasonGroupCommand      = "group command"
	ReasonOpenPolicy        = "open policy"
	ReasonAllowListed       = "allow-listed"
	ReasonNotAllowed        = "not in allow-list"
)

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Policy is the fixed rule set the gate evaluates against.
type Policy struct {
	Allowed           map[models.UserID]struct{}
	AllowAll          bool
	GroupCommandsOpen bool
}

// NewPolicy builds a policy from a list of identities. Blank entries are skipped.
func NewPolicy(allowed []string, allowAll, groupCommandsOpen bool) *Policy {
	p := &Policy{
		Allowed:           make(map[models.UserID]struct{}, len(allowed)),
		AllowAll:          allowAll,
		GroupCommandsOpen: groupCommandsOpen,
	}
	for _, id := range allowed {
		if id = strings.TrimSpace(id); id != "" {
			p.Allowed[models.UserID(id)] = struct{}{}
		}
	}
	return p
}

// Gate decides whether an identity may act on a route. It is safe for
// concurrent use; Reload swaps the policy without blocking readers.
type Gate struct {
	policy atomic.Pointer[Policy]
}

func NewGate(p *Policy) *Gate {
	g := &Gate{}
	g.Reload(p)
	return g
}

// Reload replaces the active policy. A nil policy denies everything.
func (g *Gate) Reload(p *Policy) {
	if p == nil {
		p = NewPolicy(nil, false, false)
	}
	g.policy.Store(p)
}

// Authorize never fails: anything it cannot make sense of is denied.
func (g *Gate) Authorize(identity models.UserID, chat models.ChatContext, route models.Route) Decision {
	if !ValidIdentity(identity) {
		return Decision{Reason: ReasonMalformedIdentity}
	}
	if route == models.RouteUnhandled || route == "" {
		return Decision{Reason: ReasonUnroutable}
	}
	p := g.policy.Load()
	if p == nil {
		return Decision{Reason: ReasonNotAllowed}
	}
	if p.GroupCommandsOpen && chat.IsGroup() && (route == models.RouteGroupText || route == models.RouteGroupImage) {
		return Decision{Allowed: true, Reason: ReasonGroupCommand}
	}
	if p.AllowAll {
		return Decision{Allowed: true, Reason: ReasonOpenPolicy}
	}
	if _, ok := p.Allowed[identity]; ok {
		return Decision{Allowed: true, Reason: ReasonAllowListed}
	}
	return Decision{Reason: ReasonNotAllowed}
}

// ValidIdentity reports whether id looks like a platform user identifier.
func ValidIdentity(id models.UserID) bool {
	return identityPattern.MatchString(string(id))
}
