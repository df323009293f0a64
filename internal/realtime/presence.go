package realtime

import (
	"sync"
	"time"
)

// Entry is one live presence record.
type Entry struct {
	AgentID  string
	TenantID string
}

type presenceState struct {
	tenantID  string
	refs      int
	expiresAt time.Time
}

// Presence tracks which agents are online. Entries are ephemeral: they live
// for the TTL after the last heartbeat and are reconstructable by the client
// heartbeating again.
type Presence struct {
	mu      sync.Mutex
	entries map[string]*presenceState
	ttl     time.Duration
	now     func() time.Time
}

// NewPresence creates a tracker with the given TTL.
func NewPresence(ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &Presence{
		entries: map[string]*presenceState{},
		ttl:     ttl,
		now:     time.Now,
	}
}

// Mark records a live connection for the agent and reports whether this is
// the agent's first live connection (i.e. an offline→online transition).
func (p *Presence) Mark(agentID, tenantID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.entries[agentID]
	if !ok || p.now().After(s.expiresAt) {
		p.entries[agentID] = &presenceState{
			tenantID:  tenantID,
			refs:      1,
			expiresAt: p.now().Add(p.ttl),
		}
		return true
	}
	s.refs++
	s.expiresAt = p.now().Add(p.ttl)
	return false
}

// Heartbeat refreshes the TTL without announcing anything.
func (p *Presence) Heartbeat(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.entries[agentID]; ok {
		s.expiresAt = p.now().Add(p.ttl)
	}
}

// Release drops one connection reference and reports whether the agent went
// offline (last connection gone); the entry is cleared eagerly in that case.
func (p *Presence) Release(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.entries[agentID]
	if !ok {
		return false
	}
	s.refs--
	if s.refs <= 0 {
		delete(p.entries, agentID)
		return true
	}
	return false
}

// Online reports whether the agent has a live, unexpired entry.
func (p *Presence) Online(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.entries[agentID]
	return ok && !p.now().After(s.expiresAt)
}

// Sweep removes expired entries and returns them.
func (p *Presence) Sweep() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []Entry
	now := p.now()
	for agentID, s := range p.entries {
		if now.After(s.expiresAt) {
			expired = append(expired, Entry{AgentID: agentID, TenantID: s.tenantID})
			delete(p.entries, agentID)
		}
	}
	return expired
}
