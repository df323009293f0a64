package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceMarkAndRelease(t *testing.T) {
	p := NewPresence(45 * time.Second)

	assert.True(t, p.Mark("agent-1", "tenant-1"), "first connection should transition to online")
	assert.False(t, p.Mark("agent-1", "tenant-1"), "second connection should not re-announce")
	assert.True(t, p.Online("agent-1"))

	assert.False(t, p.Release("agent-1"), "one connection still live")
	assert.True(t, p.Release("agent-1"), "last release should transition to offline")
	assert.False(t, p.Online("agent-1"))

	assert.False(t, p.Release("agent-1"), "release of unknown agent is a no-op")
}

func TestPresenceHeartbeatExtendsTTL(t *testing.T) {
	p := NewPresence(45 * time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Mark("agent-1", "tenant-1")

	now = now.Add(40 * time.Second)
	p.Heartbeat("agent-1")

	now = now.Add(40 * time.Second)
	assert.True(t, p.Online("agent-1"), "heartbeat should have refreshed the TTL")

	now = now.Add(10 * time.Second)
	assert.False(t, p.Online("agent-1"))
}

func TestPresenceSweepExpires(t *testing.T) {
	p := NewPresence(45 * time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Mark("agent-1", "tenant-1")
	p.Mark("agent-2", "tenant-1")

	now = now.Add(30 * time.Second)
	p.Heartbeat("agent-2")

	now = now.Add(20 * time.Second)
	expired := p.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, "agent-1", expired[0].AgentID)
	assert.Equal(t, "tenant-1", expired[0].TenantID)
	assert.False(t, p.Online("agent-1"))
	assert.True(t, p.Online("agent-2"))
}

func TestPresenceMarkAfterExpiryAnnouncesAgain(t *testing.T) {
	p := NewPresence(45 * time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Mark("agent-1", "tenant-1")
	now = now.Add(time.Minute)

	assert.True(t, p.Mark("agent-1", "tenant-1"), "expired entry should count as offline")
}
