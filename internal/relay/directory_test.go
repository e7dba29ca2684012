package relay

import (
	"testing"

	"github.com/pscheid92/keyrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_GetOrCreateReturnsSameInstance(t *testing.T) {
	d := NewDirectory()

	first := d.GetOrCreate(domain.NamespaceBroadcast, "room")
	second := d.GetOrCreate(domain.NamespaceBroadcast, "room")

	assert.Same(t, first, second)
	assert.Equal(t, 1, d.Len(domain.NamespaceBroadcast))
}

func TestDirectory_NamespacesAreIsolated(t *testing.T) {
	d := NewDirectory()

	b := d.GetOrCreate(domain.NamespaceBroadcast, "room")
	a := d.GetOrCreate(domain.NamespaceArbitrated, "room")

	assert.NotSame(t, b, a)
	assert.Equal(t, 1, d.Len(domain.NamespaceBroadcast))
	assert.Equal(t, 1, d.Len(domain.NamespaceArbitrated))
}

func TestDirectory_LookupAndEvict(t *testing.T) {
	d := NewDirectory()
	ref := domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"}

	_, ok := d.Lookup(ref)
	assert.False(t, ok, "lookup does not create")

	d.GetOrCreate(ref.Namespace, ref.Key)
	g, ok := d.Lookup(ref)
	require.True(t, ok)
	assert.Equal(t, ref, g.Ref())

	assert.True(t, d.Evict(ref))
	assert.False(t, d.Evict(ref))
	assert.Zero(t, d.Len(ref.Namespace))
}

func TestDirectory_Memberships(t *testing.T) {
	d := NewDirectory()
	r1 := domain.GroupRef{Namespace: domain.NamespaceBroadcast, Key: "a"}
	r2 := domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "a"}

	d.track("c1", r1)
	d.track("c1", r2)
	d.track("c1", r1)

	assert.ElementsMatch(t, []domain.GroupRef{r1, r2}, d.memberOf("c1"))
	assert.Empty(t, d.memberOf("c2"))

	d.forget("c1")
	assert.Empty(t, d.memberOf("c1"))
}

func TestGroup_EnqueueDropsOldest(t *testing.T) {
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceBroadcast, Key: "k"})

	for _, text := range []string{"a", "b", "c"} {
		g.enqueueMaster(domain.Message{Text: text}, 2)
	}
	dropped := g.enqueueMaster(domain.Message{Text: "d"}, 2)

	assert.Equal(t, 1, dropped)
	queued := g.drainMaster()
	require.Len(t, queued, 2)
	assert.Equal(t, "c", queued[0].Text)
	assert.Equal(t, "d", queued[1].Text)
	assert.Empty(t, g.drainMaster())
}

func TestGroup_EnqueueUnbounded(t *testing.T) {
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"})

	for range 50 {
		assert.Zero(t, g.enqueueAnswer(domain.Message{}, 0))
	}
	assert.Len(t, g.drainAnswers(), 50)
}

func TestGroup_TrackOutstanding(t *testing.T) {
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"})

	tracked, _ := g.trackOutstanding(domain.Message{}, 0)
	assert.False(t, tracked, "question without id is not tracked")

	tracked, _ = g.trackOutstanding(domain.Message{MessageID: "q1"}, 0)
	assert.True(t, tracked)

	tracked, _ = g.trackOutstanding(domain.Message{MessageID: "q1"}, 0)
	assert.False(t, tracked, "duplicate id is tracked once")

	_, ok := g.takeOutstanding("q1")
	require.True(t, ok)
	_, ok = g.takeOutstanding("q1")
	assert.False(t, ok, "resolved at most once")

	tracked, _ = g.trackOutstanding(domain.Message{MessageID: "q1"}, 0)
	assert.False(t, tracked, "resolved id is never reopened")
}

func TestGroup_TrackOutstandingBounded(t *testing.T) {
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"})

	g.trackOutstanding(domain.Message{MessageID: "q1"}, 2)
	g.trackOutstanding(domain.Message{MessageID: "q2"}, 2)
	tracked, dropped := g.trackOutstanding(domain.Message{MessageID: "q3"}, 2)

	assert.True(t, tracked)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"q2", "q3"}, g.snapshot().OutstandingIDs)

	_, ok := g.takeOutstanding("q1")
	assert.False(t, ok, "dropped question can no longer be answered")
}

func TestGroup_TrimResolved(t *testing.T) {
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"})
	for _, id := range []string{"q1", "q2", "q3"} {
		g.trackOutstanding(domain.Message{MessageID: id}, 0)
		_, ok := g.takeOutstanding(id)
		require.True(t, ok)
	}

	assert.Zero(t, g.trimResolved(0), "no limit keeps every id")
	assert.Equal(t, 1, g.trimResolved(2))
	assert.Zero(t, g.trimResolved(2))

	tracked, _ := g.trackOutstanding(domain.Message{MessageID: "q1"}, 0)
	assert.True(t, tracked, "forgotten id can be tracked again")
	tracked, _ = g.trackOutstanding(domain.Message{MessageID: "q2"}, 0)
	assert.False(t, tracked, "remembered id stays resolved")
}

func TestGroup_MasterAndSlaves(t *testing.T) {
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceBroadcast, Key: "k"})
	m1, m2, s := newFakeConn("m1"), newFakeConn("m2"), newFakeConn("s")

	assert.True(t, g.idle())
	assert.True(t, g.setMaster(m1))
	assert.False(t, g.setMaster(m1))
	assert.True(t, g.setMaster(m2))
	assert.False(t, g.clearMasterIf("m1"), "only the current master is cleared")
	assert.Equal(t, "m2", g.Master().ID())

	assert.True(t, g.addSlave(s))
	assert.False(t, g.addSlave(s))
	assert.True(t, g.clearMasterIf("m2"))
	assert.False(t, g.idle())
	assert.True(t, g.removeSlave("s"))
	assert.False(t, g.removeSlave("s"))
	assert.True(t, g.idle())
}

func TestGroup_Snapshot(t *testing.T) {
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"})
	g.setMaster(newFakeConn("m"))
	g.addSlave(newFakeConn("s2"))
	g.addSlave(newFakeConn("s1"))
	g.enqueueMaster(domain.Message{}, 0)

	snap := g.snapshot()

	assert.True(t, snap.HasMaster())
	assert.Equal(t, "m", snap.MasterID)
	assert.Equal(t, []string{"s1", "s2"}, snap.SlaveIDs)
	assert.Equal(t, 1, snap.MasterQueueLen)
	assert.Zero(t, snap.SlaveQueueLen)
}
