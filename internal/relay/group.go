package relay

import (
	"slices"

	"github.com/pscheid92/keyrelay/internal/domain"
	"github.com/samber/lo"
)

// Group is the unit of isolation: membership plus pending queues for one (namespace, key).
// It is not safe for concurrent use; the Engine goroutine owns every Group.
type Group struct {
	ref         domain.GroupRef
	master      domain.Connection
	slaves      map[string]domain.Connection
	masterQueue []domain.Message
	slaveQueue  []domain.Message
	outstanding []domain.Message

	// resolved holds message ids that left outstanding; they are not tracked again
	// while remembered. resolvedOrder keeps them oldest first for trimming.
	resolved      map[string]struct{}
	resolvedOrder []string
}

func newGroup(ref domain.GroupRef) *Group {
	return &Group{
		ref:      ref,
		slaves:   make(map[string]domain.Connection),
		resolved: make(map[string]struct{}),
	}
}

// Ref returns the group's identity.
func (g *Group) Ref() domain.GroupRef { return g.ref }

// Master returns the current master or nil.
func (g *Group) Master() domain.Connection { return g.master }

// setMaster makes conn the master. Reports whether the master changed.
func (g *Group) setMaster(conn domain.Connection) bool {
	if g.master != nil && g.master.ID() == conn.ID() {
		return false
	}
	g.master = conn
	return true
}

// clearMasterIf unsets the master when it is the given connection.
func (g *Group) clearMasterIf(connID string) bool {
	if g.master == nil || g.master.ID() != connID {
		return false
	}
	g.master = nil
	return true
}

func (g *Group) addSlave(conn domain.Connection) bool {
	if _, exists := g.slaves[conn.ID()]; exists {
		return false
	}
	g.slaves[conn.ID()] = conn
	return true
}

func (g *Group) removeSlave(connID string) bool {
	if _, exists := g.slaves[connID]; !exists {
		return false
	}
	delete(g.slaves, connID)
	return true
}

func (g *Group) hasSlaves() bool { return len(g.slaves) > 0 }

func (g *Group) slaveList() []domain.Connection { return lo.Values(g.slaves) }

// enqueue appends msg and drops from the head while the queue exceeds limit.
func enqueue(queue []domain.Message, msg domain.Message, limit int) ([]domain.Message, int) {
	queue = append(queue, msg)
	dropped := 0
	for limit > 0 && len(queue) > limit {
		queue = queue[1:]
		dropped++
	}
	return queue, dropped
}

func (g *Group) enqueueMaster(msg domain.Message, limit int) int {
	var dropped int
	g.masterQueue, dropped = enqueue(g.masterQueue, msg, limit)
	return dropped
}

func (g *Group) enqueueAnswer(msg domain.Message, limit int) int {
	var dropped int
	g.slaveQueue, dropped = enqueue(g.slaveQueue, msg, limit)
	return dropped
}

func (g *Group) drainMaster() []domain.Message {
	queued := g.masterQueue
	g.masterQueue = nil
	return queued
}

func (g *Group) drainAnswers() []domain.Message {
	queued := g.slaveQueue
	g.slaveQueue = nil
	return queued
}

// trackOutstanding records a broadcast question. Questions without an id, with an id
// already outstanding, or with an id that was resolved before are not tracked.
// With limit > 0 the oldest questions are dropped (and count as resolved) to make room.
func (g *Group) trackOutstanding(msg domain.Message, limit int) (bool, int) {
	if msg.MessageID == "" {
		return false, 0
	}
	if _, done := g.resolved[msg.MessageID]; done {
		return false, 0
	}
	if lo.ContainsBy(g.outstanding, sameID(msg.MessageID)) {
		return false, 0
	}

	g.outstanding = append(g.outstanding, msg)
	dropped := 0
	for limit > 0 && len(g.outstanding) > limit {
		g.markResolved(g.outstanding[0].MessageID)
		g.outstanding = g.outstanding[1:]
		dropped++
	}
	return true, dropped
}

// takeOutstanding removes and returns the outstanding question with the given id.
func (g *Group) takeOutstanding(messageID string) (domain.Message, bool) {
	question, idx, found := lo.FindIndexOf(g.outstanding, sameID(messageID))
	if !found || messageID == "" {
		return domain.Message{}, false
	}
	g.outstanding = slices.Delete(g.outstanding, idx, idx+1)
	g.markResolved(messageID)
	return question, true
}

func (g *Group) markResolved(messageID string) {
	if _, done := g.resolved[messageID]; done {
		return
	}
	g.resolved[messageID] = struct{}{}
	g.resolvedOrder = append(g.resolvedOrder, messageID)
}

// trimResolved forgets the oldest resolved ids while more than limit are remembered.
// A limit of 0 keeps every id. Returns how many were forgotten.
func (g *Group) trimResolved(limit int) int {
	if limit <= 0 || len(g.resolvedOrder) <= limit {
		return 0
	}
	excess := len(g.resolvedOrder) - limit
	for _, id := range g.resolvedOrder[:excess] {
		delete(g.resolved, id)
	}
	g.resolvedOrder = slices.Clone(g.resolvedOrder[excess:])
	return excess
}

func sameID(messageID string) func(domain.Message) bool {
	return func(m domain.Message) bool { return m.MessageID == messageID }
}

// idle reports whether the group can be evicted: nobody is attached and nothing waits for delivery.
func (g *Group) idle() bool {
	return g.master == nil && len(g.slaves) == 0 && len(g.masterQueue) == 0 && len(g.slaveQueue) == 0
}

func (g *Group) snapshot() domain.GroupSnapshot {
	snap := domain.GroupSnapshot{
		Ref:            g.ref,
		SlaveIDs:       lo.Keys(g.slaves),
		MasterQueueLen: len(g.masterQueue),
		SlaveQueueLen:  len(g.slaveQueue),
		OutstandingIDs: lo.Map(g.outstanding, func(m domain.Message, _ int) string { return m.MessageID }),
	}
	if g.master != nil {
		snap.MasterID = g.master.ID()
	}
	slices.Sort(snap.SlaveIDs)
	return snap
}
