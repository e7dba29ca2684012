package relay

import (
	"testing"

	"github.com/pscheid92/keyrelay/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestArbitrator_FirstAnswerWins(t *testing.T) {
	m := newTestMetrics(t)
	a := NewArbitrator(m)
	master := newFakeConn("m")
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"})
	g.setMaster(master)
	g.trackOutstanding(domain.Message{MessageID: "q1"}, 0)

	first := domain.Message{MessageID: "q1", Answer: "yes", Payload: []byte("first")}
	second := domain.Message{MessageID: "q1", Answer: "no", Payload: []byte("second")}

	assert.True(t, a.Resolve(g, first))
	assert.False(t, a.Resolve(g, second))
	assert.Equal(t, []string{"first"}, master.received())
	assert.InDelta(t, 1, testutil.ToFloat64(m.AnswersForwarded), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AnswersDiscarded.WithLabelValues("unknown_id")), 0)
}

func TestArbitrator_UnknownIDDropped(t *testing.T) {
	a := NewArbitrator(newTestMetrics(t))
	master := newFakeConn("m")
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"})
	g.setMaster(master)
	g.trackOutstanding(domain.Message{MessageID: "q1"}, 0)

	assert.False(t, a.Resolve(g, domain.Message{MessageID: "nope", Answer: "x"}))
	assert.Empty(t, master.received())
	assert.Equal(t, []string{"q1"}, g.snapshot().OutstandingIDs)
}

func TestArbitrator_NoMasterKeepsQuestionOpen(t *testing.T) {
	a := NewArbitrator(newTestMetrics(t))
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"})
	g.trackOutstanding(domain.Message{MessageID: "q1"}, 0)

	assert.False(t, a.Resolve(g, domain.Message{MessageID: "q1", Answer: "x"}))
	assert.Equal(t, []string{"q1"}, g.snapshot().OutstandingIDs)
}

func TestArbitrator_ResolvedEvenWhenSendFails(t *testing.T) {
	m := newTestMetrics(t)
	a := NewArbitrator(m)
	master := newFakeConn("m")
	master.setFailing(true)
	g := newGroup(domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "k"})
	g.setMaster(master)
	g.trackOutstanding(domain.Message{MessageID: "q1"}, 0)

	assert.True(t, a.Resolve(g, domain.Message{MessageID: "q1", Answer: "x"}))
	assert.Empty(t, g.snapshot().OutstandingIDs)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SendFailures), 0)
}
