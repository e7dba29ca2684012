package relay

import (
	"log/slog"

	"github.com/pscheid92/keyrelay/internal/adapter/metrics"
	"github.com/pscheid92/keyrelay/internal/domain"
)

// Arbitrator enforces first-answer-wins for arbitrated groups.
type Arbitrator struct {
	metrics *metrics.RelayMetrics
}

// NewArbitrator creates an arbitrator.
func NewArbitrator(m *metrics.RelayMetrics) *Arbitrator {
	return &Arbitrator{metrics: m}
}

// Resolve matches answer against the group's outstanding questions by message id.
// On a match the question is removed and the answer is forwarded to the master.
// Answers for unknown or already resolved ids are dropped silently.
func (a *Arbitrator) Resolve(g *Group, answer domain.Message) bool {
	if g.master == nil {
		a.metrics.AnswersDiscarded.WithLabelValues("not_arbitrable").Inc()
		return false
	}
	if _, ok := g.takeOutstanding(answer.MessageID); !ok {
		a.metrics.AnswersDiscarded.WithLabelValues("unknown_id").Inc()
		slog.Debug("Answer discarded", "group", g.ref.String(), "message_id", answer.MessageID, "reason", domain.ErrUnknownAnswerID)
		return false
	}
	a.metrics.Outstanding.Dec()

	deliver(a.metrics, g.master, answer.Payload, "answer")
	a.metrics.AnswersForwarded.Inc()
	return true
}
