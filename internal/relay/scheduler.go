package relay

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/keyrelay/internal/adapter/metrics"
	"github.com/pscheid92/keyrelay/internal/domain"
)

// Scheduler performs one drain-and-dispatch pass per tick.
//
// Broadcast groups deliver within one tick of the master's send. In arbitrated
// groups answers are arbitrated before the tick's questions go out, so an answer
// is never matched against a question broadcast in the same pass and the
// question/answer round trip takes at most two ticks.
type Scheduler struct {
	directory  *Directory
	arbitrator *Arbitrator
	limits     Limits
	metrics    *metrics.RelayMetrics
	clock      clockwork.Clock
}

// NewScheduler creates a scheduler over directory.
func NewScheduler(directory *Directory, arbitrator *Arbitrator, limits Limits, m *metrics.RelayMetrics, clock clockwork.Clock) *Scheduler {
	return &Scheduler{directory: directory, arbitrator: arbitrator, limits: limits, metrics: m, clock: clock}
}

// Tick runs every phase for every group, then evicts idle groups.
// Returns how long the pass took.
func (s *Scheduler) Tick() time.Duration {
	start := s.clock.Now()

	s.directory.Each(domain.NamespaceBroadcast, s.fanoutBroadcast)
	s.directory.Each(domain.NamespaceArbitrated, func(g *Group) {
		s.arbitrate(g)
		s.fanoutQuestions(g)
		g.trimResolved(s.limits.MaxOutstanding)
	})
	s.sweep()

	elapsed := s.clock.Since(start)
	s.metrics.TickDuration.Observe(elapsed.Seconds())
	return elapsed
}

// fanoutBroadcast sends every queued master message to every slave. Without
// slaves the queue is kept for a later tick.
func (s *Scheduler) fanoutBroadcast(g *Group) {
	if !g.hasSlaves() {
		return
	}
	slaves := g.slaveList()
	for _, msg := range g.drainMaster() {
		for _, slave := range slaves {
			deliver(s.metrics, slave, msg.Payload, "broadcast")
		}
	}
}

// arbitrate drains the answer queue. The queue is cleared even when the group
// cannot arbitrate (no slaves, no master or nothing outstanding).
func (s *Scheduler) arbitrate(g *Group) {
	answers := g.drainAnswers()
	if len(answers) == 0 {
		return
	}
	if !g.hasSlaves() || g.master == nil || len(g.outstanding) == 0 {
		s.metrics.AnswersDiscarded.WithLabelValues("not_arbitrable").Add(float64(len(answers)))
		return
	}
	for _, answer := range answers {
		s.arbitrator.Resolve(g, answer)
	}
}

// fanoutQuestions records each queued master message as outstanding and sends it to every slave.
func (s *Scheduler) fanoutQuestions(g *Group) {
	if !g.hasSlaves() {
		return
	}
	slaves := g.slaveList()
	for _, msg := range g.drainMaster() {
		tracked, dropped := g.trackOutstanding(msg, s.limits.MaxOutstanding)
		if tracked {
			s.metrics.Outstanding.Inc()
		}
		if dropped > 0 {
			s.metrics.Outstanding.Sub(float64(dropped))
			s.metrics.OutstandingDropped.Add(float64(dropped))
		}
		for _, slave := range slaves {
			deliver(s.metrics, slave, msg.Payload, "question")
		}
	}
}

// sweep evicts groups with no master, no slaves and nothing queued.
func (s *Scheduler) sweep() {
	for _, ns := range domain.Namespaces {
		var idle []*Group
		s.directory.Each(ns, func(g *Group) {
			if g.idle() {
				idle = append(idle, g)
			}
		})
		for _, g := range idle {
			if n := len(g.outstanding); n > 0 {
				s.metrics.Outstanding.Sub(float64(n))
				s.metrics.OutstandingDropped.Add(float64(n))
			}
			s.directory.Evict(g.ref)
			s.metrics.GroupsEvicted.Inc()
			slog.Debug("Group evicted", "group", g.ref.String())
		}
		s.metrics.Groups.WithLabelValues(string(ns)).Set(float64(s.directory.Len(ns)))
	}
}
