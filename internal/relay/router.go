package relay

import (
	"log/slog"

	"github.com/pscheid92/keyrelay/internal/adapter/metrics"
	"github.com/pscheid92/keyrelay/internal/domain"
)

// Limits bounds per-group buffering. Zero means unbounded.
type Limits struct {
	MaxQueueLength int
	MaxOutstanding int
}

// Router applies validated ingress messages to group state. Nothing is sent to
// slaves here except the outstanding replay for a newly joined arbitrated slave;
// all other fan-out happens on the scheduler tick.
type Router struct {
	directory *Directory
	limits    Limits
	metrics   *metrics.RelayMetrics
}

// NewRouter creates a router over directory.
func NewRouter(directory *Directory, limits Limits, m *metrics.RelayMetrics) *Router {
	return &Router{directory: directory, limits: limits, metrics: m}
}

// Route dispatches msg from conn to exactly one of the four ingress handlers.
func (r *Router) Route(conn domain.Connection, msg domain.Message) {
	switch classify(msg) {
	case routeBroadcastMaster:
		r.broadcastMaster(conn, msg)
	case routeBroadcastSlave:
		r.broadcastSlave(conn, msg)
	case routeArbitratedMaster:
		r.arbitratedMaster(conn, msg)
	case routeArbitratedSlave:
		r.arbitratedSlave(conn, msg)
	}
}

func (r *Router) broadcastMaster(conn domain.Connection, msg domain.Message) {
	g := r.directory.GetOrCreate(domain.NamespaceBroadcast, msg.Key)
	r.claimMaster(g, conn)
	if dropped := g.enqueueMaster(msg, r.limits.MaxQueueLength); dropped > 0 {
		r.metrics.QueueOverflows.WithLabelValues("master").Add(float64(dropped))
		slog.Warn("Master queue full, dropped oldest", "group", g.ref.String(), "dropped", dropped)
	}
}

// broadcastSlave joins the group. Broadcast slaves get no backlog and their payload is ignored.
func (r *Router) broadcastSlave(conn domain.Connection, msg domain.Message) {
	g := r.directory.GetOrCreate(domain.NamespaceBroadcast, msg.Key)
	if g.addSlave(conn) {
		r.directory.track(conn.ID(), g.ref)
		slog.Debug("Slave joined", "group", g.ref.String(), "conn_id", conn.ID(), "slaves", len(g.slaves))
	}
}

func (r *Router) arbitratedMaster(conn domain.Connection, msg domain.Message) {
	g := r.directory.GetOrCreate(domain.NamespaceArbitrated, msg.Key)
	if dropped := g.enqueueMaster(msg, r.limits.MaxQueueLength); dropped > 0 {
		r.metrics.QueueOverflows.WithLabelValues("master").Add(float64(dropped))
		slog.Warn("Master queue full, dropped oldest", "group", g.ref.String(), "dropped", dropped)
	}
	r.claimMaster(g, conn)
}

// arbitratedSlave queues answers and, on first join, replays every open question to the joiner.
func (r *Router) arbitratedSlave(conn domain.Connection, msg domain.Message) {
	g := r.directory.GetOrCreate(domain.NamespaceArbitrated, msg.Key)

	if msg.IsAnswer() {
		if dropped := g.enqueueAnswer(msg, r.limits.MaxQueueLength); dropped > 0 {
			r.metrics.QueueOverflows.WithLabelValues("slave").Add(float64(dropped))
			slog.Warn("Answer queue full, dropped oldest", "group", g.ref.String(), "dropped", dropped)
		}
	}

	if !g.addSlave(conn) {
		return
	}
	r.directory.track(conn.ID(), g.ref)
	slog.Debug("Slave joined", "group", g.ref.String(), "conn_id", conn.ID(), "replay", len(g.outstanding))

	for _, question := range g.outstanding {
		deliver(r.metrics, conn, question.Payload, "replay")
	}
}

func (r *Router) claimMaster(g *Group, conn domain.Connection) {
	if !g.setMaster(conn) {
		return
	}
	r.directory.track(conn.ID(), g.ref)
	slog.Info("Master assigned", "group", g.ref.String(), "conn_id", conn.ID())
}

// Disconnect removes conn from every group it joined and clears master where it
// held it. Returns the groups whose master was cleared.
func (r *Router) Disconnect(conn domain.Connection) []domain.GroupRef {
	var released []domain.GroupRef
	for _, ref := range r.directory.memberOf(conn.ID()) {
		g, ok := r.directory.Lookup(ref)
		if !ok {
			continue
		}
		g.removeSlave(conn.ID())
		if g.clearMasterIf(conn.ID()) {
			released = append(released, ref)
			slog.Info("Master disconnected", "group", ref.String(), "conn_id", conn.ID())
		}
	}
	r.directory.forget(conn.ID())
	return released
}

// deliver hands one frame to the transport. Failures are counted and never retried.
func deliver(m *metrics.RelayMetrics, conn domain.Connection, frame []byte, kind string) bool {
	if err := conn.Send(frame); err != nil {
		m.SendFailures.Inc()
		slog.Debug("Send failed", "conn_id", conn.ID(), "kind", kind, "error", err)
		return false
	}
	m.FramesSent.WithLabelValues(kind).Inc()
	return true
}
