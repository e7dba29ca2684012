package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/keyrelay/internal/adapter/metrics"
	"github.com/pscheid92/keyrelay/internal/domain"
)

const (
	commandBufferSize = 256
	commandTimeout    = 5 * time.Second
	stopTimeout       = 10 * time.Second
	releaseTimeout    = 2 * time.Second
)

// Config holds the engine's tunables.
type Config struct {
	TickInterval   time.Duration
	MaxQueueLength int
	MaxOutstanding int
}

// engineCmd is the command interface for the Engine actor.
type engineCmd interface{ isEngineCmd() }

type baseEngineCmd struct{}

func (baseEngineCmd) isEngineCmd() {}

type routeCmd struct {
	baseEngineCmd
	connection domain.Connection
	message    domain.Message
}

type disconnectCmd struct {
	baseEngineCmd
	connection   domain.Connection
	replyChannel chan []domain.GroupRef
}

type snapshotCmd struct {
	baseEngineCmd
	ref          domain.GroupRef
	replyChannel chan snapshotReply
}

type snapshotReply struct {
	snapshot domain.GroupSnapshot
	found    bool
}

type pingCmd struct {
	baseEngineCmd
	replyChannel chan struct{}
}

type stopCmd struct {
	baseEngineCmd
}

// Engine is the single dispatch authority. One goroutine owns the directory and
// processes ingress commands and scheduler ticks strictly one at a time.
type Engine struct {
	cmdCh        chan engineCmd
	clock        clockwork.Clock
	directory    *Directory
	router       *Router
	scheduler    *Scheduler
	authorizer   Authorizer
	metrics      *metrics.RelayMetrics
	tickInterval time.Duration
	done         chan struct{}
	stopOnce     sync.Once
}

// NewEngine creates the engine and starts its goroutine.
// authorizer gates master authority; pass AllowAll for last-writer-wins.
func NewEngine(cfg Config, authorizer Authorizer, m *metrics.RelayMetrics, clock clockwork.Clock) *Engine {
	limits := Limits{MaxQueueLength: cfg.MaxQueueLength, MaxOutstanding: cfg.MaxOutstanding}
	directory := NewDirectory()

	e := &Engine{
		cmdCh:        make(chan engineCmd, commandBufferSize),
		clock:        clock,
		directory:    directory,
		router:       NewRouter(directory, limits, m),
		scheduler:    NewScheduler(directory, NewArbitrator(m), limits, m, clock),
		authorizer:   authorizer,
		metrics:      m,
		tickInterval: cfg.TickInterval,
		done:         make(chan struct{}),
	}
	go e.run()
	return e
}

// Ingest validates one inbound frame from conn and queues it for routing.
//
// A malformed frame is answered with UsageHelp and changes no state. A master
// message the authorizer refuses is dropped with domain.ErrAuthorityDenied.
// Ingest does not wait for the message to be routed.
func (e *Engine) Ingest(ctx context.Context, conn domain.Connection, frame []byte) error {
	msg, err := Parse(frame)
	if err != nil {
		e.metrics.MalformedMessages.Inc()
		deliver(e.metrics, conn, []byte(UsageHelp), "help")
		return err
	}

	if msg.IsMaster {
		allowed, err := e.authorizer.Authorize(ctx, msg.Ref(), conn.ID())
		if err != nil {
			e.metrics.AuthorityDenied.Inc()
			return fmt.Errorf("%w: %w", domain.ErrAuthorityDenied, err)
		}
		if !allowed {
			e.metrics.AuthorityDenied.Inc()
			return domain.ErrAuthorityDenied
		}
	}

	return e.submit(ctx, routeCmd{connection: conn, message: msg})
}

// Disconnect removes conn from every group and releases master authority it held.
func (e *Engine) Disconnect(ctx context.Context, conn domain.Connection) error {
	replyCh := make(chan []domain.GroupRef, 1)
	if err := e.submit(ctx, disconnectCmd{connection: conn, replyChannel: replyCh}); err != nil {
		return err
	}

	released, err := awaitReply(ctx, e, replyCh)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", conn.ID(), err)
	}

	var errs []error
	for _, ref := range released {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		if err := e.authorizer.Release(releaseCtx, ref, conn.ID()); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", ref, err))
		}
		cancel()
	}
	return errors.Join(errs...)
}

// Snapshot returns a copy of the group's current state.
func (e *Engine) Snapshot(ctx context.Context, ref domain.GroupRef) (domain.GroupSnapshot, error) {
	replyCh := make(chan snapshotReply, 1)
	if err := e.submit(ctx, snapshotCmd{ref: ref, replyChannel: replyCh}); err != nil {
		return domain.GroupSnapshot{}, err
	}

	reply, err := awaitReply(ctx, e, replyCh)
	if err != nil {
		return domain.GroupSnapshot{}, err
	}
	if !reply.found {
		return domain.GroupSnapshot{}, domain.ErrGroupNotFound
	}
	return reply.snapshot, nil
}

// Ping round-trips a command through the engine goroutine. Every command
// submitted before Ping has been processed when it returns.
func (e *Engine) Ping(ctx context.Context) error {
	replyCh := make(chan struct{}, 1)
	if err := e.submit(ctx, pingCmd{replyChannel: replyCh}); err != nil {
		return err
	}
	_, err := awaitReply(ctx, e, replyCh)
	return err
}

// Stop shuts the engine down. Blocks until the goroutine exits or the stop timeout passes.
// Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		select {
		case e.cmdCh <- stopCmd{}:
		case <-e.done:
			return
		}

		timeout := e.clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-e.done:
			slog.Info("Relay engine stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Relay engine stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

func (e *Engine) submit(ctx context.Context, cmd engineCmd) error {
	select {
	case <-e.done:
		return domain.ErrEngineStopped
	default:
	}

	select {
	case e.cmdCh <- cmd:
		return nil
	case <-e.done:
		return domain.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitReply[T any](ctx context.Context, e *Engine, replyCh chan T) (T, error) {
	var zero T

	timer := e.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-e.done:
		return zero, domain.ErrEngineStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		return zero, fmt.Errorf("command timed out after %v", commandTimeout)
	}
}

func (e *Engine) run() {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Relay engine panic recovered", "panic", r)
		}
	}()

	ticker := e.clock.NewTicker(e.tickInterval)
	defer ticker.Stop()

	slowTick := e.tickInterval * 8 / 10

	for {
		select {
		case cmd := <-e.cmdCh:
			switch c := cmd.(type) {
			case routeCmd:
				e.handleRoute(c)
			case disconnectCmd:
				c.replyChannel <- e.router.Disconnect(c.connection)
			case snapshotCmd:
				g, found := e.directory.Lookup(c.ref)
				reply := snapshotReply{found: found}
				if found {
					reply.snapshot = g.snapshot()
				}
				c.replyChannel <- reply
			case pingCmd:
				c.replyChannel <- struct{}{}
			case stopCmd:
				slog.Info("Relay engine shutting down",
					"broadcast_groups", e.directory.Len(domain.NamespaceBroadcast),
					"arbitrated_groups", e.directory.Len(domain.NamespaceArbitrated),
				)
				return
			default:
				slog.Warn("Relay engine received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-ticker.Chan():
			e.metrics.CommandQueueDepth.Set(float64(len(e.cmdCh)))
			if elapsed := e.scheduler.Tick(); elapsed > slowTick {
				slog.Warn("Tick duration exceeded budget", "duration", elapsed, "budget", slowTick)
			}
		}
	}
}

func (e *Engine) handleRoute(c routeCmd) {
	r := classify(c.message)
	e.metrics.MessagesReceived.WithLabelValues(string(c.message.Namespace()), r.role()).Inc()
	e.router.Route(c.connection, c.message)
}
