// Package session runs tasks against the orchestrator and keeps the live
// transcript and agent activity of the current run.
//
// At most one run is live. Submitting a task discards the previous run
// without waiting for its reader; events that reader still produces are
// recognised by run identity and dropped.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mtzanidakis/teamfeed/internal/activity"
	"github.com/mtzanidakis/teamfeed/internal/event"
	"github.com/mtzanidakis/teamfeed/internal/frame"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Streamer opens the orchestrator's event stream for a task.
type Streamer interface {
	StreamChat(ctx context.Context, task string) (io.ReadCloser, error)
}

// Run is the handle of one submitted task.
type Run struct {
	ID     uint64
	Task   string
	Source string

	tracker *activity.Tracker
	cancel  context.CancelFunc
	done    chan struct{}
	last    Snapshot
}

// Done is closed once the run's reader has exited.
func (r *Run) Done() <-chan struct{} { return r.done }

// Final returns the run's last snapshot. It is only meaningful after Done
// is closed.
func (r *Run) Final() Snapshot {
	<-r.done
	return r.last
}

// Pinner is a Resolver whose roster can change. Each run uses the roster
// pinned when it was submitted.
type Pinner interface {
	Pin() activity.Resolver
}

type Controller struct {
	streamer    Streamer
	aggregator  *transcript.Aggregator
	agents      activity.Resolver
	decoderOpts []frame.Option
	logger      *slog.Logger

	mu   sync.Mutex
	seq  uint64
	run  *Run
	snap Snapshot

	// notifyMu is taken before mu is released so observers see snapshots
	// in mutation order.
	notifyMu  sync.Mutex
	observers []Observer
}

type Option func(*Controller)

func WithAggregator(a *transcript.Aggregator) Option {
	return func(c *Controller) { c.aggregator = a }
}

// WithDecoderOptions configures the frame decoder of every run.
func WithDecoderOptions(opts ...frame.Option) Option {
	return func(c *Controller) { c.decoderOpts = append(c.decoderOpts, opts...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

func NewController(streamer Streamer, agents activity.Resolver, opts ...Option) *Controller {
	c := &Controller{
		streamer:   streamer,
		aggregator: transcript.NewAggregator(),
		agents:     agents,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.decoderOpts = append([]frame.Option{frame.WithLogger(c.logger)}, c.decoderOpts...)

	c.snap = Snapshot{
		Session:  transcript.Session{MainSlot: transcript.NoSlot},
		Activity: c.newTracker().Idle(),
	}
	return c
}

func (c *Controller) newTracker() *activity.Tracker {
	if p, ok := c.agents.(Pinner); ok {
		return activity.NewTracker(p.Pin())
	}
	return activity.NewTracker(c.agents)
}

// Observe registers o for all later snapshots.
func (c *Controller) Observe(o Observer) {
	c.notifyMu.Lock()
	c.observers = append(c.observers, o)
	c.notifyMu.Unlock()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Current returns the live run, or nil when idle.
func (c *Controller) Current() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

type submitOptions struct {
	source string
}

type SubmitOption func(*submitOptions)

// WithSource labels the run with where it was submitted from.
func WithSource(source string) SubmitOption {
	return func(o *submitOptions) { o.source = source }
}

// Submit validates task, discards any live run and starts a new one. The
// run outlives ctx's cancellation; use Cancel to stop it.
func (c *Controller) Submit(ctx context.Context, task string, opts ...SubmitOption) (*Run, error) {
	if err := ValidateTask(task); err != nil {
		return nil, err
	}
	so := submitOptions{source: "api"}
	for _, opt := range opts {
		opt(&so)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	if prev := c.run; prev != nil {
		c.retire(prev, OutcomeCancelled)
		c.logger.Info("run superseded", "run", prev.ID)
	}

	c.seq++
	run := &Run{
		ID:      c.seq,
		Task:    task,
		Source:  so.source,
		tracker: c.newTracker(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.run = run

	s, _ := c.aggregator.Apply(transcript.NewSession(run.ID, task), event.StreamEvent{
		Kind:      event.KindUser,
		AgentName: "user",
		Text:      task,
	})
	c.snap = Snapshot{
		Session:  s,
		Activity: run.tracker.Engaged(),
		Source:   run.Source,
	}
	run.last = c.snap
	c.publishLocked()

	runsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", run.Source)))
	c.logger.Info("run started", "run", run.ID, "source", run.Source, "task_length", len(task))

	go c.consume(runCtx, run)
	return run, nil
}

// Cancel stops the live run. It is a no-op when idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	run := c.run
	if run == nil {
		c.mu.Unlock()
		return
	}
	c.retire(run, OutcomeCancelled)
	c.snap = run.last
	c.publishLocked()
	c.logger.Info("run cancelled", "run", run.ID)
}

// retire ends run with outcome and abandons its reader. Caller holds mu.
func (c *Controller) retire(run *Run, outcome Outcome) {
	snap := run.last
	snap.Session.Running = false
	snap.Session.MainSlot = transcript.NoSlot
	snap.Session.ActiveAgent = ""
	snap.Activity = run.tracker.Idle()
	snap.Outcome = outcome
	run.last = snap
	if c.run == run {
		c.run = nil
	}
	run.cancel()
}

// publishLocked notifies observers of c.snap and releases mu.
func (c *Controller) publishLocked() {
	snap := c.snap
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	for _, o := range c.observers {
		o.OnSnapshot(snap)
	}
}

func (c *Controller) consume(ctx context.Context, run *Run) {
	defer close(run.done)

	ctx, span := tracer.Start(ctx, "session run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("run.id", int64(run.ID)), attribute.String("run.source", run.Source)),
	)
	defer span.End()

	body, err := c.streamer.StreamChat(ctx, run.Task)
	if err != nil {
		if ctx.Err() == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "open stream")
			c.fail(ctx, run, fmt.Errorf("open stream: %w", err), frame.Stats{})
		}
		return
	}
	defer body.Close()
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	dec := frame.NewDecoder(c.decoderOpts...)
	for ev, err := range dec.Events(body) {
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "read stream")
			c.fail(ctx, run, err, dec.Stats())
			return
		}
		if !c.apply(ctx, run, ev, dec.Stats()) {
			break
		}
	}

	stats := dec.Stats()
	span.SetAttributes(
		attribute.Int("decode.events", stats.Events),
		attribute.Int("decode.incomplete", stats.Incomplete),
		attribute.Int("decode.malformed", stats.Malformed),
	)
	c.complete(run, stats)
}

// apply folds ev into the live run. It returns false once the run is no
// longer live or ev ended it.
func (c *Controller) apply(ctx context.Context, run *Run, ev event.StreamEvent, stats frame.Stats) bool {
	c.mu.Lock()
	if c.run != run {
		c.mu.Unlock()
		c.logger.Debug("discarding event of stale run", "run", run.ID, "kind", ev.Kind)
		return false
	}

	snap := c.snap
	snap.Stats = stats
	if s, ok := c.aggregator.Apply(snap.Session, ev); ok {
		snap.Session = s
	}
	snap.Activity, snap.Session.ActiveAgent = run.tracker.Apply(snap.Activity, snap.Session.ActiveAgent, ev)

	terminal := ev.Kind == event.KindEnd || ev.Kind == event.KindFinal
	if terminal {
		snap = c.settle(snap)
		run.cancel()
		c.run = nil
	}
	c.snap = snap
	run.last = snap
	c.publishLocked()

	eventsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind))))
	if terminal {
		c.logger.Info("run finished", "run", run.ID, "kind", ev.Kind, "entries", len(snap.Session.Entries))
	}
	return !terminal
}

// settle marks snap as a normally completed run. Agents still shown as
// working go back to idle; completed ones keep their status.
func (c *Controller) settle(snap Snapshot) Snapshot {
	snap.Session.Running = false
	snap.Session.MainSlot = transcript.NoSlot
	snap.Session.ActiveAgent = ""
	settled := make(activity.State, len(snap.Activity))
	for id, st := range snap.Activity {
		if st == activity.Active {
			st = activity.Idle
		}
		settled[id] = st
	}
	snap.Activity = settled
	snap.Outcome = OutcomeCompleted
	return snap
}

// complete handles a stream that closed without end or final.
func (c *Controller) complete(run *Run, stats frame.Stats) {
	c.mu.Lock()
	if c.run != run {
		c.mu.Unlock()
		return
	}
	snap := c.settle(c.snap)
	snap.Stats = stats
	c.run = nil
	run.cancel()
	c.snap = snap
	run.last = snap
	c.publishLocked()
	c.logger.Info("stream closed", "run", run.ID, "events", stats.Events)
}

func (c *Controller) fail(ctx context.Context, run *Run, err error, stats frame.Stats) {
	c.mu.Lock()
	if c.run != run {
		c.mu.Unlock()
		return
	}
	c.retire(run, OutcomeFailed)
	run.last.Err = err
	run.last.Stats = stats
	c.snap = run.last
	c.publishLocked()

	faultsCounter.Add(ctx, 1)
	c.logger.Error("run failed", "run", run.ID, "error", err)
}

// Wait blocks until run is done or ctx is cancelled.
func Wait(ctx context.Context, run *Run) (Snapshot, error) {
	select {
	case <-run.Done():
		snap := run.Final()
		if snap.Err != nil {
			return snap, snap.Err
		}
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
