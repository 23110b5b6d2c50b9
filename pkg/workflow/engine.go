package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nlesc/mdstudio/pkg/kernel"
)

// ErrNoRunner is returned when a node names a task_type with no
// registered TaskRunner.
var ErrNoRunner = errors.New("workflow: no runner registered for task type")

// ErrUnknownNode is returned by StepBreakpoint for an id the graph does
// not contain.
var ErrUnknownNode = errors.New("workflow: unknown node id")

// Snapshotter persists a Graph snapshot, e.g. pkg/dbstore's "cerise"
// collection keyed by run id.
type Snapshotter interface {
	Save(ctx context.Context, g *Graph) error
}

// Engine drives one Graph's tasks by status, per the source platform's
// background-executor-thread design: exactly one goroutine (run, below)
// mutates the graph, reading both task-activation and task-completion
// events off a kernel.InMemoryScheduler so the two event kinds are
// strictly ordered against each other with no extra locking.
type Engine struct {
	graph           *Graph
	runners         map[string]TaskRunner
	scheduler       *kernel.InMemoryScheduler
	snapshotter     Snapshotter
	workdirProvider WorkdirProvider

	mu         sync.Mutex
	cancels    map[string]context.CancelFunc
	paused     bool
	breakpoint chan string

	done chan struct{}
}

// NewEngine constructs an Engine over g, dispatching tasks to runners
// keyed by Node.TaskType. Nodes with store_output set allocate their
// workdir through LocalWorkdirProvider unless WithWorkdirProvider overrides
// it.
func NewEngine(g *Graph, runners map[string]TaskRunner, snapshotter Snapshotter) *Engine {
	return &Engine{
		graph:           g,
		runners:         runners,
		scheduler:       kernel.NewInMemoryScheduler(),
		snapshotter:     snapshotter,
		workdirProvider: LocalWorkdirProvider{},
		cancels:         make(map[string]context.CancelFunc),
		breakpoint:      make(chan string, 1),
		done:            make(chan struct{}),
	}
}

// WithWorkdirProvider overrides the default local-disk workdir allocation,
// e.g. with an S3WorkdirProvider for a multi-machine deployment. Returns e
// so it can be chained onto NewEngine.
func (e *Engine) WithWorkdirProvider(p WorkdirProvider) *Engine {
	e.workdirProvider = p
	return e
}

// Done returns a channel closed once Run has determined the graph has
// terminated (no active or reachable-ready task remains).
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Graph returns the live graph. Callers outside Run's goroutine that want
// a consistent view (e.g. a status query endpoint) should treat the
// result as a snapshot and not mutate it.
func (e *Engine) Graph() *Graph {
	return e.graph
}

const (
	eventEvaluate  = "evaluate"
	eventCompleted = "completed"
	eventFailed    = "failed"
)

// Run drives the graph to completion: every task reaches a terminal
// status and no task remains ready or active. Tasks already completed
// (from a prior, persisted run) are skipped and treated as having
// produced their stored output, which is what makes Run resumable.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.scheduler.Schedule(ctx, &kernel.SchedulerEvent{EventType: eventEvaluate, ScheduledAt: time.Now().UTC()}); err != nil {
		return err
	}

	// InMemoryScheduler.Next blocks on its own condition variable, not on
	// ctx; closing it here is what makes external cancellation actually
	// unblock the loop below.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			e.scheduler.Close()
		case <-stopWatch:
		}
	}()

	for {
		event, err := e.scheduler.Next(ctx)
		if err != nil {
			if errors.Is(err, kernel.ErrSchedulerClosed) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return nil
			}
			return err
		}

		switch event.EventType {
		case eventEvaluate:
			e.evaluate(ctx)
		case eventCompleted:
			e.onCompleted(ctx, event)
			e.evaluate(ctx)
		case eventFailed:
			e.onFailed(ctx, event)
			e.evaluate(ctx)
		}

		if e.snapshotter != nil {
			if err := e.snapshotter.Save(ctx, e.graph); err != nil {
				return fmt.Errorf("workflow: saving snapshot: %w", err)
			}
		}

		if !e.graph.IsRunning() && !e.isPaused() && len(e.graph.readyNodes()) == 0 {
			close(e.done)
			e.scheduler.Close()
			return nil
		}
	}
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) setPaused(p bool) {
	e.mu.Lock()
	e.paused = p
	e.mu.Unlock()
}

// evaluate dispatches every currently-ready task whose input is available.
// Runs only on the single consumer goroutine.
func (e *Engine) evaluate(ctx context.Context) {
	if e.isPaused() {
		return
	}
	for _, n := range e.graph.readyNodes() {
		input, ok := e.graph.collectInput(n.NID)
		if !ok {
			continue // parent output not yet available; defer, no state change
		}
		e.dispatch(ctx, n, input)
	}
}

func (e *Engine) dispatch(ctx context.Context, n *Node, input map[string]any) {
	n.Status = StatusRunning
	n.Active = true
	n.InputData = input
	n.Session.ITime = time.Now().UTC()

	if n.StoreOutput {
		dir, err := e.workdirProvider.Allocate(ctx, e.graph, n)
		if err != nil {
			e.fail(n, err)
			return
		}
		n.Workdir = dir
	}

	runner, ok := e.runners[n.TaskType]
	if !ok {
		e.fail(n, fmt.Errorf("%w: %q", ErrNoRunner, n.TaskType))
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[n.NID] = cancel
	e.mu.Unlock()

	nid := n.NID
	go func() {
		defer cancel()
		output, err := runner.Run(taskCtx, n, input)
		if err != nil || output == nil {
			_ = e.scheduler.Schedule(context.Background(), &kernel.SchedulerEvent{
				EventType: eventFailed,
				Payload:   map[string]any{"nid": nid, "error": errString(err)},
			})
			return
		}
		_ = e.scheduler.Schedule(context.Background(), &kernel.SchedulerEvent{
			EventType: eventCompleted,
			Payload:   map[string]any{"nid": nid, "output": output},
		})
	}()
}

func errString(err error) string {
	if err == nil {
		return "task produced no output"
	}
	return err.Error()
}

func (e *Engine) onCompleted(ctx context.Context, event *kernel.SchedulerEvent) {
	nid, _ := event.Payload["nid"].(string)
	n, ok := e.graph.Nodes[nid]
	if !ok {
		return
	}

	output, _ := event.Payload["output"].(map[string]any)
	n.OutputData = output
	n.Status = StatusCompleted
	n.Active = false
	n.Session.UTime = time.Now().UTC()
	e.clearCancel(nid)

	if n.Breakpoint {
		e.setPaused(true)
		select {
		case e.breakpoint <- nid:
		default:
		}
	}
}

func (e *Engine) onFailed(ctx context.Context, event *kernel.SchedulerEvent) {
	nid, _ := event.Payload["nid"].(string)
	n, ok := e.graph.Nodes[nid]
	if !ok {
		return
	}
	n.Active = false
	n.Session.UTime = time.Now().UTC()
	e.clearCancel(nid)

	if n.RetryCount > 0 {
		n.RetryCount--
		n.Status = StatusReady
		return
	}
	n.Status = StatusFailed
}

func (e *Engine) fail(n *Node, err error) {
	n.Active = false
	n.Status = StatusFailed
	_ = err
}

func (e *Engine) clearCancel(nid string) {
	e.mu.Lock()
	delete(e.cancels, nid)
	e.mu.Unlock()
}

// WaitBreakpoint blocks until a task completes with its breakpoint flag
// set, returning that task's id, or until ctx is done.
func (e *Engine) WaitBreakpoint(ctx context.Context) (string, error) {
	select {
	case nid := <-e.breakpoint:
		return nid, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// StepBreakpoint clears nid's breakpoint flag, unpauses the engine and
// schedules a fresh evaluate event so Run dispatches the tasks the
// breakpoint held back. Callers invoke it from outside Run's goroutine; it
// writes the node's Breakpoint field directly and leaves every status
// change to Run.
func (e *Engine) StepBreakpoint(ctx context.Context, nid string) error {
	n, ok := e.graph.Nodes[nid]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, nid)
	}
	n.Breakpoint = false
	e.setPaused(false)
	return e.scheduler.Schedule(ctx, &kernel.SchedulerEvent{EventType: eventEvaluate, ScheduledAt: time.Now().UTC()})
}

// Cancel walks every active task, cancels its context and then invokes its
// runner-level Cancel. It may be called from outside Run's goroutine and
// sets no status itself: the resulting status changes are applied by Run
// via the normal completed/failed events the cancelled tasks' goroutines
// still deliver, so no node is set to aborted and Run keeps going until no
// task is ready or active.
func (e *Engine) Cancel(ctx context.Context) {
	e.mu.Lock()
	cancels := make(map[string]context.CancelFunc, len(e.cancels))
	for nid, c := range e.cancels {
		cancels[nid] = c
	}
	e.mu.Unlock()

	for nid, cancel := range cancels {
		cancel()
		if n, ok := e.graph.Nodes[nid]; ok {
			if runner, ok := e.runners[n.TaskType]; ok {
				_ = runner.Cancel(ctx, n)
			}
		}
	}
}

