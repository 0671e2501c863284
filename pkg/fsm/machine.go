// Package fsm runs the render pipeline as a durable superfly/fsm workflow:
// prepare, generate and push become persisted transitions, so an
// interrupted run is visible in the FSM store. Failures are never retried.
package fsm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/pipeline"
	"github.com/superfly/fsm"
)

// MachineName is the name the workflow is registered under.
const MachineName = "render-pipeline"

// Machine holds dependencies for FSM transitions
type Machine struct {
	pipeline *pipeline.Pipeline

	mu   sync.Mutex
	runs map[string]*pipeline.Run
}

// NewMachine creates a machine driving p.
func NewMachine(p *pipeline.Pipeline) *Machine {
	return &Machine{pipeline: p, runs: make(map[string]*pipeline.Run)}
}

// Register registers the render pipeline FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[RunRequest, RunResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[RunRequest, RunResponse](manager, MachineName).
		Start(StatePrepare, m.handlePrepare).
		To(StateGenerate, m.handleGenerate).
		To(StatePush, m.handlePush).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Execute performs one full run through the FSM under the pipeline's run
// lock and returns the run, which is never nil.
func (m *Machine) Execute(ctx context.Context, manager *fsm.Manager, start fsm.Start[RunRequest, RunResponse]) *pipeline.Run {
	run, release, err := m.pipeline.Begin(ctx)
	if err != nil {
		return run
	}
	defer release()

	m.track(run)
	defer m.untrack(run.ID)

	resp := &RunResponse{}
	version, err := start(ctx, run.ID, fsm.NewRequest(&RunRequest{RunID: run.ID}, resp))
	if err != nil {
		run.Fail("", errors.WithKind(errors.KindInternal, err, "FSM start failed"))
		m.pipeline.Finish(ctx, run)
		return run
	}
	slog.Info("fsm_started", "run_id", run.ID, "version", version)

	if err := manager.Wait(ctx, version); err != nil && run.State != pipeline.StateFailed {
		run.Fail("", errors.WithKind(errors.KindInternal, err, "FSM execution failed"))
	}

	m.pipeline.Finish(ctx, run)
	return run
}

func (m *Machine) track(run *pipeline.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
}

func (m *Machine) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
}

func (m *Machine) lookup(id string) *pipeline.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}
