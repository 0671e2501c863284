package fsm

import (
	"context"
	"log/slog"

	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/pipeline"
	"github.com/superfly/fsm"
)

func (m *Machine) handlePrepare(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, pipeline.StagePrepare)
}

func (m *Machine) handleGenerate(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, pipeline.StageGenerate)
}

func (m *Machine) handlePush(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return m.step(ctx, req, pipeline.StagePush)
}

func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_complete", "run_id", req.Msg.RunID)

	resp := responseOf(req)
	resp.State = string(pipeline.StateSucceeded)
	return fsm.NewResponse(resp), nil
}

// step runs one stage. Any failure aborts the workflow.
func (m *Machine) step(ctx context.Context, req *fsm.Request[RunRequest, RunResponse], stage pipeline.Stage) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_"+string(stage), "run_id", req.Msg.RunID, "retry", fsm.RetryFromContext(ctx))

	run := m.lookup(req.Msg.RunID)
	if run == nil {
		return nil, fsm.Abort(errors.Newf(errors.KindInternal, "run %s is not active in this process", req.Msg.RunID))
	}

	resp := responseOf(req)
	if err := m.pipeline.Step(ctx, run, stage); err != nil {
		resp.State = string(pipeline.StateFailed)
		resp.FailedStep = string(stage)
		resp.ErrorKind = string(errors.KindOf(err))
		resp.Detail = run.Detail
		return nil, fsm.Abort(err)
	}

	resp.Completed = append(resp.Completed, string(stage))
	return fsm.NewResponse(resp), nil
}

func responseOf(req *fsm.Request[RunRequest, RunResponse]) *RunResponse {
	if req.W.Msg != nil {
		return req.W.Msg
	}
	return &RunResponse{}
}
