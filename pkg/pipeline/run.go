package pipeline

import (
	"encoding/json"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/db"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
)

// Stage is one step of the pipeline.
type Stage string

const (
	StagePrepare  Stage = "prepare"
	StageGenerate Stage = "generate"
	StagePush     Stage = "push"
)

// FullRun is every stage in order.
var FullRun = []Stage{StagePrepare, StageGenerate, StagePush}

// State is where a run is in its lifecycle.
type State string

const (
	StateNotStarted State = "not_started"
	StatePreparing  State = "preparing"
	StateGenerating State = "generating"
	StatePushing    State = "pushing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

var activeState = map[Stage]State{
	StagePrepare:  StatePreparing,
	StageGenerate: StateGenerating,
	StagePush:     StatePushing,
}

// StepOutcome is the result of one attempted stage.
type StepOutcome struct {
	Stage     Stage         `json:"stage"`
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Output    string        `json:"output,omitempty"`
	ErrorKind errors.Kind   `json:"errorKind,omitempty"`
	Duration  time.Duration `json:"-"`
}

// MarshalJSON reports the duration in milliseconds.
func (s StepOutcome) MarshalJSON() ([]byte, error) {
	type alias StepOutcome
	return json.Marshal(struct {
		alias
		DurationMS int64 `json:"durationMs"`
	}{alias(s), s.Duration.Milliseconds()})
}

// Run is the record of one pipeline invocation. Steps holds one outcome per
// attempted stage; a failed run stops at its first failure, so the last
// outcome is the failed one.
type Run struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	State      State         `json:"state"`
	Steps      []StepOutcome `json:"-"`
	Log        []string      `json:"steps"`
	Success    bool          `json:"success"`
	FailedStep Stage         `json:"failedStep,omitempty"`
	ErrorKind  errors.Kind   `json:"errorKind,omitempty"`
	Detail     string        `json:"detail,omitempty"`

	scratch string
}

// MarshalJSON adds stepResults keyed by stage.
func (r *Run) MarshalJSON() ([]byte, error) {
	type alias Run
	results := make(map[Stage]StepOutcome, len(r.Steps))
	for _, s := range r.Steps {
		results[s.Stage] = s
	}
	return json.Marshal(struct {
		*alias
		StepResults map[Stage]StepOutcome `json:"stepResults"`
	}{(*alias)(r), results})
}

// Outcome returns the outcome for stage, if it was attempted.
func (r *Run) Outcome(stage Stage) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.Stage == stage {
			return s, true
		}
	}
	return StepOutcome{}, false
}

func (r *Run) logf(line string) {
	r.Log = append(r.Log, line)
}

// Fail marks the run failed at stage.
func (r *Run) Fail(stage Stage, err error) {
	r.State = StateFailed
	r.Success = false
	r.FailedStep = stage
	r.ErrorKind = errors.KindOf(err)
	r.Detail = errors.DetailOf(err)
	if err == nil {
		return
	}
	if r.Detail == "" {
		r.Detail = err.Error()
	}
	r.logf("error: " + err.Error())
}

// Record converts the run into its persisted summary.
func (r *Run) Record(finished time.Time) *db.RunRecord {
	state := db.RunFailed
	if r.Success {
		state = db.RunSucceeded
	}
	return &db.RunRecord{
		ID:         r.ID,
		State:      state,
		Steps:      len(r.Steps),
		FailedStep: string(r.FailedStep),
		ErrorKind:  string(r.ErrorKind),
		Detail:     r.Detail,
		DurationMS: finished.Sub(r.Timestamp).Milliseconds(),
		StartedAt:  r.Timestamp,
	}
}
