package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/lavakit/lavarun/pkg/joberrors"
	"github.com/lavakit/lavarun/pkg/logsink"
)

// Job is the in-memory executable representation of one run. It is
// owned by a single lifecycle controller and never shared across runs.
type Job struct {
	ID         string
	Definition *Definition
	Device     *Device
	Dispatcher *DispatcherConfig
	Env        *EnvOverlay

	pipeline []step
}

// step is one executable stage of the pipeline.
type step struct {
	name    string
	kind    string
	timeout time.Duration
	run     func(ctx context.Context, sink logsink.Sink) error
}

// buildPipeline mirrors the action list into ordered executable steps.
// Deploy and boot execution is device-specific and delegated to the
// device's command set; their steps here record progress and honor
// the per-action budget. Inline test steps run through the host shell.
func (j *Job) buildPipeline() {
	defaultTimeout := j.Definition.Timeouts.Action.Duration()

	for i, action := range j.Definition.Actions {
		kind, err := action.Kind()
		if err != nil {
			// Validate reports this; keep the slot so indices stay
			// aligned with the definition.
			kerr := err
			idx := i
			j.pipeline = append(j.pipeline, step{
				name: fmt.Sprintf("action-%d", i),
				kind: "invalid",
				run: func(ctx context.Context, sink logsink.Sink) error {
					return &joberrors.JobError{Msg: fmt.Sprintf("action %d", idx), Err: kerr}
				},
			})
			continue
		}

		name := fmt.Sprintf("%s-%d", kind, i)
		st := step{name: name, kind: kind, timeout: defaultTimeout}

		switch kind {
		case "deploy":
			deploy := action.Deploy
			if t := deploy.Timeout.Duration(); t > 0 {
				st.timeout = t
			}
			st.run = func(ctx context.Context, sink logsink.Sink) error {
				sink.Info("deploy", zap.String("to", deploy.To), zap.Int("images", len(deploy.Images)))
				return ctx.Err()
			}
		case "boot":
			boot := action.Boot
			if t := boot.Timeout.Duration(); t > 0 {
				st.timeout = t
			}
			st.run = func(ctx context.Context, sink logsink.Sink) error {
				sink.Info("boot", zap.String("method", boot.Method))
				return ctx.Err()
			}
		case "test":
			test := action.Test
			if t := test.Timeout.Duration(); t > 0 {
				st.timeout = t
			}
			st.run = func(ctx context.Context, sink logsink.Sink) error {
				return j.runTest(ctx, sink, test)
			}
		}

		j.pipeline = append(j.pipeline, st)
	}
}

// Describe returns the nested description of the planned run. The
// tree contains only plain mappings, sequences and scalars so it can
// be serialized without reference to this program's types.
func (j *Job) Describe() map[string]any {
	pipeline := make([]any, 0, len(j.pipeline))
	for _, st := range j.pipeline {
		entry := map[string]any{
			"name": st.name,
			"kind": st.kind,
		}
		if st.timeout > 0 {
			entry["timeout"] = st.timeout.String()
		}
		pipeline = append(pipeline, entry)
	}

	desc := map[string]any{
		"job": map[string]any{
			"id":       j.ID,
			"name":     j.Definition.JobName,
			"priority": j.Definition.Priority,
		},
		"device": map[string]any{
			"device_type": j.Device.DeviceType,
			"parameters":  j.Device.Parameters,
		},
		"pipeline": pipeline,
	}
	return desc
}

// Validate checks the job for internal consistency without side
// effects. Run is skipped when Validate fails.
func (j *Job) Validate() error {
	if len(j.Definition.Actions) == 0 {
		return &joberrors.JobError{Msg: "job definition contains no actions"}
	}
	if j.Device.DeviceType == "" {
		return &joberrors.ConfigurationError{Msg: "device configuration has no device_type"}
	}
	for i, action := range j.Definition.Actions {
		kind, err := action.Kind()
		if err != nil {
			return &joberrors.JobError{Msg: fmt.Sprintf("action %d", i), Err: err}
		}
		if kind == "test" {
			for _, s := range action.Test.Steps {
				if s == "" {
					return &joberrors.JobError{Msg: fmt.Sprintf("action %d contains an empty test step", i)}
				}
			}
		}
	}
	if j.Definition.Timeouts.Job.Minutes < 0 || j.Definition.Timeouts.Job.Seconds < 0 {
		return &joberrors.ConfigurationError{Msg: "negative job timeout"}
	}
	return nil
}

// Run executes the pipeline sequentially. The context carries the
// cancellation raised by the lifecycle controller; a canceled context
// stops the pipeline between steps and interrupts a running test
// command.
func (j *Job) Run(ctx context.Context, sink logsink.Sink) error {
	if t := j.Definition.Timeouts.Job.Duration(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	for _, st := range j.pipeline {
		if err := ctx.Err(); err != nil {
			return err
		}
		sink.Info("start: "+st.name, zap.String("kind", st.kind))

		stepCtx := ctx
		if st.timeout > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, st.timeout)
			defer cancel()
		}

		if err := st.run(stepCtx, sink); err != nil {
			// A parent cancellation is not the step's failure.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return &joberrors.JobError{Msg: st.name + " timed out"}
			}
			return err
		}
		sink.Info("end: " + st.name)
	}
	return nil
}

// runTest executes inline shell steps through the host shell with the
// job's environment overlay applied.
func (j *Job) runTest(ctx context.Context, sink logsink.Sink, test *TestAction) error {
	for _, def := range test.Definitions {
		sink.Info("test definition", zap.String("repository", def.Repository), zap.String("name", def.Name))
	}

	env := j.commandEnv()
	for _, line := range test.Steps {
		sink.Debug("step", zap.String("command", line))
		cmd := exec.CommandContext(ctx, "sh", "-c", line)
		cmd.Env = env
		out, err := cmd.CombinedOutput()
		if len(out) > 0 {
			sink.Info(string(out))
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &joberrors.TestError{Msg: fmt.Sprintf("test step failed: %s", line), Err: err}
		}
	}
	return nil
}

// commandEnv builds the environment for spawned commands from the
// process environment, the dispatcher overlay and the job overlay.
func (j *Job) commandEnv() []string {
	var env []string
	if j.Env == nil || !j.Env.Purge {
		env = os.Environ()
	}
	if j.Dispatcher != nil {
		for k, v := range j.Dispatcher.Env {
			env = append(env, k+"="+v)
		}
	}
	if j.Env != nil {
		for k, v := range j.Env.Overrides {
			env = append(env, k+"="+v)
		}
	}
	return env
}
