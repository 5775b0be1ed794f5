// Package runner drives one job through its lifecycle: setup, parse,
// describe, validate, execute, and a finalization pass that always
// runs exactly once.
//
// The contract is deterministic reporting regardless of how the run
// ends: every exit path leaves one outcome record in the sink and one
// description artifact on disk.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/lavakit/lavarun/pkg/describe"
	"github.com/lavakit/lavarun/pkg/job"
	"github.com/lavakit/lavarun/pkg/joberrors"
	"github.com/lavakit/lavarun/pkg/logsink"
)

// DescriptionFile is the fixed artifact name written into the output
// directory on every run. Its absence after a run marks a failure
// that escaped the classification path.
const DescriptionFile = "description.yaml"

// Config carries one run's inputs.
type Config struct {
	JobID          string
	OutputDir      string
	DefinitionPath string
	DevicePath     string
	DispatcherPath string
	EnvPath        string
	ValidateOnly   bool
}

// Runner is the job lifecycle controller.
type Runner struct {
	cfg       Config
	sink      logsink.Sink
	outputDir string
}

// New builds a runner around an established sink. The sink must
// already be usable; failures before the sink exists are the caller's
// to report.
func New(cfg Config, sink logsink.Sink) *Runner {
	return &Runner{cfg: cfg, sink: sink, outputDir: cfg.OutputDir}
}

// Run drives the job to completion and finalizes. It returns the
// process exit status: 0 on success, 1 on any failure.
func (r *Runner) Run(ctx context.Context) int {
	cancel := NewCancelController()
	ctx = cancel.Arm(ctx)
	defer cancel.Disarm()

	var description string
	err := r.phases(ctx, &description)

	// Classification happens here, once, at the top of the lifecycle.
	// A cancellation raised by the controller outranks whatever error
	// the interrupted phase surfaced.
	var cls *joberrors.Classification
	if cerr := cancel.Err(); cerr != nil {
		c := joberrors.Classify(cerr)
		cls = &c
	} else if err != nil {
		c := joberrors.Classify(err)
		cls = &c
	}

	return r.finalize(cls, description)
}

// phases runs setup, parse, describe, validate and execute in order,
// short-circuiting on the first failure. A panic in any phase is
// recovered, traced to the sink and classified as a bug, so the
// controller never crashes the process silently.
func (r *Runner) phases(ctx context.Context, description *string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.sink.Error("unhandled panic during job run",
				zap.Any("panic", p),
				zap.String("traceback", string(debug.Stack())))
			err = &joberrors.Bug{Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	// Setup: resolve and create the output directory. Pre-existence
	// is not an error; anything else is fatal infrastructure.
	abs, aerr := filepath.Abs(r.cfg.OutputDir)
	if aerr != nil {
		return &joberrors.InfrastructureError{Msg: "cannot resolve output directory", Err: aerr}
	}
	r.outputDir = abs
	if mkerr := os.MkdirAll(abs, 0o755); mkerr != nil {
		return &joberrors.InfrastructureError{Msg: "cannot create output directory", Err: mkerr}
	}

	r.sink.Info("start",
		zap.String("job_id", r.cfg.JobID),
		zap.String("output_dir", abs),
		zap.String("definition", r.cfg.DefinitionPath))

	// Parse. Signal handlers are already armed, so a cancellation
	// landing here is still classified correctly.
	j, perr := job.Parse(r.cfg.DefinitionPath, r.cfg.DevicePath, job.Options{
		ID:               r.cfg.JobID,
		DispatcherConfig: r.cfg.DispatcherPath,
		EnvOverlay:       r.cfg.EnvPath,
	})
	if perr != nil {
		return perr
	}

	// Describe before validate so the artifact reflects what would
	// have run even when later phases fail.
	*description = describe.Render(j.Describe())

	if verr := j.Validate(); verr != nil {
		return verr
	}

	if r.cfg.ValidateOnly {
		r.sink.Info("validation complete, skipping execution")
		return nil
	}

	return j.Run(ctx, r.sink)
}

// finalize reports the outcome, closes the sink and writes the
// description artifact, in that fixed order. It runs exactly once per
// run on every exit path.
func (r *Runner) finalize(cls *joberrors.Classification, description string) int {
	if rerr := reportOutcome(r.sink, cls); rerr != nil {
		// The outcome record and the artifact are independent
		// outputs; a failed emit must not block the artifact write.
		fmt.Fprintf(os.Stderr, "lavarun: failed to report results: %v\n", rerr)
	}

	if cerr := r.sink.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "lavarun: failed to close log sink: %v\n", cerr)
	}

	path := filepath.Join(r.outputDir, DescriptionFile)
	if werr := os.WriteFile(path, []byte(description), 0o644); werr != nil {
		fmt.Fprintf(os.Stderr, "lavarun: failed to write %s: %v\n", path, werr)
		return 1
	}

	if cls != nil {
		return 1
	}
	return 0
}
