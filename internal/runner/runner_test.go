package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lavakit/lavarun/pkg/joberrors"
)

const testDefinition = `
job_name: qemu smoke
actions:
  - deploy:
      to: tmpfs
  - boot:
      method: qemu
  - test:
      steps:
        - "true"
`

const testDevice = `
device_type: qemu
parameters:
  arch: x86_64
`

// event is one recorded sink call, in arrival order.
type event struct {
	kind string // "log" or "results"
	msg  string
	rec  map[string]any
}

// testSink records every call so tests can assert on ordering.
type testSink struct {
	mu          sync.Mutex
	events      []event
	closed      bool
	panicOnInfo bool
}

func (s *testSink) log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{kind: "log", msg: msg})
}

func (s *testSink) Debug(msg string, _ ...zap.Field) { s.log(msg) }
func (s *testSink) Warn(msg string, _ ...zap.Field)  { s.log(msg) }
func (s *testSink) Error(msg string, _ ...zap.Field) { s.log(msg) }

func (s *testSink) Info(msg string, _ ...zap.Field) {
	if s.panicOnInfo {
		s.panicOnInfo = false
		panic("sink wiring defect: " + msg)
	}
	s.log(msg)
}

func (s *testSink) Results(record map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{kind: "results", rec: record})
	return nil
}

func (s *testSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *testSink) resultRecords() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, e := range s.events {
		if e.kind == "results" {
			out = append(out, e.rec)
		}
	}
	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestConfig(t *testing.T, definition string) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		JobID:          "4212",
		OutputDir:      filepath.Join(dir, "out"),
		DefinitionPath: writeFile(t, dir, "job.yaml", definition),
		DevicePath:     writeFile(t, dir, "device.yaml", testDevice),
	}
}

func readDescription(t *testing.T, cfg Config) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, DescriptionFile))
	require.NoError(t, err)
	return string(data)
}

func TestRunPass(t *testing.T) {
	sink := &testSink{}
	cfg := newTestConfig(t, testDefinition)

	exit := New(cfg, sink).Run(context.Background())
	assert.Equal(t, 0, exit)

	records := sink.resultRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "lava", records[0]["definition"])
	assert.Equal(t, "job", records[0]["case"])
	assert.Equal(t, "pass", records[0]["result"])
	assert.NotContains(t, records[0], "error_msg")
	assert.True(t, sink.closed)

	desc := readDescription(t, cfg)
	assert.Contains(t, desc, "qemu smoke")
	assert.Contains(t, desc, "pipeline:")
}

func TestRunParseFailure(t *testing.T) {
	sink := &testSink{}
	cfg := newTestConfig(t, testDefinition)
	cfg.DefinitionPath = filepath.Join(t.TempDir(), "absent.yaml")

	exit := New(cfg, sink).Run(context.Background())
	assert.Equal(t, 1, exit)

	records := sink.resultRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "fail", records[0]["result"])
	assert.Equal(t, "Job", records[0]["error_type"])

	// The artifact is still written, empty because describing never ran.
	assert.Equal(t, "", readDescription(t, cfg))
}

func TestRunValidateFailure(t *testing.T) {
	sink := &testSink{}
	cfg := newTestConfig(t, "job_name: empty\nactions: []\n")

	exit := New(cfg, sink).Run(context.Background())
	assert.Equal(t, 1, exit)

	records := sink.resultRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "Job", records[0]["error_type"])

	// Describe ran before validation failed, so the artifact reflects
	// what would have run.
	assert.Contains(t, readDescription(t, cfg), "empty")
}

func TestRunValidateOnlySkipsExecution(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	definition := `
job_name: validate only
actions:
  - test:
      steps:
        - touch ` + marker + `
`
	sink := &testSink{}
	cfg := newTestConfig(t, definition)
	cfg.ValidateOnly = true

	exit := New(cfg, sink).Run(context.Background())
	assert.Equal(t, 0, exit)
	assert.Equal(t, "pass", sink.resultRecords()[0]["result"])

	assert.NotEmpty(t, readDescription(t, cfg))
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "execution phase must be skipped")
}

func TestRunExistingOutputDir(t *testing.T) {
	sink := &testSink{}
	cfg := newTestConfig(t, testDefinition)
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0o755))

	exit := New(cfg, sink).Run(context.Background())
	assert.Equal(t, 0, exit)
	assert.Equal(t, "pass", sink.resultRecords()[0]["result"])
}

func TestRunOutputDirCreationFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := writeFile(t, dir, "blocker", "not a directory")

	sink := &testSink{}
	cfg := newTestConfig(t, testDefinition)
	cfg.OutputDir = filepath.Join(blocker, "out")

	exit := New(cfg, sink).Run(context.Background())
	assert.Equal(t, 1, exit)

	records := sink.resultRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "fail", records[0]["result"])
	assert.Equal(t, "Infrastructure", records[0]["error_type"])
}

func TestRunPanicClassifiedAsBug(t *testing.T) {
	sink := &testSink{panicOnInfo: true}
	cfg := newTestConfig(t, testDefinition)

	exit := New(cfg, sink).Run(context.Background())
	assert.Equal(t, 1, exit)

	records := sink.resultRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "fail", records[0]["result"])
	assert.Equal(t, "LAVABug", records[0]["error_type"])
	assert.Contains(t, records[0]["error_msg"], "sink wiring defect")

	// The diagnostic trace reaches the sink before the outcome record.
	traceIdx, resultsIdx := -1, -1
	for i, e := range sink.events {
		if e.kind == "log" && strings.Contains(e.msg, "unhandled panic") && traceIdx == -1 {
			traceIdx = i
		}
		if e.kind == "results" {
			resultsIdx = i
		}
	}
	require.NotEqual(t, -1, traceIdx)
	require.NotEqual(t, -1, resultsIdx)
	assert.Less(t, traceIdx, resultsIdx)
}

func TestRunCanceledBySignal(t *testing.T) {
	definition := `
job_name: long haul
actions:
  - test:
      steps:
        - sleep 30
`
	sink := &testSink{}
	cfg := newTestConfig(t, definition)

	done := make(chan int, 1)
	go func() {
		done <- New(cfg, sink).Run(context.Background())
	}()

	// Let the run reach the sleeping test step before signaling.
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case exit := <-done:
		assert.Equal(t, 1, exit)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not terminate after cancellation signal")
	}

	records := sink.resultRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "fail", records[0]["result"])
	assert.Equal(t, "Canceled", records[0]["error_type"])
	assert.Equal(t, "The job was canceled", records[0]["error_msg"])

	assert.NotEmpty(t, readDescription(t, cfg))
}

func TestBuildOutcome(t *testing.T) {
	t.Run("pass", func(t *testing.T) {
		rec := buildOutcome(nil)
		assert.Equal(t, map[string]any{
			"definition": "lava",
			"case":       "job",
			"result":     "pass",
		}, rec)
	})

	t.Run("fail", func(t *testing.T) {
		cls := joberrors.Classify(&joberrors.InfrastructureError{Msg: "host down"})
		rec := buildOutcome(&cls)
		assert.Equal(t, "fail", rec["result"])
		assert.Equal(t, "host down", rec["error_msg"])
		assert.Equal(t, "Infrastructure", rec["error_type"])
	})
}
