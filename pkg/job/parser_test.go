package job

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavakit/lavarun/pkg/joberrors"
)

const testDefinition = `
job_name: qemu smoke
priority: medium
timeouts:
  job:
    minutes: 10
  action:
    minutes: 5
actions:
  - deploy:
      to: tmpfs
      images:
        rootfs:
          url: http://example.com/rootfs.img
  - boot:
      method: qemu
      prompts:
        - "login:"
  - test:
      steps:
        - "true"
`

const testDevice = `
device_type: qemu
commands:
  connect: telnet localhost 4002
parameters:
  arch: x86_64
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeFixtures(t *testing.T) (defPath, devPath string) {
	t.Helper()
	dir := t.TempDir()
	return writeFile(t, dir, "job.yaml", testDefinition),
		writeFile(t, dir, "device.yaml", testDevice)
}

func TestParse(t *testing.T) {
	defPath, devPath := writeFixtures(t)

	j, err := Parse(defPath, devPath, Options{ID: "4212"})
	require.NoError(t, err)

	assert.Equal(t, "4212", j.ID)
	assert.Equal(t, "qemu smoke", j.Definition.JobName)
	assert.Equal(t, "qemu", j.Device.DeviceType)
	assert.Len(t, j.pipeline, 3)
	assert.Equal(t, "deploy-0", j.pipeline[0].name)
	assert.Equal(t, "boot-1", j.pipeline[1].name)
	assert.Equal(t, "test-2", j.pipeline[2].name)
	require.NoError(t, j.Validate())
}

func TestParseFailureClassification(t *testing.T) {
	defPath, devPath := writeFixtures(t)
	dir := t.TempDir()
	badYAML := writeFile(t, dir, "bad.yaml", "actions: [\n")
	absent := filepath.Join(dir, "absent.yaml")

	t.Run("missing definition is a job error", func(t *testing.T) {
		_, err := Parse(absent, devPath, Options{})
		var jerr *joberrors.JobError
		require.ErrorAs(t, err, &jerr)
	})

	t.Run("malformed definition is a job error", func(t *testing.T) {
		_, err := Parse(badYAML, devPath, Options{})
		var jerr *joberrors.JobError
		require.ErrorAs(t, err, &jerr)
	})

	t.Run("missing device is an infrastructure error", func(t *testing.T) {
		_, err := Parse(defPath, absent, Options{})
		var ierr *joberrors.InfrastructureError
		require.ErrorAs(t, err, &ierr)
	})

	t.Run("malformed device is a configuration error", func(t *testing.T) {
		_, err := Parse(defPath, badYAML, Options{})
		var cerr *joberrors.ConfigurationError
		require.ErrorAs(t, err, &cerr)
	})
}

func TestParseOverlays(t *testing.T) {
	defPath, devPath := writeFixtures(t)
	dir := t.TempDir()

	dispatcher := writeFile(t, dir, "dispatcher.yaml", "prefix: disp1\nenv:\n  FOO: bar\n")
	env := writeFile(t, dir, "env.yaml", "purge: true\noverrides:\n  BAZ: qux\n")

	j, err := Parse(defPath, devPath, Options{
		DispatcherConfig: dispatcher,
		EnvOverlay:       env,
	})
	require.NoError(t, err)

	require.NotNil(t, j.Dispatcher)
	assert.Equal(t, "disp1", j.Dispatcher.Prefix)
	assert.Equal(t, "bar", j.Dispatcher.Env["FOO"])

	require.NotNil(t, j.Env)
	assert.True(t, j.Env.Purge)
	assert.Equal(t, "qux", j.Env.Overrides["BAZ"])

	cmdEnv := j.commandEnv()
	assert.Contains(t, cmdEnv, "FOO=bar")
	assert.Contains(t, cmdEnv, "BAZ=qux")
	// purge drops the inherited process environment
	assert.NotContains(t, cmdEnv, "PATH="+os.Getenv("PATH"))
}

func TestParseOverlayUnknownKeys(t *testing.T) {
	defPath, devPath := writeFixtures(t)
	dir := t.TempDir()
	overlay := writeFile(t, dir, "env.yaml", "overrides:\n  A: b\nsurprise: true\n")

	_, err := Parse(defPath, devPath, Options{EnvOverlay: overlay})
	var cerr *joberrors.ConfigurationError
	require.ErrorAs(t, err, &cerr)
}

func TestParseMissingOverlayFile(t *testing.T) {
	defPath, devPath := writeFixtures(t)

	_, err := Parse(defPath, devPath, Options{EnvOverlay: filepath.Join(t.TempDir(), "none.yaml")})
	var ierr *joberrors.InfrastructureError
	require.ErrorAs(t, err, &ierr)
}
