package runner

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavakit/lavarun/pkg/joberrors"
)

func TestCancelControllerEscalation(t *testing.T) {
	c := NewCancelController()
	ctx := c.Arm(context.Background())
	defer c.Disarm()

	require.NoError(t, c.Err())

	c.trip()
	err := c.Err()
	require.Error(t, err)
	assert.Equal(t, "The job was canceled", err.Error())
	assert.Equal(t, joberrors.KindCanceled, joberrors.Classify(err).Kind)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("run context not canceled after first signal")
	}

	// Escalation is a one-way ratchet: every further signal reports
	// the terminal double-cancel posture.
	c.trip()
	assert.Equal(t, "The job was canceled again (too long to cancel)", c.Err().Error())
	c.trip()
	assert.Equal(t, "The job was canceled again (too long to cancel)", c.Err().Error())
	assert.Equal(t, joberrors.KindCanceled, joberrors.Classify(c.Err()).Kind)
}

func TestCancelControllerSignalDelivery(t *testing.T) {
	c := NewCancelController()
	ctx := c.Arm(context.Background())
	defer c.Disarm()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not cancel the run context")
	}
	assert.Equal(t, "The job was canceled", c.Err().Error())
}

func TestCancelControllerDisarmIdempotent(t *testing.T) {
	c := NewCancelController()
	_ = c.Arm(context.Background())
	c.Disarm()
	c.Disarm()
}
