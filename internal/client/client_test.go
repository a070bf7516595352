package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_IdleState(t *testing.T) {
	s := NewSession()

	assert.Equal(t, int32(0), s.IsRunning())
	assert.Equal(t, StatusNotRunning, s.Stop())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done must not block on an idle session")
	}
}

func TestSession_StartRunsWorkerToCompletion(t *testing.T) {
	s := NewSession()

	require.Equal(t, StatusOK, s.Start(`{"bad json`))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish")
	}

	assert.Equal(t, int32(0), s.IsRunning())
	assert.Equal(t, 1, s.ExitCode(), "setup failures exit with code 1")
}

func TestSession_StopAfterCompletionIsNotRunning(t *testing.T) {
	s := NewSession()
	require.Equal(t, StatusOK, s.Start(`{}`))
	<-s.Done()

	assert.Equal(t, StatusNotRunning, s.Stop())
}

func TestSession_Restartable(t *testing.T) {
	s := NewSession()

	require.Equal(t, StatusOK, s.Start(`{}`))
	<-s.Done()
	require.Equal(t, StatusOK, s.Start(`{}`))
	<-s.Done()

	assert.Equal(t, int32(0), s.IsRunning())
}
