package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPIDReturnsZeroWhenFileAbsent(t *testing.T) {
	pid, err := readPID(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, pid)
}

func TestWriteAndReadPIDRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writePIDFile(dir))

	pid, err := readPID(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestRemovePIDFileClearsIt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writePIDFile(dir))
	removePIDFile(dir)

	pid, err := readPID(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, pid)
}

func TestIsRunningTrueForSelf(t *testing.T) {
	assert.True(t, isRunning(os.Getpid()))
}

func TestIsRunningFalseForInvalidPID(t *testing.T) {
	assert.False(t, isRunning(0))
	assert.False(t, isRunning(-1))
}
