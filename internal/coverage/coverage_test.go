package coverage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewControllerFromEnvDisabledWhenUnset(t *testing.T) {
	os.Unsetenv("SHMSZ")
	c, err := NewControllerFromEnv()
	require.NoError(t, err)
	require.False(t, c.Enabled())
}

func TestNewControllerFromEnvFeedbackMode(t *testing.T) {
	t.Setenv("SHMSZ", "4096")
	t.Setenv("COVFEEDBACK", "1")
	t.Setenv("COVCOLLECTDIR", "")

	c, err := NewControllerFromEnv()
	require.NoError(t, err)
	require.True(t, c.Enabled())
	require.Equal(t, ModeFeedback, c.Mode)
	defer c.Close()
}

func TestDiffBitmapReportsNewCoverageOnce(t *testing.T) {
	t.Setenv("SHMSZ", "4096")
	t.Setenv("COVFEEDBACK", "1")
	t.Setenv("COVCOLLECTDIR", "")

	c, err := NewControllerFromEnv()
	require.NoError(t, err)
	defer c.Close()

	c.Region.Bytes()[10] = 1
	newCov, err := c.PostExecute(1234)
	require.NoError(t, err)
	require.True(t, newCov)

	// Same byte again: no new coverage.
	newCov, err = c.PostExecute(1234)
	require.NoError(t, err)
	require.False(t, newCov)

	// A different byte: new coverage again.
	c.Region.Bytes()[20] = 1
	newCov, err = c.PostExecute(1234)
	require.NoError(t, err)
	require.True(t, newCov)
}

func TestDumpModeWritesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHMSZ", "256")
	t.Setenv("COVCOLLECTDIR", dir)

	c, err := NewControllerFromEnv()
	require.NoError(t, err)
	require.Equal(t, ModeDump, c.Mode)
	defer c.Close()

	c.PreExecute()

	buf := c.Region.Bytes()
	buf[0] = 2 // nentries = 2
	buf[16] = 0xAA
	buf[24] = 0xBB

	newCov, err := c.PostExecute(999)
	require.NoError(t, err)
	require.False(t, newCov)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDumpModeSkipsWhenNoEntries(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHMSZ", "256")
	t.Setenv("COVCOLLECTDIR", dir)

	c, err := NewControllerFromEnv()
	require.NoError(t, err)
	defer c.Close()

	_, err = c.PostExecute(1)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 0)
}
