package lockfile_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubeportal/pkg/lockfile"
)

func TestPath(t *testing.T) {
	assert.Equal(t, "/tmp/kubeportal-50051.lock", lockfile.Path("/tmp", 50051))
}

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kubeportal-50051.lock")

	lock, err := lockfile.Acquire(path)
	require.NoError(t, err)
	require.NotNil(t, lock)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, lock.Release())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireAllowsLiveOwnerNotNamedKubeportal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kubeportal-50051.lock")

	// This test process is not named kubeportal(d), so a stale file holding
	// our own PID must not block re-acquisition -- only a live process
	// whose name contains "kubeportal" refuses startup.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	lock, err := lockfile.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireAllowsStaleDeadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kubeportal-50051.lock")

	// PID 1 would collide with init/launchd; instead pick a PID unlikely to
	// be alive by using a very large, almost certainly unassigned value.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o644))

	lock, err := lockfile.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}
