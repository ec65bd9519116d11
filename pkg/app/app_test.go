package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/sessionlock"
)

func TestNew_BuildsAndClosesCleanly(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	a, err := New(ctx, Options{
		ProjectRoot: root,
		Interface:   sessionlock.InterfaceCLI,
		Mode:        sessionlock.ModeWrite,
		Version:     "test",
	})
	require.NoError(t, err)

	// The write lock is held while the app is up.
	state := a.Lock.GetLockState()
	assert.Equal(t, sessionlock.ModeWrite, state.Mode)
	assert.Equal(t, sessionlock.InterfaceCLI, state.Holder)

	// The state store and token are created under .gao-dev.
	_, err = os.Stat(filepath.Join(root, ".gao-dev", "state.db"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, ".gao-dev", "session.token"))
	assert.NoError(t, err)

	require.NoError(t, a.Close())
	assert.Equal(t, sessionlock.ModeNone, a.Lock.GetLockState().Mode)
}

func TestNew_ReclaimsStaleLockOnBoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, filepath.FromSlash(sessionlock.LockFileName))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	// PID 1 is never this process; use an implausible dead PID instead.
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"interface":"web","mode":"write","pid":999999999,"timestamp":"2026-01-01T00:00:00Z"}`),
		0o644))

	a, err := New(context.Background(), Options{
		ProjectRoot: root,
		Interface:   sessionlock.InterfaceCLI,
		Mode:        sessionlock.ModeWrite,
	})
	require.NoError(t, err, "a stale lock must not block startup")
	require.NoError(t, a.Close())
}

func TestNew_ReadModeNeedsNoLockFile(t *testing.T) {
	root := t.TempDir()

	a, err := New(context.Background(), Options{
		ProjectRoot: root,
		Interface:   sessionlock.InterfaceWeb,
		Mode:        sessionlock.ModeRead,
	})
	require.NoError(t, err)
	defer a.Close()

	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(sessionlock.LockFileName)))
	assert.True(t, os.IsNotExist(err), "read mode must not create a lock file")
}
