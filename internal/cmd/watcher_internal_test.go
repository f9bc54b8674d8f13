package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConfWrite(t *testing.T) {
	t.Parallel()

	const name = "/etc/dhcp/AdGuardDHCP.yaml"

	testCases := []struct {
		event fsnotify.Event
		name  string
		want  bool
	}{{
		event: fsnotify.Event{Name: name, Op: fsnotify.Write},
		name:  "write",
		want:  true,
	}, {
		event: fsnotify.Event{Name: name, Op: fsnotify.Create},
		name:  "create",
		want:  true,
	}, {
		event: fsnotify.Event{Name: name, Op: fsnotify.Chmod},
		name:  "chmod",
		want:  false,
	}, {
		event: fsnotify.Event{Name: "/etc/dhcp/other.yaml", Op: fsnotify.Write},
		name:  "other_file",
		want:  false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, isConfWrite(tc.event, name))
		})
	}
}

func TestConfWatcher(t *testing.T) {
	t.Parallel()

	fileName := filepath.Join(t.TempDir(), "AdGuardDHCP.yaml")
	require.NoError(t, os.WriteFile(fileName, []byte("server: {}\n"), 0o600))

	w, err := newConfWatcher(slogutil.NewDiscardLogger(), fileName)
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, w.Start(ctx))
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return w.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	require.NoError(t, os.WriteFile(fileName, []byte("server: {}\nlog: {}\n"), 0o600))

	testutil.RequireReceive(t, w.Events(), testTimeout)
}
