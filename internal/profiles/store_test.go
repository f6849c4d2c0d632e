/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package profiles

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/debugbridge/internal/debughost"
	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/pkg/testutil"
)

const sampleProfiles = `
profiles:
  - name: app
    type: go
    arguments:
      program: ./cmd/app
      stopOnEntry: true
  - name: worker
    type: go
    request: attach
    arguments:
      processId: 4242
`

func TestParse(t *testing.T) {
	t.Parallel()

	parsed, parseErr := Parse([]byte(sampleProfiles))
	require.NoError(t, parseErr)
	require.Len(t, parsed, 2)

	assert.Equal(t, "app", parsed[0].Name)
	assert.Equal(t, debughost.RequestLaunch, parsed[0].Request, "request should default to launch")
	assert.Equal(t, "./cmd/app", parsed[0].Arguments["program"])
	assert.Equal(t, true, parsed[0].Arguments["stopOnEntry"])
	assert.Equal(t, debughost.RequestAttach, parsed[1].Request)
}

func TestParseRejectsInvalidProfiles(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing name":   "profiles:\n  - type: go\n",
		"missing type":   "profiles:\n  - name: app\n",
		"duplicate name": "profiles:\n  - {name: app, type: go}\n  - {name: app, type: go}\n",
		"bad request":    "profiles:\n  - {name: app, type: go, request: restart}\n",
		"not yaml":       "profiles: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, parseErr := Parse([]byte(content))
			require.Error(t, parseErr)
		})
	}
}

func TestStoreLookup(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfiles), 0600))

	store, loadErr := Load(path)
	require.NoError(t, loadErr)
	assert.Equal(t, []string{"app", "worker"}, store.Names())

	worker, getErr := store.Get("worker")
	require.NoError(t, getErr)
	assert.Equal(t, "worker", worker.Name)

	_, getErr = store.Get("missing")
	require.ErrorIs(t, getErr, protocol.ErrNotFound)
	assert.Equal(t, "profile 'missing' not found", getErr.Error())

	def, defErr := store.Default()
	require.NoError(t, defErr)
	assert.Equal(t, "app", def.Name)

	_, defErr = NewStore(nil).Default()
	require.ErrorIs(t, defErr, protocol.ErrNotFound)
}

func TestMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, loadErr := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, loadErr)
	assert.Empty(t, store.List())
}

func TestReloadKeepsProfilesOnError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfiles), 0600))
	store, loadErr := Load(path)
	require.NoError(t, loadErr)

	require.NoError(t, os.WriteFile(path, []byte("profiles: ["), 0600))
	changed, reloadErr := store.Reload()
	require.Error(t, reloadErr)
	assert.False(t, changed)
	assert.Equal(t, []string{"app", "worker"}, store.Names())

	changed, reloadErr = store.Reload()
	require.Error(t, reloadErr)
	assert.False(t, changed)
}

func TestWatchReportsChanges(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	store, loadErr := Load(path)
	require.NoError(t, loadErr)

	changes := make(chan []string, 10)
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- store.Watch(ctx, testutil.NewTestLog(t), func(names []string) { changes <- names })
	}()

	// The watcher may not be registered yet when the first write happens, so keep writing until it notices.
	var names []string
	require.Eventually(t, func() bool {
		select {
		case names = <-changes:
			return true
		default:
			_ = os.WriteFile(path, []byte(sampleProfiles), 0600)
			return false
		}
	}, 10*time.Second, 200*time.Millisecond)
	assert.Equal(t, []string{"app", "worker"}, names)

	cancel()
	select {
	case watchErr := <-watchDone:
		require.NoError(t, watchErr)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}
