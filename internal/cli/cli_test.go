package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksync/internal/config"
	"stocksync/internal/model"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "syncctl", cmd.Use)

	for _, name := range []string{"migrate", "replicas", "catalog-sync", "bulk-push", "cleanup", "conflicts"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestParseReplicaFile(t *testing.T) {
	f, err := ParseReplicaFile(strings.NewReader(`
replicas:
  - domain: " Alpha.myshopify.com "
    credential_ref: tok-a
  - domain: bravo.myshopify.com
    sync_enabled: false
`))
	require.NoError(t, err)
	require.Len(t, f.Replicas, 2)
	assert.Equal(t, "alpha.myshopify.com", f.Replicas[0].Domain)

	a := f.Replicas[0].replica()
	assert.True(t, a.Active)
	assert.True(t, a.SyncEnabled)
	assert.Equal(t, "tok-a", a.CredentialRef)
	b := f.Replicas[1].replica()
	assert.True(t, b.Active)
	assert.False(t, b.SyncEnabled)

	tests := map[string]string{
		"missing domain": "replicas:\n  - credential_ref: x\n",
		"duplicate":      "replicas:\n  - domain: a.myshopify.com\n  - domain: A.myshopify.com\n",
		"unknown key":    "replicas:\n  - domain: a.myshopify.com\n    token: x\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseReplicaFile(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}

	empty, err := ParseReplicaFile(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.Replicas)
}

// testOptions points the CLI at a fresh SQLite store with in-process backends.
func testOptions(t *testing.T) *RootOptions {
	t.Helper()
	t.Setenv("STORE_DB_TYPE", "sqlite")
	t.Setenv("STORE_DB_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("CACHE_TYPE", "memory")
	t.Setenv("QUEUE_TYPE", "inline")
	t.Setenv("PLATFORM_TYPE", "memory")
	t.Setenv("APP_ENV", "test")
	t.Setenv("CHANGELOG_KAFKA_BROKERS", "")
	return &RootOptions{Format: "json", Load: config.Load}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (CLIResponse, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
	return resp, err
}

func TestReplicasImportAndToggle(t *testing.T) {
	opts := testOptions(t)
	path := filepath.Join(t.TempDir(), "replicas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
replicas:
  - domain: alpha.myshopify.com
    credential_ref: tok-a
  - domain: bravo.myshopify.com
`), 0o600))

	resp, err := execute(t, NewReplicasCommand(opts), "import", path)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	resp, err = execute(t, NewReplicasCommand(opts), "disable", "bravo.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	resp, err = execute(t, NewReplicasCommand(opts), "list")
	require.NoError(t, err)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var replicas []model.StoreReplica
	require.NoError(t, json.Unmarshal(data, &replicas))
	require.Len(t, replicas, 2)
	assert.True(t, replicas[0].SyncEnabled)
	assert.False(t, replicas[1].SyncEnabled)

	resp, err = execute(t, NewBulkPushCommand(opts), "bravo.myshopify.com")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err), "paused replicas are refused")
	assert.Equal(t, "error", resp.Status)
}

func TestCommandsAgainstEmptyStore(t *testing.T) {
	opts := testOptions(t)

	resp, err := execute(t, NewMigrateCommand(opts))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	resp, err = execute(t, NewConflictsCommand(opts), "list")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	resp, err = execute(t, NewCleanupCommand(opts), "--retention", "24h")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"deleted": float64(0), "retention": "24h0m0s"}, resp.Data)

	_, err = execute(t, NewConflictsCommand(opts), "resolve", "7", "use_lowest")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, NewBulkPushCommand(opts), "ghost.myshopify.com")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
