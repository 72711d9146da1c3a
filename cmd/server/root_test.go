package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("database:\n  driver: sqlite\n  sqlite_path: %s\nlog:\n  development: true\n", filepath.Join(dir, "omc.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateSeedAndUserCreate(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date (sqlite)")

	inventory := filepath.Join(t.TempDir(), "machines.yaml")
	require.NoError(t, os.WriteFile(inventory, []byte(`version: 1
machines:
  - sector: TI
    machine_name: info-pc
  - sector: BAL
    machine_name: bal1-pc
    asset_tag: MA-3R4S5T6-P
`), 0o644))

	out, err = run(t, "--config", cfg, "seed", inventory)
	require.NoError(t, err)
	assert.Contains(t, out, "Created 2 machines, skipped 0")

	out, err = run(t, "--config", cfg, "seed", inventory)
	require.NoError(t, err)
	assert.Contains(t, out, "Created 0 machines, skipped 2")

	out, err = run(t, "--config", cfg, "user", "create", "--username", "alice", "--password", "long enough", "--role", "technician")
	require.NoError(t, err)
	assert.Contains(t, out, "Created technician user alice")
}

func TestCommandErrors(t *testing.T) {
	cfg := writeConfig(t)
	t.Setenv(passwordEnv, "")

	_, err := run(t, "--config", cfg, "user", "create", "--username", "bob")
	assert.ErrorContains(t, err, "password required")

	_, err = run(t, "--config", cfg, "user", "create", "--username", "bob", "--password", "long enough", "--role", "root")
	assert.Error(t, err)

	_, err = run(t, "--config", cfg, "seed")
	assert.ErrorContains(t, err, "no inventory file")

	_, err = run(t, "--config", cfg, "seed", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
