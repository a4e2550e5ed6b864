package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "servers.yaml")
	data := `
servers:
  - name: fetch
    image: example/fetch:latest
    transport: stdio
    required_env: [HUB_TEST_TOKEN]
  - name: plain
    command: /usr/local/bin/plain
    transport: stdio
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t)
	t.Setenv("HUB_TEST_TOKEN", "")

	out, err := runCommand(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "fetch: missing [HUB_TEST_TOKEN]")
	assert.Contains(t, out, "plain: available")
}

func TestCheckCommandWithEnvSet(t *testing.T) {
	path := writeConfig(t)
	t.Setenv("HUB_TEST_TOKEN", "token")

	out, err := runCommand(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "fetch: available")
}

func TestCheckCommandMissingFile(t *testing.T) {
	_, err := runCommand(t, "check", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestListCommand(t *testing.T) {
	path := writeConfig(t)

	out, err := runCommand(t, "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "fetch\tstdio\texample/fetch:latest")
	assert.Contains(t, out, "plain\tstdio\t/usr/local/bin/plain")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mcphub")
}
