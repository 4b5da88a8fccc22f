package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv is an isolated working directory with a config file that
// declares one local CSV source.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OPENAI_API_KEY", "")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.csv"),
		[]byte("id,region,amount\n1,EU,10.5\n2,US,20\n3,EU,7\n"), 0o600))

	cfg := "log_level: error\n" +
		"checkpoint:\n  path: " + filepath.Join(dir, "sessions.sqlite") + "\n" +
		"sources:\n" +
		"  - name: files\n" +
		"    type: local\n" +
		"    paths: [\"" + filepath.Join(dir, "*.csv") + "\"]\n"
	path := filepath.Join(dir, "analyst.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	return &testEnv{dir: dir, config: path}
}

// run executes the root command with args and returns stdout, stderr and
// the command error.
func (e *testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
