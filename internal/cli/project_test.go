package cli

import (
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"diaharness/internal/agentconf"
	"diaharness/internal/config"
	"diaharness/internal/remote/mockagent"
	"diaharness/internal/suite"
)

const projectConfig = `version: 1
agent:
  name: "sales-analytics"
  endpoint: "{{endpoint}}"
  token_env: "DIA_HARNESS_TEST_TOKEN_UNSET"
seed_config: ".dia-harness/seed.yml"
suites:
  train: ".dia-harness/golden.csv"
evaluation:
  repeats: 1
  workers: 2
  retry:
    max_attempts: 1
optimization:
  max_iterations: 3
judge:
  provider: heuristic
improver:
  provider: heuristic
output:
  dir: "runs"
  duckdb: "runs/trajectories.duckdb"
`

// testProject is a scaffolded project wired to an in-process mock agent.
type testProject struct {
	root       string
	configPath string
	agent      *mockagent.Server
}

// newTestProject scaffolds a project and serves a mock agent seeded from it.
func newTestProject(t *testing.T, opts mockagent.Options) *testProject {
	t.Helper()
	root := t.TempDir()
	configPath, err := config.Scaffold(root)
	if err != nil {
		t.Fatalf("scaffold: %v", err)
	}
	dir := config.ConfigDir(root)
	seed, err := agentconf.Load(filepath.Join(dir, "seed.yml"))
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	golden, err := suite.Load(filepath.Join(dir, "golden.csv"))
	if err != nil {
		t.Fatalf("load suite: %v", err)
	}
	agent := mockagent.New(seed, golden.Cases, opts, nil)
	server := httptest.NewServer(agent.Handler())
	t.Cleanup(server.Close)

	body := strings.ReplaceAll(projectConfig, "{{endpoint}}", server.URL)
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &testProject{root: root, configPath: configPath, agent: agent}
}

// trajectories lists the trajectory files written under the output dir.
func (p *testProject) trajectories(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(p.root, "runs", "*", TrajectoryFileName))
	if err != nil {
		t.Fatalf("glob trajectories: %v", err)
	}
	return matches
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
