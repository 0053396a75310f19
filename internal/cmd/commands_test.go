package cmd

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/Iron-Ham/ppline/internal/diagserver"
	"github.com/Iron-Ham/ppline/internal/errors"
	"github.com/Iron-Ham/ppline/internal/pipeline"
)

type stubManager struct {
	resets  int
	changes []int
}

func (s *stubManager) GetDiagStats() pipeline.DiagStats {
	return pipeline.DiagStats{Items: 1234, Pending: 8, Processing: 2, Sequences: 1, Workers: 2}
}

func (s *stubManager) GetTopSequences(n int) []pipeline.TopStat {
	return []pipeline.TopStat{{ItemID: 42, Tasks: 8}}
}

func (s *stubManager) GetTopPeaks(n int) []pipeline.TopStat { return nil }
func (s *stubManager) ResetPeaks()                          { s.resets++ }
func (s *stubManager) GetWorkerUsage() []float64            { return []float64{0.5, 0.25} }
func (s *stubManager) QueueSize() int                       { return 8 }

func (s *stubManager) ChangeWorkerLogLevel(worker int, dir pipeline.LogLevelDirection) error {
	if worker > 2 {
		return errors.NewManagerError("change log level", errors.ErrNoSuchWorker).WithWorker(worker)
	}
	s.changes = append(s.changes, worker*int(dir))
	return nil
}

func startDiag(t *testing.T) (*stubManager, string) {
	t.Helper()
	stub := &stubManager{}
	srv := httptest.NewServer(diagserver.New(stub).Handler())
	t.Cleanup(srv.Close)
	return stub, strings.TrimPrefix(srv.URL, "http://")
}

func TestDiagCommand(t *testing.T) {
	_, addr := startDiag(t)

	out, err := executeCommand(t, "diag", "--addr", addr)
	if err != nil {
		t.Fatalf("diag error = %v", err)
	}
	for _, want := range []string{"PIPELINE", "Items:      1,234", "Pending:    8"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestDiagCommandJSON(t *testing.T) {
	_, addr := startDiag(t)

	out, err := executeCommand(t, "diag", "--addr", addr, "--json")
	if err != nil {
		t.Fatalf("diag --json error = %v", err)
	}
	var resp diagserver.DiagResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if resp.Items != 1234 || resp.Processing != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTopCommand(t *testing.T) {
	stub, addr := startDiag(t)

	out, err := executeCommand(t, "top", "sequences", "--addr", addr)
	if err != nil {
		t.Fatalf("top error = %v", err)
	}
	if !strings.Contains(out, "42") || !strings.Contains(out, "Queued") {
		t.Errorf("output = %s", out)
	}

	out, err = executeCommand(t, "top", "peak", "--addr", addr, "--reset")
	if err != nil {
		t.Fatalf("top peak error = %v", err)
	}
	if !strings.Contains(out, "No items") || stub.resets != 1 {
		t.Errorf("output = %s, resets = %d", out, stub.resets)
	}
}

func TestTopCommandErrors(t *testing.T) {
	_, addr := startDiag(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown ranking", []string{"top", "queue", "--addr", addr}},
		{"reset sequences", []string{"top", "sequences", "--reset", "--addr", addr}},
		{"zero limit", []string{"top", "sequences", "--limit", "0", "--addr", addr}},
		{"no server", []string{"top", "sequences", "--addr", "127.0.0.1:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := executeCommand(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestUsageCommand(t *testing.T) {
	_, addr := startDiag(t)

	out, err := executeCommand(t, "usage", "--addr", addr)
	if err != nil {
		t.Fatalf("usage error = %v", err)
	}
	if !strings.Contains(out, "50.0%") || !strings.Contains(out, "Average: 37.5%") {
		t.Errorf("output = %s", out)
	}
}

func TestLogLevelCommand(t *testing.T) {
	stub, addr := startDiag(t)

	out, err := executeCommand(t, "loglevel", "increase", "--worker", "2", "--addr", addr)
	if err != nil {
		t.Fatalf("loglevel error = %v", err)
	}
	if !strings.Contains(out, "worker 2") {
		t.Errorf("output = %s", out)
	}

	if _, err := executeCommand(t, "loglevel", "decrease", "--worker", "5", "--addr", addr); err == nil ||
		!strings.Contains(err.Error(), "no such worker") {
		t.Errorf("loglevel on a missing worker error = %v", err)
	}
	if len(stub.changes) != 1 || stub.changes[0] != 2 {
		t.Errorf("changes = %v", stub.changes)
	}
}

func TestTestCommand(t *testing.T) {
	path := writeItems(t)

	out, err := executeCommand(t, "test", "11", `{"count": 7}`, "--items", path, "--json")
	if err != nil {
		t.Fatalf("test error = %v", err)
	}
	var res TestOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(res.Steps) != 2 || res.Steps[0].Type != "jsonpath" || res.Steps[0].Result.Value != "7" {
		t.Errorf("steps = %+v", res.Steps)
	}
	if res.Result.Value != "14" || len(res.RequestID) != 36 {
		t.Errorf("result = %+v, request id %q", res.Result, res.RequestID)
	}
}

func TestTestCommandText(t *testing.T) {
	path := writeItems(t)

	out, err := executeCommand(t, "test", "11", `{"count": "x"}`, "--items", path)
	if err != nil {
		t.Fatalf("test error = %v", err)
	}
	for _, want := range []string{"PREPROCESSING TEST", "STEPS", "RESULT", "error:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestTestCommandUnknownItem(t *testing.T) {
	path := writeItems(t)

	_, err := executeCommand(t, "test", "77", "1", "--items", path)
	if err == nil || !errors.Is(err, errors.ErrUnknownItem) {
		t.Errorf("test on an unknown item error = %v", err)
	}
	if _, err := executeCommand(t, "test", "abc", "1", "--items", path); err == nil {
		t.Error("test accepted a bad item id")
	}
}

func TestItemsCommands(t *testing.T) {
	path := writeItems(t)

	out, err := executeCommand(t, "items", "validate", path)
	if err != nil {
		t.Fatalf("items validate error = %v", err)
	}
	if !strings.Contains(out, "3 items OK") {
		t.Errorf("output = %s", out)
	}

	out, err = executeCommand(t, "items", "show", path)
	if err != nil {
		t.Fatalf("items show error = %v", err)
	}
	if !strings.Contains(out, "jsonpath, multiplier") || !strings.Contains(out, "parallel") {
		t.Errorf("output = %s", out)
	}
}

func TestItemsValidateReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.yaml")
	content := "items:\n  - itemid: 1\n    value_type: text\n    master: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := executeCommand(t, "items", "validate", path); err == nil {
		t.Error("items validate accepted an unknown master")
	}
}

func TestConfigCommands(t *testing.T) {
	out, err := executeCommand(t, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(out, "workers: 3") || !strings.Contains(out, "manager_delay: 500ms") {
		t.Errorf("output = %s", out)
	}

	out, err = executeCommand(t, "config", "path")
	if err != nil {
		t.Fatalf("config path error = %v", err)
	}
	if !strings.Contains(out, "PPLINE_") {
		t.Errorf("output = %s", out)
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	out, err := executeCommand(t, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ppline", "ppline.yaml")); err != nil {
		t.Errorf("config file not created: %v (%s)", err, out)
	}
	if _, err := executeCommand(t, "config", "init"); err == nil {
		t.Error("config init overwrote an existing file")
	}
}
