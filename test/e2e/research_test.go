package e2e

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// runCLI executes the built binary with a kill timer so a wedged run cannot
// hang the suite.
func runCLI(t *testing.T, env []string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(cliBinary, args...)
	cmd.Env = append(os.Environ(), env...)

	timer := time.AfterFunc(60*time.Second, func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	})
	defer timer.Stop()

	out, err := cmd.CombinedOutput()
	return string(out), err
}

// newScriptedLLM serves OpenAI-shaped chat completions from a fixed script,
// one reply per call in order. Requests that offer tools get the scripted
// payload back as a tool call's arguments; plain requests get it as content.
// The returned func reports how many calls the stub answered.
func newScriptedLLM(t *testing.T, replies []string) (*httptest.Server, func() int) {
	t.Helper()
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		idx := calls
		calls++
		mu.Unlock()
		if idx >= len(replies) {
			http.Error(w, "script exhausted", http.StatusInternalServerError)
			return
		}
		var req struct {
			Tools []struct {
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		message := map[string]any{"role": "assistant", "content": replies[idx]}
		finishReason := "stop"
		if len(req.Tools) > 0 {
			message = map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]any{{
					"id":   fmt.Sprintf("call-%d", idx),
					"type": "function",
					"function": map[string]any{
						"name":      req.Tools[0].Function.Name,
						"arguments": replies[idx],
					},
				}},
			}
			finishReason = "tool_calls"
		}
		resp := map[string]any{
			"id":      fmt.Sprintf("cmpl-%d", idx),
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "stub-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       message,
				"finish_reason": finishReason,
			}},
			"usage": map[string]any{"prompt_tokens": 50, "completion_tokens": 30, "total_tokens": 80},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
}

// stubEnv points the binary's OpenAI provider at a scripted stub.
func stubEnv(llmURL string) []string {
	return []string{
		"OPENAI_API_KEY=e2e-test-key",
		"OPENAI_BASE_URL=" + llmURL + "/v1",
		"OPENAI_MODEL=stub-model",
	}
}

// writeRunConfig writes the single-branch, single-iteration config the loop
// tests run under. With max_iterations=1 the iteration cap is the stop
// condition, so the loop never asks for a completeness verdict.
func writeRunConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	configYAML := "search:\n  parallel_branches: 1\n  max_iterations: 1\ncompleteness:\n  min_sources: 1\n"
	if err := os.WriteFile(path, []byte(configYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// resumeHintID extracts the correlation id from the printed resume hint.
func resumeHintID(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "research resume "); ok && rest != "" {
			return rest
		}
	}
	t.Fatalf("no resume hint in output:\n%s", out)
	return ""
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, nil, "version")
	if err != nil {
		t.Fatalf("version failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "dev") {
		t.Errorf("version output = %q, want the dev build stamp", out)
	}
}

func TestRun_RequiresQuestion(t *testing.T) {
	out, err := runCLI(t, nil, "run")
	if err == nil {
		t.Fatalf("run without a question should fail, output:\n%s", out)
	}
	if !strings.Contains(strings.ToLower(out), "question") {
		t.Errorf("expected a question-required message, got:\n%s", out)
	}
}

func TestResume_RejectsTraversalID(t *testing.T) {
	out, err := runCLI(t, nil, "resume", "../escape")
	if err == nil {
		t.Fatalf("resume with a traversal id should fail, output:\n%s", out)
	}
	if !strings.Contains(out, "Invalid correlation id") {
		t.Errorf("expected correlation id rejection, got:\n%s", out)
	}
}

func TestResume_UnknownCheckpoint(t *testing.T) {
	out, err := runCLI(t, nil,
		"resume", "--checkpoint-dir", t.TempDir(), "never-saved")
	if err == nil {
		t.Fatalf("resume of an unknown id should fail, output:\n%s", out)
	}
	if !strings.Contains(out, "No resumable checkpoint") {
		t.Errorf("expected a not-found message, got:\n%s", out)
	}
}

// TestRun_FullLoopAgainstStubs drives the binary through a complete run:
// plan, search, extract, evaluate, synthesize, with the LLM and the search
// endpoint both served by in-process stubs. No network or API key needed.
func TestRun_FullLoopAgainstStubs(t *testing.T) {
	// Scripted completions, one per loop phase.
	llm, llmCalls := newScriptedLLM(t, []string{
		`{"sub_queries":[{"query":"heat pump cold climate","source_target":"web"}],"strategy_notes":"stub"}`,
		`{"findings":[{"source_index":0,"extracted_fields":{"claim":"Heat pumps retain capacity below freezing"},"quote":"Modern units retain capacity at -15C"}]}`,
		`{"evaluations":[{"finding_index":0,"relevance_score":0.9,"quality_score":0.8,"notes":"stub"}]}`,
		"# Heat Pump Performance\n\nVerified content from the stubbed synthesis.",
	})

	var mu sync.Mutex
	searchCalls := 0
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		searchCalls++
		mu.Unlock()
		if r.URL.Query().Get("q") == "" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[{"url":"https://example.org/heatpumps","title":"Cold climate heat pumps","content":"Modern units retain capacity at -15C","publishedDate":"2024-01-10"}]}`)
	}))
	defer search.Close()

	workDir := t.TempDir()
	configPath := writeRunConfig(t, workDir)
	checkpointDir := filepath.Join(workDir, "checkpoints")
	reportPath := filepath.Join(workDir, "report.md")

	out, err := runCLI(t, stubEnv(llm.URL),
		"run",
		"--config", configPath,
		"--search-endpoint", search.URL,
		"--checkpoint-dir", checkpointDir,
		"-o", reportPath,
		"How do heat pumps perform below freezing?",
	)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	report, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v\n%s", err, out)
	}
	if !strings.Contains(string(report), "Verified content from the stubbed synthesis") {
		t.Errorf("report missing synthesized body:\n%s", report)
	}

	if !strings.Contains(out, "Done: 1 findings from 1 sources") {
		t.Errorf("summary missing from output:\n%s", out)
	}

	checkpoints, err := filepath.Glob(filepath.Join(checkpointDir, "*.json"))
	if err != nil || len(checkpoints) != 1 {
		t.Errorf("expected exactly one checkpoint file, got %v (err %v)", checkpoints, err)
	}

	if got := llmCalls(); got != 4 {
		t.Errorf("llm calls = %d, want 4 (plan, extract, evaluate, synthesize)", got)
	}
	mu.Lock()
	gotSearch := searchCalls
	mu.Unlock()
	if gotSearch != 1 {
		t.Errorf("search calls = %d, want 1", gotSearch)
	}
}

// TestRun_InterruptLeavesResumableCheckpoint wedges the search stub so the
// run dies on its wall-clock limit, then checks the exit code, the printed
// resume hint, and the checkpoint left behind on disk.
func TestRun_InterruptLeavesResumableCheckpoint(t *testing.T) {
	llm, llmCalls := newScriptedLLM(t, []string{
		`{"sub_queries":[{"query":"grid storage costs","source_target":"web"}],"strategy_notes":"stub"}`,
	})

	// Hold every search request until the client hangs up. Returning on the
	// request context keeps Close from waiting on a wedged handler.
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer search.Close()

	workDir := t.TempDir()
	configPath := writeRunConfig(t, workDir)
	checkpointDir := filepath.Join(workDir, "checkpoints")

	out, err := runCLI(t, stubEnv(llm.URL),
		"run",
		"--config", configPath,
		"--search-endpoint", search.URL,
		"--checkpoint-dir", checkpointDir,
		"--timeout", "3s",
		"What do grid storage costs look like?",
	)
	if err == nil {
		t.Fatalf("interrupted run should exit non-zero, output:\n%s", out)
	}
	var exit *exec.ExitError
	if !errors.As(err, &exit) || exit.ExitCode() != 130 {
		t.Fatalf("exit = %v, want status 130\n%s", err, out)
	}
	if !strings.Contains(out, "Run interrupted") {
		t.Fatalf("missing interruption notice:\n%s", out)
	}

	correlationID := resumeHintID(t, out)
	cpPath := filepath.Join(checkpointDir, correlationID+".json")
	if _, statErr := os.Stat(cpPath); statErr != nil {
		t.Errorf("checkpoint %s not on disk: %v", cpPath, statErr)
	}

	if got := llmCalls(); got != 1 {
		t.Errorf("llm calls = %d, want only the plan", got)
	}
}

// TestResume_RegeneratesReport resumes a finished run in a second process.
// The stored checkpoint sits at the evaluate boundary with no queued
// followups, so the resumed run replays synthesis over the restored
// findings: exactly one LLM call, no searching.
func TestResume_RegeneratesReport(t *testing.T) {
	runLLM, runCalls := newScriptedLLM(t, []string{
		`{"sub_queries":[{"query":"grid storage costs","source_target":"web"}],"strategy_notes":"stub"}`,
		`{"findings":[{"source_index":0,"extracted_fields":{"claim":"Battery costs fell 40% since 2023"},"quote":"Costs fell 40%"}]}`,
		`{"evaluations":[{"finding_index":0,"relevance_score":0.9,"quality_score":0.9,"notes":"stub"}]}`,
		"# Grid Storage\n\nFirst-pass synthesis output.",
	})

	var mu sync.Mutex
	searchCalls := 0
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		searchCalls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[{"url":"https://example.org/storage","title":"Grid storage","content":"Costs fell 40%","publishedDate":"2024-06-01"}]}`)
	}))
	defer search.Close()

	workDir := t.TempDir()
	configPath := writeRunConfig(t, workDir)
	checkpointDir := filepath.Join(workDir, "checkpoints")

	out, err := runCLI(t, stubEnv(runLLM.URL),
		"run",
		"--config", configPath,
		"--search-endpoint", search.URL,
		"--checkpoint-dir", checkpointDir,
		"-o", filepath.Join(workDir, "report.md"),
		"What do grid storage costs look like?",
	)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if got := runCalls(); got != 4 {
		t.Fatalf("run llm calls = %d, want 4", got)
	}

	// The binary never prints the id on success; the checkpoint file name
	// carries it.
	checkpoints, err := filepath.Glob(filepath.Join(checkpointDir, "*.json"))
	if err != nil || len(checkpoints) != 1 {
		t.Fatalf("expected exactly one checkpoint file, got %v (err %v)", checkpoints, err)
	}
	correlationID := strings.TrimSuffix(filepath.Base(checkpoints[0]), ".json")

	resumeLLM, resumeCalls := newScriptedLLM(t, []string{
		"# Grid Storage\n\nResumed synthesis output.",
	})
	reportPath := filepath.Join(workDir, "resumed.md")
	out, err = runCLI(t, stubEnv(resumeLLM.URL),
		"resume",
		"--search-endpoint", search.URL,
		"--checkpoint-dir", checkpointDir,
		"-o", reportPath,
		correlationID,
	)
	if err != nil {
		t.Fatalf("resume failed: %v\n%s", err, out)
	}

	if !strings.Contains(out, "from evaluate") {
		t.Errorf("resume should report the checkpoint phase:\n%s", out)
	}
	report, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("resumed report not written: %v\n%s", err, out)
	}
	if !strings.Contains(string(report), "Resumed synthesis output") {
		t.Errorf("resumed report missing synthesis:\n%s", report)
	}
	if !strings.Contains(out, "Done: 1 findings from 1 sources") {
		t.Errorf("resume summary should restore the run's counters:\n%s", out)
	}

	if got := resumeCalls(); got != 1 {
		t.Errorf("resume llm calls = %d, want only synthesize", got)
	}
	mu.Lock()
	gotSearch := searchCalls
	mu.Unlock()
	if gotSearch != 1 {
		t.Errorf("search calls = %d, want 1 (resume must not search)", gotSearch)
	}
}
