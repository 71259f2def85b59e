package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/scenario/cache"
	"github.com/awmpietro/reaction-sim/internal/transport/httptransport"
)

const fireChain = `digraph fire {
  id="fire"
  name="Galley fire"
  detect [layer=system, kind=condition, title="Heat sensor trips", duration_ms=300, automated=true]
  alarm [layer=crew, kind=decision, title="Raise alarm", duration_ms=1000, actor="Bosun"]
  advise [layer=ai, title="Advise boundary cooling", duration_ms=500, automated=true]
  detect -> alarm
  alarm -> advise
}`

func newSimServer() *httptest.Server {
	svc := app.NewService(app.DecoderFunc(scenario.Decode), cache.NewInMemory(1024))
	runs := app.NewRuns(svc, 16)
	h := httptransport.NewHandler(svc, runs, nil)
	return httptest.NewServer(h.Routes())
}

func post(t *testing.T, srv *httptest.Server, path, rawBody string) (int, map[string]any, string) {
	t.Helper()

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewBufferString(rawBody))
	if err != nil {
		t.Fatalf("post %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return resp.StatusCode, nil, string(body)
	}
	return resp.StatusCode, out, string(body)
}

func postJSON(t *testing.T, srv *httptest.Server, path string, payload map[string]any) (int, map[string]any, string) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}
	return post(t, srv, path, string(b))
}

func TestHTTPSimulate_EndToEndSuccess(t *testing.T) {
	srv := newSimServer()
	defer srv.Close()

	status, out, body := postJSON(t, srv, "/simulate", map[string]any{
		"source":              fireChain,
		"success_probability": 1,
		"instant":             true,
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if out["lifecycle"] != "finished" {
		t.Fatalf("expected lifecycle finished, got %#v", out["lifecycle"])
	}

	metrics, ok := out["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("missing metrics object: %#v", out)
	}
	if metrics["total_reactions"] != float64(3) {
		t.Fatalf("expected 3 reactions, got %#v", metrics["total_reactions"])
	}
	if metrics["cumulative_critical_path_ms"] != float64(1800) {
		t.Fatalf("expected cumulative critical path 1800, got %#v", metrics["cumulative_critical_path_ms"])
	}

	logs, _ := out["logs"].([]any)
	if len(logs) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(logs))
	}
	first := logs[0].(map[string]any)
	if first["event"] != "Executing condition: Heat sensor trips" {
		t.Fatalf("unexpected first event: %#v", first["event"])
	}
}

func TestHTTPSimulate_FailurePrunesDescendants(t *testing.T) {
	srv := newSimServer()
	defer srv.Close()

	tests := []struct {
		name      string
		fail      []string
		completed int
		failed    string
		bypassed  []string
	}{
		{name: "root", fail: []string{"detect"}, completed: 0, failed: "detect", bypassed: []string{"alarm", "advise"}},
		{name: "middle", fail: []string{"alarm"}, completed: 1, failed: "alarm", bypassed: []string{"advise"}},
		{name: "leaf", fail: []string{"advise"}, completed: 2, failed: "advise"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, out, body := postJSON(t, srv, "/simulate", map[string]any{
				"source":     fireChain,
				"fail_nodes": tc.fail,
				"instant":    true,
			})
			if status != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", status, body)
			}
			state := out["state"].(map[string]any)
			if got := len(state["completed"].([]any)); got != tc.completed {
				t.Fatalf("expected %d completed, got %d", tc.completed, got)
			}
			statuses := out["statuses"].(map[string]any)
			if statuses[tc.failed] != "failed" {
				t.Fatalf("expected %s failed, got %#v", tc.failed, statuses[tc.failed])
			}
			for _, id := range tc.bypassed {
				if statuses[id] != "bypassed" {
					t.Fatalf("expected %s bypassed, got %#v", id, statuses[id])
				}
			}
		})
	}
}

func TestHTTPSimulate_InputErrors(t *testing.T) {
	srv := newSimServer()
	defer srv.Close()

	t.Run("invalid_json", func(t *testing.T) {
		status, _, _ := post(t, srv, "/simulate", `{`)
		if status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", status)
		}
	})

	t.Run("invalid_dot", func(t *testing.T) {
		status, out, _ := postJSON(t, srv, "/simulate", map[string]any{"source": "digraph { a -> "})
		if status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", status)
		}
		if out["details"] == nil {
			t.Fatalf("expected error details")
		}
	})

	t.Run("empty_source", func(t *testing.T) {
		status, out, _ := postJSON(t, srv, "/simulate", map[string]any{"source": "  "})
		if status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", status)
		}
		if out["error"] != "invalid input" {
			t.Fatalf("unexpected error: %#v", out["error"])
		}
	})

	t.Run("bad_rule", func(t *testing.T) {
		status, out, _ := postJSON(t, srv, "/simulate", map[string]any{
			"source": fireChain,
			"rules":  []map[string]any{{"when": "len(title) > 3", "succeed": false}},
		})
		if status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", status)
		}
		details, _ := out["details"].(string)
		if !strings.Contains(details, "outcome rule 0") {
			t.Fatalf("unexpected details: %q", details)
		}
	})

	t.Run("bad_speed", func(t *testing.T) {
		status, _, _ := postJSON(t, srv, "/simulate", map[string]any{"source": fireChain, "speed": -2})
		if status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", status)
		}
	})
}

func TestHTTPValidate_RejectsCycle(t *testing.T) {
	srv := newSimServer()
	defer srv.Close()

	status, out, _ := postJSON(t, srv, "/validate", map[string]any{
		"format": "dot",
		"source": `digraph { a [layer=crew]; b [layer=crew]; a -> b; b -> a; }`,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	details, _ := out["details"].(string)
	if !strings.Contains(details, "CycleDetected") {
		t.Fatalf("expected cycle error details, got %q", details)
	}
	if defects, _ := out["defects"].([]any); len(defects) == 0 {
		t.Fatalf("expected defects in body")
	}
}

func TestHTTPValidate_ReportsScenarioInfo(t *testing.T) {
	srv := newSimServer()
	defer srv.Close()

	status, out, body := postJSON(t, srv, "/validate", map[string]any{"source": fireChain})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	info := out["scenario"].(map[string]any)
	if info["id"] != "fire" || info["format"] != "dot" || info["nodes"] != float64(3) {
		t.Fatalf("unexpected scenario info: %#v", info)
	}
	if info["hash"] == "" {
		t.Fatalf("expected non-empty scenario hash")
	}
}

func TestHTTPSimulate_ConcurrentRequests(t *testing.T) {
	srv := newSimServer()
	defer srv.Close()

	const n = 80
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := map[string]any{"source": fireChain, "instant": true, "seed": i}
			if i%3 == 1 {
				payload["fail_nodes"] = []string{"alarm"}
			}
			status, out, body := postMapNoFatal(srv, payload)
			if status != http.StatusOK {
				errs <- &integrationErr{msg: "status not ok", body: body}
				return
			}
			if out == nil || out["metrics"] == nil {
				errs <- &integrationErr{msg: "missing metrics", body: body}
				return
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

type integrationErr struct {
	msg  string
	body string
}

func (e *integrationErr) Error() string {
	return e.msg + ": " + e.body
}

func postMapNoFatal(srv *httptest.Server, payload map[string]any) (int, map[string]any, string) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err.Error()
	}
	resp, err := http.Post(srv.URL+"/simulate", "application/json", bytes.NewBuffer(b))
	if err != nil {
		return 0, nil, err.Error()
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out, string(body)
}
