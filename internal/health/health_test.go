package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func getReport(t *testing.T, h http.HandlerFunc, path string) (int, Report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", path, nil))

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return rec.Code, report
}

func TestHealthzAlwaysOK(t *testing.T) {
	code, report := getReport(t, New().Healthz, "/healthz")
	if code != http.StatusOK || report.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, report.Status)
	}
}

func TestReadyzAllChecksPass(t *testing.T) {
	h := New(
		Checker{Name: "model_backend", Check: func(context.Context) error { return nil }},
		Checker{Name: "tool_registry", Check: func(context.Context) error { return nil }},
	)

	code, report := getReport(t, h.Readyz, "/readyz")
	if code != http.StatusOK || report.Status != "ok" {
		t.Fatalf("readyz = %d %q, want 200 ok", code, report.Status)
	}
	for _, name := range []string{"model_backend", "tool_registry"} {
		if report.Checks[name].Status != "ok" {
			t.Errorf("check %s = %+v, want ok", name, report.Checks[name])
		}
	}
}

func TestReadyzFailingCheckYields503(t *testing.T) {
	h := New(
		Checker{Name: "model_backend", Check: func(context.Context) error {
			return errors.New("all providers failed")
		}},
		Checker{Name: "tool_registry", Check: func(context.Context) error { return nil }},
	)

	code, report := getReport(t, h.Readyz, "/readyz")
	if code != http.StatusServiceUnavailable || report.Status != "unavailable" {
		t.Fatalf("readyz = %d %q, want 503 unavailable", code, report.Status)
	}
	if got := report.Checks["model_backend"]; got.Status != "fail" || got.Error != "all providers failed" {
		t.Errorf("model_backend = %+v, want the failure surfaced", got)
	}
	// The healthy dependency still reports, so operators see which one broke.
	if report.Checks["tool_registry"].Status != "ok" {
		t.Errorf("tool_registry = %+v, want ok", report.Checks["tool_registry"])
	}
}

func TestReadyzRunsChecksConcurrently(t *testing.T) {
	const n = 4
	var wg sync.WaitGroup
	wg.Add(n)

	// Each check blocks until all have started; a sequential runner would
	// deadlock here (and trip the test timeout).
	checkers := make([]Checker, n)
	for i := range checkers {
		checkers[i] = Checker{Name: string(rune('a' + i)), Check: func(context.Context) error {
			wg.Done()
			wg.Wait()
			return nil
		}}
	}

	code, _ := getReport(t, New(checkers...).Readyz, "/readyz")
	if code != http.StatusOK {
		t.Errorf("readyz = %d, want 200", code)
	}
}

func TestReadyzNoCheckers(t *testing.T) {
	code, report := getReport(t, New().Readyz, "/readyz")
	if code != http.StatusOK || report.Status != "ok" {
		t.Errorf("readyz with no checkers = %d %q, want 200 ok", code, report.Status)
	}
}

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}
