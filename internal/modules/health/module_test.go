package health

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"atm_algo/internal/modules/health/service"
)

type feedStub bool

func (f feedStub) Connected() bool { return bool(f) }

func get(t *testing.T, mux *http.ServeMux, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestReadyzFollowsState(t *testing.T) {
	state := service.NewState()
	mux := NewMux(state, feedStub(false))

	if code, _ := get(t, mux, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before first cycle = %d", code)
	}
	state.SetReady(true)
	if code, body := get(t, mux, "/readyz"); code != http.StatusOK || body != "ready" {
		t.Fatalf("readyz = %d %q", code, body)
	}
	if code, _ := get(t, mux, "/livez"); code != http.StatusOK {
		t.Fatalf("livez = %d", code)
	}
}

func TestHealthzReportsCycle(t *testing.T) {
	state := service.NewState()
	state.SetReady(true)
	state.TouchCycle(time.Unix(1732080000, 0), 2)
	mux := NewMux(state, feedStub(true))

	code, body := get(t, mux, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	var resp struct {
		Ready         bool  `json:"ready"`
		FeedConnected bool  `json:"feedConnected"`
		Cycles        int64 `json:"cycles"`
		OpenPositions int   `json:"openPositions"`
		LastCycleUnix int64 `json:"lastCycleUnix"`
	}
	if err := sonic.UnmarshalString(body, &resp); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if !resp.Ready || !resp.FeedConnected || resp.Cycles != 1 || resp.OpenPositions != 2 || resp.LastCycleUnix != 1732080000 {
		t.Fatalf("healthz = %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := NewMux(service.NewState(), nil)
	code, body := get(t, mux, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics = %d", code)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatal("default collectors missing")
	}
}
