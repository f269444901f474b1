package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for i := range families {
		if families[i].GetName() == name {
			return families[i]
		}
	}
	return nil
}

func TestHTTPMetrics_Recording(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		requestBody string
		status      int
		wantMetrics bool
	}{
		{"ranked page request", http.MethodGet, "/recommendations/user-1", "", http.StatusOK, true},
		{"impression with body", http.MethodPost, "/impressions", `{"user_id":"user-1","item_id":"item-9"}`, http.StatusCreated, true},
		{"missing experiment", http.MethodGet, "/experiments/exp-404", "", http.StatusNotFound, true},
		{"health excluded", http.MethodGet, "/health", "", http.StatusOK, false},
		{"ready excluded", http.MethodGet, "/ready", "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			reg := prometheus.NewRegistry()
			if err := m.Register(reg); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}

			wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{}`))
			}))

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.requestBody))
			if tt.requestBody != "" {
				req.Header.Set("Content-Length", strconv.Itoa(len(tt.requestBody)))
			}
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}

			total := gatherFamily(t, reg, MetricHTTPRequestsTotal)
			recorded := total != nil && len(total.GetMetric()) > 0
			if recorded != tt.wantMetrics {
				t.Errorf("metrics recorded = %t, want %t", recorded, tt.wantMetrics)
			}
		})
	}
}

func TestHTTPMetrics_Labels(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recommendations/user-1", nil))

	total := gatherFamily(t, reg, MetricHTTPRequestsTotal)
	if total == nil || len(total.GetMetric()) != 1 {
		t.Fatal("expected exactly one counter series")
	}

	labels := make(map[string]string)
	for _, label := range total.GetMetric()[0].GetLabel() {
		labels[label.GetName()] = label.GetValue()
	}

	if labels["method"] != "GET" {
		t.Errorf("method label = %s, want GET", labels["method"])
	}
	if labels["path"] != "/recommendations/{user_id}" {
		t.Errorf("path label = %s, want /recommendations/{user_id}", labels["path"])
	}
	if labels["status"] != "200" {
		t.Errorf("status label = %s, want 200", labels["status"])
	}
}

func TestHTTPMetrics_ResponseSize(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	body := `{"items":[{"id":"item-1"},{"id":"item-2"}]}`
	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recommendations/user-1", nil))

	family := gatherFamily(t, reg, MetricHTTPResponseSizeBytes)
	if family == nil || len(family.GetMetric()) != 1 {
		t.Fatal("expected exactly one response size series")
	}

	hist := family.GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", hist.GetSampleCount())
	}
	if hist.GetSampleSum() != float64(len(body)) {
		t.Errorf("sample sum = %f, want %d", hist.GetSampleSum(), len(body))
	}
}

func TestMetricsResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(rec)

	mrw.WriteHeader(http.StatusCreated)
	mrw.WriteHeader(http.StatusInternalServerError) // first write wins
	if mrw.statusCode != http.StatusCreated {
		t.Errorf("statusCode = %d, want %d", mrw.statusCode, http.StatusCreated)
	}

	n1, _ := mrw.Write([]byte(`{"id":`))
	n2, _ := mrw.Write([]byte(`"imp-1"}`))
	if want := int64(n1 + n2); mrw.size != want {
		t.Errorf("size = %d, want %d", mrw.size, want)
	}
}

func TestObserveHTTPRequest(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	m.ObserveHTTPRequest("GET", "/recommendations/{user_id}", "200", 0.042, 0, 512)
	m.ObserveHTTPRequest("POST", "/impressions", "201", 0.011, 128, 64)
	m.ObserveHTTPRequest("GET", "/recommendations/{user_id}", "200", 0.037, 0, 498)

	for _, name := range []string{
		MetricHTTPRequestDuration,
		MetricHTTPRequestsTotal,
		MetricHTTPRequestSizeBytes,
		MetricHTTPResponseSizeBytes,
	} {
		if gatherFamily(t, reg, name) == nil {
			t.Errorf("metric %s not found", name)
		}
	}

	// Two distinct label sets: GET ranked page and POST impression.
	total := gatherFamily(t, reg, MetricHTTPRequestsTotal)
	if got := len(total.GetMetric()); got != 2 {
		t.Errorf("expected 2 label sets, got %d", got)
	}
}
