package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"
)

type ipv4Server struct {
	URL string
	srv *http.Server
	ln  net.Listener
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	s := &ipv4Server{URL: "http://" + ln.Addr().String(), srv: srv, ln: ln}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	t.Cleanup(s.Close)
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// fakeAnalysisBackend mimics the analysis service's routes.
type fakeAnalysisBackend struct {
	mu     sync.Mutex
	routes []string
}

var tinyPNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func (f *fakeAnalysisBackend) Routes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.routes...)
}

func (f *fakeAnalysisBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.routes = append(f.routes, r.URL.Path)
	f.mu.Unlock()

	if r.Method == http.MethodGet && r.URL.Path == "/" {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Welcome to the Data Analysis API"})
		return
	}
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	switch r.URL.Path {
	case "/upload":
		_, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No file uploaded"})
			return
		}
		if hdr.Filename == "broken.csv" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Could not parse file"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":     "abc123",
			"file_overview":  "Sales by region",
			"dataframe_head": []map[string]any{{"region": "west", "revenue": 100}},
			"columns":        []string{"region", "revenue"},
		})
	case "/visualize":
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		viz := []map[string]any{{"type": "plotly", "spec": map[string]any{"data": []any{}}}}
		if q, _ := req["query"].(string); q != "" {
			viz = append(viz, map[string]any{"type": "bar", "image_base64": base64.StdEncoding.EncodeToString(tinyPNG)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"visualizations": viz})
	case "/query":
		var req struct {
			SessionID string `json:"session_id"`
			Query     string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.SessionID != "abc123" {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Session not found"})
			return
		}
		if req.Query == "explode" {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Query engine crashed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result":        []map[string]any{{"region": "west", "total": 100}},
			"justification": "Summed revenue per region",
			"executed_code": "df.groupby('region').revenue.sum()",
		})
	case "/convert_code":
		writeJSON(w, http.StatusOK, map[string]any{
			"python_code": "df.groupby('region').revenue.sum()",
			"sql_code":    "SELECT region, SUM(revenue) AS total FROM data GROUP BY region",
		})
	case "/validate":
		writeJSON(w, http.StatusOK, map[string]any{
			"validation_message": "The result is consistent with the data",
			"justification":      "Totals match",
		})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
