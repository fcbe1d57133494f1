package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

const alertsPayload = `{"alerts":[{
	"count": 3,
	"escalatedCount": 1,
	"minTs": "2024-03-01T10:00:00.000Z",
	"maxTs": "2024-03-01T11:00:00.000Z",
	"event": {"_id": "a1", "_source": {
		"timestamp": "2024-03-01T11:00:00.000000+0000",
		"event_type": "alert",
		"src_ip": "10.0.0.1",
		"dest_ip": "10.0.0.2",
		"alert": {"signature_id": 2010935, "signature": "ET POLICY test", "severity": 1}
	}}
}]}`

type backend struct {
	mu       sync.Mutex
	posts    []string
	alertsQS string
	failIDs  map[string]bool
}

func (b *backend) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/1/alerts", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		b.alertsQS = req.URL.RawQuery
		b.mu.Unlock()
		_, _ = w.Write([]byte(alertsPayload))
	})
	r.Get("/api/1/event/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		_, _ = w.Write([]byte(`{"_id":"` + id + `","_source":{"event_type":"alert","tags":["seen"]}}`))
	})
	r.Post("/api/1/event/{id}/{action}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		b.mu.Lock()
		b.posts = append(b.posts, chi.URLParam(req, "action")+":"+id)
		fail := b.failIDs[id]
		b.mu.Unlock()
		if fail {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	for _, action := range []string{"archive", "escalate"} {
		action := action
		r.Post("/api/1/"+action, func(w http.ResponseWriter, req *http.Request) {
			b.mu.Lock()
			b.posts = append(b.posts, action+":group")
			b.mu.Unlock()
			_, _ = w.Write([]byte(`{}`))
		})
	}
	return r
}

func (b *backend) postCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.posts)
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("EVEBOX_REVIEW_CONFIG", "")
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestParseRange(t *testing.T) {
	cases := map[string]time.Duration{
		"":    0,
		"0":   0,
		"90s": 90 * time.Second,
		"6h":  6 * time.Hour,
		"7d":  7 * 24 * time.Hour,
	}
	for input, want := range cases {
		got, err := parseRange(input)
		if err != nil {
			t.Fatalf("parseRange(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("parseRange(%q) = %v, want %v", input, got, want)
		}
	}
	for _, bad := range []string{"-1h", "xd", "soon"} {
		if _, err := parseRange(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestAlertsJSON(t *testing.T) {
	b := &backend{}
	srv := httptest.NewServer(b.router())
	defer srv.Close()

	out, err := executeCommand(t, "alerts", "--url", srv.URL, "-o", "json", "--range", "1d")
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}

	var groups []struct {
		Count    int64     `json:"count"`
		Selected bool      `json:"selected"`
		Date     time.Time `json:"date"`
	}
	if err := json.Unmarshal([]byte(out), &groups); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(groups) != 1 || groups[0].Count != 3 || groups[0].Selected {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if !groups[0].Date.Equal(time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", groups[0].Date)
	}

	b.mu.Lock()
	qs := b.alertsQS
	b.mu.Unlock()
	if !strings.Contains(qs, "tags=-archived") || !strings.Contains(qs, "timeRange=86400s") {
		t.Fatalf("unexpected alerts query %q", qs)
	}
}

func TestAlertsTable(t *testing.T) {
	b := &backend{}
	srv := httptest.NewServer(b.router())
	defer srv.Close()

	out, err := executeCommand(t, "alerts", "--url", srv.URL, "-o", "table", "--range", "24h")
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	for _, want := range []string{"SIGNATURE", "ET POLICY test", "high", "1 alert group(s)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestEscalateFetchesThenPosts(t *testing.T) {
	b := &backend{}
	srv := httptest.NewServer(b.router())
	defer srv.Close()

	out, err := executeCommand(t, "escalate", "--url", srv.URL, "-o", "json", "e1", "e2")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}

	var results []mutationResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.OK || r.Job == "" {
			t.Fatalf("unexpected result %+v", r)
		}
		if strings.Join(r.Tags, ",") != "seen,escalated,evebox.escalated" {
			t.Fatalf("unexpected tags %v", r.Tags)
		}
	}
	if b.postCount() != 2 {
		t.Fatalf("expected 2 posts, got %d", b.postCount())
	}
}

func TestArchiveReportsFailures(t *testing.T) {
	b := &backend{failIDs: map[string]bool{"bad": true}}
	srv := httptest.NewServer(b.router())
	defer srv.Close()

	out, err := executeCommand(t, "archive", "--url", srv.URL, "-o", "table", "good", "bad")
	if err == nil {
		t.Fatalf("expected an error when a mutation fails")
	}
	if !strings.Contains(err.Error(), "1 of 2 archive") {
		t.Fatalf("unexpected error %v", err)
	}
	if !strings.Contains(out, "good") || !strings.Contains(out, "error:") {
		t.Fatalf("expected both results in output:\n%s", out)
	}
	if b.postCount() != 2 {
		t.Fatalf("expected both requests to be sent, got %d", b.postCount())
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := executeCommand(t, "alerts", "--url", "http://127.0.0.1:1", "-o", "yaml")
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Fatalf("expected output format error, got %v", err)
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	t.Setenv("EVEBOX_REVIEW_CONFIG", "/does/not/exist.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "-o", "table"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "evectl") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestSweepArchivesMatchingGroups(t *testing.T) {
	b := &backend{}
	srv := httptest.NewServer(b.router())
	defer srv.Close()

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	rules := "rules:\n  - id: policy-test\n    action: archive\n    match:\n      signature_id: 2010935\n"
	if err := os.WriteFile(rulesPath, []byte(rules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	out, err := executeCommand(t, "sweep", "--url", srv.URL, "-o", "json", "--rules", rulesPath, "--dry-run=false", "--range", "24h")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var result struct {
		Examined int `json:"examined"`
		Archived int `json:"archived"`
		Failed   int `json:"failed"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if result.Examined != 1 || result.Archived != 1 || result.Failed != 0 {
		t.Fatalf("unexpected sweep result %+v", result)
	}

	b.mu.Lock()
	posts := append([]string(nil), b.posts...)
	b.mu.Unlock()
	if len(posts) != 1 || posts[0] != "archive:group" {
		t.Fatalf("unexpected posts %v", posts)
	}
}
