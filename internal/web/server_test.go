package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/core/dialects"
	db "github.com/JonMunkholm/ingest/internal/database"
	"github.com/google/go-cmp/cmp"
)

type fakeImporter struct {
	mu       sync.Mutex
	jobs     []core.Job
	contents []string
	result   *core.Result
	err      error
}

func (f *fakeImporter) Import(ctx context.Context, job core.Job) (*core.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	data, _ := os.ReadFile(job.Path)
	f.contents = append(f.contents, string(data))
	return f.result, f.err
}

type fakeLedger struct {
	filter  core.LedgerFilter
	entries []db.LedgerEntry
	err     error
}

func (f *fakeLedger) Recent(ctx context.Context, filter core.LedgerFilter) ([]db.LedgerEntry, error) {
	f.filter = filter
	return f.entries, f.err
}

func testConfig(root string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:          8080,
			MaxUploadSize: 1 << 20,
			ImportRoot:    root,
		},
	}
}

func newTestServer(t *testing.T, imp *fakeImporter, led *fakeLedger, cfg *config.Config) *Server {
	t.Helper()
	reg, err := dialects.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s := NewServer(Deps{
		Importer: imp,
		Ledger:   led,
		Registry: reg,
		Limiter:  core.NewJobLimiter(2, 50*time.Millisecond),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "ingest_jobs_total 0")
		}),
	}, cfg)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestImport_PathJob(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "inv.csv"), []byte("fnsku\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	imp := &fakeImporter{result: &core.Result{Status: core.StatusSuccess, Rows: 2, Dialect: "test_generic", TargetTable: "test_generic_raw", Warnings: []string{}}}
	s := newTestServer(t, imp, &fakeLedger{}, testConfig(root))

	body := `{"path":"inv.csv","dialect":"test_generic","force":true,"stream":true,"chunk_size":10}`
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var got core.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != core.StatusSuccess || got.Rows != 2 {
		t.Errorf("result = %+v, want success with 2 rows", got)
	}

	want := core.Job{
		Path:      filepath.Join(root, "inv.csv"),
		SourceURI: "inv.csv",
		Dialect:   "test_generic",
		Force:     true,
		Streaming: true,
		ChunkSize: 10,
	}
	if len(imp.jobs) != 1 {
		t.Fatalf("Import called %d times, want 1", len(imp.jobs))
	}
	if diff := cmp.Diff(want, imp.jobs[0]); diff != "" {
		t.Errorf("job mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_PathRejected(t *testing.T) {
	tests := []struct {
		name string
		root string
		body string
	}{
		{"disabled", "", `{"path":"a.csv"}`},
		{"escapes root", "ROOT", `{"path":"../etc/passwd"}`},
		{"absolute outside root", "ROOT", `{"path":"/etc/passwd"}`},
		{"missing path", "ROOT", `{"dialect":"test_generic"}`},
		{"unknown field", "ROOT", `{"path":"a.csv","bogus":1}`},
		{"negative chunk", "ROOT", `{"path":"a.csv","chunk_size":-1}`},
		{"not json", "ROOT", `path=a.csv`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tt.root
			if root == "ROOT" {
				root = t.TempDir()
			}
			imp := &fakeImporter{}
			s := newTestServer(t, imp, &fakeLedger{}, testConfig(root))

			rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if got := decodeError(t, rec).Code; got != "REQ001" {
				t.Errorf("code = %q, want REQ001", got)
			}
			if len(imp.jobs) != 0 {
				t.Errorf("Import called %d times, want 0", len(imp.jobs))
			}
		})
	}
}

func TestImport_Upload(t *testing.T) {
	imp := &fakeImporter{result: &core.Result{Status: core.StatusSuccess, Rows: 1, Warnings: []string{}}}
	s := newTestServer(t, imp, &fakeLedger{}, testConfig(""))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("dialect", "test_generic")
	mw.WriteField("stream", "true")
	part, err := mw.CreateFormFile("file", "Report.CSV")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("ASIN,qty\nB0001,1\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(s, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(imp.jobs) != 1 {
		t.Fatalf("Import called %d times, want 1", len(imp.jobs))
	}
	job := imp.jobs[0]
	if filepath.Ext(job.Path) != ".csv" {
		t.Errorf("spooled path %q should keep the lowercased extension", job.Path)
	}
	if job.SourceURI != "upload:Report.CSV" {
		t.Errorf("SourceURI = %q, want %q", job.SourceURI, "upload:Report.CSV")
	}
	if !job.Streaming || job.Dialect != "test_generic" {
		t.Errorf("job = %+v, want streaming test_generic", job)
	}
	if imp.contents[0] != "ASIN,qty\nB0001,1\n" {
		t.Errorf("spooled content = %q", imp.contents[0])
	}
	if _, err := os.Stat(job.Path); !os.IsNotExist(err) {
		t.Errorf("spooled file %s should be removed after the import, stat err = %v", job.Path, err)
	}
}

func TestImport_UploadBadFlag(t *testing.T) {
	imp := &fakeImporter{}
	s := newTestServer(t, imp, &fakeLedger{}, testConfig(""))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("force", "maybe")
	part, _ := mw.CreateFormFile("file", "a.csv")
	part.Write([]byte("a\n1\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(s, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(imp.jobs) != 0 {
		t.Errorf("Import called %d times, want 0", len(imp.jobs))
	}
}

func TestImport_ErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantState  string
	}{
		{
			name:       "validation",
			err:        core.NewValidationError(core.MsgEmptyFile),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "FILE005",
		},
		{
			name:       "unknown report",
			err:        core.NewValidationError(core.MsgUnknownDialect),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VAL005",
		},
		{
			name:       "pipeline",
			err:        &core.PipelineError{State: core.StateLoading, Err: errors.New("connection reset by peer")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "DB005",
			wantState:  string(core.StateLoading),
		},
		{
			name:       "pipeline wrapping validation",
			err:        &core.PipelineError{State: core.StateValidating, Err: &core.ValidationError{Field: "qty", Row: 7, Message: "invalid integer"}},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VAL002",
			wantState:  string(core.StateValidating),
		},
		{
			name:       "busy",
			err:        core.ErrTooManyJobs,
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "JOB001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			imp := &fakeImporter{err: tt.err}
			s := newTestServer(t, imp, &fakeLedger{}, testConfig(root))

			rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(`{"path":"x.csv"}`)))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decodeError(t, rec)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.State != tt.wantState {
				t.Errorf("state = %q, want %q", resp.State, tt.wantState)
			}
		})
	}
}

func TestImport_InternalDetailHidden(t *testing.T) {
	imp := &fakeImporter{err: &core.PipelineError{State: core.StateLoading, Err: errors.New("secret dsn host=db1")}}
	s := newTestServer(t, imp, &fakeLedger{}, testConfig(t.TempDir()))

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(`{"path":"x.csv"}`)))
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("body leaks internal detail: %s", rec.Body.String())
	}
}

func TestImport_LimiterFull(t *testing.T) {
	imp := &fakeImporter{}
	s := newTestServer(t, imp, &fakeLedger{}, testConfig(t.TempDir()))

	for range s.deps.Limiter.MaxConcurrent() {
		if err := s.deps.Limiter.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(`{"path":"x.csv"}`)))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header not set")
	}
	if len(imp.jobs) != 0 {
		t.Errorf("Import called %d times, want 0", len(imp.jobs))
	}
}

func TestListLedger(t *testing.T) {
	led := &fakeLedger{entries: []db.LedgerEntry{{ID: 1, TargetTable: "t", Status: db.StatusSuccess, Rows: 3}}}
	s := newTestServer(t, &fakeImporter{}, led, testConfig(""))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/ledger?table=t&status=success&hash=abc&limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	want := core.LedgerFilter{TargetTable: "t", Status: "success", FileHash: "abc", Limit: 5}
	if diff := cmp.Diff(want, led.filter); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}

	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["target_table"] != "t" {
		t.Errorf("entries = %v", got)
	}
}

func TestListLedger_BadQuery(t *testing.T) {
	tests := []string{"status=done", "limit=0", "limit=ten"}
	for _, q := range tests {
		t.Run(q, func(t *testing.T) {
			s := newTestServer(t, &fakeImporter{}, &fakeLedger{}, testConfig(""))
			rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/ledger?"+q, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestListLedger_Empty(t *testing.T) {
	s := newTestServer(t, &fakeImporter{}, &fakeLedger{}, testConfig(""))
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/ledger", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestListDialects(t *testing.T) {
	s := newTestServer(t, &fakeImporter{}, &fakeLedger{}, testConfig(""))
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/dialects", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var got []dialectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(got))
	for i, d := range got {
		ids[i] = d.ID
	}
	var want []string
	for _, d := range dialects.All() {
		want = append(want, d.ID)
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("dialect ids mismatch (-want +got):\n%s", diff)
	}
	last := got[len(got)-1]
	if last.Detectable {
		t.Errorf("%s should be override-only", last.ID)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeImporter{}, &fakeLedger{}, testConfig(""))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	s.deps.Limiter.Close()
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("draining status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Jobs.Draining || resp.Status != "draining" {
		t.Errorf("health = %+v, want draining", resp)
	}
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, &fakeImporter{}, &fakeLedger{}, testConfig(""))
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "ingest_jobs_total") {
		t.Errorf("metrics body = %q", rec.Body.String())
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig("")
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}
	s := newTestServer(t, &fakeImporter{}, &fakeLedger{}, cfg)

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusForbidden},
		{"header", map[string]string{"X-API-Key": "k1"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer k1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/dialects", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if rec := serve(s, req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// Health stays open for probes.
	if rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, &fakeImporter{}, &fakeLedger{}, testConfig(""))
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.stop()

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.2.3.4") {
		t.Error("third request should be limited")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("other clients have their own budget")
	}
}

func TestResolveImportPath(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.csv", filepath.Join(root, "a.csv"), false},
		{"sub/../b.csv", filepath.Join(root, "b.csv"), false},
		{filepath.Join(root, "c.xlsx"), filepath.Join(root, "c.xlsx"), false},
		{"../x.csv", "", true},
		{"..", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := resolveImportPath(root, tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveImportPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveImportPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveImportPath_Symlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.csv"), []byte("a\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "inv.csv"), []byte("a\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	links := map[string]string{
		"leak.csv":  filepath.Join(outside, "secret.csv"),
		"out":       outside,
		"alias.csv": filepath.Join(root, "inv.csv"),
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(root, name)); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
	}

	tests := []struct {
		in      string
		wantErr bool
	}{
		{"leak.csv", true},
		{"out/secret.csv", true},
		{"alias.csv", false},
		{"inv.csv", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := resolveImportPath(root, tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveImportPath(%q) = %q, %v; wantErr %v", tt.in, got, err, tt.wantErr)
			}
			if !tt.wantErr && got != filepath.Join(root, tt.in) {
				t.Errorf("resolveImportPath(%q) = %q, want %q", tt.in, got, filepath.Join(root, tt.in))
			}
		})
	}
}
