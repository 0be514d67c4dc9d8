// ABOUTME: Handler tests using httptest against fake runner and store implementations.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sifthq/sift/db"
	"github.com/sifthq/sift/orchestrator"
)

type fakeRunner struct {
	lastQuestion string
	lastOpts     orchestrator.RunOptions
	out          *orchestrator.RunOutput
	err          error
}

func (f *fakeRunner) Run(_ context.Context, question string, opts orchestrator.RunOptions) (*orchestrator.RunOutput, error) {
	f.lastQuestion = question
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeStore struct {
	saved     []string
	records   []db.RunRecord
	semantics []orchestrator.Semantic
}

func (f *fakeStore) SaveRun(_ context.Context, question string, _ *orchestrator.RunOutput) (string, error) {
	f.saved = append(f.saved, question)
	return fmt.Sprintf("run-%d", len(f.saved)), nil
}

func (f *fakeStore) ListRuns(_ context.Context, limit int) ([]db.RunRecord, error) {
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeStore) GetRun(_ context.Context, runID string) (*db.RunRecord, error) {
	for i := range f.records {
		if f.records[i].RunID == runID {
			return &f.records[i], nil
		}
	}
	return nil, fmt.Errorf("run %s not found", runID)
}

func (f *fakeStore) ListSemantics(context.Context) ([]orchestrator.Semantic, error) {
	return f.semantics, nil
}

func newTestServer(runner *fakeRunner, store *fakeStore) *Server {
	return NewServer(runner, store)
}

func TestAskRunsAndPersists(t *testing.T) {
	runner := &fakeRunner{out: &orchestrator.RunOutput{
		Answer:     "There are 7 orders.",
		SQLQueries: []string{"SELECT id FROM orders LIMIT 200;"},
		Logs:       orchestrator.RunLogs{Queries: 1, TotalRows: 7},
	}}
	store := &fakeStore{}
	srv := newTestServer(runner, store)

	body := `{"question": "how many orders?"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "There are 7 orders." || resp.RunID != "run-1" || resp.Queries != 1 {
		t.Errorf("response = %+v", resp)
	}
	if runner.lastQuestion != "how many orders?" {
		t.Errorf("runner question = %q", runner.lastQuestion)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved runs = %d, want 1", len(store.saved))
	}
}

func TestAskValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", "{not json", http.StatusBadRequest},
		{"missing question", `{"question": "  "}`, http.StatusUnprocessableEntity},
		{"discovery without table", `{"question": "explore", "discovery": true}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeRunner{}, &fakeStore{})
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestAskDiscoveryPassesOptions(t *testing.T) {
	runner := &fakeRunner{out: &orchestrator.RunOutput{}}
	srv := newTestServer(runner, &fakeStore{})

	body := `{"question": "explore orders", "discovery": true, "target_table": "orders"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !runner.lastOpts.Discovery || runner.lastOpts.TargetTable != "orders" {
		t.Errorf("opts = %+v", runner.lastOpts)
	}
}

func TestAskRunFailure(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("model unavailable")}
	srv := newTestServer(runner, &fakeStore{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question": "q"}`)))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model unavailable") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestListRuns(t *testing.T) {
	store := &fakeStore{records: []db.RunRecord{
		{RunID: "b", Question: "second", Queries: 2},
		{RunID: "a", Question: "first", Queries: 1},
	}}
	srv := newTestServer(&fakeRunner{}, store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Runs []runSummary `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Runs) != 1 || resp.Runs[0].RunID != "b" {
		t.Errorf("runs = %+v", resp.Runs)
	}
}

func TestListRunsBadLimit(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, &fakeStore{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetRun(t *testing.T) {
	store := &fakeStore{records: []db.RunRecord{{
		RunID:    "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Question: "how many orders?",
		Answer:   "7",
		Duration: 120 * time.Millisecond,
		SQLTrail: []string{"SELECT id FROM orders LIMIT 200;"},
	}}}
	srv := newTestServer(&fakeRunner{}, store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp runDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DurationMS != 120 || len(resp.SQLTrail) != 1 {
		t.Errorf("detail = %+v", resp)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status for missing run = %d, want 404", rec.Code)
	}
}

func TestListSemantics(t *testing.T) {
	store := &fakeStore{semantics: []orchestrator.Semantic{
		{ID: "s1", Term: "active customer", Definition: "ordered recently"},
	}}
	srv := newTestServer(&fakeRunner{}, store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/semantics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "active customer") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, &fakeStore{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}
