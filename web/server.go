// ABOUTME: HTTP JSON API over the question-answering runner: ask questions, browse run history and semantics.
// ABOUTME: Chi router with handler methods on a Server struct; the runner and store are interfaces so tests use fakes.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sifthq/sift/db"
	"github.com/sifthq/sift/orchestrator"
)

// QuestionRunner runs one question end to end.
type QuestionRunner interface {
	Run(ctx context.Context, question string, opts orchestrator.RunOptions) (*orchestrator.RunOutput, error)
}

// RunStore persists and lists completed runs and stored semantics.
type RunStore interface {
	SaveRun(ctx context.Context, question string, out *orchestrator.RunOutput) (string, error)
	ListRuns(ctx context.Context, limit int) ([]db.RunRecord, error)
	GetRun(ctx context.Context, runID string) (*db.RunRecord, error)
	ListSemantics(ctx context.Context) ([]orchestrator.Semantic, error)
}

// Server holds the chi router, the runner, and the run store.
type Server struct {
	router chi.Router
	runner QuestionRunner
	store  RunStore
}

// NewServer creates a Server with all routes configured.
func NewServer(runner QuestionRunner, store RunStore) *Server {
	s := &Server{runner: runner, store: store}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Post("/ask", s.handleAsk)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/semantics", s.handleListSemantics)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type askRequest struct {
	Question    string `json:"question"`
	Discovery   bool   `json:"discovery"`
	TargetTable string `json:"target_table"`
}

type askResponse struct {
	RunID     string   `json:"run_id,omitempty"`
	Answer    string   `json:"answer"`
	Cancelled bool     `json:"cancelled"`
	Queries   int      `json:"queries"`
	TotalRows int      `json:"total_rows"`
	SQLTrail  []string `json:"sql_trail"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleAsk runs one question and persists the result.
// Enforces a 1MB body limit; questions are short.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "question is required"})
		return
	}
	if req.Discovery && strings.TrimSpace(req.TargetTable) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "discovery requires target_table"})
		return
	}

	out, err := s.runner.Run(r.Context(), req.Question, orchestrator.RunOptions{
		Discovery:   req.Discovery,
		TargetTable: req.TargetTable,
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	resp := askResponse{
		Answer:    out.Answer,
		Cancelled: out.Cancelled,
		Queries:   out.Logs.Queries,
		TotalRows: out.Logs.TotalRows,
		SQLTrail:  out.SQLQueries,
	}

	if s.store != nil {
		id, err := s.store.SaveRun(r.Context(), req.Question, out)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "run completed but could not be saved: " + err.Error()})
			return
		}
		resp.RunID = id
	}

	writeJSON(w, http.StatusOK, resp)
}

type runSummary struct {
	RunID     string `json:"run_id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Cancelled bool   `json:"cancelled"`
	Queries   int    `json:"queries"`
	TotalRows int    `json:"total_rows"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	summaries := make([]runSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

type runDetail struct {
	runSummary
	DurationMS int64    `json:"duration_ms"`
	SQLTrail   []string `json:"sql_trail"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, runDetail{
		runSummary: summarize(*rec),
		DurationMS: rec.Duration.Milliseconds(),
		SQLTrail:   rec.SQLTrail,
	})
}

func summarize(rec db.RunRecord) runSummary {
	return runSummary{
		RunID:     rec.RunID,
		Question:  rec.Question,
		Answer:    rec.Answer,
		Cancelled: rec.Cancelled,
		Queries:   rec.Queries,
		TotalRows: rec.TotalRows,
		CreatedAt: rec.CreatedAt,
	}
}

type semanticView struct {
	ID          string `json:"id"`
	Term        string `json:"term"`
	Definition  string `json:"definition"`
	SQLFragment string `json:"sql_fragment,omitempty"`
}

func (s *Server) handleListSemantics(w http.ResponseWriter, r *http.Request) {
	semantics, err := s.store.ListSemantics(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	views := make([]semanticView, 0, len(semantics))
	for _, sem := range semantics {
		views = append(views, semanticView{
			ID:          sem.ID,
			Term:        sem.Term,
			Definition:  sem.Definition,
			SQLFragment: sem.SQLFragment,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"semantics": views})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
