package runapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/clarion/internal/triage"
)

// fakeService implements RunService without running a pipeline.
type fakeService struct {
	runs    *triage.RunStore
	nextID  string
	nextErr error
	started int
}

func (s *fakeService) Start(_ context.Context) (string, error) {
	if s.nextErr != nil {
		return "", s.nextErr
	}
	s.started++
	return s.nextID, nil
}

func (s *fakeService) Runs() *triage.RunStore { return s.runs }

func newTestRouter(t *testing.T, svc *fakeService) chi.Router {
	t.Helper()
	if svc.runs == nil {
		svc.runs = triage.NewRunStore()
	}
	r := chi.NewRouter()
	New(nil, svc).RegisterRoutes(r)
	return r
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

func TestTriggerRun_Accepted(t *testing.T) {
	t.Parallel()

	svc := &fakeService{nextID: "01RUN"}
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["id"] != "01RUN" {
		t.Errorf("id = %q, want 01RUN", body["id"])
	}
	if svc.started != 1 {
		t.Errorf("started = %d, want 1", svc.started)
	}
}

func TestTriggerRun_ConflictWhileActive(t *testing.T) {
	t.Parallel()

	svc := &fakeService{nextErr: triage.ErrRunActive}
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	svc := &fakeService{runs: triage.NewRunStore()}
	svc.runs.Put(&triage.Run{ID: "r1", Status: triage.StatusCompleted})
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var run triage.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if run.ID != "r1" || run.Status != triage.StatusCompleted {
		t.Errorf("run = %+v", run)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestLatestRun(t *testing.T) {
	t.Parallel()

	svc := &fakeService{runs: triage.NewRunStore()}
	svc.runs.Put(&triage.Run{ID: "r1", Status: triage.StatusCompleted})
	svc.runs.Put(&triage.Run{ID: "r2", Status: triage.StatusPartial})
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var run triage.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if run.ID != "r2" {
		t.Errorf("latest id = %q, want r2", run.ID)
	}
}

func TestLatestRun_Empty(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
