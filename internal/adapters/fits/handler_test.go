package fits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"cellfit/internal/blob"
	"cellfit/internal/core"
	"cellfit/internal/fitstore"
	"cellfit/internal/infra/persistence/memory"
	"cellfit/pkg/allenfit"
	"cellfit/pkg/cellmodel"
)

const unsuffixedDocument = `{
  "passive": [{"ra": 100}],
  "conditions": [{"celsius": 34, "v_init": -80, "erev": [{"section": "soma", "ena": 50}]}],
  "genome": [{"section": "soma", "name": "gnabar", "value": "0.12", "mechanism": "hh"}]
}`

type testServer struct {
	handler *Handler
	worker  *Worker
	blobs   blob.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	blobs := blob.NewMemory()
	svc := core.NewService(blobs, memory.NewStore())
	worker := NewWorker(svc, blobs)
	worker.Start()
	t.Cleanup(func() { stopWorker(t, worker) })
	h := NewHandler(svc)
	h.Ingests = worker
	return &testServer{handler: h, worker: worker, blobs: blobs}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var payload map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, payload
}

func sampleDocument(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile("../../../pkg/allenfit/testdata/fit.json")
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	return b
}

func TestHandlerExtract(t *testing.T) {
	s := newTestServer(t)
	rec, payload := s.do(t, http.MethodPost, "/api/v1/fits/extract", bytes.NewReader(sampleDocument(t)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	fit := payload["fit"].(map[string]any)
	if regions := fit["regions"].([]any); len(regions) != 3 {
		t.Fatalf("expected 3 region overrides, got %v", regions)
	}

	rec, payload = s.do(t, http.MethodPost, "/api/v1/fits/extract", strings.NewReader(unsuffixedDocument))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if payload["kind"] != allenfit.KindMissingMechanismSuffix {
		t.Fatalf("unexpected kind %v", payload["kind"])
	}
	block := payload["block"].(map[string]any)
	if block["index"] != float64(0) || block["mechanism"] != "hh" || block["name"] != "gnabar" {
		t.Fatalf("unexpected block %v", block)
	}

	rec, payload = s.do(t, http.MethodPost, "/api/v1/fits/extract", strings.NewReader("{"))
	if rec.Code != http.StatusUnprocessableEntity || payload["kind"] != allenfit.KindMalformedInput {
		t.Fatalf("expected malformed input, got %d %v", rec.Code, payload)
	}

	rec, payload = s.do(t, http.MethodPost, "/api/v1/fits/extract", strings.NewReader(`{"genome": [{"section": "soma", "name": "gnabar_hh", "value": true, "mechanism": "hh"}]}`))
	if rec.Code != http.StatusUnprocessableEntity || payload["kind"] != allenfit.KindMalformedInput {
		t.Fatalf("expected malformed input, got %d %v", rec.Code, payload)
	}
	if block, ok := payload["block"].(map[string]any); !ok || block["index"] != float64(0) || block["region"] != "soma" {
		t.Fatalf("expected offending block in %v", payload)
	}

	rec, _ = s.do(t, http.MethodPost, "/api/v1/fits/extract", strings.NewReader(strings.Repeat(" ", MaxDocumentBytes+1)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	rec, _ = s.do(t, http.MethodGet, "/api/v1/fits/extract", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandlerIngestAndRead(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.blobs.Put(context.Background(), "fits/cell.json", bytes.NewReader(sampleDocument(t)), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	rec, payload := s.do(t, http.MethodGet, "/api/v1/fits", nil)
	if rec.Code != http.StatusOK || len(payload["fits"].([]any)) != 0 {
		t.Fatalf("expected empty list, got %d %v", rec.Code, payload)
	}

	rec, payload = s.do(t, http.MethodPost, "/api/v1/ingests", strings.NewReader(`{"key":"fits/cell.json","formats":["csv"]}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	jobID := payload["ingest"].(map[string]any)["id"].(string)
	job := waitTerminal(t, s.worker, jobID)
	if job.Status != JobStatusSucceeded {
		t.Fatalf("ingest failed: %+v", job)
	}

	rec, payload = s.do(t, http.MethodGet, "/api/v1/ingests/"+jobID, nil)
	if rec.Code != http.StatusOK || payload["ingest"].(map[string]any)["status"] != string(JobStatusSucceeded) {
		t.Fatalf("unexpected ingest status %d %v", rec.Code, payload)
	}
	if _, err := s.blobs.Head(context.Background(), ArtifactKey(job.RecordID, FormatCSV)); err != nil {
		t.Fatalf("expected csv artifact: %v", err)
	}

	rec, payload = s.do(t, http.MethodGet, "/api/v1/fits/"+job.RecordID, nil)
	if rec.Code != http.StatusOK || payload["fit"].(map[string]any)["source"] != "fits/cell.json" {
		t.Fatalf("unexpected fit %d %v", rec.Code, payload)
	}
	rec, payload = s.do(t, http.MethodGet, "/api/v1/fits", nil)
	if rec.Code != http.StatusOK || len(payload["fits"].([]any)) != 1 {
		t.Fatalf("expected one fit, got %v", payload)
	}

	rec, payload = s.do(t, http.MethodGet, "/api/v1/fits/"+job.RecordID+"/plan?current=0.2&morphology=other.swc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected plan, got %d: %s", rec.Code, rec.Body.String())
	}
	plan := payload["plan"].(map[string]any)
	if plan["morphology"] != "other.swc" {
		t.Fatalf("expected morphology override, got %v", plan["morphology"])
	}

	rec, _ = s.do(t, http.MethodGet, "/api/v1/fits/"+job.RecordID+"/plan?t_stop=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad t_stop, got %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodGet, "/api/v1/fits/"+job.RecordID+"/plan?t_start=2000", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for t_start after t_stop, got %d", rec.Code)
	}
	rec, _ = s.do(t, http.MethodGet, "/api/v1/fits/"+job.RecordID+"/plan?auto_label=maybe", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad auto_label, got %d", rec.Code)
	}
}

func TestHandlerNotFoundAndMethods(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		method, path string
		body         string
		want         int
	}{
		{http.MethodGet, "/api/v1/fits/missing", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/fits/missing/plan", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/fits/a/b/c", "", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/fits/a", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/fits", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/ingests", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/ingests/x", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/ingests/unknown", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/ingests", "{", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/ingests", `{"key":"k","formats":["png"]}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/ingests", `{"key":" "}`, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/other", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec, _ := s.do(t, tc.method, tc.path, strings.NewReader(tc.body))
		if rec.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
}

func TestHandlerIngestUnavailable(t *testing.T) {
	s := newTestServer(t)
	stopWorker(t, s.worker)
	rec, _ := s.do(t, http.MethodPost, "/api/v1/ingests", strings.NewReader(`{"key":"fits/a.json"}`))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after stop, got %d", rec.Code)
	}

	s.handler.Ingests = nil
	rec, _ = s.do(t, http.MethodGet, "/api/v1/ingests/x", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without scheduler, got %d", rec.Code)
	}
	rec, _ = (&testServer{handler: &Handler{}}).do(t, http.MethodGet, "/api/v1/fits", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without service, got %d", rec.Code)
	}
}

type stubService struct {
	err error
}

func (s stubService) Extract(context.Context, io.Reader) (allenfit.Fit, error) {
	return allenfit.Fit{}, s.err
}

func (s stubService) Get(context.Context, string) (fitstore.Record, error) {
	return fitstore.Record{}, s.err
}

func (s stubService) List(context.Context) ([]fitstore.Record, error) { return nil, s.err }

func (s stubService) Plan(context.Context, string, cellmodel.Settings) (cellmodel.Plan, error) {
	return cellmodel.Plan{}, s.err
}

func TestHandlerServiceErrors(t *testing.T) {
	s := &testServer{handler: NewHandler(stubService{err: &cellmodel.UnknownLabelError{Name: "custom"}})}
	rec, payload := s.do(t, http.MethodGet, "/api/v1/fits/x/plan", nil)
	if rec.Code != http.StatusUnprocessableEntity || payload["kind"] != "unknown_label" || payload["label"] != "custom" {
		t.Fatalf("unexpected unknown label response %d %v", rec.Code, payload)
	}

	s.handler.Service = stubService{err: errors.New("disk on fire")}
	rec, payload = s.do(t, http.MethodGet, "/api/v1/fits", nil)
	if rec.Code != http.StatusInternalServerError || payload["error"] != "disk on fire" {
		t.Fatalf("unexpected 500 response %d %v", rec.Code, payload)
	}

	s.handler.Service = stubService{}
	rec, payload = s.do(t, http.MethodGet, "/api/v1/fits", nil)
	if rec.Code != http.StatusOK || payload["fits"] == nil {
		t.Fatalf("expected empty list for nil result, got %v", payload)
	}
}

func TestPlanSettingsKeepsHandlerDefaults(t *testing.T) {
	h := NewHandler(stubService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/fits/x/plan?auto_label=true&threshold=-30", nil)
	s, err := h.planSettings(req)
	if err != nil {
		t.Fatalf("planSettings: %v", err)
	}
	if !s.AutoLabel || s.Threshold != -30 || h.Settings.AutoLabel || h.Settings.Threshold != -40 {
		t.Fatalf("unexpected settings %+v (handler %+v)", s, h.Settings)
	}
}

func TestWriteJSONUnencodablePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]any{"value": math.NaN()})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	if msg, _ := payload["error"].(string); !strings.HasPrefix(msg, "encode response") {
		t.Fatalf("unexpected error payload %v", payload)
	}
}
