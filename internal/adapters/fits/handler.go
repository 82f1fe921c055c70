package fits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cellfit/internal/fitstore"
	"cellfit/pkg/allenfit"
	"cellfit/pkg/cellmodel"
)

// MaxDocumentBytes caps the size of a fit document posted for extraction.
const MaxDocumentBytes = allenfit.MaxDocumentBytes

// Service is the subset of the ingest service the handler serves.
type Service interface {
	Extract(ctx context.Context, r io.Reader) (allenfit.Fit, error)
	Get(ctx context.Context, id string) (fitstore.Record, error)
	List(ctx context.Context) ([]fitstore.Record, error)
	Plan(ctx context.Context, id string, settings cellmodel.Settings) (cellmodel.Plan, error)
}

// Handler provides HTTP access to stored fits and ingest jobs.
type Handler struct {
	Service Service
	Ingests Scheduler
	// Settings seeds plan requests; query parameters override it.
	Settings cellmodel.Settings
}

// NewHandler constructs a fit HTTP handler with default plan settings.
func NewHandler(s Service) *Handler {
	return &Handler{Service: s, Settings: cellmodel.DefaultSettings()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "fit service not configured")
		return
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/fits":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleList(w, r)
	case path == "/api/v1/fits/extract":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleExtract(w, r)
	case strings.HasPrefix(path, "/api/v1/fits/"):
		h.handleFit(w, r, strings.TrimPrefix(path, "/api/v1/fits/"))
	case path == "/api/v1/ingests" || strings.HasPrefix(path, "/api/v1/ingests/"):
		if h.Ingests == nil {
			http.NotFound(w, r)
			return
		}
		h.handleIngests(w, r, path)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Service.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []fitstore.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fits": recs})
}

func (h *Handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	fit, err := h.Service.Extract(r.Context(), http.MaxBytesReader(w, r.Body, MaxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "fit document too large")
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fit": fit})
}

func (h *Handler) handleFit(w http.ResponseWriter, r *http.Request, remainder string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	segments := strings.Split(remainder, "/")
	switch {
	case len(segments) == 1 && segments[0] != "":
		rec, err := h.Service.Get(r.Context(), segments[0])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fit": rec})
	case len(segments) == 2 && segments[0] != "" && segments[1] == "plan":
		h.handlePlan(w, r, segments[0])
	default:
		writeError(w, http.StatusNotFound, "fit endpoint not found")
	}
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request, id string) {
	settings, err := h.planSettings(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := h.Service.Plan(r.Context(), id, settings)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": plan})
}

// planSettings applies the morphology, current, t_start, t_stop, threshold
// and auto_label query parameters to the handler's settings.
func (h *Handler) planSettings(r *http.Request) (cellmodel.Settings, error) {
	s := h.Settings
	s.Labels = append(cellmodel.Labels(nil), h.Settings.Labels...)
	q := r.URL.Query()
	if v := q.Get("morphology"); v != "" {
		s.Morphology = v
	}
	floats := []struct {
		name string
		dst  *float64
	}{
		{"current", &s.Current},
		{"t_start", &s.TStart},
		{"t_stop", &s.TStop},
		{"threshold", &s.Threshold},
	}
	for _, f := range floats {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cellmodel.Settings{}, errors.New("invalid " + f.name + " parameter")
		}
		*f.dst = parsed
	}
	if v := q.Get("auto_label"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cellmodel.Settings{}, errors.New("invalid auto_label parameter")
		}
		s.AutoLabel = b
	}
	if err := s.Validate(); err != nil {
		var unknown *cellmodel.UnknownLabelError
		if !errors.As(err, &unknown) {
			return cellmodel.Settings{}, err
		}
	}
	return s, nil
}

type ingestRequest struct {
	Key     string   `json:"key"`
	Formats []string `json:"formats"`
}

func (h *Handler) handleIngests(w http.ResponseWriter, r *http.Request, path string) {
	if path == "/api/v1/ingests" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleIngestCreate(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(path, "/api/v1/ingests/")
	job, ok := h.Ingests.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "ingest not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingest": job})
}

func (h *Handler) handleIngestCreate(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid ingest request payload")
		return
	}
	formats := make([]Format, 0, len(req.Formats))
	for _, f := range req.Formats {
		parsed, err := ParseFormat(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unsupported export format")
			return
		}
		formats = append(formats, parsed)
	}
	job, err := h.Ingests.Enqueue(r.Context(), IngestInput{Key: req.Key, Formats: formats})
	switch {
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ingest": job})
}

type extractionError struct {
	Error string             `json:"error"`
	Kind  string             `json:"kind"`
	Block *allenfit.BlockRef `json:"block"`
}

// writeServiceError maps service errors onto status codes: unknown records
// are 404, extraction and labelling failures 422, anything else 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, fitstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "fit not found")
		return
	}
	if kind := allenfit.Kind(err); kind != "" {
		body := extractionError{Error: err.Error(), Kind: kind}
		if ref, ok := allenfit.Offending(err); ok {
			body.Block = &ref
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
		return
	}
	var unknown *cellmodel.UnknownLabelError
	if errors.As(err, &unknown) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "kind": "unknown_label", "label": unknown.Name})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeJSON encodes before writing the header; an unencodable payload is
// reported as a 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(map[string]any{"error": "encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
