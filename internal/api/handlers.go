package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voxtodo/internal/ingest"
	"github.com/MrWong99/voxtodo/internal/observe"
	"github.com/MrWong99/voxtodo/pkg/task"
)

const maxBodyBytes = 1 << 20

// errIngestUnavailable is returned by ingestion routes when no
// [IngestService] is configured.
var errIngestUnavailable = errors.New("api: voice capture is not configured")

// errBadRequest marks client input errors.
var errBadRequest = errors.New("api: bad request")

// createRequest is the body of POST /api/tasks.
type createRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Due         string `json:"due"`
}

// patchRequest is the body of PATCH /api/tasks/{id}. Absent fields are left
// unchanged; "due": null clears the due date.
type patchRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Done        *bool           `json:"done"`
	Category    *string         `json:"category"`
	Due         json.RawMessage `json:"due"`
}

func (p patchRequest) toPatch() (task.Patch, error) {
	patch := task.Patch{
		Title:       p.Title,
		Description: p.Description,
		Done:        p.Done,
	}
	if p.Category != nil {
		c := task.NormalizeCategory(*p.Category)
		patch.Category = &c
	}
	if p.Due != nil {
		patch.DueSet = true
		if !bytes.Equal(p.Due, []byte("null")) {
			var raw string
			if err := json.Unmarshal(p.Due, &raw); err != nil {
				return task.Patch{}, fmt.Errorf("%w: due must be a string or null", errBadRequest)
			}
			due, err := parseDue(raw)
			if err != nil {
				return task.Patch{}, err
			}
			patch.Due = due
		}
	}
	return patch, nil
}

func parseDue(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	due, ok := task.ParseDue(raw)
	if !ok {
		return nil, fmt.Errorf("%w: due %q is not an ISO-8601 date-time", errBadRequest, raw)
	}
	return &due, nil
}

// ── tasks ────────────────────────────────────────────────────────────────────

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	all, err := s.cfg.Tasks.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if all == nil {
		all = []task.Task{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	due, err := parseDue(req.Due)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.cfg.Tasks.Add(r.Context(), task.Task{
		Title:       req.Title,
		Description: req.Description,
		Category:    task.NormalizeCategory(req.Category),
		Due:         due,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.cfg.Tasks.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req patchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.cfg.Tasks.UpdateTask(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Tasks.DeleteTask(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toggled, err := s.cfg.Tasks.ToggleDone(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toggled)
}

// ── ingestion ────────────────────────────────────────────────────────────────

func (s *Server) listIngestions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ingest == nil {
		s.writeError(w, r, errIngestUnavailable)
		return
	}
	list := s.cfg.Ingest.List()
	if list == nil {
		list = []ingest.Snapshot{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) startIngestion(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ingest == nil {
		s.writeError(w, r, errIngestUnavailable)
		return
	}
	c, err := s.cfg.Ingest.Start(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/ingest/"+c.ID())
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (s *Server) getIngestion(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ingest == nil {
		s.writeError(w, r, errIngestUnavailable)
		return
	}
	c, err := s.cfg.Ingest.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) toggleIngestion(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ingest == nil {
		s.writeError(w, r, errIngestUnavailable)
		return
	}
	c, err := s.cfg.Ingest.Toggle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, c.Snapshot())
}

// ── helpers ──────────────────────────────────────────────────────────────────

func taskID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid task id %q", errBadRequest, raw)
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, task.ErrEmptyTitle):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrNotFound), errors.Is(err, ingest.ErrUnknownIngestion):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrCaptureActive), errors.Is(err, ingest.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrDisposed):
		return http.StatusGone
	case errors.Is(err, errIngestUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
