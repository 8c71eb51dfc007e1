package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/FocuswithJustin/docanchor/core/annotate"
	"github.com/FocuswithJustin/docanchor/core/cache"
	"github.com/FocuswithJustin/docanchor/core/cas"
	"github.com/FocuswithJustin/docanchor/core/errors"
	"github.com/FocuswithJustin/docanchor/core/journal"
	"github.com/FocuswithJustin/docanchor/core/sqlite"
	"github.com/FocuswithJustin/docanchor/internal/logging"
	"github.com/FocuswithJustin/docanchor/internal/server"
	"github.com/FocuswithJustin/docanchor/internal/validation"
)

// DocxContentType is the media type of word processing documents.
const DocxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
	// multipartOverhead is the allowance for form fields and boundaries on
	// top of the document itself.
	multipartOverhead = 1 << 20
)

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	Uptime    string       `json:"uptime"`
	SQLite    sqlite.Info  `json:"sqlite"`
	Listeners int          `json:"listeners"`
	Cache     *cache.Stats `json:"snapshot_cache,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"name":    "docanchor API",
		"version": s.cfg.Version,
		"endpoints": []string{
			"GET /health",
			"POST /annotate",
			"GET /journal",
			"GET /journal/{id}",
			"GET /snapshots/{hash}",
			"WS /ws",
		},
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := HealthInfo{
		Status:    "healthy",
		Version:   s.cfg.Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		SQLite:    sqlite.GetInfo(),
		Listeners: s.hub.Clients(),
	}
	if s.snapshots != nil {
		st := s.snapshots.Stats()
		info.Cache = &st
	}
	respond(w, http.StatusOK, info)
}

// handleAnnotate attaches one comment to an uploaded document and returns
// the rewritten document.
func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	maxUpload := s.cfg.MaxUpload
	if maxUpload <= 0 {
		maxUpload = validation.MaxFileSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, http.StatusRequestEntityTooLarge, "INVALID_DOCUMENT", "Upload exceeds the size limit")
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_FORM", "Expected a multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "MISSING_FILE", "Form field 'file' is required")
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !server.ValidateContentType(ct, server.AllowedUploadContentTypes) {
		respondError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Unsupported upload type "+ct)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "READ_FAILED", err.Error())
		return
	}
	if err := validation.ValidateContainer(data, header.Filename, maxUpload); err != nil {
		logging.SecurityEvent("upload_rejected", "api", "filename", header.Filename, "reason", err.Error())
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, validation.ErrFileTooLarge):
			status = http.StatusRequestEntityTooLarge
		case errors.Is(err, validation.ErrNotContainer):
			status = http.StatusUnsupportedMediaType
		}
		respondError(w, status, "INVALID_DOCUMENT", err.Error())
		return
	}

	name, err := validation.SanitizeFilename(header.Filename)
	if err != nil {
		name = "document.docx"
	}

	strict := false
	if v := r.FormValue("strict"); v != "" {
		if strict, err = strconv.ParseBool(v); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "strict must be a boolean")
			return
		}
	}
	req := annotate.Request{
		Target:   r.FormValue("target"),
		Body:     r.FormValue("body"),
		Author:   r.FormValue("author"),
		Initials: r.FormValue("initials"),
		Strict:   strict,
	}

	out, err := s.pipeline.AnnotateBytes(r.Context(), name, data, []annotate.Request{req})
	if err != nil {
		status, code := statusFor(err)
		respondError(w, status, code, err.Error())
		return
	}

	if s.snapshots != nil && out.OutputSHA256 != "" {
		s.snapshots.Put(out.OutputSHA256, out.Data)
	}

	res := out.Outcomes[0].Result
	h := w.Header()
	h.Set("Content-Type", DocxContentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.Set("X-Annotation-Id", strconv.Itoa(res.ID))
	h.Set("X-Annotation-Mode", res.Mode.String())
	h.Set("X-Annotation-Paragraph", strconv.Itoa(res.Paragraph))
	h.Set("X-Journal-Entry", out.Outcomes[0].EntryID)
	h.Set("X-Snapshot-Sha256", out.OutputSHA256)
	w.WriteHeader(http.StatusOK)
	w.Write(out.Data)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := journal.Filter{
		Document: q.Get("document"),
		Batch:    q.Get("batch"),
		Limit:    defaultJournalLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxJournalLimit {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER",
				fmt.Sprintf("limit must be between 1 and %d", maxJournalLimit))
			return
		}
		f.Limit = n
	}
	if v := q.Get("failed"); v != "" {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "failed must be a boolean")
			return
		}
		f.Failed = failed
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "since must be an RFC 3339 time")
			return
		}
		f.Since = since
	}

	entries, err := s.journal.List(r.Context(), f)
	if err != nil {
		status, code := statusFor(err)
		respondError(w, status, code, err.Error())
		return
	}
	if entries == nil {
		entries = []*journal.Entry{}
	}
	respondList(w, entries, len(entries))
}

func (s *Server) handleJournalEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.journal.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		status, code := statusFor(err)
		respondError(w, status, code, err.Error())
		return
	}
	respond(w, http.StatusOK, e)
}

// handleSnapshot serves a stored document by its SHA-256 or BLAKE3 digest.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	sha, err := s.store.Resolve(hash)
	if err == nil {
		var data []byte
		if data, err = s.readSnapshot(sha); err == nil {
			w.Header().Set("Content-Type", DocxContentType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sha[:12]+".docx"))
			w.Header().Set("ETag", `"`+sha+`"`)
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}

	switch {
	case errors.Is(err, cas.ErrInvalidHash):
		respondError(w, http.StatusBadRequest, "INVALID_HASH", "Expected a 64 character hex digest")
	case errors.Is(err, cas.ErrBlobNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No snapshot with that digest")
	default:
		logging.ErrorContext(r.Context(), "snapshot read failed", "hash", hash, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read snapshot")
	}
}

// readSnapshot returns a blob through the snapshot cache.
func (s *Server) readSnapshot(sha string) ([]byte, error) {
	if s.snapshots != nil {
		if data, ok := s.snapshots.Get(sha); ok {
			return data, nil
		}
	}
	data, err := s.store.Get(sha)
	if err != nil {
		return nil, err
	}
	if s.snapshots != nil {
		s.snapshots.Put(sha, data)
	}
	return data, nil
}

// statusFor maps core errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrTargetNotFound):
		return http.StatusUnprocessableEntity, "TARGET_NOT_FOUND"
	case errors.Is(err, errors.ErrEmptyAttachmentTarget):
		return http.StatusUnprocessableEntity, "NO_ATTACHABLE_LOCATION"
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED"
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondList(w http.ResponseWriter, data interface{}, total int) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
