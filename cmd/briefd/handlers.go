package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veridoc/briefd/docpipe"
	"github.com/veridoc/briefd/intake"
	"github.com/veridoc/briefd/observability"
	"github.com/veridoc/briefd/summarize"
)

type api struct {
	svc   *intake.Service
	cfg   *intake.Config
	obsDB *sql.DB
}

func (a *api) routes(r chi.Router) {
	r.Post("/v1/summarize", a.handleSummarize)
	r.Get("/v1/documents/{id}", a.handleGetDocument)
	r.Delete("/v1/documents/{id}", a.handleDeleteDocument)
	r.Get("/v1/matters/{id}", a.handleGetMatter)
	r.Get("/v1/formats", a.handleFormats)
	r.Get("/v1/health", a.handleHealth)
}

// summarizeEnvelope is the response body of POST /v1/summarize.
type summarizeEnvelope struct {
	Success    bool                         `json:"success"`
	DocumentID string                       `json:"document_id,omitempty"`
	Summary    *summarize.StructuredSummary `json:"summary,omitempty"`
	Error      string                       `json:"error,omitempty"`
}

func (a *api) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(a.cfg.MaxFileBytes()); err != nil {
		writeEnvelope(w, http.StatusBadRequest, summarizeEnvelope{Error: "parse form: " + err.Error()})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, summarizeEnvelope{Error: "missing file field"})
		return
	}
	defer file.Close()

	matterID := r.FormValue("matter_id")
	if matterID == "" {
		matterID = a.svc.NewID()
	}
	mimeType := header.Header.Get("Content-Type")

	result, err := a.svc.Process(r.Context(), file, matterID, header.Filename, mimeType)
	if err != nil {
		writeEnvelope(w, summarizeStatus(err), summarizeEnvelope{Error: err.Error()})
		return
	}

	writeEnvelope(w, http.StatusOK, summarizeEnvelope{
		Success:    true,
		DocumentID: result.SHA256,
		Summary:    result.Summary,
	})
}

// summarizeStatus maps pipeline errors onto HTTP status codes. Caller
// mistakes get 4xx; a broken model endpoint is a 502.
func summarizeStatus(err error) int {
	switch {
	case errors.Is(err, intake.ErrFileTooLarge), errors.Is(err, docpipe.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, docpipe.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, docpipe.ErrUnsupportedFormat), errors.Is(err, docpipe.ErrOCRDisabled):
		return http.StatusBadRequest
	case errors.Is(err, intake.ErrModelUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := a.svc.Store.GetDocumentBySHA(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}

	resp := map[string]any{"document": doc}
	if rec, err := a.svc.Store.GetSummary(doc.SHA256, doc.MatterID); err == nil && rec != nil {
		resp["summary"] = json.RawMessage(rec.SummaryJSON)
		resp["chunk_count"] = rec.ChunkCount
		resp["model"] = rec.Model
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := a.svc.Store.GetDocumentBySHA(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}

	// SQLite first (CASCADE cleans summary + routes), then filesystem.
	if err := a.svc.Store.DeleteDocument(doc.SHA256, doc.MatterID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if doc.SpoolPath != "" {
		if err := os.RemoveAll(filepath.Dir(doc.SpoolPath)); err != nil {
			slog.Warn("cleanup spooled blob", "path", doc.SpoolPath, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleGetMatter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	matter, err := a.svc.Store.GetMatter(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if matter == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "matter not found"})
		return
	}
	docs, _ := a.svc.Store.ListDocuments(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"matter":    matter,
		"documents": docs,
	})
}

func (a *api) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"formats": docpipe.SupportedFormats()})
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Staleness threshold = 3× heartbeat interval.
	const stalenessThreshold = 45 * time.Second

	total, _ := a.svc.Store.DocumentsCount("")
	summarized, _ := a.svc.Store.DocumentsCount(intake.StateSummarized)
	failed, _ := a.svc.Store.DocumentsCount(intake.StateFailed)

	resp := map[string]any{
		"status":               "ok",
		"documents_total":      total,
		"documents_summarized": summarized,
		"documents_failed":     failed,
		"model_reachable":      a.modelReachable(r),
	}

	if a.obsDB != nil {
		hb, err := observability.LatestHeartbeat(r.Context(), a.obsDB, "briefd", stalenessThreshold)
		if err == nil && hb != nil {
			resp["heartbeat"] = hb
			if !hb.Alive {
				resp["status"] = "degraded"
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// modelReachable pings the model endpoint. Any HTTP response counts as
// reachable; only connection failures do not.
func (a *api) modelReachable(r *http.Request) bool {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, a.cfg.Model.Endpoint+"/v1/models", nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeEnvelope(w http.ResponseWriter, code int, env summarizeEnvelope) {
	writeJSON(w, code, env)
}

// requestLog records each request in the observability DB.
func requestLog(obsDB *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			observability.LogHTTPRequest(r.Context(), obsDB,
				r.Method, r.URL.Path, ww.Status(), time.Since(start),
				r.RemoteAddr, r.UserAgent())
		})
	}
}
