package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/llmc/llmc"
	"github.com/llmc/llmc/search"
)

type handler struct {
	engine *llmc.Engine
}

func newHandler(e *llmc.Engine) *handler {
	return &handler{engine: e}
}

// POST /index
// JSON body: {"path": "relative/or/absolute/path"}
func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if info, err := os.Stat(absPath); err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	fileID, changed, err := h.engine.IndexFile(ctx, absPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "indexing failed")
		slog.Error("index error", "path", absPath, "error", err, "request_id", requestIDFromContext(ctx))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_id": fileID,
		"path":    absPath,
		"changed": changed,
	})
}

// DELETE /index
// JSON body: {"path": "relative/or/absolute/path"}
func (h *handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	if err := h.engine.RemoveFile(ctx, absPath); err != nil {
		writeError(w, http.StatusInternalServerError, "remove failed")
		slog.Error("remove error", "path", absPath, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// POST /search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req struct {
		Query       string  `json:"query"`
		MaxResults  int     `json:"max_results,omitempty"`
		WeightVec   float64 `json:"weight_vector,omitempty"`
		WeightFTS   float64 `json:"weight_fts,omitempty"`
		WeightGraph float64 `json:"weight_graph,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.MaxResults < 0 || req.MaxResults > 200 {
		req.MaxResults = 0
	}

	results, trace, err := h.engine.Search(ctx, req.Query, search.Options{
		MaxResults:  req.MaxResults,
		WeightVec:   req.WeightVec,
		WeightFTS:   req.WeightFTS,
		WeightGraph: req.WeightGraph,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "query", req.Query, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"trace":   trace,
	})
}

// POST /enrich/run
// Runs a single enrichment cycle synchronously and reports whether it did work.
func (h *handler) handleEnrichRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	didWork, err := h.engine.RunEnrichmentCycle(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enrichment cycle failed")
		slog.Error("enrich run error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"did_work": didWork})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
