package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/enhance"
	"github.com/hazyhaar/docenrich/orchestrator"
	"github.com/hazyhaar/docenrich/shield"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("expected multipart/form-data: %w", err))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, errors.New("missing file field"))
			return
		}
		if err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				code = http.StatusBadRequest
			}
			writeError(w, code, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := part.FileName()
		if name == "" {
			name = "document.pdf"
		}
		res, err := s.ingest.Receive(r.Context(), part, name, part.Header.Get("Content-Type"))
		part.Close()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		shield.GetLogger(r.Context()).Info("api: document uploaded", "doc_id", res.DocumentID, "size", res.SizeBytes)
		code := http.StatusCreated
		if res.Deduplicated {
			code = http.StatusOK
		}
		writeJSON(w, code, res)
		return
	}
}

// documentItem is one entry of the document list.
type documentItem struct {
	DocumentID         string             `json:"document_id"`
	Filename           string             `json:"filename"`
	SizeBytes          int64              `json:"size_bytes"`
	UploadedAt         time.Time          `json:"uploaded_at"`
	CurrentStage       orchestrator.Stage `json:"current_stage"`
	ProgressPercentage int                `json:"progress_percentage"`
	IsComplete         bool               `json:"is_complete"`
	Running            bool               `json:"running"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.List()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]documentItem, 0, len(ids))
	for _, id := range ids {
		item := documentItem{DocumentID: id, Running: s.orch.Running(id)}
		if m, err := s.store.LoadMeta(id); err == nil {
			item.Filename = m.OriginalFilename
			item.SizeBytes = m.SizeBytes
			item.UploadedAt = m.UploadedAt
		}
		if st, err := orchestrator.LoadState(s.store, id); err == nil {
			item.CurrentStage = st.CurrentStage
			item.ProgressPercentage = st.ProgressPercentage
			item.IsComplete = st.IsComplete
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": items, "total": len(items)})
}

func (s *Server) handleTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Registry().FrontendConfig())
}

func (s *Server) handleReloadTypes(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.ReloadCatalogue(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Registry().FrontendConfig())
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.store.Exists(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
		return
	}
	a, err := s.orch.Analyze(id)
	if errors.Is(err, artifacts.ErrNotFound) {
		writeError(w, http.StatusConflict, fmt.Errorf("document %s is not extracted yet", id))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// processBody is the optional body of the process endpoint. Without
// selected_types the namespace profile decides.
type processBody struct {
	Namespace          string   `json:"namespace"`
	SelectedTypes      []string `json:"selected_types"`
	DomainHint         string   `json:"domain_hint"`
	CustomInstructions string   `json:"custom_instructions"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body processBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxJSONBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	req := orchestrator.Request{Namespace: body.Namespace}
	if len(body.SelectedTypes) > 0 {
		req.Selection = &enhance.Selection{
			TypeIDs:            body.SelectedTypes,
			DomainHint:         body.DomainHint,
			CustomInstructions: body.CustomInstructions,
		}
	}
	st, err := s.orch.Schedule(r.Context(), s.queue, id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// statusResponse is the persisted state plus whether a worker of this
// process holds the document.
type statusResponse struct {
	*orchestrator.State
	Running bool `json:"running"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.orch.Status(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{State: st, Running: s.orch.Running(id)})
}

func (s *Server) handleMarkdown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version := r.URL.Query().Get("version")
	if version == "" {
		version = artifacts.V1
	}
	if version != artifacts.V1 && version != artifacts.V2 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("version must be %s or %s", artifacts.V1, artifacts.V2))
		return
	}
	if !s.store.Exists(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
		return
	}
	path, err := s.store.MarkdownPath(id, version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, fmt.Errorf("markdown %s of %s not generated yet", version, id))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (s *Server) handleEnhancements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.store.Exists(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
		return
	}
	var file enhance.File
	if err := s.store.ReadJSON(id, artifacts.EnhancementsFile, &file); err != nil {
		s.fail(w, r, err)
		return
	}

	typ, status := r.URL.Query().Get("type"), r.URL.Query().Get("status")
	if typ != "" || status != "" {
		kept := make([]enhance.Enhancement, 0, len(file.Enhancements))
		for _, e := range file.Enhancements {
			if (typ == "" || e.EnhancementType == typ) && (status == "" || e.Status == status) {
				kept = append(kept, e)
			}
		}
		file.Enhancements = kept
		file.Total = len(kept)
		file.ByType = enhance.CountByType(kept)
	}
	writeJSON(w, http.StatusOK, file)
}
