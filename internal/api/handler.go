// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the ingestion entry points: archive upload with zip
// staging, registration of already-staged trees, and the read-only job status
// projection. Uploads are acknowledged fast and staged in the background, in
// line with the rest of the pipeline being asynchronous.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/mailstore/ingestion/internal/models"
)

// JobStore is the subset of the job store the handler uses.
type JobStore interface {
	Create(ctx context.Context, source, inputRoot string) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	SetStatus(ctx context.Context, id string, status models.JobStatus) error
	SetInputRoot(ctx context.Context, id, inputRoot string) error
}

// Starter hands a staged job to the workers.
type Starter interface {
	PublishStartJob(ctx context.Context, jobID string) error
}

// Handler serves the job endpoints.
type Handler struct {
	jobs       JobStore
	starter    Starter
	stagingDir string
	healthz    []func(context.Context) error
}

// NewHandler creates the API handler. healthChecks are pinged by /healthz.
func NewHandler(jobs JobStore, starter Starter, stagingDir string, healthChecks ...func(context.Context) error) *Handler {
	return &Handler{
		jobs:       jobs,
		starter:    starter,
		stagingDir: stagingDir,
		healthz:    healthChecks,
	}
}

// Register installs the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", h.handleUpload)
	mux.HandleFunc("POST /jobs/local", h.handleLocal)
	mux.HandleFunc("GET /jobs/{id}", h.handleGetJob)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

// handleUpload accepts a zip archive, creates the job, and answers 202 with
// the job id before extraction begins. Staging and fan-out happen in the
// background; progress is visible on the job record.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("archive")
	if err != nil {
		httpError(w, http.StatusBadRequest, "missing archive upload")
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "mailstore-upload-*.zip")
	if err != nil {
		slog.Error("create upload temp file", "error", err)
		httpError(w, http.StatusInternalServerError, "staging unavailable")
		return
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		slog.Error("spool upload", "error", err)
		httpError(w, http.StatusInternalServerError, "staging unavailable")
		return
	}
	tmp.Close()

	job, err := h.jobs.Create(r.Context(), header.Filename, "")
	if err != nil {
		os.Remove(tmp.Name())
		slog.Error("create job", "error", err)
		httpError(w, http.StatusInternalServerError, "job creation failed")
		return
	}

	go h.stageAndStart(context.Background(), job.ID, tmp.Name())

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// stageAndStart extracts the spooled archive and hands the job to the
// workers. Extraction failure is a job-level failure, not a server error.
func (h *Handler) stageAndStart(ctx context.Context, jobID, archivePath string) {
	defer os.Remove(archivePath)

	if err := h.jobs.SetStatus(ctx, jobID, models.StatusStaging); err != nil {
		slog.Error("mark job staging", "job_id", jobID, "error", err)
		return
	}

	root, err := stageArchive(archivePath, h.stagingDir, jobID)
	if err != nil {
		slog.Error("staging failed", "job_id", jobID, "error", err)
		if serr := h.jobs.SetStatus(ctx, jobID, models.StatusFailed); serr != nil {
			slog.Error("mark job failed", "job_id", jobID, "error", serr)
		}
		return
	}

	if err := h.jobs.SetInputRoot(ctx, jobID, root); err != nil {
		slog.Error("record input root", "job_id", jobID, "error", err)
		return
	}
	if err := h.starter.PublishStartJob(ctx, jobID); err != nil {
		slog.Error("publish start-job", "job_id", jobID, "error", err)
		if serr := h.jobs.SetStatus(ctx, jobID, models.StatusFailed); serr != nil {
			slog.Error("mark job failed", "job_id", jobID, "error", serr)
		}
		return
	}

	slog.Info("upload staged", "job_id", jobID, "input_root", root)
}

// localRequest registers a tree that is already on disk.
type localRequest struct {
	InputRoot string `json:"input_root"`
	Source    string `json:"source"`
}

func (h *Handler) handleLocal(w http.ResponseWriter, r *http.Request) {
	var req localRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.InputRoot) == "" {
		httpError(w, http.StatusBadRequest, "input_root is required")
		return
	}

	job, err := h.jobs.Create(r.Context(), req.Source, req.InputRoot)
	if err != nil {
		slog.Error("create job", "error", err)
		httpError(w, http.StatusInternalServerError, "job creation failed")
		return
	}
	if err := h.starter.PublishStartJob(r.Context(), job.ID); err != nil {
		slog.Error("publish start-job", "job_id", job.ID, "error", err)
		httpError(w, http.StatusInternalServerError, "job submission failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("load job", "job_id", r.PathValue("id"), "error", err)
		httpError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	if job == nil {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.healthz {
		if err := check(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
