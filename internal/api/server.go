// Package api provides the submission and status HTTP endpoints.
//
// Both handlers are stateless: all shared state lives in the job store and
// the blob store, so any number of concurrent callers is safe.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/video-service/internal/core"
)

// Poll statuses returned by the status endpoint.
const (
	statusNotFound   = "not_found"
	statusProcessing = "processing"
	statusFailed     = "failed"
	statusCompleted  = "completed"
)

const maxAssetIDLength = 128

// assetIDPattern constrains asset ids to a safe, opaque identifier alphabet.
var assetIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Validation errors returned synchronously at submission time.
var (
	ErrScriptTextEmpty  = errors.New("scriptText must not be empty")
	ErrRequesterIDEmpty = errors.New("requesterId must not be empty")
	ErrBadVoiceAssetID  = errors.New("voiceAssetId is not a well-formed asset id")
	ErrBadAvatarAssetID = errors.New("avatarAssetId is not a well-formed asset id")
)

// SubmitRequest is the submission payload.
type SubmitRequest struct {
	RequesterID   string `json:"requesterId"`
	ScriptText    string `json:"scriptText"`
	VoiceAssetID  string `json:"voiceAssetId"`
	AvatarAssetID string `json:"avatarAssetId"`
}

// SubmitResponse carries the id to poll for the submitted job.
type SubmitResponse struct {
	JobID string `json:"jobId"`
}

// StatusResponse is the polling payload. Message is present only for failed
// jobs, Video only for completed ones.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Video   string `json:"video,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Server serves the submission and status endpoints.
type Server struct {
	jobs  core.JobStore
	blobs core.BlobStore
	log   *logger.Logger
}

// NewServer creates a Server over the given stores.
func NewServer(jobs core.JobStore, blobs core.BlobStore, log *logger.Logger) *Server {
	return &Server{
		jobs:  jobs,
		blobs: blobs,
		log:   log,
	}
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/jobs", s.handleSubmit)
	mux.HandleFunc("/jobs/", s.handleJobSubresource)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit validates the submission and enqueues a new queued job. Asset
// resolution is deliberately deferred to the worker, so a submission with a
// nonexistent asset id is accepted here and fails asynchronously.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})

		return
	}

	var req SubmitRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid request body: %v", err)})

		return
	}

	validationErr := validateSubmission(req)
	if validationErr != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: validationErr.Error()})

		return
	}

	job := core.Job{
		ID: uuid.NewString(),
		Payload: core.JobPayload{
			RequesterID:   req.RequesterID,
			ScriptText:    req.ScriptText,
			VoiceAssetID:  req.VoiceAssetID,
			AvatarAssetID: req.AvatarAssetID,
		},
		State:     core.StateQueued,
		CreatedAt: time.Now().UTC(),
	}

	enqueueErr := s.jobs.Enqueue(r.Context(), job)
	if enqueueErr != nil {
		s.log.Error("Failed to enqueue job %s: %v", job.ID, enqueueErr)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to enqueue job"})

		return
	}

	s.log.Info("Enqueued job %s for requester %s", job.ID, req.RequesterID)
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID})
}

func (s *Server) handleJobSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})

		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")

	jobID, sub, found := strings.Cut(rest, "/")
	if !found || sub != "status" || jobID == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown resource"})

		return
	}

	s.handleStatus(w, r, jobID)
}

// handleStatus maps the job record to the polling protocol. It never errors
// for a structurally valid request: unknown ids are not_found, internal
// read failures degrade to failed with a best-effort message. The blob is
// read only for completed jobs.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if !errors.Is(err, core.ErrJobNotFound) {
			s.log.Error("Failed to read job %s: %v", jobID, err)
		}

		writeJSON(w, http.StatusOK, StatusResponse{Status: statusNotFound})

		return
	}

	switch job.State {
	case core.StateQueued, core.StateActive:
		writeJSON(w, http.StatusOK, StatusResponse{Status: statusProcessing})
	case core.StateFailed:
		writeJSON(w, http.StatusOK, StatusResponse{Status: statusFailed, Message: job.ErrorMessage})
	case core.StateCompleted:
		s.writeCompleted(w, r, job)
	default:
		s.log.Error("Job %s has unknown state '%s'", job.ID, job.State)
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:  statusFailed,
			Message: fmt.Sprintf("job is in an unknown state '%s'", job.State),
		})
	}
}

func (s *Server) writeCompleted(w http.ResponseWriter, r *http.Request, job core.Job) {
	blob, err := s.blobs.Read(r.Context(), job.ResultFileID)
	if err != nil {
		s.log.Error("Failed to open result blob %s for job %s: %v", job.ResultFileID, job.ID, err)
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:  statusFailed,
			Message: "result video could not be read",
		})

		return
	}

	videoData, readErr := io.ReadAll(blob)
	closeErr := blob.Close()

	if readErr != nil || closeErr != nil {
		s.log.Error("Failed to read result blob %s for job %s: read=%v close=%v",
			job.ResultFileID, job.ID, readErr, closeErr)
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:  statusFailed,
			Message: "result video could not be read",
		})

		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status: statusCompleted,
		Video:  base64.StdEncoding.EncodeToString(videoData),
	})
}

func validateSubmission(req SubmitRequest) error {
	if strings.TrimSpace(req.RequesterID) == "" {
		return fmt.Errorf("%w: %w", core.ErrValidation, ErrRequesterIDEmpty)
	}

	if strings.TrimSpace(req.ScriptText) == "" {
		return fmt.Errorf("%w: %w", core.ErrValidation, ErrScriptTextEmpty)
	}

	if !wellFormedAssetID(req.VoiceAssetID) {
		return fmt.Errorf("%w: %w", core.ErrValidation, ErrBadVoiceAssetID)
	}

	if !wellFormedAssetID(req.AvatarAssetID) {
		return fmt.Errorf("%w: %w", core.ErrValidation, ErrBadAvatarAssetID)
	}

	return nil
}

func wellFormedAssetID(id string) bool {
	return id != "" && len(id) <= maxAssetIDLength && assetIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}
