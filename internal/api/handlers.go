package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/povchingiz/google-meet-recording/internal/auth"
	"github.com/povchingiz/google-meet-recording/internal/model"
	"github.com/povchingiz/google-meet-recording/internal/orchestrator"
	"github.com/povchingiz/google-meet-recording/internal/store"
)

// Optional fields are pointers so an omitted value picks up its default
// while an explicit one is validated as sent.
type startRecordingRequest struct {
	MeetingURL      string  `json:"meeting_url"`
	DurationMinutes *int    `json:"duration_minutes"`
	UploadToDrive   *bool   `json:"upload_to_drive"`
	FolderName      *string `json:"folder_name"`
}

type startRecordingResponse struct {
	SessionID       string `json:"session_id"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	MeetingURL      string `json:"meeting_url"`
	DurationMinutes int    `json:"duration_minutes"`
}

type sessionStatusResponse struct {
	SessionID     string  `json:"session_id"`
	Status        string  `json:"status"`
	RecordingFile *string `json:"recording_file"`
	DriveLink     *string `json:"drive_link"`
	ErrorMessage  *string `json:"error_message"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": serviceName,
		"status":  "running",
		"version": serviceVersion,
	})
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req startRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "invalid_request", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.MeetingURL) == "" {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "invalid_request", "meeting_url is required")
		return
	}

	in := orchestrator.StartInput{
		MeetingURL:      req.MeetingURL,
		DurationMinutes: orchestrator.DefaultDurationMinutes,
		UploadRequested: true,
		FolderName:      orchestrator.DefaultFolderName,
	}
	if req.DurationMinutes != nil {
		in.DurationMinutes = *req.DurationMinutes
	}
	if req.UploadToDrive != nil {
		in.UploadRequested = *req.UploadToDrive
	}
	if req.FolderName != nil && strings.TrimSpace(*req.FolderName) != "" {
		in.FolderName = strings.TrimSpace(*req.FolderName)
	}
	if sub, ok := auth.SubjectFromContext(r.Context()); ok {
		in.RequestedBy = sub
	}

	sess, err := s.svc.StartRecording(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrInvalidMeetingURL):
			writeAPIError(w, r, http.StatusBadRequest, "invalid_meeting_url", err.Error())
		case errors.Is(err, orchestrator.ErrInvalidDuration):
			writeAPIError(w, r, http.StatusBadRequest, "invalid_duration", err.Error())
		case errors.Is(err, orchestrator.ErrShuttingDown):
			writeAPIError(w, r, http.StatusServiceUnavailable, "unavailable", "service is shutting down")
		default:
			log.Printf("event=start_recording_failed request_id=%s err=%q", middleware.GetReqID(r.Context()), err.Error())
			writeAPIError(w, r, http.StatusInternalServerError, "internal_error", "failed to start recording")
		}
		return
	}

	writeJSON(w, http.StatusOK, startRecordingResponse{
		SessionID:       sess.ID,
		Status:          string(sess.Status),
		Message:         "Recording session started successfully",
		MeetingURL:      sess.MeetingURL,
		DurationMinutes: sess.DurationMinutes,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ListSessions(r.Context())
	if err != nil {
		writeAPIError(w, r, http.StatusInternalServerError, "internal_error", "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.svc.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, r, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeAPIError(w, r, http.StatusInternalServerError, "internal_error", "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Session deleted successfully"})
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*model.Session, bool) {
	sess, err := s.svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, r, http.StatusNotFound, "not_found", "session not found")
			return nil, false
		}
		writeAPIError(w, r, http.StatusInternalServerError, "internal_error", "failed to query session")
		return nil, false
	}
	return sess, true
}

func toStatusResponse(sess *model.Session) sessionStatusResponse {
	return sessionStatusResponse{
		SessionID:     sess.ID,
		Status:        string(sess.Status),
		RecordingFile: nullable(sess.RecordingFile),
		DriveLink:     nullable(sess.StorageReference),
		ErrorMessage:  nullable(sess.ErrorMessage),
		CreatedAt:     sess.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     sess.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
