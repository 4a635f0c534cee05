package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type SessionStatus string

const (
	SessionQueued            SessionStatus = "queued"
	SessionStarting          SessionStatus = "starting"
	SessionLoggingIn         SessionStatus = "logging_in"
	SessionJoiningMeeting    SessionStatus = "joining_meeting"
	SessionRecording         SessionStatus = "recording"
	SessionRecordingComplete SessionStatus = "recording_complete"
	SessionUploading         SessionStatus = "uploading"
	SessionCompleted         SessionStatus = "completed"
	SessionError             SessionStatus = "error"
	SessionRecordingFailed   SessionStatus = "recording_failed"
	SessionUploadFailed      SessionStatus = "upload_failed"
)

// AllStatuses lists every status in pipeline order, error states last.
var AllStatuses = []SessionStatus{
	SessionQueued,
	SessionStarting,
	SessionLoggingIn,
	SessionJoiningMeeting,
	SessionRecording,
	SessionRecordingComplete,
	SessionUploading,
	SessionCompleted,
	SessionError,
	SessionRecordingFailed,
	SessionUploadFailed,
}

// forward holds the success edges. SessionError is reachable from every
// non-terminal status and is handled in CanTransition.
var forward = map[SessionStatus][]SessionStatus{
	SessionQueued:            {SessionStarting},
	SessionStarting:          {SessionLoggingIn},
	SessionLoggingIn:         {SessionJoiningMeeting},
	SessionJoiningMeeting:    {SessionRecording},
	SessionRecording:         {SessionRecordingComplete, SessionRecordingFailed},
	SessionRecordingComplete: {SessionUploading, SessionCompleted},
	SessionUploading:         {SessionCompleted, SessionUploadFailed},
}

func (s SessionStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionError, SessionRecordingFailed, SessionUploadFailed:
		return true
	default:
		return false
	}
}

func (s SessionStatus) Failed() bool {
	switch s {
	case SessionError, SessionRecordingFailed, SessionUploadFailed:
		return true
	default:
		return false
	}
}

func CanTransition(from, to SessionStatus) bool {
	if from.Terminal() || !from.Valid() {
		return false
	}
	if to == SessionError {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Session struct {
	ID               string        `json:"session_id"`
	MeetingURL       string        `json:"meeting_url"`
	MeetingCode      string        `json:"meeting_code"`
	DurationMinutes  int           `json:"duration_minutes"`
	UploadRequested  bool          `json:"upload_to_drive"`
	FolderName       string        `json:"folder_name,omitempty"`
	RequestedBy      string        `json:"requested_by,omitempty"`
	Status           SessionStatus `json:"status"`
	RecordingFile    string        `json:"recording_file,omitempty"`
	StorageReference string        `json:"drive_link,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Transition describes one status change and the fields it carries.
type Transition struct {
	To               SessionStatus
	RecordingFile    string
	StorageReference string
	ErrorMessage     string
}

// Apply moves the session along one edge of the status graph. Entering a
// failure status requires a message; any other status clears stale error text.
// The upload edges are only open to sessions that asked for an upload, and
// such sessions cannot complete without passing through uploading.
func (s *Session) Apply(t Transition, at time.Time) error {
	if !CanTransition(s.Status, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, t.To)
	}
	if t.To.Failed() && t.ErrorMessage == "" {
		return fmt.Errorf("%w: %s requires an error message", ErrInvalidTransition, t.To)
	}
	switch t.To {
	case SessionRecordingComplete:
		if t.RecordingFile == "" {
			return fmt.Errorf("%w: %s requires a recording file", ErrInvalidTransition, t.To)
		}
	case SessionUploading:
		if !s.UploadRequested {
			return fmt.Errorf("%w: upload was not requested", ErrInvalidTransition)
		}
	case SessionCompleted:
		if s.UploadRequested && s.Status != SessionUploading {
			return fmt.Errorf("%w: %s -> %s skips the requested upload", ErrInvalidTransition, s.Status, t.To)
		}
		if s.Status == SessionUploading && t.StorageReference == "" {
			return fmt.Errorf("%w: upload completed without a storage reference", ErrInvalidTransition)
		}
	}

	if t.To.Failed() {
		s.ErrorMessage = t.ErrorMessage
	} else {
		s.ErrorMessage = ""
	}
	switch t.To {
	case SessionRecordingComplete:
		s.RecordingFile = t.RecordingFile
	case SessionCompleted:
		if s.Status == SessionUploading {
			s.StorageReference = t.StorageReference
		}
	}

	s.Status = t.To
	s.UpdatedAt = at.UTC()
	return nil
}

// Clone returns a copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
