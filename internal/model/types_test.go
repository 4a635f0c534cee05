package model

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from SessionStatus
		to   SessionStatus
		want bool
	}{
		{name: "queued to starting", from: SessionQueued, to: SessionStarting, want: true},
		{name: "queued skips to completed", from: SessionQueued, to: SessionCompleted, want: false},
		{name: "queued to error", from: SessionQueued, to: SessionError, want: true},
		{name: "recording to recording_failed", from: SessionRecording, to: SessionRecordingFailed, want: true},
		{name: "joining to recording_failed", from: SessionJoiningMeeting, to: SessionRecordingFailed, want: false},
		{name: "recording_complete straight to completed", from: SessionRecordingComplete, to: SessionCompleted, want: true},
		{name: "uploading to upload_failed", from: SessionUploading, to: SessionUploadFailed, want: true},
		{name: "completed is terminal", from: SessionCompleted, to: SessionError, want: false},
		{name: "recording_failed is terminal", from: SessionRecordingFailed, to: SessionError, want: false},
		{name: "no revisit", from: SessionRecording, to: SessionStarting, want: false},
		{name: "unknown source", from: SessionStatus("paused"), to: SessionError, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllStatusesHasElevenValues(t *testing.T) {
	if len(AllStatuses) != 11 {
		t.Fatalf("expected 11 statuses, got %d", len(AllStatuses))
	}
	terminal := 0
	for _, s := range AllStatuses {
		if s.Terminal() {
			terminal++
		}
	}
	if terminal != 4 {
		t.Fatalf("expected 4 terminal statuses, got %d", terminal)
	}
}

func TestApply_FullUploadPath(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &Session{ID: "s1", Status: SessionQueued, UploadRequested: true, CreatedAt: created, UpdatedAt: created}

	steps := []Transition{
		{To: SessionStarting},
		{To: SessionLoggingIn},
		{To: SessionJoiningMeeting},
		{To: SessionRecording},
		{To: SessionRecordingComplete, RecordingFile: "recording_s1.mp3"},
		{To: SessionUploading},
		{To: SessionCompleted, StorageReference: "https://example.test/obj"},
	}
	at := created
	for _, step := range steps {
		at = at.Add(time.Second)
		if err := s.Apply(step, at); err != nil {
			t.Fatalf("apply %s: %v", step.To, err)
		}
		if !s.UpdatedAt.Equal(at) {
			t.Fatalf("updated_at not refreshed on %s", step.To)
		}
	}
	if s.RecordingFile != "recording_s1.mp3" || s.StorageReference != "https://example.test/obj" {
		t.Fatalf("unexpected artifact fields: %+v", s)
	}
	if s.ErrorMessage != "" {
		t.Fatalf("expected empty error message, got %q", s.ErrorMessage)
	}
}

func TestApply_FailureRequiresMessage(t *testing.T) {
	s := &Session{Status: SessionRecording}
	err := s.Apply(Transition{To: SessionRecordingFailed}, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if s.Status != SessionRecording {
		t.Fatalf("status changed on rejected transition: %s", s.Status)
	}

	if err := s.Apply(Transition{To: SessionRecordingFailed, ErrorMessage: "ffmpeg exited"}, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.ErrorMessage != "ffmpeg exited" {
		t.Fatalf("unexpected error message %q", s.ErrorMessage)
	}
}

func TestApply_CompletedWithoutUploadKeepsReferenceEmpty(t *testing.T) {
	s := &Session{Status: SessionRecordingComplete, RecordingFile: "a.mp3"}
	if err := s.Apply(Transition{To: SessionCompleted, StorageReference: "ignored"}, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.StorageReference != "" {
		t.Fatalf("expected empty storage reference, got %q", s.StorageReference)
	}
}

func TestApply_UploadEdgesFollowUploadFlag(t *testing.T) {
	tests := []struct {
		name   string
		upload bool
		from   SessionStatus
		step   Transition
		wantOK bool
	}{
		{name: "upload not requested cannot start uploading", upload: false, from: SessionRecordingComplete, step: Transition{To: SessionUploading}},
		{name: "upload requested cannot skip uploading", upload: true, from: SessionRecordingComplete, step: Transition{To: SessionCompleted}},
		{name: "upload requested starts uploading", upload: true, from: SessionRecordingComplete, step: Transition{To: SessionUploading}, wantOK: true},
		{name: "no upload completes directly", upload: false, from: SessionRecordingComplete, step: Transition{To: SessionCompleted}, wantOK: true},
		{name: "upload requested may still error", upload: true, from: SessionRecordingComplete, step: Transition{To: SessionError, ErrorMessage: "boom"}, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{Status: tt.from, UploadRequested: tt.upload, RecordingFile: "a.mp3"}
			err := s.Apply(tt.step, time.Now())
			if tt.wantOK {
				if err != nil {
					t.Fatalf("apply: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if s.Status != tt.from || s.StorageReference != "" {
				t.Fatalf("rejected transition changed the session: %+v", s)
			}
		})
	}
}

func TestApply_RejectedTransitionKeepsErrorText(t *testing.T) {
	s := &Session{Status: SessionRecording, ErrorMessage: "stale"}
	if err := s.Apply(Transition{To: SessionRecordingComplete}, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if s.ErrorMessage != "stale" {
		t.Fatalf("rejected transition cleared error text: %q", s.ErrorMessage)
	}
}

func TestClone_IsIndependent(t *testing.T) {
	s := &Session{ID: "s1", Status: SessionQueued}
	c := s.Clone()
	c.Status = SessionError
	if s.Status != SessionQueued {
		t.Fatal("clone shares state with original")
	}
}
