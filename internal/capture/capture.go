package capture

import (
	"context"
	"fmt"
	"time"
)

type Stage string

const (
	StageAuthenticate Stage = "authenticate"
	StageJoin         Stage = "join"
	StageRecord       Stage = "record"
	StageUpload       Stage = "upload"
)

// StageError ties a collaborator failure to the stage that reported it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Request struct {
	SessionID   string
	MeetingURL  string
	MeetingCode string
}

// Participant is a signed-in meeting client. Left is closed once the
// participant is no longer in the meeting, for example when the host ends it.
type Participant interface {
	Left() <-chan struct{}
	Close() error
}

type RecordRequest struct {
	SessionID   string
	OutputPath  string
	Duration    time.Duration
	Participant Participant
}

type RecordResult struct {
	File       string
	EndedEarly bool
}

type UploadRequest struct {
	SessionID string
	FilePath  string
	Folder    string
}

type UploadResult struct {
	Reference string
}

type Authenticator interface {
	Authenticate(ctx context.Context, req Request) (Participant, error)
}

type MeetingJoiner interface {
	Join(ctx context.Context, p Participant, req Request) error
}

// Recorder captures until req.Duration elapses or the participant leaves,
// whichever comes first.
type Recorder interface {
	Record(ctx context.Context, req RecordRequest) (RecordResult, error)
}

type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
}

// Pipeline bundles the collaborators for one capture run.
type Pipeline struct {
	Authenticator Authenticator
	Joiner        MeetingJoiner
	Recorder      Recorder
	Uploader      Uploader
}

func (p Pipeline) Validate() error {
	switch {
	case p.Authenticator == nil:
		return fmt.Errorf("capture pipeline: authenticator is required")
	case p.Joiner == nil:
		return fmt.Errorf("capture pipeline: meeting joiner is required")
	case p.Recorder == nil:
		return fmt.Errorf("capture pipeline: recorder is required")
	case p.Uploader == nil:
		return fmt.Errorf("capture pipeline: uploader is required")
	}
	return nil
}
