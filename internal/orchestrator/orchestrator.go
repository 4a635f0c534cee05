package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/povchingiz/google-meet-recording/internal/capture"
	"github.com/povchingiz/google-meet-recording/internal/meeting"
	"github.com/povchingiz/google-meet-recording/internal/metrics"
	"github.com/povchingiz/google-meet-recording/internal/model"
	"github.com/povchingiz/google-meet-recording/internal/store"
)

var (
	ErrInvalidMeetingURL = errors.New("invalid meeting url")
	ErrInvalidDuration   = errors.New("invalid duration")
)

const (
	DefaultDurationMinutes = 30
	DefaultFolderName      = "Meeting Recordings"
)

type Options struct {
	MaxDurationMinutes    int
	MaxConcurrentSessions int
	RecordingsDir         string
	AuthTimeout           time.Duration
	JoinTimeout           time.Duration
	UploadTimeout         time.Duration
	// RecordGrace is added to the requested duration to bound the record
	// stage, leaving the recorder time to finalize its file.
	RecordGrace time.Duration
}

type StartInput struct {
	MeetingURL      string
	DurationMinutes int
	UploadRequested bool
	FolderName      string
	RequestedBy     string
}

type Orchestrator struct {
	store    store.Store
	pipeline capture.Pipeline
	opts     Options
	sup      *Supervisor
	now      func() time.Time
}

func New(st store.Store, pipeline capture.Pipeline, opts Options) (*Orchestrator, error) {
	if st == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxDurationMinutes <= 0 {
		opts.MaxDurationMinutes = 240
	}
	if opts.RecordingsDir == "" {
		opts.RecordingsDir = "recordings"
	}
	return &Orchestrator{
		store:    st,
		pipeline: pipeline,
		opts:     opts,
		sup:      NewSupervisor(opts.MaxConcurrentSessions),
		now:      time.Now,
	}, nil
}

// StartRecording validates the request, stores a queued session and hands the
// capture run to the supervisor. It never waits on the pipeline.
func (o *Orchestrator) StartRecording(ctx context.Context, in StartInput) (*model.Session, error) {
	code, err := meeting.ExtractCode(in.MeetingURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeetingURL, err)
	}
	if in.DurationMinutes < 1 || in.DurationMinutes > o.opts.MaxDurationMinutes {
		return nil, fmt.Errorf("%w: duration_minutes must be between 1 and %d", ErrInvalidDuration, o.opts.MaxDurationMinutes)
	}

	now := o.now().UTC()
	id, err := o.store.Create(ctx, &model.Session{
		MeetingURL:      strings.TrimSpace(in.MeetingURL),
		MeetingCode:     code,
		DurationMinutes: in.DurationMinutes,
		UploadRequested: in.UploadRequested,
		FolderName:      in.FolderName,
		RequestedBy:     in.RequestedBy,
		Status:          model.SessionQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	metrics.Default().IncCounter("meetrec_sessions_started_total", map[string]string{"upload": strconv.FormatBool(in.UploadRequested)})
	log.Printf("event=session_queued session_id=%s meeting_code=%s duration_minutes=%d upload=%t requested_by=%q", id, code, in.DurationMinutes, in.UploadRequested, in.RequestedBy)

	job := sess.Clone()
	if err := o.sup.Submit(id, func(runCtx context.Context) { o.run(runCtx, job) }); err != nil {
		o.advance(context.WithoutCancel(ctx), id, model.Transition{To: model.SessionError, ErrorMessage: err.Error()})
		return nil, err
	}
	return sess, nil
}

func (o *Orchestrator) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return o.store.Get(ctx, id)
}

func (o *Orchestrator) ListSessions(ctx context.Context) ([]*model.Session, error) {
	return o.store.List(ctx)
}

// DeleteSession forgets the session and removes its local recording. A
// pipeline still working on it keeps running; its later writes are dropped.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	if sess.RecordingFile != "" {
		removeRecording(id, sess.RecordingFile)
	}
	log.Printf("event=session_deleted session_id=%s status=%s", id, sess.Status)
	return nil
}

// Shutdown cancels in-flight pipelines and waits for them to record their
// final status.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.sup.Shutdown(ctx)
}

func (o *Orchestrator) recordingPath(id string) string {
	return filepath.Join(o.opts.RecordingsDir, "recording_"+id+".mp3")
}

// removeRecording deletes a recording and the ffmpeg log written next to it.
func removeRecording(id, file string) {
	for _, path := range []string{file, file + ".ffmpeg.log"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("event=recording_remove_failed session_id=%s file=%s err=%q", id, path, err.Error())
		}
	}
}

// discardIfDeleted removes the recording of a session deleted while its
// pipeline was still running; the delete could not see the file yet.
func (o *Orchestrator) discardIfDeleted(ctx context.Context, id, file string) {
	if _, err := o.store.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		return
	}
	removeRecording(id, file)
	log.Printf("event=recording_discarded session_id=%s file=%s reason=deleted", id, file)
}

// advance applies one transition atomically. A missing session means it was
// deleted mid-run; the write is dropped and true is returned so the pipeline
// carries on. Any other failure stops the pipeline.
func (o *Orchestrator) advance(ctx context.Context, id string, t model.Transition) bool {
	var from model.SessionStatus
	_, err := o.store.Update(ctx, id, func(s *model.Session) error {
		from = s.Status
		return s.Apply(t, o.now())
	})
	switch {
	case err == nil:
		log.Printf("event=session_transition session_id=%s from=%s to=%s", id, from, t.To)
		if t.To.Terminal() {
			metrics.Default().IncCounter("meetrec_sessions_finished_total", map[string]string{"status": string(t.To)})
		}
		return true
	case errors.Is(err, store.ErrNotFound):
		metrics.Default().IncCounter("meetrec_lost_updates_total", nil)
		log.Printf("event=session_update_dropped session_id=%s to=%s reason=deleted", id, t.To)
		return true
	default:
		log.Printf("event=session_update_failed session_id=%s from=%s to=%s err=%q", id, from, t.To, err.Error())
		return false
	}
}

// fail moves the session to a failure status. Cancellation always lands in
// the generic error status whatever stage was running.
func (o *Orchestrator) fail(runCtx, storeCtx context.Context, id string, status model.SessionStatus, err error) {
	if runCtx.Err() != nil {
		status = model.SessionError
		err = fmt.Errorf("pipeline cancelled: %w", err)
	}
	if !o.advance(storeCtx, id, model.Transition{To: status, ErrorMessage: err.Error()}) && status != model.SessionError {
		o.advance(storeCtx, id, model.Transition{To: model.SessionError, ErrorMessage: err.Error()})
	}
}

func stageContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func observeStage(id string, stage capture.Stage, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := map[string]string{"stage": string(stage), "status": status}
	elapsed := time.Since(start)
	metrics.Default().IncCounter("meetrec_stage_total", labels)
	metrics.Default().ObserveHistogram("meetrec_stage_latency_ms", float64(elapsed.Milliseconds()), labels)
	log.Printf("metric=stage_latency_ms session_id=%s stage=%s status=%s value=%d", id, stage, status, elapsed.Milliseconds())
}
