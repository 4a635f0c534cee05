package orchestrator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/povchingiz/google-meet-recording/internal/capture"
	"github.com/povchingiz/google-meet-recording/internal/model"
)

var (
	errNoParticipant   = errors.New("authenticator returned no participant")
	errNoRecordingFile = errors.New("recorder produced no file")
	errNoReference     = errors.New("uploader returned no storage reference")
)

// run drives one session through authenticate, join, record and upload,
// stopping at the first failure. Status writes use a context detached from
// cancellation so a shutdown still records how the session ended.
func (o *Orchestrator) run(ctx context.Context, sess *model.Session) {
	id := sess.ID
	storeCtx := context.WithoutCancel(ctx)
	req := capture.Request{SessionID: id, MeetingURL: sess.MeetingURL, MeetingCode: sess.MeetingCode}
	file := o.recordingPath(id)
	defer func() { o.discardIfDeleted(storeCtx, id, file) }()

	if err := ctx.Err(); err != nil {
		o.fail(ctx, storeCtx, id, model.SessionError, err)
		return
	}
	if !o.advance(storeCtx, id, model.Transition{To: model.SessionStarting}) ||
		!o.advance(storeCtx, id, model.Transition{To: model.SessionLoggingIn}) {
		return
	}

	part, err := o.authenticate(ctx, req)
	if err != nil {
		o.fail(ctx, storeCtx, id, model.SessionError, err)
		return
	}
	defer func() {
		if cerr := part.Close(); cerr != nil {
			logParticipantClose(id, cerr)
		}
	}()

	if !o.advance(storeCtx, id, model.Transition{To: model.SessionJoiningMeeting}) {
		return
	}
	if err := o.join(ctx, part, req); err != nil {
		o.fail(ctx, storeCtx, id, model.SessionError, err)
		return
	}

	if !o.advance(storeCtx, id, model.Transition{To: model.SessionRecording}) {
		return
	}
	rec, err := o.record(ctx, sess, part)
	if err != nil {
		o.fail(ctx, storeCtx, id, model.SessionRecordingFailed, err)
		return
	}
	file = rec.File
	if !o.advance(storeCtx, id, model.Transition{To: model.SessionRecordingComplete, RecordingFile: rec.File}) {
		return
	}

	if !sess.UploadRequested {
		o.advance(storeCtx, id, model.Transition{To: model.SessionCompleted})
		return
	}
	if !o.advance(storeCtx, id, model.Transition{To: model.SessionUploading}) {
		return
	}
	up, err := o.upload(ctx, sess, rec.File)
	if err != nil {
		o.fail(ctx, storeCtx, id, model.SessionUploadFailed, err)
		return
	}
	o.advance(storeCtx, id, model.Transition{To: model.SessionCompleted, StorageReference: up.Reference})
}

func (o *Orchestrator) authenticate(ctx context.Context, req capture.Request) (capture.Participant, error) {
	stageCtx, cancel := stageContext(ctx, o.opts.AuthTimeout)
	defer cancel()
	start := time.Now()
	part, err := o.pipeline.Authenticator.Authenticate(stageCtx, req)
	if err == nil && part == nil {
		err = errNoParticipant
	}
	observeStage(req.SessionID, capture.StageAuthenticate, start, err)
	if err != nil {
		return nil, &capture.StageError{Stage: capture.StageAuthenticate, Err: err}
	}
	return part, nil
}

func (o *Orchestrator) join(ctx context.Context, part capture.Participant, req capture.Request) error {
	stageCtx, cancel := stageContext(ctx, o.opts.JoinTimeout)
	defer cancel()
	start := time.Now()
	err := o.pipeline.Joiner.Join(stageCtx, part, req)
	observeStage(req.SessionID, capture.StageJoin, start, err)
	if err != nil {
		return &capture.StageError{Stage: capture.StageJoin, Err: err}
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, sess *model.Session, part capture.Participant) (capture.RecordResult, error) {
	duration := time.Duration(sess.DurationMinutes) * time.Minute
	grace := o.opts.RecordGrace
	if grace <= 0 {
		grace = time.Minute
	}
	stageCtx, cancel := context.WithTimeout(ctx, duration+grace)
	defer cancel()

	start := time.Now()
	res, err := o.pipeline.Recorder.Record(stageCtx, capture.RecordRequest{
		SessionID:   sess.ID,
		OutputPath:  o.recordingPath(sess.ID),
		Duration:    duration,
		Participant: part,
	})
	if err == nil && res.File == "" {
		err = errNoRecordingFile
	}
	observeStage(sess.ID, capture.StageRecord, start, err)
	if err != nil {
		return capture.RecordResult{}, &capture.StageError{Stage: capture.StageRecord, Err: err}
	}
	return res, nil
}

func (o *Orchestrator) upload(ctx context.Context, sess *model.Session, file string) (capture.UploadResult, error) {
	stageCtx, cancel := stageContext(ctx, o.opts.UploadTimeout)
	defer cancel()
	start := time.Now()
	res, err := o.pipeline.Uploader.Upload(stageCtx, capture.UploadRequest{
		SessionID: sess.ID,
		FilePath:  file,
		Folder:    sess.FolderName,
	})
	if err == nil && res.Reference == "" {
		err = errNoReference
	}
	observeStage(sess.ID, capture.StageUpload, start, err)
	if err != nil {
		return capture.UploadResult{}, &capture.StageError{Stage: capture.StageUpload, Err: err}
	}
	return res, nil
}

func logParticipantClose(id string, err error) {
	log.Printf("event=participant_close_failed session_id=%s err=%q", id, err.Error())
}
