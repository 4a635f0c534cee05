package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/povchingiz/google-meet-recording/internal/capture"
	"github.com/povchingiz/google-meet-recording/internal/metrics"
	"github.com/povchingiz/google-meet-recording/internal/model"
	"github.com/povchingiz/google-meet-recording/internal/store"
)

type stubParticipant struct {
	once   sync.Once
	left   chan struct{}
	closed chan struct{}
}

func newStubParticipant() *stubParticipant {
	return &stubParticipant{left: make(chan struct{}), closed: make(chan struct{})}
}

func (p *stubParticipant) Left() <-chan struct{} { return p.left }

func (p *stubParticipant) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// stubStages implements every capture stage with overridable function fields.
type stubStages struct {
	part          *stubParticipant
	authenticateF func(context.Context, capture.Request) (capture.Participant, error)
	joinF         func(context.Context, capture.Participant, capture.Request) error
	recordF       func(context.Context, capture.RecordRequest) (capture.RecordResult, error)
	uploadF       func(context.Context, capture.UploadRequest) (capture.UploadResult, error)

	mu      sync.Mutex
	uploads int
}

func newStubStages() *stubStages {
	return &stubStages{part: newStubParticipant()}
}

func (s *stubStages) pipeline() capture.Pipeline {
	return capture.Pipeline{Authenticator: s, Joiner: s, Recorder: s, Uploader: s}
}

func (s *stubStages) Authenticate(ctx context.Context, req capture.Request) (capture.Participant, error) {
	if s.authenticateF != nil {
		return s.authenticateF(ctx, req)
	}
	return s.part, nil
}

func (s *stubStages) Join(ctx context.Context, p capture.Participant, req capture.Request) error {
	if s.joinF != nil {
		return s.joinF(ctx, p, req)
	}
	return nil
}

func (s *stubStages) Record(ctx context.Context, req capture.RecordRequest) (capture.RecordResult, error) {
	if s.recordF != nil {
		return s.recordF(ctx, req)
	}
	if err := os.WriteFile(req.OutputPath, []byte("audio"), 0o644); err != nil {
		return capture.RecordResult{}, err
	}
	return capture.RecordResult{File: req.OutputPath}, nil
}

func (s *stubStages) Upload(ctx context.Context, req capture.UploadRequest) (capture.UploadResult, error) {
	s.mu.Lock()
	s.uploads++
	s.mu.Unlock()
	if s.uploadF != nil {
		return s.uploadF(ctx, req)
	}
	return capture.UploadResult{Reference: "https://files.test/" + filepath.Base(req.FilePath)}, nil
}

func (s *stubStages) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// observingStore records every snapshot a successful update produced.
type observingStore struct {
	store.Store
	mu        sync.Mutex
	snapshots map[string][]model.Session
}

func newObservingStore() *observingStore {
	return &observingStore{Store: store.NewMemoryStore(), snapshots: make(map[string][]model.Session)}
}

func (s *observingStore) Update(ctx context.Context, id string, fn store.Mutator) (*model.Session, error) {
	sess, err := s.Store.Update(ctx, id, fn)
	if err == nil {
		s.mu.Lock()
		s.snapshots[id] = append(s.snapshots[id], *sess)
		s.mu.Unlock()
	}
	return sess, err
}

func (s *observingStore) history(id string) []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Session(nil), s.snapshots[id]...)
}

func testOrchestrator(t *testing.T, st store.Store, stages *stubStages) *Orchestrator {
	t.Helper()
	o, err := New(st, stages.pipeline(), Options{
		MaxDurationMinutes: 120,
		RecordingsDir:      t.TempDir(),
		AuthTimeout:        time.Second,
		JoinTimeout:        time.Second,
		UploadTimeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func validInput() StartInput {
	return StartInput{
		MeetingURL:      "https://meet.google.com/abc-defg-hij",
		DurationMinutes: 30,
		UploadRequested: true,
		FolderName:      DefaultFolderName,
	}
}

func waitFor(t *testing.T, o *Orchestrator, id string, done func(*model.Session) bool) *model.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := o.GetSession(context.Background(), id)
		if err == nil && done(sess) {
			return sess
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s did not reach the expected state", id)
	return nil
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) *model.Session {
	t.Helper()
	return waitFor(t, o, id, func(s *model.Session) bool { return s.Status.Terminal() })
}

func statuses(history []model.Session) []model.SessionStatus {
	out := make([]model.SessionStatus, len(history))
	for i, s := range history {
		out[i] = s.Status
	}
	return out
}

// assertLifecycle checks every observed snapshot against the status graph
// and the field invariants tied to it.
func assertLifecycle(t *testing.T, history []model.Session) {
	t.Helper()
	prev := model.SessionQueued
	for _, s := range history {
		if !model.CanTransition(prev, s.Status) {
			t.Fatalf("illegal step %s -> %s in %v", prev, s.Status, statuses(history))
		}
		if (s.ErrorMessage != "") != s.Status.Failed() {
			t.Fatalf("status %s with error_message %q", s.Status, s.ErrorMessage)
		}
		wantRef := s.UploadRequested && s.Status == model.SessionCompleted
		if (s.StorageReference != "") != wantRef {
			t.Fatalf("status %s upload=%t with storage reference %q", s.Status, s.UploadRequested, s.StorageReference)
		}
		prev = s.Status
	}
}

func TestStartRecording_ReturnsQueuedWithoutWaitingForPipeline(t *testing.T) {
	stages := newStubStages()
	release := make(chan struct{})
	stages.recordF = func(ctx context.Context, req capture.RecordRequest) (capture.RecordResult, error) {
		<-release
		_ = os.WriteFile(req.OutputPath, []byte("audio"), 0o644)
		return capture.RecordResult{File: req.OutputPath}, nil
	}
	o := testOrchestrator(t, store.NewMemoryStore(), stages)

	start := time.Now()
	sess, err := o.StartRecording(context.Background(), validInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("start waited on the pipeline")
	}
	if sess.Status != model.SessionQueued || sess.ID == "" {
		t.Fatalf("unexpected snapshot %+v", sess)
	}
	if sess.MeetingCode != "abc-defg-hij" || sess.DurationMinutes != 30 {
		t.Fatalf("request fields not stored: %+v", sess)
	}

	waitFor(t, o, sess.ID, func(s *model.Session) bool { return s.Status == model.SessionRecording })
	close(release)
	waitTerminal(t, o, sess.ID)
}

func TestPipeline_UploadPathFollowsStatusGraph(t *testing.T) {
	metrics.ResetDefaultForTest()
	st := newObservingStore()
	stages := newStubStages()
	o := testOrchestrator(t, st, stages)

	sess, err := o.StartRecording(context.Background(), validInput())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitTerminal(t, o, sess.ID)

	if final.Status != model.SessionCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Status, final.ErrorMessage)
	}
	if final.RecordingFile == "" || final.StorageReference == "" {
		t.Fatalf("expected recording file and storage reference: %+v", final)
	}
	want := []model.SessionStatus{
		model.SessionStarting, model.SessionLoggingIn, model.SessionJoiningMeeting, model.SessionRecording,
		model.SessionRecordingComplete, model.SessionUploading, model.SessionCompleted,
	}
	history := st.history(sess.ID)
	if got := statuses(history); strings.Join(toStrings(got), ",") != strings.Join(toStrings(want), ",") {
		t.Fatalf("unexpected status path %v", got)
	}
	assertLifecycle(t, history)

	select {
	case <-stages.part.closed:
	case <-time.After(time.Second):
		t.Fatal("participant not released after the pipeline ended")
	}
	if got := metrics.Default().CounterValue("meetrec_sessions_finished_total", map[string]string{"status": "completed"}); got != 1 {
		t.Fatalf("expected one completed session metric, got %d", got)
	}
}

func TestPipeline_WithoutUploadCompletesFromRecordingComplete(t *testing.T) {
	st := newObservingStore()
	stages := newStubStages()
	o := testOrchestrator(t, st, stages)

	in := validInput()
	in.UploadRequested = false
	sess, err := o.StartRecording(context.Background(), in)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitTerminal(t, o, sess.ID)
	if final.Status != model.SessionCompleted || final.StorageReference != "" {
		t.Fatalf("unexpected final session %+v", final)
	}
	history := st.history(sess.ID)
	assertLifecycle(t, history)
	if n := len(history); n < 2 || history[n-2].Status != model.SessionRecordingComplete {
		t.Fatalf("expected completed directly after recording_complete, got %v", statuses(history))
	}
	if stages.uploadCount() != 0 {
		t.Fatal("uploader called although upload was not requested")
	}
}

func TestPipeline_RecordFailureSkipsUpload(t *testing.T) {
	st := newObservingStore()
	stages := newStubStages()
	stages.recordF = func(context.Context, capture.RecordRequest) (capture.RecordResult, error) {
		return capture.RecordResult{}, errors.New("audio device vanished")
	}
	o := testOrchestrator(t, st, stages)

	sess, _ := o.StartRecording(context.Background(), validInput())
	final := waitTerminal(t, o, sess.ID)

	if final.Status != model.SessionRecordingFailed {
		t.Fatalf("expected recording_failed, got %s", final.Status)
	}
	if !strings.Contains(final.ErrorMessage, "record failed: audio device vanished") {
		t.Fatalf("unexpected error message %q", final.ErrorMessage)
	}
	if final.StorageReference != "" || stages.uploadCount() != 0 {
		t.Fatal("upload attempted after a failed recording")
	}
	assertLifecycle(t, st.history(sess.ID))
}

func TestPipeline_StageFailuresMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*stubStages)
		status model.SessionStatus
		msg    string
	}{
		{
			name: "authenticate",
			setup: func(s *stubStages) {
				s.authenticateF = func(context.Context, capture.Request) (capture.Participant, error) {
					return nil, errors.New("wrong password")
				}
			},
			status: model.SessionError,
			msg:    "authenticate failed: wrong password",
		},
		{
			name: "join",
			setup: func(s *stubStages) {
				s.joinF = func(context.Context, capture.Participant, capture.Request) error {
					return errors.New("meeting not found")
				}
			},
			status: model.SessionError,
			msg:    "join failed: meeting not found",
		},
		{
			name: "upload",
			setup: func(s *stubStages) {
				s.uploadF = func(context.Context, capture.UploadRequest) (capture.UploadResult, error) {
					return capture.UploadResult{}, errors.New("bucket missing")
				}
			},
			status: model.SessionUploadFailed,
			msg:    "upload failed: bucket missing",
		},
		{
			name: "join timeout",
			setup: func(s *stubStages) {
				s.joinF = func(ctx context.Context, _ capture.Participant, _ capture.Request) error {
					<-ctx.Done()
					return ctx.Err()
				}
			},
			status: model.SessionError,
			msg:    "join failed: context deadline exceeded",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := newObservingStore()
			stages := newStubStages()
			tc.setup(stages)
			o := testOrchestrator(t, st, stages)

			sess, _ := o.StartRecording(context.Background(), validInput())
			final := waitTerminal(t, o, sess.ID)
			if final.Status != tc.status {
				t.Fatalf("expected %s, got %s", tc.status, final.Status)
			}
			if final.ErrorMessage != tc.msg {
				t.Fatalf("expected message %q, got %q", tc.msg, final.ErrorMessage)
			}
			assertLifecycle(t, st.history(sess.ID))
		})
	}
}

func TestStartRecording_RejectsInvalidInput(t *testing.T) {
	st := store.NewMemoryStore()
	o := testOrchestrator(t, st, newStubStages())

	in := validInput()
	in.MeetingURL = "https://zoom.us/j/123"
	if _, err := o.StartRecording(context.Background(), in); !errors.Is(err, ErrInvalidMeetingURL) {
		t.Fatalf("expected ErrInvalidMeetingURL, got %v", err)
	}
	for _, d := range []int{0, -5, 121} {
		in := validInput()
		in.DurationMinutes = d
		if _, err := o.StartRecording(context.Background(), in); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("duration %d: expected ErrInvalidDuration, got %v", d, err)
		}
	}
	list, _ := o.ListSessions(context.Background())
	if len(list) != 0 {
		t.Fatalf("rejected requests created %d sessions", len(list))
	}
}

func TestDeleteSession_DuringPipelineDropsLaterWrites(t *testing.T) {
	metrics.ResetDefaultForTest()
	stages := newStubStages()
	release := make(chan struct{})
	finished := make(chan struct{})
	stages.uploadF = func(context.Context, capture.UploadRequest) (capture.UploadResult, error) {
		defer close(finished)
		return capture.UploadResult{Reference: "https://files.test/x"}, nil
	}
	stages.recordF = func(_ context.Context, req capture.RecordRequest) (capture.RecordResult, error) {
		<-release
		_ = os.WriteFile(req.OutputPath, []byte("audio"), 0o644)
		return capture.RecordResult{File: req.OutputPath}, nil
	}
	o := testOrchestrator(t, store.NewMemoryStore(), stages)

	sess, _ := o.StartRecording(context.Background(), validInput())
	waitFor(t, o, sess.ID, func(s *model.Session) bool { return s.Status == model.SessionRecording })

	if err := o.DeleteSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(release)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not keep running after delete")
	}
	select {
	case <-stages.part.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}

	if _, err := o.GetSession(context.Background(), sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := o.DeleteSession(context.Background(), sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if got := metrics.Default().CounterValue("meetrec_lost_updates_total", nil); got == 0 {
		t.Fatal("expected dropped writes to be counted")
	}
}

func TestDeleteSession_DuringRecordingRemovesLateFile(t *testing.T) {
	stages := newStubStages()
	release := make(chan struct{})
	written := make(chan string, 1)
	stages.recordF = func(_ context.Context, req capture.RecordRequest) (capture.RecordResult, error) {
		<-release
		if err := os.WriteFile(req.OutputPath, []byte("audio"), 0o644); err != nil {
			return capture.RecordResult{}, err
		}
		if err := os.WriteFile(req.OutputPath+".ffmpeg.log", []byte("log"), 0o644); err != nil {
			return capture.RecordResult{}, err
		}
		written <- req.OutputPath
		return capture.RecordResult{File: req.OutputPath}, nil
	}
	o := testOrchestrator(t, store.NewMemoryStore(), stages)

	in := validInput()
	in.UploadRequested = false
	sess, _ := o.StartRecording(context.Background(), in)
	waitFor(t, o, sess.ID, func(s *model.Session) bool { return s.Status == model.SessionRecording })
	if err := o.DeleteSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(release)

	var file string
	select {
	case file = <-written:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not finish")
	}
	deadline := time.Now().Add(5 * time.Second)
	for o.sup.Owns(sess.ID) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	for _, path := range []string{file, file + ".ffmpeg.log"} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s of deleted session left on disk: %v", filepath.Base(path), err)
		}
	}
}

func TestRun_KeepsRecordingOfLiveSession(t *testing.T) {
	stages := newStubStages()
	o := testOrchestrator(t, store.NewMemoryStore(), stages)

	in := validInput()
	in.UploadRequested = false
	sess, _ := o.StartRecording(context.Background(), in)
	final := waitTerminal(t, o, sess.ID)
	deadline := time.Now().Add(5 * time.Second)
	for o.sup.Owns(sess.ID) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := os.Stat(final.RecordingFile); err != nil {
		t.Fatalf("recording of a kept session was removed: %v", err)
	}
}

func TestDeleteSession_RemovesRecordingFile(t *testing.T) {
	stages := newStubStages()
	o := testOrchestrator(t, store.NewMemoryStore(), stages)

	in := validInput()
	in.UploadRequested = false
	sess, _ := o.StartRecording(context.Background(), in)
	final := waitTerminal(t, o, sess.ID)
	if _, err := os.Stat(final.RecordingFile); err != nil {
		t.Fatalf("recording missing before delete: %v", err)
	}
	if err := o.DeleteSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(final.RecordingFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("recording still present: %v", err)
	}
}

func TestShutdown_CancelsRunningPipelines(t *testing.T) {
	st := newObservingStore()
	stages := newStubStages()
	stages.recordF = func(ctx context.Context, _ capture.RecordRequest) (capture.RecordResult, error) {
		<-ctx.Done()
		return capture.RecordResult{}, ctx.Err()
	}
	o := testOrchestrator(t, st, stages)

	sess, _ := o.StartRecording(context.Background(), validInput())
	waitFor(t, o, sess.ID, func(s *model.Session) bool { return s.Status == model.SessionRecording })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	final, _ := o.GetSession(context.Background(), sess.ID)
	if final.Status != model.SessionError || !strings.Contains(final.ErrorMessage, "pipeline cancelled") {
		t.Fatalf("unexpected final session %+v", final)
	}
	assertLifecycle(t, st.history(sess.ID))

	if _, err := o.StartRecording(context.Background(), validInput()); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown after shutdown, got %v", err)
	}
}

func TestMaxConcurrentSessions_KeepsExtraSessionsQueued(t *testing.T) {
	stages := newStubStages()
	release := make(chan struct{})
	stages.authenticateF = func(context.Context, capture.Request) (capture.Participant, error) {
		return newStubParticipant(), nil
	}
	stages.recordF = func(_ context.Context, req capture.RecordRequest) (capture.RecordResult, error) {
		<-release
		_ = os.WriteFile(req.OutputPath, []byte("audio"), 0o644)
		return capture.RecordResult{File: req.OutputPath}, nil
	}
	o, err := New(store.NewMemoryStore(), stages.pipeline(), Options{
		MaxDurationMinutes:    60,
		MaxConcurrentSessions: 1,
		RecordingsDir:         t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer o.Shutdown(context.Background())

	first, _ := o.StartRecording(context.Background(), validInput())
	waitFor(t, o, first.ID, func(s *model.Session) bool { return s.Status == model.SessionRecording })
	second, _ := o.StartRecording(context.Background(), validInput())

	time.Sleep(50 * time.Millisecond)
	got, _ := o.GetSession(context.Background(), second.ID)
	if got.Status != model.SessionQueued {
		t.Fatalf("second session should wait for a slot, got %s", got.Status)
	}
	close(release)
	waitTerminal(t, o, first.ID)
	if final := waitTerminal(t, o, second.ID); final.Status != model.SessionCompleted {
		t.Fatalf("second session ended %s", final.Status)
	}
}

func TestStatusReadsAreStableWithoutProgress(t *testing.T) {
	stages := newStubStages()
	o := testOrchestrator(t, store.NewMemoryStore(), stages)
	sess, _ := o.StartRecording(context.Background(), validInput())
	waitTerminal(t, o, sess.ID)

	a, _ := o.GetSession(context.Background(), sess.ID)
	b, _ := o.GetSession(context.Background(), sess.ID)
	if *a != *b {
		t.Fatalf("repeated reads differ: %+v vs %+v", a, b)
	}
}

func toStrings(in []model.SessionStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
