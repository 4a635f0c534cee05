package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
)

// FakeOptions tune the simulated collaborators used in development.
type FakeOptions struct {
	StageDelay  time.Duration
	RecordFor   time.Duration
	FailStage   Stage
	ArtifactURL string
}

// Fake stands in for browser, ffmpeg and storage. It writes a placeholder
// artifact so the rest of the system sees a real file.
type Fake struct {
	opts FakeOptions
}

func NewFake(opts FakeOptions) *Fake {
	if opts.ArtifactURL == "" {
		opts.ArtifactURL = "https://storage.invalid/fake"
	}
	return &Fake{opts: opts}
}

// Pipeline wires the fake into every stage.
func (f *Fake) Pipeline() Pipeline {
	return Pipeline{Authenticator: f, Joiner: f, Recorder: f, Uploader: f}
}

type fakeParticipant struct {
	once sync.Once
	left chan struct{}
}

func (p *fakeParticipant) Left() <-chan struct{} { return p.left }

func (p *fakeParticipant) Close() error {
	p.once.Do(func() { close(p.left) })
	return nil
}

func (f *Fake) step(ctx context.Context, stage Stage) error {
	if err := sleepCtx(ctx, f.opts.StageDelay); err != nil {
		return err
	}
	if f.opts.FailStage == stage {
		return fmt.Errorf("simulated %s failure", stage)
	}
	return nil
}

func (f *Fake) Authenticate(ctx context.Context, _ Request) (Participant, error) {
	if err := f.step(ctx, StageAuthenticate); err != nil {
		return nil, err
	}
	return &fakeParticipant{left: make(chan struct{})}, nil
}

func (f *Fake) Join(ctx context.Context, _ Participant, _ Request) error {
	return f.step(ctx, StageJoin)
}

func (f *Fake) Record(ctx context.Context, req RecordRequest) (RecordResult, error) {
	wait := req.Duration
	if f.opts.RecordFor > 0 && f.opts.RecordFor < wait {
		wait = f.opts.RecordFor
	}
	var left <-chan struct{}
	if req.Participant != nil {
		left = req.Participant.Left()
	}

	endedEarly := false
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return RecordResult{}, ctx.Err()
	case <-left:
		endedEarly = true
	case <-timer.C:
	}
	if f.opts.FailStage == StageRecord {
		return RecordResult{}, errors.New("simulated record failure")
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return RecordResult{}, fmt.Errorf("create recording dir: %w", err)
	}
	if err := os.WriteFile(req.OutputPath, []byte("fake recording "+req.SessionID+"\n"), 0o644); err != nil {
		return RecordResult{}, fmt.Errorf("write placeholder recording: %w", err)
	}
	return RecordResult{File: req.OutputPath, EndedEarly: endedEarly}, nil
}

func (f *Fake) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if err := f.step(ctx, StageUpload); err != nil {
		return UploadResult{}, err
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		return UploadResult{}, fmt.Errorf("stat recording: %w", err)
	}
	return UploadResult{
		Reference: f.opts.ArtifactURL + "/" + path.Join(folderSegment(req.Folder), filepath.Base(req.FilePath)),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
