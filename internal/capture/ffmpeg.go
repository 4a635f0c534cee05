package capture

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

type FFmpegOptions struct {
	Binary      string
	InputFormat string
	InputSource string
	Bitrate     string
	// StopGrace bounds how long ffmpeg may take to finalize after an interrupt.
	StopGrace time.Duration
}

// FFmpegRecorder grabs the audio the meeting client plays into the capture
// source (PulseAudio by default) and encodes it to mp3.
type FFmpegRecorder struct {
	opts FFmpegOptions
}

func NewFFmpegRecorder(opts FFmpegOptions) (*FFmpegRecorder, error) {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.InputFormat == "" {
		opts.InputFormat = "pulse"
	}
	if opts.InputSource == "" {
		opts.InputSource = "default"
	}
	if opts.Bitrate == "" {
		opts.Bitrate = "192k"
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	if _, err := exec.LookPath(opts.Binary); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	return &FFmpegRecorder{opts: opts}, nil
}

func (r *FFmpegRecorder) args(req RecordRequest) []string {
	seconds := int(req.Duration.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return []string{
		"-y",
		"-f", r.opts.InputFormat,
		"-i", r.opts.InputSource,
		"-t", strconv.Itoa(seconds),
		"-c:a", "libmp3lame",
		"-b:a", r.opts.Bitrate,
		req.OutputPath,
	}
}

func (r *FFmpegRecorder) Record(ctx context.Context, req RecordRequest) (RecordResult, error) {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return RecordResult{}, fmt.Errorf("create recording dir: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	endedEarly := make(chan struct{})
	if req.Participant != nil {
		go func() {
			select {
			case <-req.Participant.Left():
				close(endedEarly)
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	cmd := exec.CommandContext(runCtx, r.opts.Binary, r.args(req)...)
	// ffmpeg finalizes the container on SIGINT; a kill would leave a truncated file.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.opts.StopGrace

	logPath := req.OutputPath + ".ffmpeg.log"
	if logFile, err := os.Create(logPath); err == nil {
		cmd.Stderr = logFile
		defer logFile.Close()
	}

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	select {
	case <-endedEarly:
		log.Printf("event=recording_ended_early session_id=%s elapsed_s=%d", req.SessionID, int64(elapsed.Seconds()))
		if err := checkArtifact(req.OutputPath); err != nil {
			return RecordResult{}, err
		}
		return RecordResult{File: req.OutputPath, EndedEarly: true}, nil
	default:
	}

	if ctx.Err() != nil {
		return RecordResult{}, fmt.Errorf("recording interrupted after %s: %w", elapsed.Round(time.Second), ctx.Err())
	}
	if runErr != nil {
		return RecordResult{}, fmt.Errorf("ffmpeg: %w (see %s)", runErr, logPath)
	}
	if err := checkArtifact(req.OutputPath); err != nil {
		return RecordResult{}, err
	}
	return RecordResult{File: req.OutputPath}, nil
}

func checkArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("recording file missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("recording file %s is empty", path)
	}
	return nil
}
