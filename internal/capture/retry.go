package capture

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/povchingiz/google-meet-recording/internal/metrics"
)

const (
	s3MaxAttempts = 4
	s3BaseDelay   = 250 * time.Millisecond
	s3MaxDelay    = 2 * time.Second
)

// retryS3 repeats fn while S3 reports throttling or a transient server error.
// Anything else fails on the first attempt.
func retryS3(ctx context.Context, opName string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= s3MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransientS3Error(err) {
			return err
		}
		if attempt == s3MaxAttempts {
			metrics.Default().IncCounter("meetrec_s3_retry_exhausted_total", map[string]string{"op": opName})
			return err
		}
		metrics.Default().IncCounter("meetrec_s3_retries_total", map[string]string{
			"op":     opName,
			"reason": s3ErrorCode(err),
		})
		delay := s3BaseDelay * time.Duration(1<<(attempt-1))
		if delay > s3MaxDelay {
			delay = s3MaxDelay
		}
		delay = withJitter(delay)
		log.Printf("event=s3_retry op=%s attempt=%d delay_ms=%d err=%q", opName, attempt, delay.Milliseconds(), err.Error())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// withJitter returns a delay in [10% of delay, delay).
func withJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	floor := delay / 10
	span := uint64(delay - floor)
	if span == 0 {
		return floor
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return floor + time.Duration(span/2)
	}
	return floor + time.Duration(binary.LittleEndian.Uint64(raw[:])%span)
}

func isTransientS3Error(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "SlowDown",
		"Throttling",
		"ThrottlingException",
		"RequestLimitExceeded",
		"RequestTimeout",
		"ServiceUnavailable",
		"InternalError":
		return true
	default:
		return false
	}
}

func s3ErrorCode(err error) string {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "non_api_error"
	}
	code := strings.TrimSpace(apiErr.ErrorCode())
	if code == "" {
		return "unknown"
	}
	return code
}
