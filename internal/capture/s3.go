package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/povchingiz/google-meet-recording/internal/metrics"
)

type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
	LinkTTL         time.Duration
}

type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3PresignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Uploader stores recordings in an S3 compatible bucket and hands back a
// presigned download link as the storage reference.
type S3Uploader struct {
	put     s3PutAPI
	presign s3PresignAPI
	bucket  string
	prefix  string
	linkTTL time.Duration
	now     func() time.Time
}

func NewS3Uploader(ctx context.Context, opts S3Options) (*S3Uploader, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	loadOpts := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		)))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return newS3Uploader(client, s3.NewPresignClient(client), opts), nil
}

func newS3Uploader(put s3PutAPI, presign s3PresignAPI, opts S3Options) *S3Uploader {
	ttl := opts.LinkTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &S3Uploader{
		put:     put,
		presign: presign,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		linkTTL: ttl,
		now:     time.Now,
	}
}

func (u *S3Uploader) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	f, err := os.Open(req.FilePath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return UploadResult{}, fmt.Errorf("stat recording: %w", err)
	}

	key := u.objectKey(req)
	putStart := time.Now()
	err = retryS3(ctx, "put_object", func(callCtx context.Context) error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, putErr := u.put.PutObject(callCtx, &s3.PutObjectInput{
			Bucket:        aws.String(u.bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String(contentType(req.FilePath)),
		})
		return putErr
	})
	observeS3("put_object", putStart, err)
	log.Printf("metric=s3_put_object_latency_ms session_id=%s key=%s bytes=%d value=%d", req.SessionID, key, info.Size(), time.Since(putStart).Milliseconds())
	if err != nil {
		return UploadResult{}, fmt.Errorf("put object %s: %w", key, err)
	}

	signed, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.linkTTL))
	if err != nil {
		return UploadResult{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return UploadResult{Reference: signed.URL}, nil
}

// objectKey lays artifacts out as <prefix>/<folder>/meeting_recording_<ts>_<id>.<ext>.
func (u *S3Uploader) objectKey(req UploadRequest) string {
	ext := filepath.Ext(req.FilePath)
	if ext == "" {
		ext = ".mp3"
	}
	id := req.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("meeting_recording_%s_%s%s", u.now().UTC().Format("20060102_150405"), id, ext)
	return path.Join(u.prefix, folderSegment(req.Folder), name)
}

// folderSegment turns a user supplied folder label into a single safe key segment.
func folderSegment(folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range folder {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune('_')
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ". ")
}

func contentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}

func observeS3(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = "cancelled"
		}
	}
	labels := map[string]string{"op": op, "status": status}
	metrics.Default().IncCounter("meetrec_s3_operations_total", labels)
	metrics.Default().ObserveHistogram("meetrec_s3_operation_latency_ms", float64(time.Since(start).Milliseconds()), labels)
}
