package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by ArchiveStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// manifestAttempts bounds the conditional-write retries on the manifest.
const manifestAttempts = 5

// ManifestEntry is one line of the monthly archive manifest.
type ManifestEntry struct {
	PatientID    string `json:"patientId"`
	S3Key        string `json:"s3Key"`
	ArchivedAt   string `json:"archivedAt"`
	MessageCount int    `json:"messageCount"`
}

// ArchiveStore writes each record as a JSON object to S3. With no bucket
// configured every call is a no-op.
type ArchiveStore struct {
	bucket string
	client S3API
	logger *logging.Logger
}

func NewArchiveStore(client S3API, bucket string, logger *logging.Logger) *ArchiveStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &ArchiveStore{bucket: bucket, client: client, logger: logger}
}

func (a *ArchiveStore) Enabled() bool {
	return a != nil && a.bucket != "" && a.client != nil
}

func (a *ArchiveStore) Save(ctx context.Context, rec Record) error {
	if !a.Enabled() {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("summary: marshal archive record: %w", err)
	}

	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	key := fmt.Sprintf("summaries/%s/%s.json", rec.PatientID, at.Format(time.RFC3339Nano))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("summary: s3 put %s: %w", key, err)
	}
	a.logger.Info("summary: archived", "patient_id", rec.PatientID, "s3_key", key)

	entry := ManifestEntry{
		PatientID:    rec.PatientID,
		S3Key:        key,
		ArchivedAt:   at.Format(time.RFC3339),
		MessageCount: len(rec.Conversation),
	}
	if err := a.appendManifest(ctx, at, entry); err != nil {
		a.logger.Warn("summary: manifest append failed", "error", err, "patient_id", rec.PatientID)
	}
	return nil
}

// appendManifest rewrites the month's JSONL manifest with entry appended.
// The write is conditional on the manifest being unchanged since it was
// read, so concurrent archivers retry instead of dropping each other's lines.
func (a *ArchiveStore) appendManifest(ctx context.Context, at time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("summary: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("summaries/manifests/%d-%02d.jsonl", at.Year(), at.Month())

	for attempt := 1; ; attempt++ {
		err := a.tryAppendManifest(ctx, key, entry.S3Key, line)
		if err == nil || !isConditionFailed(err) || attempt == manifestAttempts {
			return err
		}
		a.logger.Debug("summary: manifest changed concurrently, retrying", "attempt", attempt, "key", key)
	}
}

func (a *ArchiveStore) tryAppendManifest(ctx context.Context, key, objectKey string, line []byte) error {
	var (
		existing []byte
		etag     *string
	)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		etag = out.ETag
		existing, err = io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return fmt.Errorf("summary: read manifest: %w", err)
		}
	case isNotFound(err):
	default:
		return fmt.Errorf("summary: get manifest: %w", err)
	}

	if manifestLists(existing, objectKey) {
		return nil
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.Write(line)
	buf.WriteByte('\n')

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	}
	if etag != nil {
		input.IfMatch = etag
	} else {
		input.IfNoneMatch = aws.String("*")
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("summary: s3 put manifest: %w", err)
	}
	return nil
}

func manifestLists(manifest []byte, objectKey string) bool {
	for _, raw := range bytes.Split(manifest, []byte("\n")) {
		var entry ManifestEntry
		if json.Unmarshal(raw, &entry) == nil && entry.S3Key == objectKey {
			return true
		}
	}
	return false
}

func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}
