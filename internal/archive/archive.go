package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/arukereso-extractor/internal/pkg/awsconf"
)

// PutObjectAPI is the S3 call the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Manifest summarises one run next to its archived tables.
type Manifest struct {
	RunID             string   `json:"run_id"`
	PreviousWatermark float64  `json:"previous_watermark"`
	Watermark         float64  `json:"watermark"`
	Files             []string `json:"files"`
	FailedFiles       []string `json:"failed_files,omitempty"`
	Records           int      `json:"records"`
	FinishedAt        string   `json:"finished_at"`
}

// Archiver copies a run's output tables to S3 under
// <prefix>/<yyyy>/<mm>/<dd>/<run id>/.
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// New builds an Archiver from AWS options.
func New(ctx context.Context, bucket, prefix string, opts awsconf.Options) (*Archiver, error) {
	awsCfg, err := awsconf.Load(ctx, opts)
	if err != nil {
		return nil, err
	}
	return NewWithClient(s3.NewFromConfig(awsCfg), bucket, prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client PutObjectAPI, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

func (a *Archiver) runPrefix(runID string) string {
	return path.Join(a.prefix, a.now().UTC().Format("2006/01/02"), runID)
}

// Upload stores each local file and the manifest. It returns the object keys written.
func (a *Archiver) Upload(ctx context.Context, m Manifest, files ...string) ([]string, error) {
	dir := a.runPrefix(m.RunID)
	var keys []string

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return keys, fmt.Errorf("read %s: %w", f, err)
		}
		key := path.Join(dir, filepath.Base(f))
		if err := a.put(ctx, key, data, "text/csv"); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	if m.FinishedAt == "" {
		m.FinishedAt = a.now().UTC().Format(time.RFC3339)
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return keys, fmt.Errorf("marshaling manifest: %w", err)
	}
	key := path.Join(dir, "manifest.json")
	if err := a.put(ctx, key, body, "application/json"); err != nil {
		return keys, err
	}
	return append(keys, key), nil
}

func (a *Archiver) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3 bucket %s: %w", a.bucket, err)
	}
	return nil
}
