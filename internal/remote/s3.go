package remote

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/arukereso-extractor/internal/pkg/awsconf"
)

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads feeds from a bucket laid out like the SFTP folder,
// optionally below a key prefix.
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Source builds an S3Source from AWS options.
func NewS3Source(ctx context.Context, bucket, prefix string, opts awsconf.Options) (*S3Source, error) {
	awsCfg, err := awsconf.Load(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return NewS3SourceWithClient(s3.NewFromConfig(awsCfg), bucket, prefix), nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Source) key(p string) string {
	return strings.TrimPrefix(path.Join(s.prefix, p), "/")
}

// List returns the objects directly below dir. Deeper keys are reported once
// per sub-folder as directories.
func (s *S3Source) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := s.key(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			entries = append(entries, Entry{Name: name, IsDir: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			e := Entry{Name: name, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				e.ModTime = ModTimeOf(*obj.LastModified)
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Fetch downloads one object to localPath.
func (s *S3Source) Fetch(ctx context.Context, remotePath, localPath string) error {
	key := s.key(remotePath)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	return writeLocal(localPath, out.Body)
}

// Close is a no-op; the S3 client holds no session.
func (s *S3Source) Close() error { return nil }
