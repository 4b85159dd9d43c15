package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/CZERTAINLY/scangate/internal/model"
)

// ArtifactSink uploads the report files to an S3 compatible bucket under
// <prefix>/<scan id>/.
type ArtifactSink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewArtifactSink connects to the endpoint and creates the bucket when it
// does not exist yet.
func NewArtifactSink(ctx context.Context, cfg model.Artifacts) (*ArtifactSink, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating artifact client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ArtifactSink{client: cli, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key a file of a scan is stored under.
func (s *ArtifactSink) Key(id model.ScanID, name string) string {
	return path.Join(s.prefix, id.String(), name)
}

func (s *ArtifactSink) Publish(ctx context.Context, doc *Document) error {
	for _, f := range doc.Files() {
		key := s.Key(doc.Results.ScanID, f.Name)
		info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(f.Data), int64(len(f.Data)), minio.PutObjectOptions{
			ContentType: f.ContentType,
		})
		if err != nil {
			return fmt.Errorf("uploading %s to bucket %s: %w", key, s.bucket, err)
		}
		slog.DebugContext(ctx, "report uploaded", "bucket", info.Bucket, "key", info.Key, "etag", info.ETag)
	}
	return nil
}
