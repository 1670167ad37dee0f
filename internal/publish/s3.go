// Package publish uploads collected libraries to S3-compatible storage.
package publish

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vk/xbuildgo/internal/collector"
	"github.com/vk/xbuildgo/internal/ctxlog"
)

// DefaultRegion is used when the configuration leaves the region empty.
const DefaultRegion = "us-east-1"

// S3Config configures an S3Publisher.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix string
}

// PublishError is an artifact that could not be uploaded.
type PublishError struct {
	Target string
	Key    string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s: failed to publish %s: %v", e.Target, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// S3Publisher stores artifacts as <prefix>/<project>/<target>/<file>.
type S3Publisher struct {
	client  *minio.Client
	bucket  string
	region  string
	prefix  string
	project string

	initOnce sync.Once
	initErr  error
}

// NewS3Publisher validates cfg and creates the client. No request is made
// until the first upload.
func NewS3Publisher(cfg S3Config, project string) (*S3Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = DefaultRegion
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Publisher{
		client:  client,
		bucket:  bucket,
		region:  region,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		project: project,
	}, nil
}

func (p *S3Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Key returns the object key of an artifact.
func (p *S3Publisher) Key(target string, a collector.Artifact) string {
	return ObjectKey(p.prefix, p.project, target, filepath.Base(a.Path))
}

// Publish implements collector.Publisher.
func (p *S3Publisher) Publish(ctx context.Context, target string, a collector.Artifact) error {
	key := p.Key(target, a)
	if err := p.ensureBucket(ctx); err != nil {
		return &PublishError{Target: target, Key: key, Err: fmt.Errorf("ensure bucket: %w", err)}
	}
	info, err := p.client.FPutObject(ctx, p.bucket, key, a.Path, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			"library": a.Library,
			"target":  target,
		},
	})
	if err != nil {
		return &PublishError{Target: target, Key: key, Err: err}
	}
	ctxlog.FromContext(ctx).Info("Published library.", "target", target, "bucket", p.bucket, "key", key, "bytes", info.Size)
	return nil
}

// ObjectKey joins the non-empty parts with "/".
func ObjectKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.Trim(strings.TrimSpace(part), "/"); part != "" {
			kept = append(kept, part)
		}
	}
	return path.Join(kept...)
}
