// Package export uploads run artifacts (Parquet, JSONL, XLSX files) to
// S3-compatible object storage for retention and downstream analysis.
package export

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pixellineage/inputlat/pkg/errors"
)

// S3Config configures the S3 artifact uploader.
type S3Config struct {
	// Bucket is the target S3 bucket
	Bucket string

	// Prefix is prepended to all object keys (e.g., "inputlat/runs/")
	Prefix string

	// Region is the AWS region
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Timeout for individual uploads
	Timeout time.Duration
}

// DefaultS3Config returns sensible defaults.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:  bucket,
		Prefix:  "inputlat/",
		Timeout: 60 * time.Second,
	}
}

// S3Uploader uploads local artifact files to S3.
type S3Uploader struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Uploader creates a new uploader.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.CodeExportFailed, "export bucket not configured")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExportFailed, "failed to load AWS config")
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Uploader{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// key builds the object key for a run artifact.
func (u *S3Uploader) key(runID, filename string) string {
	return u.cfg.Prefix + runID + "/" + filename
}

// UploadFile uploads one local file under the given run ID. The object
// key is <prefix><runID>/<basename>.
func (u *S3Uploader) UploadFile(ctx context.Context, runID, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExportFailed, "failed to open artifact").
			WithContext("path", path)
	}
	defer f.Close()

	key := u.key(runID, filepath.Base(path))
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExportFailed, "failed to upload artifact").
			WithContext("bucket", u.cfg.Bucket).
			WithContext("key", key)
	}

	return fmt.Sprintf("s3://%s/%s", u.cfg.Bucket, key), nil
}

// UploadAll uploads every listed file, returning the object URIs.
// The first failure aborts the run.
func (u *S3Uploader) UploadAll(ctx context.Context, runID string, paths []string) ([]string, error) {
	uris := make([]string, 0, len(paths))
	for _, p := range paths {
		uri, err := u.UploadFile(ctx, runID, p)
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}
