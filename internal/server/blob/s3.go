package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Config holds the settings for an S3 or S3-compatible store.
type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string // optional, for MinIO-compatible services
	PublicURL  bool   // bucket is public-read; skip presigning
	PresignTTL time.Duration
}

// S3Store stores blobs in an S3 bucket.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     S3Config
}

// NewS3Store builds an S3 client from static credentials, with an
// optional custom endpoint for MinIO-compatible deployments.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
	}, nil
}

// Put uploads content under uploads/<uuid>/<name>. The random segment
// keeps concurrent uploads of equally named files from colliding.
func (s *S3Store) Put(ctx context.Context, name string, content io.Reader, size int64) (*Object, error) {
	key := path.Join("uploads", uuid.New().String(), name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          content,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &Object{
		URL:      s.objectURL(key),
		Pathname: key,
		Size:     size,
	}, nil
}

// Head returns metadata for a stored object.
func (s *S3Store) Head(ctx context.Context, pathname string) (*Object, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(pathname),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to head S3 object: %w", err)
	}

	return &Object{
		URL:      s.objectURL(pathname),
		Pathname: pathname,
		Size:     aws.ToInt64(out.ContentLength),
	}, nil
}

// Delete removes a stored object. S3 DeleteObject is a no-op for
// missing keys, which matches the Store contract.
func (s *S3Store) Delete(ctx context.Context, pathname string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(pathname),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// DownloadURL returns the public object URL, or a presigned GET when
// the bucket is private.
func (s *S3Store) DownloadURL(ctx context.Context, pathname string) (string, error) {
	if s.cfg.PublicURL {
		return s.objectURL(pathname), nil
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(pathname),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.cfg.PresignTTL
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign GET: %w", err)
	}
	return req.URL, nil
}

func (s *S3Store) objectURL(key string) string {
	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.cfg.Endpoint, "/"), s.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}
