package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	defaultS3Endpoint = "s3.amazonaws.com"
	defaultS3Region   = "us-east-1"
)

// S3Config describes one bucket. Empty credentials fall back to the AWS
// environment, shared credentials file and instance role, in that order.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store uploads eval outputs to an S3-compatible bucket. The bucket is
// created on first upload when missing.
type S3Store struct {
	mc     *minio.Client
	bucket string
	region string

	mu    sync.Mutex
	ready bool
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	endpoint := firstNonBlank(cfg.Endpoint, defaultS3Endpoint)
	region := firstNonBlank(cfg.Region, defaultS3Region)

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  s3Credentials(cfg.AccessKey, cfg.SecretKey),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client for %s: %w", endpoint, err)
	}
	return &S3Store{mc: mc, bucket: bucket, region: region}, nil
}

func s3Credentials(accessKey, secretKey string) *credentials.Credentials {
	accessKey, secretKey = strings.TrimSpace(accessKey), strings.TrimSpace(secretKey)
	if accessKey != "" && secretKey != "" {
		return credentials.NewStaticV4(accessKey, secretKey, "")
	}
	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{},
	})
}

// prepare makes sure the bucket exists. Failures are retried on the next call.
func (s *S3Store) prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	ok, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !ok {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	s.ready = true
	return nil
}

func (s *S3Store) UploadObject(ctx context.Context, objectName, filename string) error {
	key, err := requireKey(objectName)
	if err != nil {
		return err
	}
	if err := s.prepare(ctx); err != nil {
		return err
	}
	opts := minio.PutObjectOptions{ContentType: contentTypeFor(filename)}
	if _, err := s.mc.FPutObject(ctx, s.bucket, key, filename, opts); err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, objectName string) ([]byte, error) {
	key, err := requireKey(objectName)
	if err != nil {
		return nil, err
	}
	if _, err := s.mc.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, s3Err(err)
	}
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3Err(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s3Err(err)
	}
	return data, nil
}

// List returns keys under prefix in lexical order.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	objects := s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    normalizeKey(prefix),
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return nil, s3Err(obj.Err)
		}
		if obj.Key != "" {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func s3Err(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return errors.Join(ErrNotFound, err)
	}
	return err
}

func requireKey(objectName string) (string, error) {
	key := normalizeKey(objectName)
	if key == "" {
		return "", fmt.Errorf("object name is required")
	}
	return key, nil
}

func normalizeKey(name string) string {
	return strings.TrimLeft(strings.TrimSpace(name), "/")
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tsv":
		return "text/tab-separated-values"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
