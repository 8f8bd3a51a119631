// Package blob stores uploaded case documents in an S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrEmptyPath = errors.New("blob path is required")

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the base used to build document links, e.g. a CDN
	// in front of the bucket. Defaults to the endpoint URL plus bucket.
	PublicURL string
}

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func New(opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("blob bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	base := strings.TrimRight(opts.PublicURL, "/")
	if base == "" {
		base = strings.TrimRight(client.EndpointURL().String(), "/") + "/" + opts.Bucket
	}
	return &Store{client: client, bucket: opts.Bucket, publicURL: base}, nil
}

// EnsureBucket creates the bucket when missing and makes its objects
// publicly readable, since document links are served straight from it.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	if err := s.client.SetBucketPolicy(ctx, s.bucket, publicReadPolicy(s.bucket)); err != nil {
		return fmt.Errorf("set bucket policy %s: %w", s.bucket, err)
	}
	return nil
}

// Upload writes body under path. size may be -1 when unknown.
func (s *Store) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, path, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", path, err)
	}
	return nil
}

// Object is one stored blob as listed from the bucket.
type Object struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// List returns every object under prefix ("" for the whole bucket).
func (s *Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", s.bucket, info.Err)
		}
		out = append(out, Object{Path: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	return nil
}

// PublicURL returns the link clients use to download path.
func (s *Store) PublicURL(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicURL + "/" + strings.Join(segments, "/"), nil
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("ping blob store: %w", err)
	}
	return nil
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}
