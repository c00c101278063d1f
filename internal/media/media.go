// Package media stores uploaded block images in object storage and returns
// their public URLs.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"folio/api/internal/util"
)

var (
	ErrTooLarge           = errors.New("upload exceeds size limit")
	ErrUnsupportedContent = errors.New("unsupported image type")
	ErrEmpty              = errors.New("upload is empty")
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ObjectStore is the slice of an S3-compatible client the service needs.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Remove(ctx context.Context, key string) error
	URL(key string) string
}

type Stored struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Service struct {
	objects  ObjectStore
	maxBytes int64
	logger   zerolog.Logger
}

func NewService(objects ObjectStore, maxBytes int64, logger zerolog.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Service{objects: objects, maxBytes: maxBytes, logger: logger}
}

// StoreImage reads at most the size limit from body, checks the content is
// an image by sniffing its first bytes and uploads it under the profile's
// prefix.
func (s *Service) StoreImage(ctx context.Context, profileID string, body io.Reader) (Stored, error) {
	data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return Stored{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return Stored{}, ErrEmpty
	}
	if int64(len(data)) > s.maxBytes {
		return Stored{}, ErrTooLarge
	}

	contentType := http.DetectContentType(data)
	ext, ok := allowedTypes[contentType]
	if !ok {
		return Stored{}, fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
	}

	key := path.Join(profileID, util.NewID("")+ext)
	if err := s.objects.Put(ctx, key, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		return Stored{}, fmt.Errorf("put object: %w", err)
	}
	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("image stored")
	return Stored{Key: key, URL: s.objects.URL(key), ContentType: contentType, Size: int64(len(data))}, nil
}

// Remove deletes a stored object. Used to clean up when the block insert
// that should reference it fails.
func (s *Service) Remove(ctx context.Context, key string) error {
	return s.objects.Remove(ctx, key)
}

// MinioStore implements ObjectStore on minio-go.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the base URL returned for stored objects.
	PublicURL string
}

func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}
	return &MinioStore{client: client, bucket: opts.Bucket, publicURL: publicURL}, nil
}

// EnsureBucket creates the bucket if needed and makes its objects publicly
// readable, since image URLs are embedded in public pages.
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("make bucket: %w", err)
		}
	}
	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, m.bucket)
	if err := m.client.SetBucketPolicy(ctx, m.bucket, policy); err != nil {
		return fmt.Errorf("set bucket policy: %w", err)
	}
	return nil
}

func (m *MinioStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	return err
}

func (m *MinioStore) Remove(ctx context.Context, key string) error {
	return m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}

func (m *MinioStore) URL(key string) string {
	return m.publicURL + "/" + key
}

// Ping reports whether the bucket is reachable.
func (m *MinioStore) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}
