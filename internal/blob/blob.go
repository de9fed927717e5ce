// Package blob stores raw document bytes in an S3-compatible bucket.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"brokerflow/api/internal/config"
	"brokerflow/api/internal/util"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("object not found")

// UnmatchedFolder holds inbound attachments that could not be tied to an assignment.
const UnmatchedFolder = "unmatched"

type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg config.Config) (*Store, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Store{client: client, bucket: cfg.S3Bucket}, nil
}

// EnsureBucket creates the bucket on first start.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *Store) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

// Download reads the whole object. A missing key yields ErrNotFound.
func (s *Store) Download(ctx context.Context, objectPath string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "download object")
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, mapError(err, "read object")
	}
	return data, nil
}

// Remove deletes every path, continuing past failures, and returns the first error seen.
func (s *Store) Remove(ctx context.Context, paths []string) (int, error) {
	removed := 0
	var firstErr error
	for _, objectPath := range paths {
		if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove object %s: %w", objectPath, err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

func (s *Store) SignedURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectPath, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return url.String(), nil
}

func mapError(err error, op string) error {
	response := minio.ToErrorResponse(err)
	if response.Code == "NoSuchKey" || response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ObjectPath builds <tenant>/<assignment or unmatched>/<uuid>.<ext>.
func ObjectPath(tenantID, assignmentID, filename string) string {
	folder := strings.TrimSpace(assignmentID)
	if folder == "" {
		folder = UnmatchedFolder
	}
	name := util.NewID("")
	if ext := Extension(filename); ext != "" {
		name += "." + ext
	}
	return path.Join(tenantID, folder, name)
}

// Extension returns the lower-cased extension without the dot, or "bin".
func Extension(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(strings.TrimSpace(filename))), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}
