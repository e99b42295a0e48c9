// Package minio implements blobstore.Store on top of MinIO/S3 object
// storage, grounded on the teacher's storage/minio client idiom (NewClient,
// Config, DefaultConfig) and the system handler's MinIO health probe
// (internal/handler/system.go).
package minio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/blobstore"
	"github.com/ragcore/ragcore/internal/logger"
)

// Config configures the MinIO-backed object store.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
}

// contentAddress returns the stable hash used to key an object by its bytes.
func contentAddress(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DefaultConfig returns development-friendly defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:9000",
		Bucket:         "ragcore-documents",
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 60 * time.Second,
	}
}

// Client adapts a minio-go client to blobstore.Store using content
// addressing: objects are keyed by the sha256 of their bytes, so uploading
// identical content twice is a no-op after the first write.
type Client struct {
	raw    *miniogo.Client
	bucket string
	cfg    *Config
}

var _ blobstore.Store = (*Client)(nil)

// NewClient builds a MinIO client for the configured endpoint and bucket.
// It does not contact the server or create the bucket; EnsureBucket does.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("minio: endpoint is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultConfig().Bucket
	}

	raw, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, apperrors.NewDependencyUnavailableError("blob store unavailable", err)
	}

	c := &Client{raw: raw, bucket: cfg.Bucket, cfg: cfg}
	return c, nil
}

// EnsureBucket creates the configured bucket if it does not already exist.
// Call once during startup; skipped in unit tests against a fake client.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.raw.BucketExists(ctx, c.bucket)
	if err != nil {
		return apperrors.NewDependencyUnavailableError("minio bucket check failed", err)
	}
	if exists {
		return nil
	}
	if err := c.raw.MakeBucket(ctx, c.bucket, miniogo.MakeBucketOptions{}); err != nil {
		return apperrors.NewDependencyUnavailableError("minio bucket creation failed", err)
	}
	return nil
}

// Put buffers the reader to compute its content address, then uploads under
// that key if not already present.
func (c *Client) Put(ctx context.Context, mimeType string, r io.Reader, sizeHint int64) (blobstore.ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return blobstore.ObjectInfo{}, apperrors.NewInternalServerError("reading upload body: " + err.Error())
	}

	address := contentAddress(data)

	exists, err := c.Exists(ctx, address)
	if err != nil {
		return blobstore.ObjectInfo{}, err
	}
	if !exists {
		_, err = c.raw.PutObject(ctx, c.bucket, address, bytes.NewReader(data), int64(len(data)), miniogo.PutObjectOptions{
			ContentType: mimeType,
		})
		if err != nil {
			return blobstore.ObjectInfo{}, apperrors.NewDependencyUnavailableError("minio put failed", err)
		}
	}

	logger.Infof(ctx, "blobstore: stored object %s (%d bytes, reused=%v)", address, len(data), exists)
	return blobstore.ObjectInfo{ContentAddress: address, SizeBytes: int64(len(data)), MimeType: mimeType}, nil
}

func (c *Client) Get(ctx context.Context, contentAddress string) (io.ReadCloser, error) {
	obj, err := c.raw.GetObject(ctx, c.bucket, contentAddress, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, apperrors.NewDependencyUnavailableError("minio get failed", err)
	}
	if _, err := obj.Stat(); err != nil {
		return nil, apperrors.NewNotFoundError("object not found: " + contentAddress)
	}
	return obj, nil
}

func (c *Client) Delete(ctx context.Context, contentAddress string) error {
	err := c.raw.RemoveObject(ctx, c.bucket, contentAddress, miniogo.RemoveObjectOptions{})
	if err != nil {
		errResp := miniogo.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil
		}
		return apperrors.NewDependencyUnavailableError("minio delete failed", err)
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, contentAddress string) (bool, error) {
	_, err := c.raw.StatObject(ctx, c.bucket, contentAddress, miniogo.StatObjectOptions{})
	if err != nil {
		errResp := miniogo.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, apperrors.NewDependencyUnavailableError("minio stat failed", err)
	}
	return true, nil
}

