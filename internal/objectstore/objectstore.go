package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fridgeclinic/internal/config"
	"fridgeclinic/internal/faults"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignExpiry = time.Hour

// Object is a downloaded storage object.
type Object struct {
	Data        []byte
	ContentType string
	Size        int64
}

// Info describes an object without its body.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Upload is a presigned PUT target handed to browsers.
type Upload struct {
	URL string `json:"uploadUrl"`
	Key string `json:"key"`
}

// Client reads videos from an S3 compatible bucket. Credentials are checked
// once in New; an unusable configuration leaves the client unavailable and
// every call returns faults.ErrNotConfigured.
type Client struct {
	client    *minio.Client
	bucket    string
	keyPrefix string
	reason    string
	now       func() time.Time
}

// New builds the client. It never fails: problems are recorded and reported
// by each call.
func New(cfg config.StorageConfig) *Client {
	c := &Client{bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix, now: time.Now}
	switch {
	case config.IsPlaceholder(cfg.Bucket):
		c.reason = "storage bucket is not configured"
	case config.IsPlaceholder(cfg.AccessKeyID) || config.IsPlaceholder(cfg.SecretAccessKey):
		c.reason = "storage credentials are not configured"
	}
	if c.reason != "" {
		slog.Warn("object storage unavailable", "reason", c.reason)
		return c
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.SSL(),
		Region: cfg.Region,
	})
	if err != nil {
		c.reason = fmt.Sprintf("storage client: %v", err)
		slog.Warn("object storage unavailable", "reason", c.reason)
		return c
	}
	c.client = mc
	slog.Info("object storage initialized", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket, "region", cfg.Region)
	return c
}

// Available reports whether the client was configured.
func (c *Client) Available() bool {
	return c != nil && c.client != nil
}

func (c *Client) unavailable() error {
	reason := "storage is not configured"
	if c != nil && c.reason != "" {
		reason = c.reason
	}
	return fmt.Errorf("%w: %s", faults.ErrNotConfigured, reason)
}

// Fetch downloads the object stored at key.
func (c *Client) Fetch(ctx context.Context, key string) (*Object, error) {
	if !c.Available() {
		return nil, c.unavailable()
	}
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(key, err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		return nil, classify(key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify(key, err)
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Object{Data: data, ContentType: contentType, Size: int64(len(data))}, nil
}

// Stat returns object metadata.
func (c *Client) Stat(ctx context.Context, key string) (*Info, error) {
	if !c.Available() {
		return nil, c.unavailable()
	}
	info, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classify(key, err)
	}
	return &Info{Key: key, Size: info.Size, ContentType: info.ContentType, LastModified: info.LastModified}, nil
}

// PresignUpload creates a one hour PUT URL under a fresh key derived from fileName.
func (c *Client) PresignUpload(ctx context.Context, fileName, contentType string) (*Upload, error) {
	if !c.Available() {
		return nil, c.unavailable()
	}
	key := fmt.Sprintf("%s%d_%s", c.keyPrefix, c.now().UnixMilli(), SanitizeName(fileName))
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	u, err := c.client.PresignHeader(ctx, http.MethodPut, c.bucket, key, presignExpiry, nil, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: presign %s: %v", faults.ErrTransport, key, err)
	}
	return &Upload{URL: u.String(), Key: key}, nil
}

// SanitizeName keeps letters, digits, dot, dash and underscore.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func classify(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: object %s", faults.ErrNotFound, key)
	}
	return fmt.Errorf("%w: object %s: %v", faults.ErrTransport, key, err)
}
