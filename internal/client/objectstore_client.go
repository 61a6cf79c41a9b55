package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig holds the attachment bucket settings.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the externally reachable base URL for stored objects. When
	// empty, URLs are built from the endpoint.
	PublicURL string
}

// ObjectStoreClient stores quote and project attachments in an S3-compatible
// bucket.
type ObjectStoreClient struct {
	client *minio.Client
	config ObjectStoreConfig
}

// NewObjectStoreClient connects to the object store and ensures the bucket
// exists.
func NewObjectStoreClient(ctx context.Context, config ObjectStoreConfig) (*ObjectStoreClient, error) {
	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := mc.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &ObjectStoreClient{client: mc, config: config}, nil
}

// Put uploads an attachment under the given key and returns its URL.
func (c *ObjectStoreClient) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := c.client.PutObject(ctx, c.config.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	return c.objectURL(key), nil
}

func (c *ObjectStoreClient) objectURL(key string) string {
	if c.config.PublicURL != "" {
		return strings.TrimRight(c.config.PublicURL, "/") + "/" + c.config.Bucket + "/" + key
	}
	scheme := "http"
	if c.config.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.config.Endpoint, c.config.Bucket, key)
}
