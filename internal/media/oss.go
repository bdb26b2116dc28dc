package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSConfig configures an Aliyun OSS bucket.
type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	PublicURL       string
}

// OSSStore keeps objects in an Aliyun OSS bucket. The SDK has no context
// support, so cancellation is only checked before each call.
type OSSStore struct {
	bucket  *oss.Bucket
	baseURL string
}

func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %s: %w", cfg.Bucket, err)
	}

	base := cfg.PublicURL
	if base == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
		base = fmt.Sprintf("https://%s.%s", cfg.Bucket, host)
	}
	return &OSSStore{bucket: bucket, baseURL: strings.TrimRight(base, "/")}, nil
}

func (s *OSSStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.bucket.PutObject(key, bytes.NewReader(data), oss.ContentType(contentType))
}

func (s *OSSStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.bucket.DeleteObject(key)
}

func (s *OSSStore) BaseURL() string { return s.baseURL }
