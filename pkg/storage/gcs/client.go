package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

const (
	pingTimeout    = 5 * time.Second
	defaultTimeout = 10 * time.Second

	defaultAPIBase    = "https://storage.googleapis.com/storage/v1"
	defaultUploadBase = "https://storage.googleapis.com/upload/storage/v1"
	defaultPublicBase = "https://storage.googleapis.com"
)

var errNotInitialized = errors.New("gcs client not initialized")

// Client talks to the Cloud Storage JSON API for visitor photos.
type Client struct {
	httpClient    *http.Client
	defaultBucket string
	tokenSource   *tokenSource
	apiBase       string
	uploadBase    string
	publicBase    string
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	ts, err := newTokenSource(httpClient, gcp)
	if err != nil {
		return nil, err
	}

	client := &Client{
		httpClient:    httpClient,
		defaultBucket: cfg.BucketName,
		tokenSource:   ts,
		apiBase:       defaultAPIBase,
		uploadBase:    defaultUploadBase,
		publicBase:    defaultPublicBase,
	}

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs client initialized")
	}

	return client, nil
}

// BucketHandle returns a handle on name, or on the default bucket when name
// is empty.
func (c *Client) BucketHandle(name string) *Bucket {
	if c == nil {
		return nil
	}
	if name == "" {
		name = c.defaultBucket
	}
	return &Bucket{name: name, client: c}
}

func (c *Client) Close() error {
	return nil
}

// Ping lists at most one object, which needs storage.objects.list on the
// photo bucket.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.tokenSource == nil {
		return errNotInitialized
	}
	if c.defaultBucket == "" {
		return errors.New("gcs bucket not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/b/%s/o?maxResults=1", c.apiBase, url.PathEscape(c.defaultBucket))
	resp, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return responseError("gcs object check failed", resp)
	}
	return nil
}

// do sends an authorized request to the storage API.
func (c *Client) do(ctx context.Context, method, u, contentType string, body []byte) (*http.Response, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}
	return c.httpClient.Do(req)
}

// Bucket scopes object operations to one bucket.
type Bucket struct {
	name   string
	client *Client
}

func (b *Bucket) Name() string {
	return b.name
}

func (b *Bucket) ready() error {
	if b == nil || b.client == nil || b.client.tokenSource == nil {
		return errNotInitialized
	}
	return nil
}

// Upload stores data under object with a simple media upload and returns the
// object's public URL.
func (b *Bucket) Upload(ctx context.Context, object, contentType string, data []byte) (string, error) {
	if err := b.ready(); err != nil {
		return "", err
	}
	object = strings.TrimLeft(object, "/")
	if object == "" {
		return "", errors.New("object name is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	q := url.Values{}
	q.Set("uploadType", "media")
	q.Set("name", object)
	u := fmt.Sprintf("%s/b/%s/o?%s", b.client.uploadBase, url.PathEscape(b.name), q.Encode())

	resp, err := b.client.do(ctx, http.MethodPost, u, contentType, data)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", responseError("gcs upload failed", resp)
	}
	return b.PublicURL(object), nil
}

// Delete removes object. A missing object counts as deleted.
func (b *Bucket) Delete(ctx context.Context, object string) error {
	if err := b.ready(); err != nil {
		return err
	}
	object = strings.TrimLeft(object, "/")
	if object == "" {
		return errors.New("object name is required")
	}

	u := fmt.Sprintf("%s/b/%s/o/%s", b.client.apiBase, url.PathEscape(b.name), url.PathEscape(object))
	resp, err := b.client.do(ctx, http.MethodDelete, u, "", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return responseError("gcs delete failed", resp)
	}
}

// PublicURL is the anonymous download URL of object within the bucket.
func (b *Bucket) PublicURL(object string) string {
	base := defaultPublicBase
	if b.client != nil && b.client.publicBase != "" {
		base = b.client.publicBase
	}
	segments := strings.Split(strings.TrimLeft(object, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/%s", base, url.PathEscape(b.name), strings.Join(segments, "/"))
}

func responseError(prefix string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if len(b) > 0 {
		return fmt.Errorf("%s: %s: %s", prefix, resp.Status, strings.TrimSpace(string(b)))
	}
	return fmt.Errorf("%s: %s", prefix, resp.Status)
}
