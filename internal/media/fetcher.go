// Package media downloads remote files for use as outbound attachments.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

// DefaultFilename is used for attachments built from fetched media.
const DefaultFilename = "Media"

// ErrTooLarge is returned when a body exceeds the configured limit.
var ErrTooLarge = errors.New("media exceeds size limit")

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Media is a fetched payload and its declared content type.
type Media struct {
	Data     []byte
	MimeType string
}

// Attachment encodes the payload for the session.
func (m *Media) Attachment(filename string) domain.Attachment {
	if filename == "" {
		filename = DefaultFilename
	}
	return domain.Attachment{
		MimeType: m.MimeType,
		Data:     base64.StdEncoding.EncodeToString(m.Data),
		Filename: filename,
	}
}

type FetcherConfig struct {
	Timeout  time.Duration // 0 = transport default (none)
	MaxBytes int64         // 0 = unbounded
	Client   HTTPDoer      // optional; built from Timeout when nil
	Logger   *slog.Logger
}

// Fetcher retrieves media over HTTP. It never retries.
type Fetcher struct {
	client   HTTPDoer
	maxBytes int64
	logger   *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.Client
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   client,
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
}

// Fetch downloads rawURL. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch media: remote returned %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		if resp.ContentLength > f.maxBytes {
			return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, resp.ContentLength, f.maxBytes)
		}
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: limit %d", ErrTooLarge, f.maxBytes)
	}

	metrics.MediaBytes.Add(int64(len(data)))

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
		f.logger.Debug("media content type sniffed", "mime", mimeType)
	}

	return &Media{Data: data, MimeType: mimeType}, nil
}

// BaseType strips parameters from a content type ("image/png; q=1" → "image/png").
func BaseType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}
