package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Epistemic-Technology/vision-ocr/internal/documents"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

const (
	// UserAgent is sent with every fetch.
	UserAgent       = "Mozilla/5.0 ImageProcessor/1.0"
	chunkSize       = 16384
	defaultTimeout  = 15 * time.Second
	defaultMaxBytes = 64 << 20
)

// DetectFunc classifies a (possibly partial) buffer, returning empty strings
// when the content is not acceptable.
type DetectFunc func([]byte) (mediaType, ext string)

// FetcherConfig configures a Fetcher. Zero values select defaults.
type FetcherConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	Detect    DetectFunc
	Transport http.RoundTripper
}

// Fetcher downloads one remote reference and validates its signature while
// the body is still streaming.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	detect   DetectFunc
	log      logger.Logger
}

func NewFetcher(cfg FetcherConfig, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Detect == nil {
		cfg.Detect = documents.DetectImageType
	}
	if cfg.Transport == nil {
		cfg.Transport = NewRetryTransport(nil, log)
	}
	return &Fetcher{
		client:   &http.Client{Transport: cfg.Transport},
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxBytes,
		detect:   cfg.Detect,
		log:      log,
	}
}

// deadline bounds a whole fetch, including transport retries.
func (f *Fetcher) deadline() time.Duration {
	retries := 0
	if rt, ok := f.client.Transport.(*RetryTransport); ok {
		retries = rt.MaxRetries
	}
	return f.timeout * time.Duration(retries+1)
}

// Fetch retrieves url and returns its validated content. Failures are
// returned as classified errors; nothing is written to disk.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*models.FetchOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, f.deadline())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.NewError(models.InvalidContent, "build request", url, err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, models.NewError(models.TransientNetworkFailure, "request failed", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, models.Errorf(models.TransientNetworkFailure, "request failed", url, "unexpected status %s", resp.Status)
	}

	var content bytes.Buffer
	chunk := make([]byte, chunkSize)
	checked := false
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			content.Write(chunk[:n])

			if !checked && content.Len() >= documents.MaxSignatureLength {
				checked = true
				if media, _ := f.detect(content.Bytes()); media == "" {
					f.log.Warn("Invalid file signature: %s", url)
					return nil, models.Errorf(models.InvalidContent, "validate content", url, "invalid file signature")
				}
			}
			if int64(content.Len()) > f.maxBytes {
				return nil, models.Errorf(models.InvalidContent, "validate content", url, "body exceeds %d bytes", f.maxBytes)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, models.NewError(models.TransientNetworkFailure, "read body", url, readErr)
		}
	}

	media, ext := f.detect(content.Bytes())
	if media == "" {
		f.log.Warn("Unrecognized file type: %s", url)
		return nil, models.Errorf(models.InvalidContent, "validate content", url, "unrecognized file type")
	}

	return &models.FetchOutcome{
		Content:   content.Bytes(),
		MediaType: media,
		Extension: ext,
	}, nil
}

func describe(outcome *models.FetchOutcome) string {
	return fmt.Sprintf("%s, %d bytes", outcome.MediaType, len(outcome.Content))
}
