package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaybot/internal/models"
)

const (
	ImageFetchTimeout = 10 * time.Second
	MaxImageBytes     = 10 << 20
	userAgent         = "relaybot/1.0"
)

var (
	ErrImageTooLarge    = errors.New("ai: image exceeds size limit")
	ErrUnsupportedImage = errors.New("ai: unsupported image type")
)

// loadImage returns the image bytes and MIME type, downloading img.URL when no
// inline data is present.
func loadImage(ctx context.Context, client *http.Client, img *models.Image) ([]byte, string, error) {
	if img.Empty() {
		return nil, "", ErrNoImage
	}
	data := img.Data
	mimeType := img.MIMEType
	if len(data) == 0 {
		var err error
		data, mimeType, err = fetchImage(ctx, client, img.URL)
		if err != nil {
			return nil, "", err
		}
		if img.MIMEType != "" {
			mimeType = img.MIMEType
		}
	}
	if len(data) > MaxImageBytes {
		return nil, "", ErrImageTooLarge
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mimeType)
	}
	return data, mimeType, nil
}

func fetchImage(ctx context.Context, client *http.Client, rawURL string) ([]byte, string, error) {
	if client == nil {
		client = &http.Client{Timeout: ImageFetchTimeout}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid url", ErrUnsupportedImage)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("%w: unsupported url scheme %q", ErrUnsupportedImage, parsed.Scheme)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", &FetchError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, "", ErrImageTooLarge
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// FetchError is returned when the image host answers with a non-200 status.
type FetchError struct {
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch image: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}
