// Package downloader fetches generated artifacts to local disk.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bdougie/roastbench/internal/models"
)

// Downloader streams a URL to a local file
type Downloader struct {
	client *http.Client
}

// New creates a downloader whose requests are bounded by timeout
func New(timeout time.Duration) *Downloader {
	return &Downloader{client: &http.Client{Timeout: timeout}}
}

// NewWithClient uses a caller-supplied client
func NewWithClient(client *http.Client) *Downloader {
	return &Downloader{client: client}
}

// Download streams url into dest. A partial file is removed on failure.
// Network failures and non-200 responses come back as *models.TransportError.
func (d *Downloader) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &models.TransportError{Op: "download", Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &models.TransportError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &models.TransportError{Op: "download", StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", dest, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", dest, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return &models.TransportError{Op: "download", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to close '%s': %w", dest, err)
	}
	return nil
}
