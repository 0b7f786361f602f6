package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

const (
	maxImageBytes = 20 << 20
	maxVideoBytes = 4 << 30

	// enough for every matcher in filetype
	sniffBytes = 262
)

var errMediaTooLarge = errors.New("media too large")

// downloadedMedia is a remote file copied to local disk. Callers must Remove it.
type downloadedMedia struct {
	Path        string
	Size        int64
	ContentType string
}

func (m *downloadedMedia) Remove() {
	if m != nil && m.Path != "" {
		os.Remove(m.Path)
	}
}

// downloadToTemp copies url into a temporary file of at most limit bytes. The
// content type is sniffed from the first bytes, falling back to the response
// header. On error nothing is left on disk.
func downloadToTemp(ctx context.Context, hc *http.Client, url, pattern string, limit int64, timeout time.Duration) (*downloadedMedia, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media: unexpected status %d", resp.StatusCode)
	}

	tempFile, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("create temporary file: %w", err)
	}
	media := &downloadedMedia{Path: tempFile.Name(), ContentType: resp.Header.Get("Content-Type")}

	body := io.LimitReader(resp.Body, limit+1)
	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(body, head)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	head = head[:n]
	if kind, matchErr := filetype.Match(head); matchErr == nil && kind != types.Unknown {
		media.ContentType = kind.MIME.Value
	}

	if err == nil {
		var written int64
		if _, err = tempFile.Write(head); err == nil {
			written, err = io.Copy(tempFile, body)
			media.Size = int64(n) + written
		}
	}
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err == nil && media.Size > limit {
		err = fmt.Errorf("%w: over %d bytes", errMediaTooLarge, limit)
	}
	if err != nil {
		media.Remove()
		return nil, fmt.Errorf("save media to temporary file: %w", err)
	}

	return media, nil
}

// fetchMedia reads a small remote file into memory.
func fetchMedia(ctx context.Context, hc *http.Client, url string, timeout time.Duration) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("%w: over %d bytes", errMediaTooLarge, maxImageBytes)
	}

	return data, resp.Header.Get("Content-Type"), nil
}
