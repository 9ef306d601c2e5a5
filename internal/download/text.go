package download

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/renameio/v2"
	"golang.org/x/net/html/charset"

	"bilidl/internal/bili"
	"bilidl/internal/log"
)

// runText fetches a small text artifact (danmaku XML, subtitle JSON) in one
// buffered read, decodes its character set and writes the result atomically.
// runImage is the same fetch without charset decoding.
func (m *Manager) runText(ctx context.Context, t *Task) error {
	body, contentType, err := m.fetchBuffered(ctx, t)
	if err != nil {
		return err
	}

	decoded := decodeCharset(body, contentType, t.ID)
	t.setTotal(int64(len(decoded)))
	t.setDownloaded(int64(len(decoded)))
	if err := renameio.WriteFile(t.OutputPath, decoded, 0o644); err != nil {
		return fmt.Errorf("write text artifact: %w", err)
	}
	return nil
}

func (m *Manager) runImage(ctx context.Context, t *Task) error {
	body, _, err := m.fetchBuffered(ctx, t)
	if err != nil {
		return err
	}
	t.setTotal(int64(len(body)))
	t.setDownloaded(int64(len(body)))
	if err := renameio.WriteFile(t.OutputPath, body, 0o644); err != nil {
		return fmt.Errorf("write image artifact: %w", err)
	}
	return nil
}

// fetchBuffered reads the whole body with manual decompression applied.
func (m *Manager) fetchBuffered(ctx context.Context, t *Task) ([]byte, string, error) {
	resp, err := m.client.GetRaw(ctx, t.URL, bili.DownloadHeaders(t.URL))
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close() // #nosec G307

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", fmt.Errorf("%w: status %d", bili.ErrRateLimited, resp.StatusCode)
	default:
		return nil, "", &InvalidStateError{
			Message: fmt.Sprintf("text fetch returned status %d", resp.StatusCode),
		}
	}

	body, err := bili.DecodeBody(resp)
	if err != nil {
		return nil, "", &StreamError{Message: err.Error()}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// decodeCharset converts body to UTF-8 using the detected encoding. Decode
// trouble is logged, not fatal; the raw bytes are kept in that case.
func decodeCharset(body []byte, contentType, taskID string) []byte {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		logger := log.WithComponent("download")
		logger.Warn().Err(err).
			Str("task_id", taskID).Str("charset", name).
			Msg("charset decode failed, keeping raw bytes")
		return body
	}
	return decoded
}
