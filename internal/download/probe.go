package download

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"bilidl/internal/bili"
)

// ContentInfo is the result of a size probe.
type ContentInfo struct {
	Type string
	Size int64
}

// probe determines content type and size ahead of a binary download. HEAD
// first; hosts that refuse HEAD (404/405) are probed with a small ranged GET
// whose Content-Range reveals the total.
func (m *Manager) probe(ctx context.Context, rawURL string) (ContentInfo, error) {
	hdr := bili.DownloadHeaders(rawURL)
	resp, err := m.client.Head(ctx, rawURL, hdr)
	if err != nil {
		return ContentInfo{}, fmt.Errorf("probe head: %w", err)
	}
	resp.Body.Close() // #nosec G104

	switch {
	case resp.StatusCode == http.StatusOK:
		return ContentInfo{
			Type: resp.Header.Get("Content-Type"),
			Size: resp.ContentLength,
		}, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusMethodNotAllowed:
		return m.probeRanged(ctx, rawURL)
	case resp.StatusCode == http.StatusForbidden:
		return ContentInfo{}, fmt.Errorf("%w: 403 on probe; likely causes: stale cookie, "+
			"missing Origin header, region lock, or VIP-only content", bili.ErrRateLimited)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusUnauthorized:
		return ContentInfo{}, fmt.Errorf("%w: status %d on probe", bili.ErrRateLimited, resp.StatusCode)
	}
	return ContentInfo{}, &InvalidStateError{
		Message: fmt.Sprintf("probe returned status %d", resp.StatusCode),
	}
}

// probeRanged fetches the first KiB and reads the total size from
// Content-Range.
func (m *Manager) probeRanged(ctx context.Context, rawURL string) (ContentInfo, error) {
	hdr := bili.DownloadHeaders(rawURL)
	hdr.Set("Range", "bytes=0-1023")
	resp, err := m.client.GetRaw(ctx, rawURL, hdr)
	if err != nil {
		return ContentInfo{}, fmt.Errorf("probe ranged get: %w", err)
	}
	defer resp.Body.Close() // #nosec G307

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return ContentInfo{}, &InvalidStateError{
			Message: fmt.Sprintf("ranged probe returned status %d", resp.StatusCode),
		}
	}
	total, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
	if err != nil {
		// A 200 without Content-Range still tells us the full length.
		if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
			return ContentInfo{Type: resp.Header.Get("Content-Type"), Size: resp.ContentLength}, nil
		}
		return ContentInfo{}, &InvalidStateError{Message: err.Error()}
	}
	return ContentInfo{Type: resp.Header.Get("Content-Type"), Size: total}, nil
}

// parseContentRangeTotal extracts TOTAL from "bytes X-Y/TOTAL".
func parseContentRangeTotal(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("missing Content-Range header")
	}
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, fmt.Errorf("unparseable Content-Range %q", value)
	}
	_, totalStr, ok := strings.Cut(rest, "/")
	if !ok || totalStr == "*" {
		return 0, fmt.Errorf("Content-Range %q has no total", value)
	}
	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil || total < 0 {
		return 0, fmt.Errorf("bad total in Content-Range %q", value)
	}
	return total, nil
}
