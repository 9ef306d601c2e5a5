package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	"bilidl/internal/bili"
	"bilidl/internal/media"
)

// refreshEvery is the chunk interval at which the task record's downloaded
// counter is refreshed under its lock.
const refreshEvery = 50

// progressBackOff implements the tiered inter-attempt delay: the base delay
// normally, half of it once more than half of the file is on disk.
type progressBackOff struct {
	task *Task
	base time.Duration
}

func (b *progressBackOff) NextBackOff() time.Duration {
	if b.task.progressFraction() > 0.5 {
		return b.base / 2
	}
	return b.base
}

func (b *progressBackOff) Reset() {}

// runBinary downloads a video/audio stream with resume. The size probe runs
// once; attempts retry stream errors up to the cap, re-reading the resume
// offset from disk each time. A rate-limit refusal is terminal.
func (m *Manager) runBinary(ctx context.Context, t *Task, withProgress bool) error {
	info, err := m.probe(ctx, t.URL)
	if err != nil {
		return err
	}
	t.setTotal(info.Size)

	operation := func() (struct{}, error) {
		err := m.attemptBinary(ctx, t, withProgress)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, bili.ErrRateLimited):
			return struct{}{}, backoff.Permanent(err)
		}
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			attemptRetries.Inc()
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(&progressBackOff{task: t, base: m.backoffBase}),
		backoff.WithMaxTries(uint(m.maxAttempts)),
	)
	return err
}

func (m *Manager) attemptBinary(ctx context.Context, t *Task, withProgress bool) error {
	var start int64
	if fi, err := os.Stat(t.OutputPath); err == nil {
		start = fi.Size()
	}
	total := t.Snapshot().TotalSize
	if total > 0 && start >= total {
		t.setDownloaded(total)
		return nil
	}

	hdr := bili.DownloadHeaders(t.URL)
	// Audio URLs reject plain GETs; they are always fetched ranged.
	if start > 0 || t.FileType == media.FileAudio {
		hdr.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The stream client has no overall timeout, so this timer is the only
	// guard against a stall. It is armed before the request goes out: a
	// connection that hangs before sending response headers counts as "no
	// new chunk" just like a mid-stream stall.
	inactivity := time.AfterFunc(m.inactivity, cancel)
	defer inactivity.Stop()

	resp, err := m.client.GetRaw(attemptCtx, t.URL, hdr)
	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return &StreamError{Message: fmt.Sprintf("timeout: no data for %s", m.inactivity)}
		}
		return &StreamError{Message: err.Error()}
	}
	defer resp.Body.Close() // #nosec G307
	inactivity.Reset(m.inactivity)

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d on stream", bili.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return &StreamError{Message: fmt.Sprintf("status %d on stream", resp.StatusCode)}
	default:
		return &InvalidStateError{Message: fmt.Sprintf("stream returned status %d", resp.StatusCode)}
	}

	// A 200 against a resume request means the server ignored the Range;
	// the file restarts from zero.
	if resp.StatusCode == http.StatusOK && start > 0 {
		start = 0
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if start > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(t.OutputPath, flags, 0o644) // #nosec G304
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer f.Close() // #nosec G307

	downloaded := start
	t.setDownloaded(downloaded)

	buf := make([]byte, m.chunkSize)
	chunks := 0
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			inactivity.Reset(m.inactivity)
			if _, werr := f.Write(buf[:n]); werr != nil {
				return &StreamError{Message: "write chunk: " + werr.Error()}
			}
			downloaded += int64(n)
			chunks++
			bytesDownloaded.Add(float64(n))
			if chunks%refreshEvery == 0 {
				t.setDownloaded(downloaded)
			}
			if withProgress {
				m.notifyProgress(t.ID, downloaded, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if attemptCtx.Err() != nil && ctx.Err() == nil {
				return &StreamError{Message: fmt.Sprintf("timeout: no data for %s", m.inactivity)}
			}
			return &StreamError{Message: "read chunk: " + rerr.Error()}
		}
	}
	t.setDownloaded(downloaded)

	if err := f.Sync(); err != nil {
		return &StreamError{Message: "fsync: " + err.Error()}
	}
	if total > 0 && downloaded < total {
		return &StreamError{Message: fmt.Sprintf("incomplete: %d/%d", downloaded, total)}
	}
	return nil
}
