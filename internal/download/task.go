package download

import (
	"errors"
	"fmt"
	"sync"

	"bilidl/internal/media"
)

// ErrTaskExists is returned when a task id is already registered.
var ErrTaskExists = errors.New("task already exists")

// InvalidStateError reports a downloader inconsistency, such as an
// unsatisfiable Range or an unexpected probe status.
type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string { return "invalid state: " + e.Message }

// StreamError reports a mid-stream failure (I/O error, inactivity timeout,
// short body). BinaryStream retries these.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "stream error: " + e.Message }

// Status is the task lifecycle state.
type Status int

const (
	StatusQueued Status = iota
	StatusDownloading
	StatusCompleted
	StatusFailed
	StatusSkipped
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusDownloading:
		return "downloading"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusError:
		return true
	}
	return false
}

// Task is one download with its own lock for status updates.
type Task struct {
	ID         string
	URL        string
	OutputPath string
	FileType   media.FileType

	mu         sync.Mutex
	status     Status
	reason     string
	totalSize  int64
	downloaded int64
}

// Snapshot is a point-in-time copy of a task's progress record.
type Snapshot struct {
	TaskID     string
	URL        string
	OutputPath string
	TotalSize  int64
	Downloaded int64
	Status     Status
	Reason     string
}

func newTask(id, url, outputPath string, fileType media.FileType) *Task {
	return &Task{
		ID:         id,
		URL:        url,
		OutputPath: outputPath,
		FileType:   fileType,
		status:     StatusQueued,
	}
}

// setStatus transitions the task. Transitions out of a terminal state are
// silently refused.
func (t *Task) setStatus(s Status, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = s
	t.reason = reason
}

// setTotal records the probed size.
func (t *Task) setTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalSize = total
}

// setDownloaded refreshes the byte counter. A fresh attempt may reset it;
// within an attempt it only grows.
func (t *Task) setDownloaded(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.downloaded = n
}

// Snapshot returns a copy of the progress record.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		TaskID:     t.ID,
		URL:        t.URL,
		OutputPath: t.OutputPath,
		TotalSize:  t.totalSize,
		Downloaded: t.downloaded,
		Status:     t.status,
		Reason:     t.reason,
	}
}

// progressFraction reports completed share in [0,1], 0 when size unknown.
func (t *Task) progressFraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalSize <= 0 {
		return 0
	}
	return float64(t.downloaded) / float64(t.totalSize)
}

func (t *Task) String() string {
	snap := t.Snapshot()
	return fmt.Sprintf("task %s [%s] %d/%d", snap.TaskID, snap.Status, snap.Downloaded, snap.TotalSize)
}
