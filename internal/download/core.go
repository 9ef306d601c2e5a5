// Package download implements the worker pool that turns work items into
// files on disk: semaphore-bounded concurrency, byte-range resume, per-chunk
// inactivity timeouts and a per-task status table.
package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"bilidl/internal/bili"
	"bilidl/internal/fsutil"
	"bilidl/internal/log"
	"bilidl/internal/media"
)

const (
	defaultChunkSize   = 64 * 1024
	defaultInactivity  = 60 * time.Second
	defaultMaxAttempts = 20
	defaultBackoffBase = 2 * time.Second
)

// ProgressFunc receives byte-level progress for UI consumption.
type ProgressFunc func(taskID string, downloaded, total int64)

// Manager owns the task table and the worker pool.
type Manager struct {
	client *bili.Client
	sem    *semaphore.Weighted
	logger zerolog.Logger

	mu       sync.Mutex
	tasks    map[string]*Task
	progress ProgressFunc

	wg sync.WaitGroup

	chunkSize   int
	inactivity  time.Duration
	maxAttempts int
	backoffBase time.Duration
}

// NewManager builds a pool of the given width over the session's client.
// Streams get a clone without an overall timeout; the inactivity timer is
// the stall guard.
func NewManager(client *bili.Client, concurrency int) *Manager {
	if concurrency < 1 {
		concurrency = 3
	}
	return &Manager{
		client:      client.Clone(0),
		sem:         semaphore.NewWeighted(int64(concurrency)),
		logger:      log.WithComponent("download"),
		tasks:       make(map[string]*Task),
		chunkSize:   defaultChunkSize,
		inactivity:  defaultInactivity,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
}

// SetProgressFunc installs the progress callback. Pass nil to remove it.
func (m *Manager) SetProgressFunc(fn ProgressFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = fn
}

func (m *Manager) notifyProgress(taskID string, downloaded, total int64) {
	m.mu.Lock()
	fn := m.progress
	m.mu.Unlock()
	if fn != nil {
		fn(taskID, downloaded, total)
	}
}

// AddTask registers a download and returns its id. The call blocks while the
// pool is saturated; the runner proceeds in its own goroutine.
func (m *Manager) AddTask(ctx context.Context, url, outputPath string, fileType media.FileType) (string, error) {
	return m.addTask(ctx, uuid.NewString(), url, outputPath, fileType)
}

func (m *Manager) addTask(ctx context.Context, id, url, outputPath string, fileType media.FileType) (string, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire download slot: %w", err)
	}

	t := newTask(id, url, outputPath, fileType)
	m.mu.Lock()
	if _, exists := m.tasks[id]; exists {
		m.mu.Unlock()
		m.sem.Release(1)
		return "", fmt.Errorf("%w: %s", ErrTaskExists, id)
	}
	m.tasks[id] = t
	m.mu.Unlock()

	tasksStarted.WithLabelValues(fileType.String()).Inc()
	m.wg.Add(1)
	go m.run(ctx, t)
	return id, nil
}

// Status returns the progress record for a task.
func (m *Manager) Status(taskID string) (Snapshot, error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("unknown task %s", taskID)
	}
	return t.Snapshot(), nil
}

// Snapshots returns the progress records of all tasks.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

// Wait blocks until every registered task has reached a terminal state.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, t *Task) {
	defer m.wg.Done()
	defer m.sem.Release(1)

	ctx = log.ContextWithTaskID(ctx, t.ID)
	logger := log.FromContext(ctx)

	t.setStatus(StatusDownloading, "")
	if err := fsutil.EnsureDir(filepath.Dir(t.OutputPath)); err != nil {
		t.setStatus(StatusFailed, err.Error())
		tasksFinished.WithLabelValues(StatusFailed.String()).Inc()
		logger.Error().Err(err).Msg("cannot create destination directory")
		return
	}

	err := m.dispatch(ctx, t)
	final, reason := classifyOutcome(err)
	t.setStatus(final, reason)
	tasksFinished.WithLabelValues(final.String()).Inc()

	event := logger.Info()
	if final != StatusCompleted {
		event = logger.Warn().Err(err)
	}
	snap := t.Snapshot()
	event.Str("status", final.String()).
		Str("file_type", t.FileType.String()).
		Int64("downloaded", snap.Downloaded).
		Int64("total", snap.TotalSize).
		Msg("task finished")
}

func (m *Manager) dispatch(ctx context.Context, t *Task) error {
	switch t.FileType {
	case media.FileVideo, media.FileAudio:
		return m.runBinary(ctx, t, true)
	case media.FileDanmaku, media.FileSubtitle:
		return m.runText(ctx, t)
	case media.FileImage:
		return m.runImage(ctx, t)
	}
	return m.runBinary(ctx, t, false)
}

// classifyOutcome maps a runner error to the terminal state: rate limits are
// skips so a batch survives one refusal, exhausted stream retries are Error,
// everything else non-recoverable is Failed.
func classifyOutcome(err error) (Status, string) {
	if err == nil {
		return StatusCompleted, ""
	}
	if errors.Is(err, bili.ErrRateLimited) {
		return StatusSkipped, err.Error()
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return StatusError, err.Error()
	}
	return StatusFailed, err.Error()
}
