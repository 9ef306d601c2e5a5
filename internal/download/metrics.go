package download

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilidl_tasks_started_total",
		Help: "Download tasks started, by file type.",
	}, []string{"file_type"})

	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilidl_tasks_finished_total",
		Help: "Download tasks reaching a terminal state, by status.",
	}, []string{"status"})

	bytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bilidl_bytes_downloaded_total",
		Help: "Payload bytes written to disk.",
	})

	attemptRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bilidl_stream_retries_total",
		Help: "Binary stream attempts retried after a stream error.",
	})
)
