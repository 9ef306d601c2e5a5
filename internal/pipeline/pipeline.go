// Package pipeline orchestrates one run: classify the input, resolve it into
// work items, drive the download pool and hand the completed artifacts to the
// post-processor.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bilidl/internal/bili"
	"bilidl/internal/config"
	"bilidl/internal/download"
	"bilidl/internal/log"
	"bilidl/internal/media"
	"bilidl/internal/postprocess"
	"bilidl/internal/resolver"
	"bilidl/internal/urlkind"
)

// Summary is the outcome of one run. Outputs are the final artifacts on
// disk; Errors holds post-processing failures that did not abort the run.
type Summary struct {
	Title     string
	Completed int
	Skipped   int
	Failed    int
	Errored   int
	Outputs   []string
	Errors    []error
}

// Success reports whether the run finished without a hard failure. Skipped
// tasks alone do not fail a run: a rate-limited danmaku download should not
// mask an otherwise delivered video.
func (s Summary) Success() bool {
	return s.Failed == 0 && s.Errored == 0 && len(s.Errors) == 0
}

// Pipeline wires the stages over one session client.
type Pipeline struct {
	client     *bili.Client
	classifier *urlkind.Classifier
	cfg        *config.Config
	logger     zerolog.Logger

	progress download.ProgressFunc
}

// New builds a pipeline for the given session client and run configuration.
func New(client *bili.Client, cfg *config.Config) *Pipeline {
	return &Pipeline{
		client:     client,
		classifier: urlkind.New(),
		cfg:        cfg,
		logger:     log.WithComponent("pipeline"),
	}
}

// SetProgressFunc forwards byte-level progress to a front-end.
func (p *Pipeline) SetProgressFunc(fn download.ProgressFunc) {
	p.progress = fn
}

// Run executes the full download flow for one input URL.
func (p *Pipeline) Run(ctx context.Context, rawURL string) (Summary, error) {
	meta, err := p.resolve(ctx, rawURL)
	if err != nil {
		return Summary{}, err
	}
	if len(meta.Items) == 0 {
		return Summary{}, fmt.Errorf("nothing to download for %q", rawURL)
	}
	p.logger.Info().
		Str("title", meta.Title).
		Str("type", meta.DownloadType.String()).
		Int("items", len(meta.Items)).
		Msg("resolved")

	completed, summary, err := p.download(ctx, meta)
	if err != nil {
		return summary, err
	}

	proc := postprocess.New(postprocess.Options{
		OutputDir: p.cfg.OutputDir,
		Merge:     p.cfg.Merge,
		NeedVideo: p.cfg.NeedVideo,
		NeedAudio: p.cfg.NeedAudio,
	})
	res := proc.Process(ctx, completed)
	summary.Outputs = res.Outputs
	summary.Errors = res.Errors
	return summary, nil
}

// resolve classifies the input and dispatches it, following at most one
// platform redirect (a clip republished as a bangumi episode).
func (p *Pipeline) resolve(ctx context.Context, rawURL string) (media.ParsedMeta, error) {
	target, err := p.classifier.Classify(ctx, rawURL)
	if err != nil {
		return media.ParsedMeta{}, err
	}

	reg := resolver.New(p.client, resolver.Options{
		QualityID:    p.cfg.QualityID(),
		Parts:        p.cfg.PartList(),
		NeedVideo:    p.cfg.NeedVideo,
		NeedAudio:    p.cfg.NeedAudio,
		NeedDanmaku:  p.cfg.NeedDanmaku,
		NeedSubtitle: p.cfg.NeedSubtitle,
		NeedCover:    p.cfg.NeedCover,
		TmpDir:       p.cfg.TmpDir,
	})

	meta, err := reg.Resolve(ctx, target)
	var redirect *resolver.RedirectError
	if errors.As(err, &redirect) {
		p.logger.Info().Str("url", redirect.URL).Msg("following platform redirect")
		target, err = p.classifier.Classify(ctx, redirect.URL)
		if err != nil {
			return media.ParsedMeta{}, err
		}
		meta, err = reg.Resolve(ctx, target)
	}
	return meta, err
}

// download pushes all items through the pool and collects the ones that
// completed, counting terminal states for the summary.
func (p *Pipeline) download(ctx context.Context, meta media.ParsedMeta) ([]media.WorkItem, Summary, error) {
	mgr := download.NewManager(p.client, p.cfg.Concurrency)
	if p.progress != nil {
		mgr.SetProgressFunc(p.progress)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range meta.Items {
		item := meta.Items[i]
		g.Go(func() error {
			_, err := mgr.AddTask(gctx, item.DownloadURL(), item.OutputPath, item.FileType())
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", item.Name, err)
			}
			return nil
		})
	}
	enqueueErr := g.Wait()
	mgr.Wait()
	if enqueueErr != nil {
		return nil, Summary{Title: meta.Title}, enqueueErr
	}

	// Terminal states come from the progress table; output paths are unique
	// per item, so they key the snapshots back to their work items.
	byPath := make(map[string]download.Snapshot, len(meta.Items))
	for _, snap := range mgr.Snapshots() {
		byPath[snap.OutputPath] = snap
	}

	summary := Summary{Title: meta.Title}
	var completed []media.WorkItem
	for _, item := range meta.Items {
		snap, ok := byPath[item.OutputPath]
		if !ok {
			return nil, summary, fmt.Errorf("no task recorded for %s", item.OutputPath)
		}
		switch snap.Status {
		case download.StatusCompleted:
			summary.Completed++
			completed = append(completed, item)
		case download.StatusSkipped:
			summary.Skipped++
			p.logger.Warn().Str("item", item.Name).
				Str("reason", snap.Reason).Msg("item skipped")
		case download.StatusError:
			summary.Errored++
		default:
			summary.Failed++
		}
	}
	return completed, summary, nil
}
