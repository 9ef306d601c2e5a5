// Package postprocess joins the completed work items of one run: grouping by
// episode, remuxing video+audio pairs through ffmpeg, and moving single-file
// outputs into the output directory.
package postprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"bilidl/internal/fsutil"
	"bilidl/internal/log"
	"bilidl/internal/media"
)

// FileNotFoundError reports a completed item whose artifact is missing on
// disk.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return "file not found: " + e.Path
}

// MergeError wraps a per-group post-processing failure.
type MergeError struct {
	EpisodeKey string
	Err        error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("post-process %q: %v", e.EpisodeKey, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// Options controls the processor.
type Options struct {
	OutputDir string
	Merge     bool
	NeedVideo bool
	NeedAudio bool
}

// Processor finalizes downloaded artifacts.
type Processor struct {
	opts   Options
	logger zerolog.Logger

	// locate is swappable in tests.
	locate func() (string, error)
}

// New returns a processor writing into opts.OutputDir.
func New(opts Options) *Processor {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	return &Processor{
		opts:   opts,
		logger: log.WithComponent("postprocess"),
		locate: LocateFFmpeg,
	}
}

// Result lists the final artifacts and the per-group failures. Failures do
// not invalidate artifacts that were already produced.
type Result struct {
	Outputs []string
	Errors  []error
}

// episodeGroup collects the items of one episode.
type episodeGroup struct {
	key   string
	video *media.WorkItem
	audio *media.WorkItem
	other []media.WorkItem
	order int
}

// Process consumes the completed items of one ParsedMeta.
func (p *Processor) Process(ctx context.Context, items []media.WorkItem) Result {
	if err := fsutil.EnsureDir(p.opts.OutputDir); err != nil {
		return Result{Errors: []error{err}}
	}

	groups := p.group(items)
	var res Result
	for _, g := range groups {
		outputs, err := p.processGroup(ctx, g)
		if err != nil {
			p.logger.Warn().Err(err).Str("episode", g.key).Msg("post-process group failed")
			res.Errors = append(res.Errors, &MergeError{EpisodeKey: g.key, Err: err})
		}
		res.Outputs = append(res.Outputs, outputs...)
	}
	return res
}

func (p *Processor) group(items []media.WorkItem) []*episodeGroup {
	byKey := make(map[string]*episodeGroup)
	var order []*episodeGroup
	for i := range items {
		item := items[i]
		key := item.EpisodeKey
		if key == "" {
			key = EpisodeKey(item.OutputPath)
		}
		g, ok := byKey[key]
		if !ok {
			g = &episodeGroup{key: key, order: len(order)}
			byKey[key] = g
			order = append(order, g)
		}
		switch item.Kind {
		case media.KindVideo:
			g.video = &items[i]
		case media.KindAudio:
			g.audio = &items[i]
		default:
			g.other = append(g.other, item)
		}
	}
	return order
}

func (p *Processor) processGroup(ctx context.Context, g *episodeGroup) ([]string, error) {
	var outputs []string

	// Auxiliary artifacts move alongside the media output.
	for _, item := range g.other {
		if item.Kind == media.KindProgressiveVideo {
			continue
		}
		dest, err := p.moveToOutput(item.OutputPath)
		if err != nil {
			p.logger.Warn().Err(err).Str("artifact", item.OutputPath).
				Msg("leaving auxiliary artifact in place")
			continue
		}
		outputs = append(outputs, dest)
	}

	if g.video != nil && g.audio != nil && p.opts.Merge && p.opts.NeedVideo && p.opts.NeedAudio {
		dest, err := p.remuxPair(ctx, g)
		if err != nil {
			return outputs, err
		}
		return append(outputs, dest), nil
	}

	// Without a remux, surviving streams move to the output as they are.
	for _, item := range []*media.WorkItem{g.video, g.audio} {
		if item == nil {
			continue
		}
		dest, err := p.moveToOutput(item.OutputPath)
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, dest)
	}

	// Progressive output is already a single playable file.
	for _, item := range g.other {
		if item.Kind != media.KindProgressiveVideo {
			continue
		}
		dest, err := p.moveToOutput(item.OutputPath)
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, dest)
	}
	return outputs, nil
}

func (p *Processor) remuxPair(ctx context.Context, g *episodeGroup) (string, error) {
	for _, path := range []string{g.video.OutputPath, g.audio.OutputPath} {
		if _, err := os.Stat(path); err != nil {
			return "", &FileNotFoundError{Path: path}
		}
	}
	ffmpegPath, err := p.locate()
	if err != nil {
		return "", err
	}

	dest := fsutil.UniquePath(filepath.Join(p.opts.OutputDir, fsutil.SanitizeName(g.key)+".mp4"))
	if err := Remux(ctx, ffmpegPath, g.video.OutputPath, g.audio.OutputPath, dest); err != nil {
		return "", err
	}

	// Interim streams are no longer needed once the remux landed.
	for _, path := range []string{g.video.OutputPath, g.audio.OutputPath} {
		if err := os.Remove(path); err != nil {
			p.logger.Warn().Err(err).Str("path", path).Msg("cannot remove interim stream")
		}
	}
	p.logger.Info().Str("output", dest).Msg("episode remuxed")
	return dest, nil
}

// moveToOutput relocates an artifact into the output directory, resolving
// name collisions with numeric suffixes.
func (p *Processor) moveToOutput(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", &FileNotFoundError{Path: path}
	}
	dest := fsutil.UniquePath(filepath.Join(p.opts.OutputDir, filepath.Base(path)))
	if dest == path {
		return dest, nil
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move %s: %w", path, err)
	}
	return dest, nil
}
