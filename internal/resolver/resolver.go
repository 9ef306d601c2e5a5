// Package resolver turns a classified target into a ParsedMeta: it fetches
// metadata and playback descriptors and materializes download work items.
package resolver

import (
	"context"
	"fmt"
	"path/filepath"

	"bilidl/internal/bili"
	"bilidl/internal/fsutil"
	"bilidl/internal/media"
	"bilidl/internal/urlkind"
)

// Options carries the per-run settings the resolvers honor.
type Options struct {
	QualityID    int
	Parts        []int // 1-based episode indices, nil = all
	NeedVideo    bool
	NeedAudio    bool
	NeedDanmaku  bool
	NeedSubtitle bool
	NeedCover    bool
	TmpDir       string
}

// Resolver resolves one content kind.
type Resolver interface {
	Resolve(ctx context.Context, target urlkind.Target) (media.ParsedMeta, error)
}

// Registry dispatches a target to the resolver for its kind.
type Registry struct {
	clip    Resolver
	bangumi Resolver
	course  Resolver
}

// New builds the dispatch table over the shared client.
func New(client *bili.Client, opts Options) *Registry {
	if opts.QualityID == 0 {
		opts.QualityID = media.DefaultQualityID
	}
	if opts.TmpDir == "" {
		opts.TmpDir = "tmp"
	}
	return &Registry{
		clip:    &clipResolver{client: client, opts: opts},
		bangumi: &bangumiResolver{client: client, opts: opts},
		course:  &courseResolver{client: client, opts: opts},
	}
}

// Resolve picks the resolver for the target's kind. Reserved kinds are
// classified but not resolvable.
func (r *Registry) Resolve(ctx context.Context, target urlkind.Target) (media.ParsedMeta, error) {
	switch target.Kind {
	case urlkind.KindClip:
		return r.clip.Resolve(ctx, target)
	case urlkind.KindBangumiEpisode, urlkind.KindBangumiSeason:
		return r.bangumi.Resolve(ctx, target)
	case urlkind.KindCourseEpisode, urlkind.KindCourseSeason:
		return r.course.Resolve(ctx, target)
	}
	return media.ParsedMeta{}, fmt.Errorf("%w: %s content is not downloadable",
		urlkind.ErrUnsupportedFormat, target.Kind)
}

// emitEpisodeItems materializes the work items for one episode from its
// playback descriptor, honoring the need flags.
func emitEpisodeItems(play *bili.PlayData, cid int64, episodeKey, desc, cover string, opts Options) ([]media.WorkItem, error) {
	var items []media.WorkItem
	key := fsutil.SanitizeName(episodeKey)

	if opts.NeedDanmaku && cid > 0 {
		items = append(items, media.WorkItem{
			Kind:       media.KindDanmaku,
			Cid:        cid,
			Name:       key,
			Desc:       desc,
			OutputPath: filepath.Join(opts.TmpDir, key+".xml"),
			EpisodeKey: key,
		})
	}
	if opts.NeedCover && cover != "" {
		items = append(items, media.WorkItem{
			Kind:       media.KindCoverImage,
			URL:        cover,
			Name:       key,
			Desc:       desc,
			OutputPath: filepath.Join(opts.TmpDir, key+"-cover.jpg"),
			EpisodeKey: key,
		})
	}

	streams, err := emitMediaItems(play, key, desc, opts)
	if err != nil {
		return nil, err
	}
	return append(items, streams...), nil
}

func emitMediaItems(play *bili.PlayData, key, desc string, opts Options) ([]media.WorkItem, error) {
	if !opts.NeedVideo && !opts.NeedAudio {
		return nil, nil
	}

	switch {
	case play.Dash != nil:
		var items []media.WorkItem
		if opts.NeedVideo {
			video, err := SelectVideo(play.Dash.Video, opts.QualityID)
			if err != nil {
				return nil, err
			}
			items = append(items, media.WorkItem{
				Kind:       media.KindVideo,
				URL:        video.BaseURL,
				Name:       key,
				Desc:       desc,
				OutputPath: filepath.Join(opts.TmpDir, key+"-video.m4s"),
				EpisodeKey: key,
			})
		}
		if opts.NeedAudio {
			audio, err := SelectAudio(play.Dash.Audio)
			if err != nil {
				return nil, err
			}
			items = append(items, media.WorkItem{
				Kind:       media.KindAudio,
				URL:        audio.BaseURL,
				Name:       key,
				Desc:       desc,
				OutputPath: filepath.Join(opts.TmpDir, key+"-audio.m4s"),
				EpisodeKey: key,
			})
		}
		return items, nil

	case len(play.Durl) > 0:
		return []media.WorkItem{{
			Kind:       media.KindProgressiveVideo,
			URL:        play.Durl[0].URL,
			Name:       key,
			Desc:       desc,
			OutputPath: filepath.Join(opts.TmpDir, key+".mp4"),
			EpisodeKey: key,
		}}, nil
	}

	return nil, errNoPlayableStream()
}

// selectEpisodes applies the 1-based parts filter to a list length, returning
// the selected indices (0-based). nil parts selects everything.
func selectEpisodes(total int, parts []int) []int {
	if len(parts) == 0 {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	var out []int
	for _, p := range parts {
		if p >= 1 && p <= total {
			out = append(out, p-1)
		}
	}
	return out
}
