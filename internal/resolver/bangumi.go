package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"bilidl/internal/bili"
	"bilidl/internal/fsutil"
	"bilidl/internal/log"
	"bilidl/internal/media"
	"bilidl/internal/urlkind"
)

// bangumiResolver handles episodic series. The season payload arrives under
// the envelope's result key.
type bangumiResolver struct {
	client *bili.Client
	opts   Options
}

func (r *bangumiResolver) Resolve(ctx context.Context, target urlkind.Target) (media.ParsedMeta, error) {
	season, err := r.fetchSeason(ctx, target)
	if err != nil {
		return media.ParsedMeta{}, err
	}
	if len(season.Episodes) == 0 {
		return media.ParsedMeta{}, &ParseError{Message: "番剧没有可下载的剧集"}
	}

	selected, err := r.selectTargets(season, target)
	if err != nil {
		return media.ParsedMeta{}, err
	}

	logger := log.WithComponent("resolver.bangumi")
	var items []media.WorkItem
	failed := 0
	for _, idx := range selected {
		ep := season.Episodes[idx]
		key := fmt.Sprintf("%s 第%d话 %s", season.Title, idx+1, ep.LongTitle)
		epItems, err := r.resolveEpisode(ctx, ep, key)
		if err != nil {
			// One bad episode must not abort the season batch.
			failed++
			logger.Warn().Err(err).Int64("ep_id", ep.ID).Int("index", idx+1).
				Msg("skipping episode")
			continue
		}
		items = append(items, epItems...)
	}
	if len(items) == 0 {
		return media.ParsedMeta{}, &ParseError{
			Message: fmt.Sprintf("全部 %d 个选定剧集解析失败", failed),
		}
	}

	return media.ParsedMeta{
		Title:        fsutil.SanitizeName(season.Title),
		DownloadType: media.TypeBangumi,
		Items:        items,
	}, nil
}

func (r *bangumiResolver) fetchSeason(ctx context.Context, target urlkind.Target) (*bili.SeasonData, error) {
	q := url.Values{}
	if target.Kind == urlkind.KindBangumiEpisode {
		q.Set("ep_id", strconv.FormatInt(target.EpID, 10))
	} else {
		q.Set("season_id", strconv.FormatInt(target.SeasonID, 10))
	}

	var season bili.SeasonData
	endpoint := r.client.BaseURL() + "/pgc/view/web/season?" + q.Encode()
	if err := r.client.GetJSON(ctx, endpoint, &season); err != nil {
		var apiErr *bili.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -403 {
			return nil, fmt.Errorf("番剧访问被拒绝（-403）：可能需要大会员、地区受限或需要登录: %w", err)
		}
		return nil, fmt.Errorf("获取番剧信息失败: %w", err)
	}
	return &season, nil
}

// selectTargets returns the 0-based indices to resolve: the one episode
// matching ep_id, or the configured parts filter over the whole season.
func (r *bangumiResolver) selectTargets(season *bili.SeasonData, target urlkind.Target) ([]int, error) {
	if target.Kind == urlkind.KindBangumiEpisode {
		for i, ep := range season.Episodes {
			if ep.ID == target.EpID {
				return []int{i}, nil
			}
		}
		return nil, &ParseError{Message: fmt.Sprintf("剧集 ep%d 不在该番剧中", target.EpID)}
	}

	selected := selectEpisodes(len(season.Episodes), r.opts.Parts)
	if len(selected) == 0 {
		return nil, &ParseError{Message: "选定的剧集范围为空"}
	}
	return selected, nil
}

func (r *bangumiResolver) resolveEpisode(ctx context.Context, ep bili.SeasonEpisode, key string) ([]media.WorkItem, error) {
	q := url.Values{}
	q.Set("ep_id", strconv.FormatInt(ep.ID, 10))
	q.Set("cid", strconv.FormatInt(ep.Cid, 10))
	q.Set("fnval", "976")
	q.Set("fnver", "0")
	q.Set("fourk", "1")

	var play bili.PlayData
	endpoint := r.client.BaseURL() + "/pgc/player/web/playurl?" + q.Encode()
	if err := r.client.GetJSON(ctx, endpoint, &play); err != nil {
		return nil, fmt.Errorf("fetch bangumi playurl: %w", err)
	}
	return emitEpisodeItems(&play, ep.Cid, key, ep.Title, ep.Cover, r.opts)
}
