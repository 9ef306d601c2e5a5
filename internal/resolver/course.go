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

// courseResolver handles paid courses. Structurally the bangumi flow against
// the course surface; qn is pinned to 116.
type courseResolver struct {
	client *bili.Client
	opts   Options
}

const courseQuality = 116

func (r *courseResolver) Resolve(ctx context.Context, target urlkind.Target) (media.ParsedMeta, error) {
	course, err := r.fetchSeason(ctx, target)
	if err != nil {
		return media.ParsedMeta{}, err
	}
	if len(course.Episodes) == 0 {
		return media.ParsedMeta{}, &ParseError{Message: "课程没有可下载的课时"}
	}

	selected, err := r.selectTargets(course, target)
	if err != nil {
		return media.ParsedMeta{}, err
	}

	logger := log.WithComponent("resolver.course")
	var items []media.WorkItem
	failed := 0
	for _, idx := range selected {
		ep := course.Episodes[idx]
		key := fmt.Sprintf("%s 第%d课 %s", course.Title, idx+1, ep.Title)
		epItems, err := r.resolveEpisode(ctx, ep, key)
		if err != nil {
			failed++
			logger.Warn().Err(err).Int64("ep_id", ep.ID).Int("index", idx+1).
				Msg("skipping lesson")
			continue
		}
		items = append(items, epItems...)
	}
	if len(items) == 0 {
		return media.ParsedMeta{}, &ParseError{
			Message: fmt.Sprintf("全部 %d 个选定课时解析失败", failed),
		}
	}

	return media.ParsedMeta{
		Title:        fsutil.SanitizeName(course.Title),
		DownloadType: media.TypeCourse,
		Items:        items,
	}, nil
}

func (r *courseResolver) fetchSeason(ctx context.Context, target urlkind.Target) (*bili.CourseData, error) {
	q := url.Values{}
	if target.Kind == urlkind.KindCourseEpisode {
		q.Set("ep_id", strconv.FormatInt(target.EpID, 10))
	} else {
		q.Set("season_id", strconv.FormatInt(target.SeasonID, 10))
	}

	var course bili.CourseData
	endpoint := r.client.BaseURL() + "/pugv/view/web/season?" + q.Encode()
	if err := r.client.GetJSON(ctx, endpoint, &course); err != nil {
		var apiErr *bili.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case -403:
				return nil, fmt.Errorf("课程访问被拒绝（-403）: %w", err)
			case -500:
				return nil, fmt.Errorf("课程访问受限（-500）：可能需要购买: %w", err)
			}
		}
		return nil, fmt.Errorf("获取课程信息失败: %w", err)
	}
	return &course, nil
}

func (r *courseResolver) selectTargets(course *bili.CourseData, target urlkind.Target) ([]int, error) {
	if target.Kind == urlkind.KindCourseEpisode {
		for i, ep := range course.Episodes {
			if ep.ID == target.EpID {
				return []int{i}, nil
			}
		}
		return nil, &ParseError{Message: fmt.Sprintf("课时 ep%d 不在该课程中", target.EpID)}
	}

	selected := selectEpisodes(len(course.Episodes), r.opts.Parts)
	if len(selected) == 0 {
		return nil, &ParseError{Message: "选定的课时范围为空"}
	}
	return selected, nil
}

func (r *courseResolver) resolveEpisode(ctx context.Context, ep bili.CourseEpisode, key string) ([]media.WorkItem, error) {
	q := url.Values{}
	q.Set("avid", strconv.FormatInt(ep.Aid, 10))
	q.Set("ep_id", strconv.FormatInt(ep.ID, 10))
	q.Set("cid", strconv.FormatInt(ep.Cid, 10))
	q.Set("qn", strconv.Itoa(courseQuality))
	q.Set("fnval", "976")
	q.Set("fnver", "0")
	q.Set("fourk", "1")

	var play bili.PlayData
	endpoint := r.client.BaseURL() + "/pugv/player/web/playurl?" + q.Encode()
	if err := r.client.GetJSON(ctx, endpoint, &play); err != nil {
		return nil, fmt.Errorf("fetch course playurl: %w", err)
	}
	return emitEpisodeItems(&play, ep.Cid, key, ep.Title, ep.Cover, r.opts)
}
