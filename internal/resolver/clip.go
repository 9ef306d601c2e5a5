package resolver

import (
	"context"
	"fmt"
	"strconv"

	"bilidl/internal/bili"
	"bilidl/internal/fsutil"
	"bilidl/internal/media"
	"bilidl/internal/urlkind"
)

// clipResolver handles single videos, including multi-part ones.
type clipResolver struct {
	client *bili.Client
	opts   Options
}

func (r *clipResolver) Resolve(ctx context.Context, target urlkind.Target) (media.ParsedMeta, error) {
	view, err := r.fetchView(ctx, target)
	if err != nil {
		return media.ParsedMeta{}, err
	}
	if view.RedirectURL != "" {
		return media.ParsedMeta{}, &RedirectError{URL: view.RedirectURL}
	}

	cid := view.Cid
	key := view.Title
	if target.Page > 0 {
		if target.Page > len(view.Pages) {
			return media.ParsedMeta{}, &ParseError{
				Message: fmt.Sprintf("分P %d 不存在（共 %d 个）", target.Page, len(view.Pages)),
			}
		}
		page := view.Pages[target.Page-1]
		cid = page.Cid
		key = fmt.Sprintf("%s P%d %s", view.Title, page.Page, page.Part)
	}

	play, err := r.fetchPlayURL(ctx, view.Bvid, cid)
	if err != nil {
		return media.ParsedMeta{}, err
	}

	desc := view.Desc
	if view.Owner.Name != "" {
		desc = fmt.Sprintf("UP主: %s\n%s", view.Owner.Name, view.Desc)
	}
	items, err := emitEpisodeItems(play, cid, key, desc, view.Pic, r.opts)
	if err != nil {
		return media.ParsedMeta{}, err
	}

	return media.ParsedMeta{
		Title:        fsutil.SanitizeName(view.Title),
		DownloadType: media.TypeClip,
		Items:        items,
	}, nil
}

func (r *clipResolver) fetchView(ctx context.Context, target urlkind.Target) (*bili.ViewData, error) {
	params := map[string]string{}
	switch {
	case target.Bvid != "":
		params["bvid"] = target.Bvid
	case target.Aid > 0:
		params["aid"] = strconv.FormatInt(target.Aid, 10)
	default:
		return nil, &ParseError{Message: "clip target carries neither bvid nor aid"}
	}

	var view bili.ViewData
	endpoint := r.client.BaseURL() + "/x/web-interface/view"
	if err := r.client.GetSigned(ctx, endpoint, params, &view); err != nil {
		return nil, fmt.Errorf("fetch view: %w", err)
	}
	return &view, nil
}

func (r *clipResolver) fetchPlayURL(ctx context.Context, bvid string, cid int64) (*bili.PlayData, error) {
	params := map[string]string{
		"bvid":  bvid,
		"cid":   strconv.FormatInt(cid, 10),
		"qn":    strconv.Itoa(r.opts.QualityID),
		"fnval": "16",
		"fnver": "0",
		"fourk": "1",
	}
	var play bili.PlayData
	endpoint := r.client.BaseURL() + "/x/player/playurl"
	if err := r.client.GetSigned(ctx, endpoint, params, &play); err != nil {
		return nil, fmt.Errorf("fetch playurl: %w", err)
	}
	return &play, nil
}
