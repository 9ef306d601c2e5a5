package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bilidl/internal/bili"
	"bilidl/internal/media"
	"bilidl/internal/urlkind"
)

const navPayload = `{"code":0,"message":"0","data":{"wbi_img":{
	"img_url":"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png",
	"sub_url":"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`

func newTestRegistry(t *testing.T, mux *http.ServeMux, opts Options) (*Registry, *httptest.Server) {
	t.Helper()
	mux.HandleFunc("/x/web-interface/nav", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(navPayload))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := bili.NewWithOptions(bili.Options{RateLimit: 1000, Burst: 1000, APIBase: srv.URL})
	if opts.TmpDir == "" {
		opts.TmpDir = t.TempDir()
	}
	return New(client, opts), srv
}

func allNeeds() Options {
	return Options{
		QualityID:   80,
		NeedVideo:   true,
		NeedAudio:   true,
		NeedDanmaku: true,
	}
}

func TestClipResolverDashEmitsThreeItems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BV1N6nEzhEz6", r.URL.Query().Get("bvid"))
		assert.NotEmpty(t, r.URL.Query().Get("w_rid"))
		w.Write([]byte(`{"code":0,"message":"0","data":{
			"bvid":"BV1N6nEzhEz6","aid":1,"cid":1000,"title":"demo",
			"owner":{"mid":7,"name":"uploader"}}}`))
	})
	mux.HandleFunc("/x/player/playurl", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1000", q.Get("cid"))
		assert.Equal(t, "16", q.Get("fnval"))
		assert.Equal(t, "1", q.Get("fourk"))
		w.Write([]byte(`{"code":0,"message":"0","data":{"quality":80,"dash":{
			"video":[{"id":80,"baseUrl":"https://cdn/v80"},{"id":32,"baseUrl":"https://cdn/v32"}],
			"audio":[{"id":30280,"baseUrl":"https://cdn/a","bandwidth":320000}]}}}`))
	})
	reg, _ := newTestRegistry(t, mux, allNeeds())

	meta, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindClip, Bvid: "BV1N6nEzhEz6"})
	require.NoError(t, err)
	assert.Equal(t, "demo", meta.Title)
	assert.Equal(t, media.TypeClip, meta.DownloadType)
	require.Len(t, meta.Items, 3)

	kinds := map[media.Kind]media.WorkItem{}
	for _, item := range meta.Items {
		kinds[item.Kind] = item
	}
	assert.Equal(t, "https://cdn/v80", kinds[media.KindVideo].URL)
	assert.Equal(t, "https://cdn/a", kinds[media.KindAudio].URL)
	assert.Equal(t, "https://comment.bilibili.com/1000.xml", kinds[media.KindDanmaku].DownloadURL())
	for _, item := range meta.Items {
		assert.Equal(t, "demo", item.EpisodeKey)
	}
}

func TestClipResolverProgressiveFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{"bvid":"BV1","cid":5,"title":"old"}}`))
	})
	mux.HandleFunc("/x/player/playurl", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{"quality":32,
			"durl":[{"order":1,"size":123,"url":"https://cdn/whole.mp4"}]}}`))
	})
	opts := allNeeds()
	opts.NeedDanmaku = false
	reg, _ := newTestRegistry(t, mux, opts)

	meta, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindClip, Bvid: "BV1"})
	require.NoError(t, err)
	require.Len(t, meta.Items, 1)
	assert.Equal(t, media.KindProgressiveVideo, meta.Items[0].Kind)
	assert.Equal(t, "https://cdn/whole.mp4", meta.Items[0].URL)
}

func TestClipResolverSurfacesRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{
			"title":"x","redirect_url":"https://www.bilibili.com/bangumi/play/ep1"}}`))
	})
	reg, _ := newTestRegistry(t, mux, allNeeds())

	_, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindClip, Bvid: "BV1"})
	var redirect *RedirectError
	require.ErrorAs(t, err, &redirect)
	assert.Equal(t, "https://www.bilibili.com/bangumi/play/ep1", redirect.URL)
}

func TestClipResolverNoStreamsIsParseError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{"bvid":"BV1","cid":5,"title":"t"}}`))
	})
	mux.HandleFunc("/x/player/playurl", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{"quality":80}}`))
	})
	reg, _ := newTestRegistry(t, mux, allNeeds())

	_, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindClip, Bvid: "BV1"})
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "未解析出播放地址", parseErr.Message)
}

func seasonPayload(episodes int) string {
	eps := ""
	for i := 1; i <= episodes; i++ {
		if i > 1 {
			eps += ","
		}
		eps += fmt.Sprintf(`{"id":%d,"aid":%d,"cid":%d,"title":"%d","long_title":"ep %d"}`,
			100+i, 200+i, 300+i, i, i)
	}
	return fmt.Sprintf(`{"code":0,"message":"success","result":{
		"season_id":9,"title":"series","episodes":[%s]}}`, eps)
}

func TestBangumiSeasonWithPartsFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pgc/view/web/season", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "9", r.URL.Query().Get("season_id"))
		w.Write([]byte(seasonPayload(5)))
	})
	var playCids []string
	mux.HandleFunc("/pgc/player/web/playurl", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "976", r.URL.Query().Get("fnval"))
		playCids = append(playCids, r.URL.Query().Get("cid"))
		w.Write([]byte(`{"code":0,"message":"0","data":{"quality":80,"dash":{
			"video":[{"id":80,"baseUrl":"https://cdn/v"}],
			"audio":[{"id":30280,"baseUrl":"https://cdn/a","bandwidth":1}]}}}`))
	})
	opts := allNeeds()
	opts.NeedDanmaku = false
	opts.Parts = []int{1, 2, 4}
	reg, _ := newTestRegistry(t, mux, opts)

	meta, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindBangumiSeason, SeasonID: 9})
	require.NoError(t, err)
	assert.Equal(t, []string{"301", "302", "304"}, playCids)
	assert.Len(t, meta.Items, 6) // video+audio per episode
	assert.Equal(t, media.TypeBangumi, meta.DownloadType)
}

func TestBangumiEpisodeSelectsByEpID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pgc/view/web/season", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "103", r.URL.Query().Get("ep_id"))
		w.Write([]byte(seasonPayload(5)))
	})
	mux.HandleFunc("/pgc/player/web/playurl", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "103", r.URL.Query().Get("ep_id"))
		w.Write([]byte(`{"code":0,"message":"0","data":{"quality":80,"dash":{
			"video":[{"id":80,"baseUrl":"https://cdn/v"}],
			"audio":[{"id":30280,"baseUrl":"https://cdn/a","bandwidth":1}]}}}`))
	})
	opts := allNeeds()
	opts.NeedDanmaku = false
	reg, _ := newTestRegistry(t, mux, opts)

	meta, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindBangumiEpisode, EpID: 103})
	require.NoError(t, err)
	assert.Len(t, meta.Items, 2)
	assert.Contains(t, meta.Items[0].EpisodeKey, "第3话")
}

func TestBangumiBatchToleratesEpisodeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pgc/view/web/season", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(seasonPayload(3)))
	})
	mux.HandleFunc("/pgc/player/web/playurl", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cid") == "302" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"code":0,"message":"0","data":{"quality":80,"dash":{
			"video":[{"id":80,"baseUrl":"https://cdn/v"}],
			"audio":[{"id":30280,"baseUrl":"https://cdn/a","bandwidth":1}]}}}`))
	})
	opts := allNeeds()
	opts.NeedDanmaku = false
	reg, _ := newTestRegistry(t, mux, opts)

	meta, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindBangumiSeason, SeasonID: 9})
	require.NoError(t, err)
	assert.Len(t, meta.Items, 4) // episodes 1 and 3 survive
}

func TestBangumiVIPGateFailsResolve(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pgc/view/web/season", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-10403,"message":"需要大会员"}`))
	})
	reg, _ := newTestRegistry(t, mux, allNeeds())

	_, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindBangumiSeason, SeasonID: 80512})
	var apiErr *bili.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int64(-10403), apiErr.Code)
}

func TestCourseResolverPinsQuality(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pugv/view/web/season", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{"season_id":4,"title":"course",
			"episodes":[{"id":11,"aid":21,"cid":31,"title":"lesson one"}]}}`))
	})
	mux.HandleFunc("/pugv/player/web/playurl", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "116", q.Get("qn"))
		assert.Equal(t, "21", q.Get("avid"))
		assert.Equal(t, "11", q.Get("ep_id"))
		w.Write([]byte(`{"code":0,"message":"0","data":{"quality":116,"dash":{
			"video":[{"id":116,"baseUrl":"https://cdn/v"}],
			"audio":[{"id":30280,"baseUrl":"https://cdn/a","bandwidth":1}]}}}`))
	})
	opts := allNeeds()
	opts.NeedDanmaku = false
	reg, _ := newTestRegistry(t, mux, opts)

	meta, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindCourseSeason, SeasonID: 4})
	require.NoError(t, err)
	assert.Equal(t, media.TypeCourse, meta.DownloadType)
	assert.Len(t, meta.Items, 2)
}

func TestCourseAccessDeniedMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pugv/view/web/season", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-403,"message":"access denied"}`))
	})
	reg, _ := newTestRegistry(t, mux, allNeeds())

	_, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindCourseSeason, SeasonID: 4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "课程访问被拒绝（-403）")
}

func TestRegistryRejectsReservedKinds(t *testing.T) {
	reg, _ := newTestRegistry(t, http.NewServeMux(), allNeeds())
	_, err := reg.Resolve(context.Background(), urlkind.Target{Kind: urlkind.KindLiveRoom, RoomID: 1})
	assert.ErrorIs(t, err, urlkind.ErrUnsupportedFormat)
}
