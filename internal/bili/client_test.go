package bili

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	return NewWithOptions(Options{RateLimit: 1000, Burst: 1000})
}

func TestGetJSONDecodesDataPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Equal(t, "https://www.bilibili.com/", r.Header.Get("Referer"))
		w.Write([]byte(`{"code":0,"message":"0","data":{"bvid":"BV1xx411c7mD","title":"t"}}`))
	}))
	defer srv.Close()

	var view ViewData
	require.NoError(t, testClient(t).GetJSON(context.Background(), srv.URL, &view))
	assert.Equal(t, "BV1xx411c7mD", view.Bvid)
	assert.Equal(t, "t", view.Title)
}

func TestGetJSONDecodesResultPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"success","result":{"title":"season"}}`))
	}))
	defer srv.Close()

	var season SeasonData
	require.NoError(t, testClient(t).GetJSON(context.Background(), srv.URL, &season))
	assert.Equal(t, "season", season.Title)
}

func TestGetJSONAPIErrorCarriesHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-403,"message":"access denied"}`))
	}))
	defer srv.Close()

	err := testClient(t).GetJSON(context.Background(), srv.URL, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int64(-403), apiErr.Code)
	assert.Contains(t, apiErr.Error(), "Cookie已过期")
}

func TestGetJSONRateLimitedStatuses(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		err := testClient(t).GetJSON(context.Background(), srv.URL, nil)
		assert.ErrorIs(t, err, ErrRateLimited, "status %d", status)
		srv.Close()
	}
}

func TestGetJSONServerErrorIsRetryLater(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testClient(t).GetJSON(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, ErrRetryLater)
}

func TestGetJSONHTMLBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<!DOCTYPE html><html><body>blocked</body></html>"))
	}))
	defer srv.Close()

	err := testClient(t).GetJSON(context.Background(), srv.URL, nil)
	var htmlErr *HTMLResponseError
	require.ErrorAs(t, err, &htmlErr)
	assert.Contains(t, htmlErr.Body, "blocked")
}

func TestGetJSONGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write([]byte(`{"code":0,"message":"0","data":{"title":"zipped"}}`))
		zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	var view ViewData
	require.NoError(t, testClient(t).GetJSON(context.Background(), srv.URL, &view))
	assert.Equal(t, "zipped", view.Title)
}

func TestGetJSONGarbageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#garbage#"))
	}))
	defer srv.Close()

	err := testClient(t).GetJSON(context.Background(), srv.URL, nil)
	var invalid *InvalidResponseError
	assert.ErrorAs(t, err, &invalid)
}

func TestGetSignedAppendsSignature(t *testing.T) {
	mux := http.NewServeMux()
	var signedQuery url.Values
	mux.HandleFunc("/x/web-interface/nav", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-101,"message":"not logged in","data":{"wbi_img":{
			"img_url":"https://i0.hdslb.com/bfs/wbi/abc123.png",
			"sub_url":"https://i0.hdslb.com/bfs/wbi/def456.png"}}}`))
	})
	mux.HandleFunc("/x/player/playurl", func(w http.ResponseWriter, r *http.Request) {
		signedQuery = r.URL.Query()
		w.Write([]byte(`{"code":0,"message":"0","data":{"quality":80}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t)
	// Point the key fetch at the test server by pre-seeding the cache.
	c.mu.Lock()
	c.imgKey, c.subKey = "abc123", "def456"
	c.mu.Unlock()

	var play PlayData
	err := c.GetSigned(context.Background(), srv.URL+"/x/player/playurl",
		map[string]string{"bvid": "BV1xx411c7mD", "cid": "42"}, &play)
	require.NoError(t, err)
	assert.Equal(t, 80, play.Quality)
	assert.Equal(t, "BV1xx411c7mD", signedQuery.Get("bvid"))
	assert.Len(t, signedQuery.Get("w_rid"), 32)
	assert.NotEmpty(t, signedQuery.Get("wts"))
}

func TestCloneSharesJar(t *testing.T) {
	c := testClient(t)
	c.Jar().Set(CookieRecord{Name: "SESSDATA", Value: "x", Domain: "bilibili.com"})

	clone := c.Clone(time.Second)
	assert.Equal(t, "x", clone.Jar().Get("SESSDATA"))
	assert.Same(t, c.Jar(), clone.Jar())
}

func TestKeyFromURL(t *testing.T) {
	assert.Equal(t, "7cd0849", keyFromURL("https://i0.hdslb.com/bfs/wbi/7cd0849.png"))
	assert.Equal(t, "", keyFromURL(""))
}

func TestDownloadHeadersOnlyForCDNHosts(t *testing.T) {
	h := DownloadHeaders("https://upos-sz-mirror.bilivideo.com/v1/seg.m4s")
	assert.Equal(t, "https://www.bilibili.com", h.Get("Origin"))
	assert.Equal(t, "cors", h.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "cross-site", h.Get("Sec-Fetch-Site"))

	none := DownloadHeaders("https://example.com/file.bin")
	assert.Empty(t, none.Get("Origin"))
}

func TestIsCDNHost(t *testing.T) {
	assert.True(t, IsCDNHost("upos-sz.bilivideo.com"))
	assert.True(t, IsCDNHost("cn-gd.bilivideo.cn"))
	assert.False(t, IsCDNHost("bilivideo.com.evil.example"))
	assert.False(t, IsCDNHost("api.bilibili.com"))
}

func TestNavKeyFetchFailureFallsBackUnsigned(t *testing.T) {
	mux := http.NewServeMux()
	var query url.Values
	mux.HandleFunc("/x/web-interface/nav", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{}}`))
	})
	mux.HandleFunc("/x/player/playurl", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(`{"code":0,"message":"0","data":{"quality":32}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWithOptions(Options{RateLimit: 1000, Burst: 1000, APIBase: srv.URL})
	var play PlayData
	// Keys cannot be derived from an empty nav payload; the request must
	// still go out unsigned rather than fail.
	err := c.GetSigned(context.Background(), srv.URL+"/x/player/playurl",
		map[string]string{"cid": "7"}, &play)
	require.NoError(t, err)
	assert.Equal(t, 32, play.Quality)
	assert.Equal(t, "7", query.Get("cid"))
	assert.Empty(t, query.Get("w_rid"))
}

func TestStatusErrorUnwraps(t *testing.T) {
	err := &statusError{kind: ErrRateLimited, status: 403}
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Contains(t, err.Error(), "403")
}
