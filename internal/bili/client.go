// Package bili implements the HTTP client for the platform's web APIs:
// browser-equivalent headers, cookie handling, WBI request signing and the
// shared response envelope.
package bili

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"bilidl/internal/log"
	"bilidl/internal/wbi"
)

const (
	defaultTimeout = 10 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"

	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9," +
		"image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"

	referer = "https://www.bilibili.com/"

	// APIBase is the origin of the main web API.
	APIBase = "https://api.bilibili.com"
	// PassportBase is the origin of the login API.
	PassportBase = "https://passport.bilibili.com"
)

// Options configures a Client. The zero value uses defaults.
type Options struct {
	Timeout   time.Duration
	Jar       *Jar
	RateLimit rate.Limit // requests per second against the API, 0 = default
	Burst     int
	APIBase   string // override for tests
}

// Client is a session-aware API client. All clients cloned from one session
// share a jar, so a login observed by one is visible to all.
type Client struct {
	http    *http.Client
	jar     *Jar
	limiter *rate.Limiter
	logger  zerolog.Logger
	apiBase string

	mu     sync.Mutex
	imgKey string
	subKey string
}

// New returns a client with default options and a fresh jar.
func New() *Client {
	return NewWithOptions(Options{})
}

// NewWithOptions returns a client configured by opts.
func NewWithOptions(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Jar == nil {
		opts.Jar = NewJar()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.APIBase == "" {
		opts.APIBase = APIBase
	}
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Jar:     opts.Jar,
		},
		jar:     opts.Jar,
		limiter: rate.NewLimiter(opts.RateLimit, opts.Burst),
		logger:  log.WithComponent("bili.client"),
		apiBase: opts.APIBase,
	}
}

// Jar exposes the cookie jar for session persistence.
func (c *Client) Jar() *Jar { return c.jar }

// BaseURL returns the API origin requests are built against.
func (c *Client) BaseURL() string { return c.apiBase }

// Clone returns a client sharing this client's jar and limiter with an
// independent timeout. Download clients pass 0: streams are guarded by a
// per-chunk inactivity timer instead of an overall deadline.
func (c *Client) Clone(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Jar:     c.jar,
		},
		jar:     c.jar,
		limiter: c.limiter,
		logger:  c.logger,
		apiBase: c.apiBase,
	}
}

// defaultHeaders applies the browser-equivalent header set every request
// carries.
func defaultHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Referer", referer)
}

// IsCDNHost reports whether host belongs to the media CDN, which requires
// the cross-site fetch header overlay.
func IsCDNHost(host string) bool {
	host = strings.ToLower(host)
	return host == "bilivideo.com" || host == "bilivideo.cn" ||
		strings.HasSuffix(host, ".bilivideo.com") || strings.HasSuffix(host, ".bilivideo.cn")
}

// DownloadHeaders returns the extra headers media stream requests need. CDN
// hosts reject requests without the cross-site fetch metadata.
func DownloadHeaders(rawURL string) http.Header {
	h := http.Header{}
	u, err := url.Parse(rawURL)
	if err != nil || !IsCDNHost(u.Hostname()) {
		return h
	}
	h.Set("Origin", "https://www.bilibili.com")
	h.Set("Sec-Fetch-Dest", "video")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "cross-site")
	return h
}

// do issues one request with default headers, pacing and optional extras.
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, extra http.Header) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	defaultHeaders(req)
	for k, vs := range extra {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Host, err)
	}
	return resp, nil
}

// GetRaw issues a GET and returns the raw response. The caller owns the body.
// Media and danmaku downloads go through here with their own header overlay.
func (c *Client) GetRaw(ctx context.Context, rawURL string, extra http.Header) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, extra)
}

// Head issues a HEAD request, used to probe stream sizes before download.
func (c *Client) Head(ctx context.Context, rawURL string, extra http.Header) (*http.Response, error) {
	return c.do(ctx, http.MethodHead, rawURL, nil, extra)
}

// GetJSON issues a GET, decodes the envelope and unmarshals the payload
// into out. Pass nil to ignore the payload.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.GetRaw(ctx, rawURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // #nosec G307
	return decodeEnvelope(resp, out)
}

// PostForm issues a form POST and decodes the envelope into out.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, out any) error {
	extra := http.Header{}
	extra.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), extra)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // #nosec G307
	return decodeEnvelope(resp, out)
}

// GetSigned issues a WBI-signed GET against endpoint with params. When the
// signing keys cannot be obtained the request degrades to an unsigned query;
// when a signed request is rejected by the API the cached keys are dropped
// and the request is retried once with fresh keys.
func (c *Client) GetSigned(ctx context.Context, endpoint string, params map[string]string, out any) error {
	img, sub, err := c.wbiKeys(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).
			Msg("wbi keys unavailable, sending unsigned query")
		return c.GetJSON(ctx, endpoint+"?"+plainQuery(params), out)
	}

	err = c.GetJSON(ctx, endpoint+"?"+wbi.Sign(params, img, sub), out)
	var apiErr *APIError
	if err == nil || !errors.As(err, &apiErr) {
		return err
	}

	// Rotated keys produce stale signatures; refresh once and retry.
	c.invalidateKeys()
	img, sub, kerr := c.wbiKeys(ctx)
	if kerr != nil {
		return err
	}
	return c.GetJSON(ctx, endpoint+"?"+wbi.Sign(params, img, sub), out)
}

// wbiKeys returns the cached signing keys, fetching them from the navigation
// endpoint on first use.
func (c *Client) wbiKeys(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	if c.imgKey != "" && c.subKey != "" {
		img, sub := c.imgKey, c.subKey
		c.mu.Unlock()
		return img, sub, nil
	}
	c.mu.Unlock()

	// The nav endpoint reports "account not logged in" for anonymous sessions
	// but still delivers the keys, so a non-zero envelope code is tolerated
	// here as long as the payload is present.
	resp, err := c.GetRaw(ctx, c.apiBase+"/x/web-interface/nav", nil)
	if err != nil {
		return "", "", fmt.Errorf("fetch wbi keys: %w", err)
	}
	defer resp.Body.Close() // #nosec G307
	body, err := DecodeBody(resp)
	if err != nil {
		return "", "", fmt.Errorf("fetch wbi keys: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", "", &InvalidResponseError{Message: "nav body is not json"}
	}
	var nav NavData
	if payload := env.payload(); payload != nil {
		if err := json.Unmarshal(payload, &nav); err != nil {
			return "", "", &InvalidResponseError{Message: "nav payload malformed"}
		}
	}
	img := keyFromURL(nav.WbiImg.ImgURL)
	sub := keyFromURL(nav.WbiImg.SubURL)
	if img == "" || sub == "" {
		return "", "", &InvalidResponseError{Message: "nav payload missing wbi key urls"}
	}

	c.mu.Lock()
	c.imgKey, c.subKey = img, sub
	c.mu.Unlock()
	return img, sub, nil
}

func (c *Client) invalidateKeys() {
	c.mu.Lock()
	c.imgKey, c.subKey = "", ""
	c.mu.Unlock()
}

// keyFromURL extracts the signing key from a wbi image URL: the file name
// without its extension.
func keyFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

func plainQuery(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return v.Encode()
}

// decodeEnvelope interprets an API response: status classification first,
// then content decoding, then the code/message envelope.
func decodeEnvelope(resp *http.Response, out any) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests:
		return &statusError{kind: ErrRateLimited, status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &statusError{kind: ErrRetryLater, status: resp.StatusCode}
	}

	body, err := DecodeBody(resp)
	if err != nil {
		return &InvalidResponseError{Message: err.Error()}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if looksLikeHTML(body) {
			return &HTMLResponseError{Body: truncateBody(body)}
		}
		return &InvalidResponseError{Message: "body is neither json nor html"}
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	payload := env.payload()
	if payload == nil {
		return &InvalidResponseError{Message: "envelope has neither data nor result"}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &InvalidResponseError{Message: fmt.Sprintf("decode payload: %v", err)}
	}
	return nil
}

// DecodeBody reads the full response body, decompressing gzip or deflate
// content manually. Because Accept-Encoding is set explicitly the transport
// does not decompress for us.
func DecodeBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			// Some CDN nodes mislabel identity bodies.
			return raw, nil
		}
		defer zr.Close() // #nosec G307
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gunzip body: %w", err)
		}
		return decoded, nil
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close() // #nosec G307
		decoded, err := io.ReadAll(fr)
		if err != nil {
			return nil, fmt.Errorf("inflate body: %w", err)
		}
		return decoded, nil
	}
	return raw, nil
}

func looksLikeHTML(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max])
}
