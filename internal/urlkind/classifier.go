// Package urlkind normalizes user input (URLs, shortlinks, bare identifiers)
// into a typed download target.
package urlkind

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bilidl/internal/log"
)

// Kind tags the recognized content categories. Live rooms, favorites,
// collections and articles are classified but not resolved.
type Kind int

const (
	KindClip Kind = iota
	KindBangumiEpisode
	KindBangumiSeason
	KindCourseEpisode
	KindCourseSeason
	KindLiveRoom
	KindFavorites
	KindCollection
	KindArticle
)

func (k Kind) String() string {
	switch k {
	case KindClip:
		return "clip"
	case KindBangumiEpisode:
		return "bangumi_episode"
	case KindBangumiSeason:
		return "bangumi_season"
	case KindCourseEpisode:
		return "course_episode"
	case KindCourseSeason:
		return "course_season"
	case KindLiveRoom:
		return "live_room"
	case KindFavorites:
		return "favorites"
	case KindCollection:
		return "collection"
	case KindArticle:
		return "article"
	}
	return "unknown"
}

// Target is a classified input. Exactly the fields relevant to its Kind are
// populated.
type Target struct {
	Kind     Kind
	Bvid     string
	Aid      int64
	EpID     int64
	SeasonID int64
	RoomID   int64
	Page     int // 1-based part from a ?p= query, 0 if absent
}

var (
	// ErrUnsupportedFormat marks input the classifier cannot recognize.
	ErrUnsupportedFormat = errors.New("unsupported url or identifier format")

	// ErrInvalidShortURL marks a shortlink that did not redirect.
	ErrInvalidShortURL = errors.New("short url did not resolve to a location")
)

var (
	reBareBV = regexp.MustCompile(`^BV[0-9A-Za-z]{10}$`)
	reBareAv = regexp.MustCompile(`(?i)^av(\d+)$`)
	reBareEp = regexp.MustCompile(`(?i)^ep(\d+)$`)
	reBareSs = regexp.MustCompile(`(?i)^ss(\d+)$`)
	reBareCp = regexp.MustCompile(`(?i)^cp(\d+)$`)
	reBareCs = regexp.MustCompile(`(?i)^cs(\d+)$`)

	reVideoPath   = regexp.MustCompile(`^/video/(BV[0-9A-Za-z]{10}|av\d+)/?$`)
	rePlayPath    = regexp.MustCompile(`^/(bangumi|cheese)/play/(ep|ss)(\d+)/?$`)
	reLivePath    = regexp.MustCompile(`^/(\d+)/?$`)
	reArticlePath = regexp.MustCompile(`^/read/cv(\d+)/?$`)
	reFavPath     = regexp.MustCompile(`^/(\d+)/favlist`)
)

// Classifier normalizes inputs, expanding shortlinks over HTTP.
type Classifier struct {
	http   *http.Client
	logger zerolog.Logger
}

// New returns a classifier with a non-following HTTP client for shortlink
// expansion.
func New() *Classifier {
	return &Classifier{
		http: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: log.WithComponent("urlkind"),
	}
}

// NewWithClient returns a classifier using the supplied HTTP client, which
// must not follow redirects.
func NewWithClient(c *http.Client) *Classifier {
	return &Classifier{http: c, logger: log.WithComponent("urlkind")}
}

// Classify normalizes input into a Target: shortlink expansion, mobile host
// rewrite, bare-id synthesis, then pattern matching.
func (c *Classifier) Classify(ctx context.Context, input string) (Target, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Target{}, ErrUnsupportedFormat
	}

	if synthesized, ok := synthesizeBareID(input); ok {
		input = synthesized
	}

	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, input)
	}

	if isShortlinkHost(u.Hostname()) {
		expanded, err := c.expand(ctx, u)
		if err != nil {
			return Target{}, err
		}
		u = expanded
	}

	if u.Hostname() == "m.bilibili.com" {
		u.Host = "www.bilibili.com"
	}

	return match(u)
}

func isShortlinkHost(host string) bool {
	return host == "b23.tv" || host == "bili2233.cn"
}

// expand issues one non-following request and returns the Location target.
func (c *Classifier) expand(ctx context.Context, u *url.URL) (*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build shortlink request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("expand shortlink %s: %w", u.Host, err)
	}
	defer resp.Body.Close() // #nosec G307

	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidShortURL, u.String())
	}
	target, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad location %q", ErrInvalidShortURL, loc)
	}
	c.logger.Debug().Str("from", u.String()).Str("to", target.String()).
		Msg("expanded shortlink")
	return target, nil
}

// expandRaw expands a shortlink given as a string and returns the target URL.
func (c *Classifier) expandRaw(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
	target, err := c.expand(ctx, u)
	if err != nil {
		return "", err
	}
	return target.String(), nil
}

// synthesizeBareID maps a bare identifier to its canonical URL.
func synthesizeBareID(input string) (string, bool) {
	switch {
	case reBareBV.MatchString(input):
		return "https://www.bilibili.com/video/" + input, true
	case reBareAv.MatchString(input):
		return "https://www.bilibili.com/video/av" + reBareAv.FindStringSubmatch(input)[1], true
	case reBareEp.MatchString(input):
		return "https://www.bilibili.com/bangumi/play/ep" + reBareEp.FindStringSubmatch(input)[1], true
	case reBareSs.MatchString(input):
		return "https://www.bilibili.com/bangumi/play/ss" + reBareSs.FindStringSubmatch(input)[1], true
	case reBareCp.MatchString(input):
		return "https://www.bilibili.com/cheese/play/ep" + reBareCp.FindStringSubmatch(input)[1], true
	case reBareCs.MatchString(input):
		return "https://www.bilibili.com/cheese/play/ss" + reBareCs.FindStringSubmatch(input)[1], true
	}
	return "", false
}

func match(u *url.URL) (Target, error) {
	host := u.Hostname()
	p := u.Path

	if host == "live.bilibili.com" {
		if m := reLivePath.FindStringSubmatch(p); m != nil {
			id, _ := strconv.ParseInt(m[1], 10, 64)
			return Target{Kind: KindLiveRoom, RoomID: id}, nil
		}
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, u.String())
	}

	if host == "space.bilibili.com" {
		if reFavPath.MatchString(p) {
			return Target{Kind: KindFavorites}, nil
		}
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, u.String())
	}

	if host != "www.bilibili.com" && host != "bilibili.com" {
		return Target{}, fmt.Errorf("%w: unrecognized host %q", ErrUnsupportedFormat, host)
	}

	if m := reVideoPath.FindStringSubmatch(p); m != nil {
		t := Target{Kind: KindClip}
		id := m[1]
		if strings.HasPrefix(id, "BV") {
			t.Bvid = id
		} else {
			t.Aid, _ = strconv.ParseInt(strings.TrimPrefix(id, "av"), 10, 64)
		}
		if page := u.Query().Get("p"); page != "" {
			if n, err := strconv.Atoi(page); err == nil && n > 0 {
				t.Page = n
			}
		}
		return t, nil
	}

	if m := rePlayPath.FindStringSubmatch(p); m != nil {
		id, _ := strconv.ParseInt(m[3], 10, 64)
		switch {
		case m[1] == "bangumi" && m[2] == "ep":
			return Target{Kind: KindBangumiEpisode, EpID: id}, nil
		case m[1] == "bangumi" && m[2] == "ss":
			return Target{Kind: KindBangumiSeason, SeasonID: id}, nil
		case m[1] == "cheese" && m[2] == "ep":
			return Target{Kind: KindCourseEpisode, EpID: id}, nil
		case m[1] == "cheese" && m[2] == "ss":
			return Target{Kind: KindCourseSeason, SeasonID: id}, nil
		}
	}

	if reArticlePath.MatchString(p) {
		return Target{Kind: KindArticle}, nil
	}
	if strings.HasPrefix(p, "/medialist/") || strings.HasPrefix(p, "/list/") {
		return Target{Kind: KindCollection}, nil
	}

	return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, u.String())
}
