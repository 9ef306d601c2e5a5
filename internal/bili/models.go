package bili

import (
	json "github.com/goccy/go-json"
)

// envelope is the common response wrapper. Most endpoints carry the payload
// in "data"; the bangumi season endpoint uses "result".
type envelope struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Result  json.RawMessage `json:"result"`
}

// payload returns whichever of data/result is present and non-null.
func (e *envelope) payload() json.RawMessage {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return e.Data
	}
	if len(e.Result) > 0 && string(e.Result) != "null" {
		return e.Result
	}
	return nil
}

// NavData is the payload of the navigation endpoint. Only the rotating WBI
// key URLs are consumed.
type NavData struct {
	WbiImg struct {
		ImgURL string `json:"img_url"`
		SubURL string `json:"sub_url"`
	} `json:"wbi_img"`
}

// Owner identifies the uploader of a video.
type Owner struct {
	Mid  int64  `json:"mid"`
	Name string `json:"name"`
}

// Page is one part of a multi-part video.
type Page struct {
	Cid  int64  `json:"cid"`
	Page int    `json:"page"`
	Part string `json:"part"`
}

// ViewData is the payload of the view endpoint for regular videos.
type ViewData struct {
	Bvid        string `json:"bvid"`
	Aid         int64  `json:"aid"`
	Cid         int64  `json:"cid"`
	Title       string `json:"title"`
	Desc        string `json:"desc"`
	Pic         string `json:"pic"`
	RedirectURL string `json:"redirect_url"`
	Owner       Owner  `json:"owner"`
	Pages       []Page `json:"pages"`
}

// DashStream is one representation in a DASH manifest, video or audio.
type DashStream struct {
	ID        int      `json:"id"`
	BaseURL   string   `json:"baseUrl"`
	BackupURL []string `json:"backupUrl"`
	Bandwidth int64    `json:"bandwidth"`
	MimeType  string   `json:"mimeType"`
	Codecs    string   `json:"codecs"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	FrameRate string   `json:"frameRate"`
}

// Dash holds the separated video and audio stream lists.
type Dash struct {
	Duration int64        `json:"duration"`
	Video    []DashStream `json:"video"`
	Audio    []DashStream `json:"audio"`
}

// DurlSegment is one segment of a progressive (pre-muxed) stream.
type DurlSegment struct {
	Order  int    `json:"order"`
	Length int64  `json:"length"`
	Size   int64  `json:"size"`
	URL    string `json:"url"`
}

// PlayData is the payload of the playurl endpoints. Exactly one of Dash and
// Durl is expected to be populated.
type PlayData struct {
	Quality           int           `json:"quality"`
	AcceptQuality     []int         `json:"accept_quality"`
	AcceptDescription []string      `json:"accept_description"`
	Dash              *Dash         `json:"dash"`
	Durl              []DurlSegment `json:"durl"`
}

// SeasonEpisode is one episode of a bangumi season.
type SeasonEpisode struct {
	ID        int64  `json:"id"`
	Aid       int64  `json:"aid"`
	Cid       int64  `json:"cid"`
	Bvid      string `json:"bvid"`
	Title     string `json:"title"`
	LongTitle string `json:"long_title"`
	Badge     string `json:"badge"`
	Cover     string `json:"cover"`
}

// SeasonData is the payload of the bangumi season endpoint.
type SeasonData struct {
	SeasonID  int64           `json:"season_id"`
	Title     string          `json:"title"`
	Cover     string          `json:"cover"`
	Episodes  []SeasonEpisode `json:"episodes"`
	Total     int             `json:"total"`
	UpperInfo struct {
		Name string `json:"uname"`
	} `json:"up_info"`
}

// CourseEpisode is one lesson of a paid course.
type CourseEpisode struct {
	ID    int64  `json:"id"`
	Aid   int64  `json:"aid"`
	Cid   int64  `json:"cid"`
	Title string `json:"title"`
	Cover string `json:"cover"`
}

// CourseData is the payload of the course season endpoint.
type CourseData struct {
	SeasonID int64           `json:"season_id"`
	Title    string          `json:"title"`
	Cover    string          `json:"cover"`
	Episodes []CourseEpisode `json:"episodes"`
	UpInfo   struct {
		Name string `json:"uname"`
	} `json:"up_info"`
}

// QRGenerateData is the payload of the QR code generation endpoint.
type QRGenerateData struct {
	URL       string `json:"url"`
	QrcodeKey string `json:"qrcode_key"`
}

// QRPollData is the payload of the QR login poll endpoint. Code is an inner
// state code distinct from the envelope code.
type QRPollData struct {
	URL          string `json:"url"`
	RefreshToken string `json:"refresh_token"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
}
