// Package media defines the work-item model passed from the resolvers to the
// download core and post-processor, plus quality and episode-range helpers.
package media

import "fmt"

// Kind tags one downloadable artifact.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
	KindProgressiveVideo // pre-muxed single file
	KindDanmaku
	KindSubtitle
	KindCoverImage
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindProgressiveVideo:
		return "progressive_video"
	case KindDanmaku:
		return "danmaku"
	case KindSubtitle:
		return "subtitle"
	case KindCoverImage:
		return "cover"
	}
	return "unknown"
}

// FileType selects the download strategy for an item.
type FileType int

const (
	FileVideo FileType = iota
	FileAudio
	FileDanmaku
	FileSubtitle
	FileImage
	FileOther
)

func (f FileType) String() string {
	switch f {
	case FileVideo:
		return "video"
	case FileAudio:
		return "audio"
	case FileDanmaku:
		return "danmaku"
	case FileSubtitle:
		return "subtitle"
	case FileImage:
		return "image"
	}
	return "other"
}

// WorkItem is one atomic downloadable artifact. Danmaku items derive their
// URL from Cid; all other kinds carry it explicitly.
type WorkItem struct {
	Kind       Kind
	URL        string
	Cid        int64
	Name       string
	Desc       string
	Lang       string // subtitle language tag
	OutputPath string
	EpisodeKey string // carried so the post-processor does not re-parse names
}

// DownloadURL returns the URL to fetch, deriving it for danmaku items.
func (w WorkItem) DownloadURL() string {
	if w.Kind == KindDanmaku && w.URL == "" {
		return fmt.Sprintf("https://comment.bilibili.com/%d.xml", w.Cid)
	}
	return w.URL
}

// FileType maps the item kind to its download strategy.
func (w WorkItem) FileType() FileType {
	switch w.Kind {
	case KindVideo, KindProgressiveVideo:
		return FileVideo
	case KindAudio:
		return FileAudio
	case KindDanmaku:
		return FileDanmaku
	case KindSubtitle:
		return FileSubtitle
	case KindCoverImage:
		return FileImage
	}
	return FileOther
}

// DownloadType is the content shape a ParsedMeta came from.
type DownloadType int

const (
	TypeClip DownloadType = iota
	TypeBangumi
	TypeCourse
)

func (t DownloadType) String() string {
	switch t {
	case TypeClip:
		return "clip"
	case TypeBangumi:
		return "bangumi"
	case TypeCourse:
		return "course"
	}
	return "unknown"
}

// ParsedMeta is the resolver output: a title and the materialized work items.
type ParsedMeta struct {
	Title        string
	DownloadType DownloadType
	Items        []WorkItem
}
