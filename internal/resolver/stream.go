package resolver

import (
	"sort"

	"bilidl/internal/bili"
	"bilidl/internal/log"
	"bilidl/internal/media"
)

// SelectVideo picks a video stream for the target quality id: exact match,
// else the highest id not above the target, else the lowest available.
// Response order breaks ties.
func SelectVideo(streams []bili.DashStream, targetQuality int) (bili.DashStream, error) {
	if len(streams) == 0 {
		return bili.DashStream{}, &ParseError{
			Message: "没有可用的视频流：可能需要大会员或重新登录",
		}
	}

	for _, s := range streams {
		if s.ID == targetQuality {
			return s, nil
		}
	}

	best := -1
	for i, s := range streams {
		if s.ID > targetQuality {
			continue
		}
		if best < 0 || s.ID > streams[best].ID {
			best = i
		}
	}
	if best >= 0 {
		return streams[best], nil
	}

	lowest := 0
	for i, s := range streams {
		if s.ID < streams[lowest].ID {
			lowest = i
		}
	}
	if targetQuality >= media.VIPQualityThreshold {
		logger := log.WithComponent("resolver")
		logger.Warn().
			Int("target", targetQuality).
			Int("selected", streams[lowest].ID).
			Msg("requested quality exceeds what this session can access")
	}
	return streams[lowest], nil
}

// SelectAudio ranks audio streams strictly by bandwidth descending and picks
// the top; response order breaks ties.
func SelectAudio(streams []bili.DashStream) (bili.DashStream, error) {
	if len(streams) == 0 {
		return bili.DashStream{}, &ParseError{
			Message: "没有可用的音频流：可能需要大会员或重新登录",
		}
	}
	ranked := make([]bili.DashStream, len(streams))
	copy(ranked, streams)
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Bandwidth > ranked[b].Bandwidth
	})
	return ranked[0], nil
}
