package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpisodeKeyStripsStreamSuffixes(t *testing.T) {
	cases := map[string]string{
		"tmp/第1话 起动-video.m4s":  "第1话 起动",
		"tmp/第1话 起动-audio.m4s":  "第1话 起动",
		"tmp/第1话 起动.xml":        "第1话 起动",
		"show_video.m4s":        "show",
		"show_audio.m4s":        "show",
		"movie.mp4":             "movie",
		"series EP02-cover.jpg": "series EP02",
	}
	for in, want := range cases {
		assert.Equal(t, want, EpisodeKey(in), "input %q", in)
	}
}

func TestEpisodeKeyGroupsStreamsOfOneEpisode(t *testing.T) {
	video := EpisodeKey("tmp/demo 第3话 出击-video.m4s")
	audio := EpisodeKey("tmp/demo 第3话 出击-audio.m4s")
	danmaku := EpisodeKey("tmp/demo 第3话 出击.xml")
	assert.Equal(t, video, audio)
	assert.Equal(t, video, danmaku)
}

func TestEpisodeNumberPatterns(t *testing.T) {
	cases := map[string]int{
		"第12话 决战":        12,
		"第3集":            3,
		"Show EP04":      4,
		"Show S02E07":    7,
		"clip P2 part":   2,
		"series [08] x":  8,
		"name-09-tail":   9,
		"name_10_tail":   10,
		"11. first part": 11,
	}
	for in, want := range cases {
		got, ok := EpisodeNumber(in)
		assert.True(t, ok, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	_, ok := EpisodeNumber("no episode markers here")
	assert.False(t, ok)
}
