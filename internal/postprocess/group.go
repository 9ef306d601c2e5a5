package postprocess

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Suffix tags appended by the resolver to distinguish the streams of one
// episode.
var streamSuffixes = []string{"-video", "_video", "-audio", "_audio", "-cover"}

var episodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`第(\d+)[话集]`),
	regexp.MustCompile(`(?i)S(\d+)E(\d+)`),
	regexp.MustCompile(`(?i)EP(\d+)`),
	regexp.MustCompile(`(?i)\bP(\d+)\b`),
	regexp.MustCompile(`\[(\d+)\]`),
	regexp.MustCompile(`-(\d+)-`),
	regexp.MustCompile(`_(\d+)_`),
	regexp.MustCompile(`^(\d+)\.`),
}

// EpisodeKey derives the grouping key from a filename: the base name with
// its extension and stream suffix tags stripped. Items of one episode share
// the key.
func EpisodeKey(filename string) string {
	name := filepath.Base(filename)
	for _, ext := range []string{".mp4", ".m4s", ".xml", ".jpg", ".json"} {
		name = strings.TrimSuffix(name, ext)
	}
	for _, suffix := range streamSuffixes {
		name = strings.TrimSuffix(name, suffix)
	}
	return strings.TrimSpace(name)
}

// EpisodeNumber extracts an episode index from a name when one of the
// recognized patterns matches.
func EpisodeNumber(name string) (int, bool) {
	for _, re := range episodePatterns {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		// For SnEn the episode is the second capture.
		numStr := m[len(m)-1]
		if n, err := strconv.Atoi(numStr); err == nil {
			return n, true
		}
	}
	return 0, false
}
