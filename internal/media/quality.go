package media

import (
	"fmt"
	"sort"
	"strings"
)

// qualityIDs maps the symbolic quality names to the platform's numeric ids.
var qualityIDs = map[string]int{
	"360p":    16,
	"480p":    32,
	"720p":    64,
	"720p60":  74,
	"1080p":   80,
	"1080p+":  112,
	"1080p60": 116,
	"4k":      120,
	"hdr":     125,
	"8k":      127,
}

// DefaultQualityID is used when no quality is configured.
const DefaultQualityID = 80

// VIPQualityThreshold is the lowest quality id that typically requires a
// paying account.
const VIPQualityThreshold = 112

// QualityID resolves a symbolic quality name to its numeric id.
func QualityID(name string) (int, error) {
	id, ok := qualityIDs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown quality %q (known: %s)", name, strings.Join(QualityNames(), ", "))
	}
	return id, nil
}

// QualityNames lists the recognized symbolic names in ascending id order.
func QualityNames() []string {
	names := make([]string, 0, len(qualityIDs))
	for name := range qualityIDs {
		names = append(names, name)
	}
	sort.Slice(names, func(a, b int) bool {
		return qualityIDs[names[a]] < qualityIDs[names[b]]
	})
	return names
}
