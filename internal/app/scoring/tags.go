package scoring

import (
	"regexp"
	"strings"

	"github.com/osa030/encore/internal/domain/track"
)

type styleKeyword struct {
	tag     string
	pattern *regexp.Regexp
}

// Recognized style tags, in extraction order.
var styleKeywords = []styleKeyword{
	{"remix", regexp.MustCompile(`\bremix(ed)?\b`)},
	{"acoustic", regexp.MustCompile(`\b(acoustic|unplugged)\b`)},
	{"lofi", regexp.MustCompile(`\blo-?fi\b`)},
	{"slowed", regexp.MustCompile(`\bslowed\b`)},
	{"reverb", regexp.MustCompile(`\breverb\b`)},
	{"sped up", regexp.MustCompile(`\bsped[\s-]?up\b`)},
	{"nightcore", regexp.MustCompile(`\bnightcore\b`)},
	{"instrumental", regexp.MustCompile(`\b(instrumental|karaoke|off vocal)\b`)},
	{"piano", regexp.MustCompile(`\bpiano\b`)},
	{"orchestral", regexp.MustCompile(`\borchestr(a|al)\b`)},
	{"8d", regexp.MustCompile(`\b8d\b`)},
	{"chill", regexp.MustCompile(`\bchill\b`)},
}

var (
	livePattern     = regexp.MustCompile(`([\(\[]\s*live\b|\blive\s+(at|from|in|on|session|version|performance)\b|\s-\s*live\b|\blive$)`)
	officialPattern = regexp.MustCompile(`\bofficial\s+(music\s+)?video\b`)
	coverPattern    = regexp.MustCompile(`\bcover(ed)?\b`)
)

// ExtractStyleTags returns the recognized style tags present in a title.
func ExtractStyleTags(title string) []string {
	lower := strings.ToLower(title)
	tags := make([]string, 0)
	for _, k := range styleKeywords {
		if k.pattern.MatchString(lower) {
			tags = append(tags, k.tag)
		}
	}
	return tags
}

// FeatureTags derives style tags from a recommendation service's audio features.
func FeatureTags(f *track.Features) []string {
	if f == nil {
		return nil
	}
	tags := make([]string, 0)
	if f.Acousticness >= 0.6 {
		tags = append(tags, "acoustic")
	}
	if f.Instrumentalness >= 0.5 {
		tags = append(tags, "instrumental")
	}
	if f.Energy <= 0.35 {
		tags = append(tags, "chill")
	}
	if f.Energy >= 0.8 {
		tags = append(tags, "energetic")
	}
	return tags
}

// IsLive reports whether a title marks a live recording.
func IsLive(title string) bool {
	return livePattern.MatchString(strings.ToLower(title))
}

// IsOfficialVideo reports whether a title is flagged as an official video upload.
func IsOfficialVideo(title string) bool {
	return officialPattern.MatchString(strings.ToLower(title))
}

// IsCover reports whether a title marks a cover version.
func IsCover(title string) bool {
	return coverPattern.MatchString(strings.ToLower(title))
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
