package similarity

import (
	"regexp"
	"strings"
)

var (
	// "(Live)", "[Official Video]", "(Remastered 2011)", "【MV】"
	bracketPattern = regexp.MustCompile(`\s*(\(.*?\)|\[.*?\]|【.*?】|\{.*?\})`)

	// "- 2011 Remaster", "- Live at Wembley", "- Radio Edit"
	dashSuffixPattern = regexp.MustCompile(`\s+-\s+(\d{4}\s+)?(remaster(ed)?|live|radio edit|single version|official|lyric|audio|acoustic version)\b.*$`)

	// Free-standing upload noise
	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bofficial\s+(music\s+)?(video|audio|mv|visualizer)\b`),
		regexp.MustCompile(`\blyric(s)?(\s+video)?\b`),
		regexp.MustCompile(`\b(hd|hq|4k|mv)\b`),
		regexp.MustCompile(`\b(ft|feat)\.?\s.*$`),
	}

	spacePattern = regexp.MustCompile(`\s+`)
)

// Normalize lowercases a title and strips version, remaster and upload noise so
// alternate uploads of one song compare equal.
func Normalize(title string) string {
	normalized := strings.ToLower(title)
	normalized = bracketPattern.ReplaceAllString(normalized, "")
	normalized = dashSuffixPattern.ReplaceAllString(normalized, "")
	for _, p := range noisePatterns {
		normalized = p.ReplaceAllString(normalized, "")
	}

	normalized = spacePattern.ReplaceAllString(normalized, " ")
	normalized = strings.Trim(normalized, " -|/")

	if normalized == "" {
		return strings.TrimSpace(strings.ToLower(title))
	}
	return normalized
}
