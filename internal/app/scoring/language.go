package scoring

import (
	"strings"
	"unicode"
)

var functionWords = map[string]map[string]struct{}{
	"en": wordSet("the", "and", "you", "of", "to", "in", "is", "my", "me", "your", "it", "on", "for", "with", "i", "we", "be", "this", "all", "love"),
	"es": wordSet("el", "la", "los", "las", "de", "que", "y", "en", "mi", "tu", "por", "con", "una", "un", "amor", "corazón", "te", "yo", "es"),
	"pt": wordSet("o", "os", "da", "do", "que", "e", "em", "meu", "minha", "você", "com", "não", "uma", "amor", "coração"),
}

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// DetectLanguage guesses a title's language from its script or common function words.
// It returns an empty string when no guess can be made.
func DetectLanguage(title string) string {
	var hasKana, hasHangul, hasCyrillic, hasHan bool
	for _, r := range title {
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			hasKana = true
		case unicode.Is(unicode.Hangul, r):
			hasHangul = true
		case unicode.Is(unicode.Cyrillic, r):
			hasCyrillic = true
		case unicode.Is(unicode.Han, r):
			hasHan = true
		}
	}
	switch {
	case hasKana:
		return "ja"
	case hasHangul:
		return "ko"
	case hasCyrillic:
		return "ru"
	case hasHan:
		return "zh"
	}

	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	best, bestCount, tie := "", 0, false
	for _, lang := range []string{"en", "es", "pt"} {
		count := 0
		for _, w := range words {
			if _, ok := functionWords[lang][w]; ok {
				count++
			}
		}
		switch {
		case count > bestCount:
			best, bestCount, tie = lang, count, false
		case count == bestCount && count > 0:
			tie = true
		}
	}
	if bestCount == 0 || tie {
		return ""
	}
	return best
}
