package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_IsStream(t *testing.T) {
	assert.True(t, Track{}.IsStream())
	assert.False(t, Track{Duration: 3 * time.Minute}.IsStream())
}

func TestTrack_Identifier(t *testing.T) {
	tests := []struct {
		name     string
		track    Track
		expected string
	}{
		{
			name:     "uri wins",
			track:    Track{Title: "Song", Author: "X", URI: "https://youtu.be/abc"},
			expected: "https://youtu.be/abc",
		},
		{
			name:     "search fallback",
			track:    Track{Title: "Song", Author: "X"},
			expected: "ytsearch:Song X",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.track.Identifier())
		})
	}
}

func TestNormalizeAuthor(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"Daft Punk", "daft punk"},
		{"Daft Punk - Topic", "daft punk"},
		{"  YOASOBI  ", "yoasobi"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAuthor(tt.in))
		})
	}
}

func TestSameAuthor(t *testing.T) {
	assert.True(t, SameAuthor(Track{Author: "X"}, Track{Author: "x - Topic"}))
	assert.False(t, SameAuthor(Track{Author: "X"}, Track{Author: "Y"}))
	assert.False(t, SameAuthor(Track{}, Track{}))
}

func TestTrack_String(t *testing.T) {
	assert.Equal(t, "Song - X", Track{Title: "Song", Author: "X"}.String())
	assert.Equal(t, "Song", Track{Title: "Song"}.String())
}
