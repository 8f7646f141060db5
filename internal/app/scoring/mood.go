package scoring

import "time"

// Mood is a coarse time-of-day bucket used to bias genre preference.
type Mood string

const (
	MoodMorning   Mood = "morning"    // 05:00-10:59
	MoodDay       Mood = "day"        // 11:00-16:59
	MoodEvening   Mood = "evening"    // 17:00-21:59
	MoodLateNight Mood = "late_night" // 22:00-04:59
)

// MoodAt returns the mood bucket for a wall-clock time.
func MoodAt(t time.Time) Mood {
	h := t.Hour()
	switch {
	case h >= 5 && h < 11:
		return MoodMorning
	case h >= 11 && h < 17:
		return MoodDay
	case h >= 17 && h < 22:
		return MoodEvening
	default:
		return MoodLateNight
	}
}
