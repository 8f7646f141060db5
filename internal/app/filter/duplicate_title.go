package filter

import (
	"context"

	"github.com/osa030/encore/internal/app/similarity"
	"github.com/osa030/encore/internal/domain/track"
)

// DuplicateTitleFilter rejects candidates whose title is a fuzzy duplicate of a
// recently played title. Remasters, live takes and "(Official Video)" uploads of a
// played song are all caught after normalization.
type DuplicateTitleFilter struct {
	deduper *similarity.Deduper
}

// NewDuplicateTitleFilter creates a new duplicate title filter. A nil deduper uses the defaults.
func NewDuplicateTitleFilter(deduper *similarity.Deduper) *DuplicateTitleFilter {
	if deduper == nil {
		deduper = similarity.NewDeduper(nil, 0)
	}
	return &DuplicateTitleFilter{deduper: deduper}
}

func (f *DuplicateTitleFilter) Name() string {
	return "duplicate_title_filter"
}

func (f *DuplicateTitleFilter) ReturnCodes() []string {
	return []string{"duplicate_title"}
}

func (f *DuplicateTitleFilter) Check(ctx context.Context, fc *Context, t track.Track) Result {
	if f.deduper.IsDuplicate(t.Title, fc.RecentTitles) {
		return Reject("duplicate_title")
	}
	return Accept()
}
