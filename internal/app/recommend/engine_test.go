package recommend

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/encore/internal/app/catalog"
	"github.com/osa030/encore/internal/app/scoring"
	"github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
)

type mockCatalog struct {
	search func(query string) ([]track.Track, error)

	mu      sync.Mutex
	queries []string
}

func (m *mockCatalog) Search(ctx context.Context, query string) ([]track.Track, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.search(query)
}

func (m *mockCatalog) seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

func staticCatalog(results ...track.Track) *mockCatalog {
	return &mockCatalog{search: func(string) ([]track.Track, error) {
		return append([]track.Track(nil), results...), nil
	}}
}

func failingCatalog() *mockCatalog {
	return &mockCatalog{search: func(q string) ([]track.Track, error) {
		return nil, errors.Mark(errors.Newf("all providers failed for %q", q), catalog.ErrCatalog)
	}}
}

type mockService struct {
	available   bool
	seedID      string
	findErr     error
	features    *track.Features
	featuresErr error
	recs        []track.Track
	recsErr     error

	gotFeatures *track.Features
	gotLimit    int
}

func (m *mockService) Available() bool { return m.available }

func (m *mockService) FindTrack(ctx context.Context, title, author string) (string, error) {
	return m.seedID, m.findErr
}

func (m *mockService) AudioFeatures(ctx context.Context, id string) (*track.Features, error) {
	return m.features, m.featuresErr
}

func (m *mockService) Recommendations(ctx context.Context, seedID string, f *track.Features, limit int) ([]track.Track, error) {
	m.gotFeatures = f
	m.gotLimit = limit
	return m.recs, m.recsErr
}

type mockSimilar struct {
	artists []string
	calls   int
}

func (m *mockSimilar) SimilarArtists(ctx context.Context, artist string, limit int) ([]string, error) {
	m.calls++
	return m.artists, nil
}

func noon() time.Time {
	return time.Date(2026, 10, 14, 12, 0, 0, 0, time.Local)
}

func newTestEngine(cat catalog.Catalog, opts ...Option) *Engine {
	opts = append([]Option{WithRand(rand.New(rand.NewSource(1))), WithClock(noon)}, opts...)
	return NewEngine(cat, nil, nil, Config{}, opts...)
}

func newSession(history ...track.Track) *session.Session {
	s := session.New(snowflake.ID(1), snowflake.ID(2), 0)
	for _, t := range history {
		s.History.Append(t)
	}
	return s
}

func TestEngine_ExcludesDuplicateAndPicksSameAuthor(t *testing.T) {
	seed := track.Track{ID: "a", Title: "Song A", Author: "X", Duration: 200 * time.Second}
	live := track.Track{ID: "a-live", Title: "Song A (Live)", Author: "X", Duration: 210 * time.Second}
	songB := track.Track{ID: "b", Title: "Song B", Author: "X", Duration: 205 * time.Second}

	e := newTestEngine(staticCatalog(live, songB))
	got := e.Recommend(context.Background(), newSession(seed))

	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)

	ranked := e.rank(context.Background(), NewContext([]track.Track{seed}, nil, 30, noon()), []track.Track{live, songB}, nil)
	require.Len(t, ranked, 1)
	assert.Greater(t, ranked[0].Score, scoring.BaseScore)
}

func TestEngine_EmptyHistoryReturnsNone(t *testing.T) {
	cat := staticCatalog(track.Track{ID: "x", Title: "Whatever"})
	e := newTestEngine(cat)

	assert.Nil(t, e.Recommend(context.Background(), newSession()))
	assert.Empty(t, cat.seen())
}

func TestEngine_AllCatalogErrorsFallBackToHistory(t *testing.T) {
	older := track.Track{ID: "old", Title: "Older Song", Author: "Y"}
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}

	e := newTestEngine(failingCatalog())
	got := e.Recommend(context.Background(), newSession(older, seed))

	require.NotNil(t, got)
	assert.Equal(t, "old", got.ID)
}

func TestEngine_AllCatalogErrorsWithSingleEntryReturnsNone(t *testing.T) {
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}

	cat := failingCatalog()
	e := newTestEngine(cat)

	assert.Nil(t, e.Recommend(context.Background(), newSession(seed)))
	assert.Contains(t, cat.seen(), "pop hits mix")
}

func TestEngine_MoodSearchSkipsFuzzyDuplicates(t *testing.T) {
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}
	dup := track.Track{ID: "dup", Title: "Seed Song (Official Video)", Author: "Z"}
	fresh := track.Track{ID: "fresh", Title: "Sunny Afternoon", Author: "Z"}

	cat := &mockCatalog{search: func(q string) ([]track.Track, error) {
		if q == "pop hits mix" {
			return []track.Track{dup, fresh}, nil
		}
		return nil, errors.Mark(errors.Newf("search failed for %q", q), catalog.ErrCatalog)
	}}
	got := newTestEngine(cat).Recommend(context.Background(), newSession(seed))

	require.NotNil(t, got)
	assert.Equal(t, "fresh", got.ID)
}

func TestEngine_NeverReturnsPlayedID(t *testing.T) {
	h1 := track.Track{ID: "h1", Title: "First Tune", Author: "P"}
	h2 := track.Track{ID: "h2", Title: "Second Tune", Author: "Q"}
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}
	fresh := track.Track{ID: "fresh", Title: "Brand New Melody", Author: "Z"}

	for i := 0; i < 20; i++ {
		e := NewEngine(staticCatalog(h1, h2, seed, fresh), nil, nil, Config{},
			WithRand(rand.New(rand.NewSource(int64(i)))), WithClock(noon))
		got := e.Recommend(context.Background(), newSession(h1, h2, seed))
		require.NotNil(t, got)
		assert.Equal(t, "fresh", got.ID)
	}
}

func TestEngine_CurrentTrackCountsAsPlayed(t *testing.T) {
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}
	current := track.Track{ID: "cur", Title: "Playing Now", Author: "Y"}
	other := track.Track{ID: "other", Title: "Something Else", Author: "Z"}

	sess := newSession(seed)
	sess.Current = &current

	e := newTestEngine(staticCatalog(current, other))
	got := e.Recommend(context.Background(), sess)
	require.NotNil(t, got)
	assert.Equal(t, "other", got.ID)
}

func TestEngine_ExternalStrategy(t *testing.T) {
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}
	resolved := track.Track{ID: "yt-1", Title: "Rec One", Author: "R"}

	cat := &mockCatalog{search: func(q string) ([]track.Track, error) {
		if q == "Rec One R" {
			return []track.Track{resolved}, nil
		}
		return nil, nil
	}}
	svc := &mockService{
		available: true,
		seedID:    "sp-seed",
		features:  &track.Features{Energy: 0.2},
		recs:      []track.Track{{ID: "spotify:1", Title: "Rec One", Author: "R"}},
	}

	e := newTestEngine(cat, WithService(svc))
	got := e.Recommend(context.Background(), newSession(seed))

	require.NotNil(t, got)
	assert.Equal(t, "yt-1", got.ID)
	assert.Equal(t, 8, svc.gotLimit)
	assert.Equal(t, svc.features, svc.gotFeatures)
	assert.Equal(t, []string{"Rec One R"}, cat.seen())
}

func TestEngine_ExternalFeatureFailureIsTolerated(t *testing.T) {
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}
	resolved := track.Track{ID: "yt-1", Title: "Rec One", Author: "R"}

	svc := &mockService{
		available:   true,
		seedID:      "sp-seed",
		featuresErr: errors.New("forbidden"),
		recs:        []track.Track{{Title: "Rec One", Author: "R"}},
	}

	e := newTestEngine(staticCatalog(resolved), WithService(svc))
	got := e.Recommend(context.Background(), newSession(seed))
	require.NotNil(t, got)
	assert.Equal(t, "yt-1", got.ID)
	assert.Nil(t, svc.gotFeatures)
}

func TestEngine_ExternalFailureFallsThroughToHeuristic(t *testing.T) {
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}
	fallback := track.Track{ID: "h", Title: "Heuristic Hit", Author: "X"}

	tests := []struct {
		name string
		svc  *mockService
	}{
		{name: "unavailable", svc: &mockService{available: false}},
		{name: "lookup error", svc: &mockService{available: true, findErr: errors.New("boom")}},
		{name: "seed not found", svc: &mockService{available: true}},
		{name: "recommendations error", svc: &mockService{available: true, seedID: "s", recsErr: errors.New("429")}},
		{name: "no recommendations", svc: &mockService{available: true, seedID: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := staticCatalog(fallback)
			e := newTestEngine(cat, WithService(tt.svc))
			got := e.Recommend(context.Background(), newSession(seed))
			require.NotNil(t, got)
			assert.Equal(t, "h", got.ID)
			assert.Contains(t, cat.seen(), "X top tracks")
		})
	}
}

func TestEngine_HeuristicQueries(t *testing.T) {
	tests := []struct {
		name     string
		history  []track.Track
		curation scoring.CurationData
		similar  []string
		want     []string
		notWant  []string
		exact    bool
	}{
		{
			name:    "plain seed",
			history: []track.Track{{ID: "1", Title: "Song A", Author: "X"}},
			want:    []string{"Song A X mix", "X top tracks", "artists similar to X"},
			notWant: []string{"X radio"},
		},
		{
			name: "streak switches to radio",
			history: []track.Track{
				{ID: "1", Title: "Song A", Author: "X"},
				{ID: "2", Title: "Song B", Author: "X"},
			},
			want:    []string{"X radio"},
			notWant: []string{"artists similar to X"},
		},
		{
			name:    "style tags",
			history: []track.Track{{ID: "1", Title: "Song A (Lofi Remix)", Author: "X"}},
			want:    []string{"remix lofi X songs"},
		},
		{
			name:     "curated peers",
			history:  []track.Track{{ID: "1", Title: "Song A", Author: "X"}},
			curation: scoring.CurationData{Genres: map[string][]string{"pop": {"X", "Peer"}}},
			want:     []string{"Peer popular songs"},
		},
		{
			name:    "similar artists when uncurated",
			history: []track.Track{{ID: "1", Title: "Song A", Author: "X"}},
			similar: []string{"Lookalike"},
			want:    []string{"Lookalike popular songs"},
		},
		{
			name:    "no author",
			history: []track.Track{{ID: "1", Title: "Song A"}},
			want:    []string{"Song A mix"},
			exact:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{WithRand(rand.New(rand.NewSource(1))), WithClock(noon)}
			if tt.similar != nil {
				opts = append(opts, WithSimilarSource(&mockSimilar{artists: tt.similar}))
			}
			e := NewEngine(staticCatalog(), scoring.NewScorer(scoring.NewCuration(tt.curation)), nil, Config{}, opts...)
			rc := NewContext(tt.history, nil, 30, noon())

			got := e.heuristicQueries(context.Background(), rc)
			if tt.exact {
				assert.Equal(t, tt.want, got)
				return
			}
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, got, nw)
			}
		})
	}
}

func TestEngine_CuratedPeersSkipSimilarSource(t *testing.T) {
	similar := &mockSimilar{artists: []string{"Other"}}
	cur := scoring.NewCuration(scoring.CurationData{Genres: map[string][]string{"pop": {"X", "A", "B", "C"}}})
	e := NewEngine(staticCatalog(), scoring.NewScorer(cur), nil, Config{}, WithSimilarSource(similar), WithClock(noon))

	peers := e.peers(context.Background(), "X")
	assert.Len(t, peers, maxPeerQueries)
	assert.NotContains(t, peers, "X")
	assert.Zero(t, similar.calls)
}

func TestEngine_PartialFailureUsesSurvivors(t *testing.T) {
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}
	hit := track.Track{ID: "hit", Title: "Survivor", Author: "Y"}

	cat := &mockCatalog{search: func(q string) ([]track.Track, error) {
		if q == "X top tracks" {
			return []track.Track{hit}, nil
		}
		return nil, errors.New("timeout")
	}}

	got := newTestEngine(cat).Recommend(context.Background(), newSession(seed))
	require.NotNil(t, got)
	assert.Equal(t, "hit", got.ID)
}

func TestEngine_CancelledContextReturnsNone(t *testing.T) {
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(staticCatalog(track.Track{ID: "n", Title: "New"}))
	assert.Nil(t, e.Recommend(ctx, newSession(seed)))
}

func TestEngine_WeightedDraw(t *testing.T) {
	e := newTestEngine(staticCatalog())

	t.Run("zero total picks first", func(t *testing.T) {
		top := []Candidate{{Track: track.Track{ID: "a"}}, {Track: track.Track{ID: "b"}}}
		assert.Equal(t, "a", e.weightedDraw(top).Track.ID)
	})

	t.Run("only positive weights win", func(t *testing.T) {
		top := []Candidate{{Track: track.Track{ID: "a"}, Score: 0}, {Track: track.Track{ID: "b"}, Score: 50}}
		for i := 0; i < 50; i++ {
			assert.Equal(t, "b", e.weightedDraw(top).Track.ID)
		}
	})
}

func TestEngine_RankIsStableOnTies(t *testing.T) {
	seed := track.Track{ID: "seed", Title: "Seed Song", Author: "X"}
	pool := []track.Track{
		{ID: "1", Title: "Alpha Tune", Author: "M"},
		{ID: "2", Title: "Bravo Melody", Author: "N"},
		{ID: "3", Title: "Charlie Groove", Author: "O"},
	}
	e := newTestEngine(staticCatalog())
	ranked := e.rank(context.Background(), NewContext([]track.Track{seed}, nil, 30, noon()), pool, nil)

	require.Len(t, ranked, 3)
	assert.Equal(t, "1", ranked[0].Track.ID)
	assert.Equal(t, "2", ranked[1].Track.ID)
	assert.Equal(t, "3", ranked[2].Track.ID)
}

func TestEngine_GatherDedupesAcrossQueries(t *testing.T) {
	cat := staticCatalog(track.Track{ID: "a"}, track.Track{ID: "b"})
	e := newTestEngine(cat)

	pool := e.gather(context.Background(), []string{"q1", "q2", "q3"})
	assert.Len(t, pool, 2)
	assert.Len(t, cat.seen(), 3)
}

func TestNewContext(t *testing.T) {
	history := make([]track.Track, 0, 40)
	for i := 0; i < 40; i++ {
		history = append(history, track.Track{ID: string(rune('a' + i%26)) + "x", Title: "T", Author: "X"})
	}

	rc := NewContext(history, nil, 30, noon())
	require.NotNil(t, rc)
	assert.Len(t, rc.Window, 30)
	assert.Equal(t, history[39], rc.Seed)
	assert.Equal(t, scoring.MoodDay, rc.Mood)
	assert.Equal(t, 30, rc.Streak)

	assert.Nil(t, NewContext(nil, nil, 30, noon()))
}
