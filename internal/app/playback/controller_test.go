package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
)

const testGuild = snowflake.ID(100)

type fakePlayer struct {
	mu       sync.Mutex
	plays    []track.Track
	fail     map[string]error
	stops    int
	destroys int
	paused   []bool
	seeks    []time.Duration
	volumes  []int
}

func (p *fakePlayer) Play(ctx context.Context, t track.Track) (track.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, t)
	if err := p.fail[t.ID]; err != nil {
		return track.Track{}, err
	}
	t.Encoded = "enc-" + t.ID
	return t, nil
}

func (p *fakePlayer) Pause(ctx context.Context, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = append(p.paused, paused)
	return nil
}

func (p *fakePlayer) Seek(ctx context.Context, position time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, position)
	return nil
}

func (p *fakePlayer) SetVolume(ctx context.Context, volume int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volumes = append(p.volumes, volume)
	return nil
}

func (p *fakePlayer) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroys++
	return nil
}

func (p *fakePlayer) stopCounts() (stops, destroys int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops, p.destroys
}

func (p *fakePlayer) playedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.plays))
	for _, t := range p.plays {
		ids = append(ids, t.ID)
	}
	return ids
}

type fakeRecommender struct {
	mu     sync.Mutex
	calls  int
	pick   *track.Track
	block  chan struct{}
	ctxErr error
}

func (r *fakeRecommender) Recommend(ctx context.Context, sess *session.Session) *track.Track {
	r.mu.Lock()
	r.calls++
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxErr = ctx.Err()
	return r.pick
}

func (r *fakeRecommender) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []string
	cleared   int
}

func (n *fakeNotifier) PublishNowPlaying(ctx context.Context, sess *session.Session, t track.Track) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, t.ID)
}

func (n *fakeNotifier) ClearNowPlaying(ctx context.Context, guildID snowflake.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared++
}

type fakeVoice struct {
	mu           sync.Mutex
	disconnected []snowflake.ID
}

func (v *fakeVoice) Disconnect(ctx context.Context, guildID snowflake.ID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disconnected = append(v.disconnected, guildID)
	return nil
}

type fakeSearcher struct {
	results []track.Track
	prefix  string
	query   string
	calls   int
}

func (s *fakeSearcher) SearchWith(ctx context.Context, prefix, query string) ([]track.Track, error) {
	s.calls++
	s.prefix, s.query = prefix, query
	return s.results, nil
}

type harness struct {
	ctrl        *Controller
	player      *fakePlayer
	recommender *fakeRecommender
	notifier    *fakeNotifier
	voice       *fakeVoice
	searcher    *fakeSearcher
	tornDown    []snowflake.ID
}

func newHarness(t *testing.T, autoRecommend bool, cfg Config) *harness {
	t.Helper()
	h := &harness{
		player:      &fakePlayer{fail: map[string]error{}},
		recommender: &fakeRecommender{},
		notifier:    &fakeNotifier{},
		voice:       &fakeVoice{},
		searcher:    &fakeSearcher{},
	}
	sess := session.New(testGuild, snowflake.ID(200), 0)
	sess.AutoRecommend = autoRecommend
	h.ctrl = NewController(sess, Deps{
		Player:      h.player,
		Recommender: h.recommender,
		Notifier:    h.notifier,
		Voice:       h.voice,
		Searcher:    h.searcher,
		OnTeardown:  func(g snowflake.ID) { h.tornDown = append(h.tornDown, g) },
	}, cfg)
	return h
}

func tr(id string) track.Track {
	return track.Track{ID: id, Title: "Title " + id, Author: "Author", Duration: 3 * time.Minute}
}

// playing enqueues tracks and confirms the first one started.
func (h *harness) playing(t *testing.T, tracks ...track.Track) {
	t.Helper()
	require.NoError(t, h.ctrl.Enqueue(context.Background(), tracks...))
	h.ctrl.HandleTrackStarted(context.Background(), track.Track{ID: tracks[0].ID, Encoded: "enc-" + tracks[0].ID})
	require.Equal(t, StatePlaying, h.ctrl.State())
}

func TestController_EnqueueStartsPlayback(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	h.playing(t, tr("a"), tr("b"))

	snap := h.ctrl.Session()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "a", snap.Current.ID)
	assert.Equal(t, "enc-a", snap.Current.Encoded)
	assert.Equal(t, 1, snap.History.Len())
	assert.Len(t, snap.Queue, 1)
	assert.Equal(t, []string{"a"}, h.notifier.published)
}

func TestController_QueueNonEmptyPlaysNextWithoutRecommender(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	h.playing(t, tr("a"), tr("b"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)

	assert.Equal(t, []string{"a", "b"}, h.player.playedIDs())
	assert.Equal(t, StateTransitioning, h.ctrl.State())
	h.ctrl.Wait()
	assert.Zero(t, h.recommender.callCount())

	h.ctrl.HandleTrackStarted(context.Background(), track.Track{ID: "b", Encoded: "enc-b"})
	assert.Equal(t, StatePlaying, h.ctrl.State())
	assert.Equal(t, 2, h.ctrl.Session().History.Len())
}

func TestController_EmptyQueueWithoutAutoRecommendDisconnects(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true})
	h.playing(t, tr("a"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
	h.ctrl.Wait()

	assert.Equal(t, StateDisconnected, h.ctrl.State())
	assert.Zero(t, h.recommender.callCount())
	assert.Equal(t, []snowflake.ID{testGuild}, h.voice.disconnected)
	assert.Equal(t, []snowflake.ID{testGuild}, h.tornDown)
	assert.Equal(t, 1, h.notifier.cleared)
	assert.Equal(t, 1, h.player.destroys)
	assert.Zero(t, h.player.stops)
	select {
	case <-h.ctrl.Done():
	default:
		t.Fatal("controller should be done after teardown")
	}
}

func TestController_EmptyQueueIdlesWithoutIdleLeave(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: false})
	h.playing(t, tr("a"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.voice.disconnected)
	assert.Nil(t, h.ctrl.Session().Current)

	require.NoError(t, h.ctrl.Enqueue(context.Background(), tr("b")))
	assert.Equal(t, []string{"a", "b"}, h.player.playedIDs())
}

func TestController_ReplacedIsIgnored(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	h.playing(t, tr("a"), tr("b"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndReplaced)

	assert.Equal(t, StatePlaying, h.ctrl.State())
	assert.Equal(t, []string{"a"}, h.player.playedIDs())
}

func TestController_StaleEndIsIgnored(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	h.playing(t, tr("a"), tr("b"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("zzz"), EndFinished)

	assert.Equal(t, StatePlaying, h.ctrl.State())
	assert.Equal(t, []string{"a"}, h.player.playedIDs())
}

func TestController_NativeContinuationDefers(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	h.playing(t, tr("a"), tr("b"))
	h.ctrl.SetNativeContinuation(true)

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
	assert.Equal(t, []string{"a"}, h.player.playedIDs())
	assert.Equal(t, StatePlaying, h.ctrl.State())
}

func TestController_AutoRecommendPlaysPick(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	pick := tr("rec")
	h.recommender.pick = &pick
	h.playing(t, tr("a"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
	h.ctrl.Wait()

	assert.Equal(t, 1, h.recommender.callCount())
	assert.Equal(t, []string{"a", "rec"}, h.player.playedIDs())

	h.ctrl.HandleTrackStarted(context.Background(), track.Track{ID: "rec"})
	assert.Equal(t, StatePlaying, h.ctrl.State())
}

func TestController_RecommendNoneTearsDown(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	h.playing(t, tr("a"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
	h.ctrl.Wait()

	assert.Equal(t, StateDisconnected, h.ctrl.State())
	assert.Equal(t, []snowflake.ID{testGuild}, h.voice.disconnected)
}

func TestController_StopCancelsInFlightRecommendation(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	late := tr("late")
	h.recommender.pick = &late
	h.recommender.block = make(chan struct{})
	h.playing(t, tr("a"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
	require.Eventually(t, func() bool { return h.recommender.callCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.ctrl.Stop(context.Background()))
	h.ctrl.Wait()

	assert.ErrorIs(t, h.recommender.ctxErr, context.Canceled)
	assert.Equal(t, []string{"a"}, h.player.playedIDs())
	assert.Equal(t, StateDisconnected, h.ctrl.State())
	assert.ErrorIs(t, h.ctrl.Enqueue(context.Background(), tr("x")), ErrClosed)
}

func TestController_EnqueuePreemptsRecommendation(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	late := tr("late")
	h.recommender.pick = &late
	h.recommender.block = make(chan struct{})
	h.playing(t, tr("a"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
	require.Eventually(t, func() bool { return h.recommender.callCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.ctrl.Enqueue(context.Background(), tr("user")))
	close(h.recommender.block)
	h.ctrl.Wait()

	assert.Equal(t, []string{"a", "user"}, h.player.playedIDs())
}

func TestController_ExceptionUnsupportedReSearches(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true, SecondaryPrefix: "ytsearch"})
	alt := track.Track{ID: "alt", Title: "Title a", Author: "Author"}
	h.searcher.results = []track.Track{tr("a"), alt}
	h.playing(t, tr("a"))

	cause := errors.Mark(errors.New("this video is unavailable"), ErrSourceUnsupported)
	h.ctrl.HandleTrackException(context.Background(), tr("a"), cause)

	assert.Equal(t, "ytsearch", h.searcher.prefix)
	assert.Equal(t, "Title a Author", h.searcher.query)
	assert.Equal(t, []string{"a", "alt"}, h.player.playedIDs())
	assert.Zero(t, h.player.stops)

	// The follow-up end event of the failed track must not advance again.
	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndLoadFailed)
	assert.Equal(t, StateTransitioning, h.ctrl.State())
	assert.Equal(t, []string{"a", "alt"}, h.player.playedIDs())
}

func TestController_ReSearchHappensOnce(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true, SecondaryPrefix: "ytsearch"})
	alt := tr("alt")
	h.searcher.results = []track.Track{alt}
	h.playing(t, tr("a"))

	cause := errors.Mark(errors.New("unsupported"), ErrSourceUnsupported)
	h.ctrl.HandleTrackException(context.Background(), tr("a"), cause)
	h.ctrl.HandleTrackException(context.Background(), track.Track{ID: "alt"}, cause)

	assert.Equal(t, 1, h.searcher.calls)
	assert.Equal(t, StateDisconnected, h.ctrl.State())
}

func TestController_ExceptionFallsThroughToNext(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true, SecondaryPrefix: "ytsearch"})
	h.playing(t, tr("a"), tr("b"))

	h.ctrl.HandleTrackException(context.Background(), tr("a"), errors.New("decoder crashed"))

	assert.Zero(t, h.searcher.calls)
	assert.Equal(t, 1, h.player.stops)
	assert.Zero(t, h.player.destroys, "the player must survive so the next track is audible")
	assert.Equal(t, []string{"a", "b"}, h.player.playedIDs())
}

func TestController_SkipEmptyQueueStopsBackend(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: false})
	h.playing(t, tr("a"))

	require.NoError(t, h.ctrl.Skip(context.Background()))

	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.Session().Current)
	stops, destroys := h.player.stopCounts()
	assert.Equal(t, 1, stops)
	assert.Zero(t, destroys)
	assert.Empty(t, h.voice.disconnected)
}

func TestController_SkipIntoRecommendationStopsInPlace(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	h.recommender.block = make(chan struct{})
	h.playing(t, tr("a"))

	require.NoError(t, h.ctrl.Skip(context.Background()))
	require.Eventually(t, func() bool { return h.recommender.callCount() == 1 }, time.Second, time.Millisecond)

	stops, destroys := h.player.stopCounts()
	assert.Equal(t, 1, stops)
	assert.Zero(t, destroys)
	assert.Equal(t, StateTransitioning, h.ctrl.State())

	close(h.recommender.block)
	h.ctrl.Wait()
}

func TestController_SkipWithQueueDoesNotStop(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	h.playing(t, tr("a"), tr("b"))

	require.NoError(t, h.ctrl.Skip(context.Background()))

	stops, _ := h.player.stopCounts()
	assert.Zero(t, stops)
	assert.Equal(t, []string{"a", "b"}, h.player.playedIDs())
}

func TestController_PlayFailureSkipsToNext(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true})
	h.player.fail["b"] = errors.Mark(errors.New("no matches"), ErrPlayback)
	h.playing(t, tr("a"), tr("b"), tr("c"))

	h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
	assert.Equal(t, []string{"a", "b", "c"}, h.player.playedIDs())
}

func TestController_RepeatModes(t *testing.T) {
	t.Run("track replays", func(t *testing.T) {
		h := newHarness(t, false, Config{IdleLeave: true})
		h.playing(t, tr("a"), tr("b"))
		h.ctrl.SetRepeat(session.RepeatTrack)

		h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
		assert.Equal(t, []string{"a", "a"}, h.player.playedIDs())
	})

	t.Run("queue re-appends", func(t *testing.T) {
		h := newHarness(t, false, Config{IdleLeave: true})
		h.playing(t, tr("a"), tr("b"))
		h.ctrl.SetRepeat(session.RepeatQueue)

		h.ctrl.HandleTrackEnded(context.Background(), tr("a"), EndFinished)
		assert.Equal(t, []string{"a", "b"}, h.player.playedIDs())
		q := h.ctrl.Session().Queue
		require.Len(t, q, 1)
		assert.Equal(t, "a", q[0].ID)
	})

	t.Run("skip does not repeat", func(t *testing.T) {
		h := newHarness(t, false, Config{IdleLeave: true})
		h.playing(t, tr("a"), tr("b"))
		h.ctrl.SetRepeat(session.RepeatTrack)

		require.NoError(t, h.ctrl.Skip(context.Background()))
		assert.Equal(t, []string{"a", "b"}, h.player.playedIDs())
	})
}

func TestController_PauseResume(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true})
	ctx := context.Background()

	assert.ErrorIs(t, h.ctrl.Pause(ctx), ErrNoTrack)
	h.playing(t, tr("a"))

	assert.ErrorIs(t, h.ctrl.Resume(ctx), ErrNotPaused)
	require.NoError(t, h.ctrl.Pause(ctx))
	assert.Equal(t, StatePaused, h.ctrl.State())
	assert.ErrorIs(t, h.ctrl.Pause(ctx), ErrNotPlaying)
	require.NoError(t, h.ctrl.Resume(ctx))
	assert.Equal(t, StatePlaying, h.ctrl.State())
	assert.Equal(t, []bool{true, false}, h.player.paused)
}

func TestController_SeekAndVolume(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true})
	ctx := context.Background()
	assert.ErrorIs(t, h.ctrl.Seek(ctx, time.Second), ErrNotPlaying)

	h.playing(t, tr("a"))
	require.NoError(t, h.ctrl.Seek(ctx, -time.Second))
	require.NoError(t, h.ctrl.Seek(ctx, time.Hour))
	assert.Equal(t, []time.Duration{0, 3 * time.Minute}, h.player.seeks)

	require.NoError(t, h.ctrl.SetVolume(ctx, 5000))
	require.NoError(t, h.ctrl.SetVolume(ctx, -3))
	assert.Equal(t, []int{1000, 0}, h.player.volumes)
}

func TestController_SeekRejectsStreams(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true})
	h.playing(t, track.Track{ID: "live", Title: "Radio"})
	assert.Error(t, h.ctrl.Seek(context.Background(), time.Second))
}

func TestController_SkipWhenIdle(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true})
	assert.ErrorIs(t, h.ctrl.Skip(context.Background()), ErrNotPlaying)
}

func TestController_AbandonKeepsVoice(t *testing.T) {
	h := newHarness(t, false, Config{IdleLeave: true})
	h.playing(t, tr("a"))

	h.ctrl.Abandon(context.Background())
	assert.Equal(t, StateDisconnected, h.ctrl.State())
	assert.Empty(t, h.voice.disconnected)
	assert.Equal(t, []snowflake.ID{testGuild}, h.tornDown)

	// Teardown is idempotent.
	require.NoError(t, h.ctrl.Stop(context.Background()))
	assert.Len(t, h.tornDown, 1)
}

func TestController_Status(t *testing.T) {
	h := newHarness(t, true, Config{IdleLeave: true})
	h.playing(t, tr("a"), tr("b"))

	st := h.ctrl.Status()
	assert.Equal(t, "100", st.GuildID)
	assert.Equal(t, "playing", st.State)
	assert.Equal(t, 1, st.QueueLength)
	assert.Equal(t, 1, st.HistoryLength)
	assert.True(t, st.AutoRecommend)
	assert.Equal(t, "off", st.Repeat)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "transitioning", StateTransitioning.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", State(99).String())
}
