package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/encore/internal/app/playback"
	"github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
)

const guild = snowflake.ID(123)

func newTestNode(t *testing.T, handler http.Handler, opts ...Option) *Node {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewNode(Config{
		Host:      u.Hostname(),
		Port:      port,
		Password:  "youshallnotpass",
		UserID:    snowflake.ID(42),
		ReadyWait: 2 * time.Second,
	}, opts...)
}

func TestConnect_ReadyAndEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/websocket", r.URL.Path)
		assert.Equal(t, "youshallnotpass", r.Header.Get("Authorization"))
		assert.Equal(t, "42", r.Header.Get("User-Id"))
		assert.Equal(t, ClientName, r.Header.Get("Client-Name"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msgs := []string{
			`{"op":"ready","resumed":false,"sessionId":"abc"}`,
			`{"op":"stats","players":1,"playingPlayers":1}`,
			`{"op":"event","type":"TrackStartEvent","guildId":"123","track":{"encoded":"E1","info":{"identifier":"id1","title":"Song A","author":"Artist","length":200000,"isStream":false}}}`,
			`{"op":"event","type":"TrackEndEvent","guildId":"123","track":{"encoded":"E1","info":{"identifier":"id1","title":"Song A"}},"reason":"finished"}`,
			`{"op":"event","type":"TrackExceptionEvent","guildId":"123","track":{"encoded":"E2","info":{"identifier":"id2","title":"Song B"}},"exception":{"message":"This video is unavailable","severity":"common","cause":""}}`,
			`{"op":"event","type":"TrackStuckEvent","guildId":"123","thresholdMs":10000}`,
			`{"op":"event","type":"WebSocketClosedEvent","guildId":"123","code":4006,"reason":"session invalid"}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	events := make(chan playback.Event, 10)
	node := newTestNode(t, handler, WithEventHandler(func(ev playback.Event) { events <- ev }))

	require.NoError(t, node.Connect(context.Background()))
	defer node.Close()

	assert.True(t, node.Connected())
	assert.Equal(t, "abc", node.SessionID())

	next := func() playback.Event {
		select {
		case ev := <-events:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return playback.Event{}
		}
	}

	ev := next()
	assert.Equal(t, playback.EventTrackStarted, ev.Type)
	assert.Equal(t, guild, ev.GuildID)
	assert.Equal(t, "E1", ev.Track.Encoded)
	assert.Equal(t, "Song A", ev.Track.Title)
	assert.Equal(t, 200*time.Second, ev.Track.Duration)

	ev = next()
	assert.Equal(t, playback.EventTrackEnded, ev.Type)
	assert.Equal(t, playback.EndFinished, ev.Reason)

	ev = next()
	assert.Equal(t, playback.EventTrackException, ev.Type)
	assert.True(t, errors.Is(ev.Err, playback.ErrPlayback))
	assert.True(t, errors.Is(ev.Err, playback.ErrSourceUnsupported))

	ev = next()
	assert.Equal(t, playback.EventTrackException, ev.Type)
	assert.True(t, errors.Is(ev.Err, playback.ErrPlayback))
	assert.False(t, errors.Is(ev.Err, playback.ErrSourceUnsupported))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event: %v", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnect_DisconnectClearsConnected(t *testing.T) {
	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ready","sessionId":"abc"}`))
		time.Sleep(300 * time.Millisecond)
		_ = conn.Close()
	})
	node := newTestNode(t, handler)

	require.NoError(t, node.Connect(context.Background()))
	require.Eventually(t, func() bool { return !node.Connected() }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, node.Reconnect(context.Background()))
	assert.True(t, node.Connected())
	_ = node.Close()
}

func TestConnect_DialFailure(t *testing.T) {
	node := newTestNode(t, http.NotFoundHandler())
	err := node.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, node.Connected())
}

func TestLoadTracks(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
		wantErr  bool
	}{
		{
			name:     "search",
			response: `{"loadType":"search","data":[{"encoded":"A","info":{"identifier":"a","title":"First","author":"X","length":1000,"uri":"https://example.com/a"}},{"encoded":"B","info":{"identifier":"b","title":"Second","author":"Y","length":2000}}]}`,
			want:     []string{"First", "Second"},
		},
		{
			name:     "single track",
			response: `{"loadType":"track","data":{"encoded":"A","info":{"identifier":"a","title":"Only"}}}`,
			want:     []string{"Only"},
		},
		{
			name:     "playlist",
			response: `{"loadType":"playlist","data":{"info":{"name":"P"},"tracks":[{"encoded":"A","info":{"identifier":"a","title":"P1"}}]}}`,
			want:     []string{"P1"},
		},
		{
			name:     "empty",
			response: `{"loadType":"empty","data":{}}`,
			want:     []string{},
		},
		{
			name:     "error",
			response: `{"loadType":"error","data":{"message":"boom","severity":"fault","cause":"x"}}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newTestNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v4/loadtracks", r.URL.Path)
				assert.Equal(t, "scsearch:lofi beats", r.URL.Query().Get("identifier"))
				assert.Equal(t, "youshallnotpass", r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.response)
			}))

			got, err := node.LoadTracks(context.Background(), "scsearch:lofi beats")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			titles := make([]string, 0, len(got))
			for _, tr := range got {
				titles = append(titles, tr.Title)
				assert.Equal(t, "scsearch", tr.Source)
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func TestLoadTracks_StreamHasNoDuration(t *testing.T) {
	node := newTestNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"loadType":"track","data":{"encoded":"L","info":{"identifier":"l","title":"Live","length":9223372036854775807,"isStream":true,"uri":"https://example.com/live","artworkUrl":"https://example.com/art.jpg"}}}`)
	}))

	got, err := node.LoadTracks(context.Background(), "https://example.com/live")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsStream())
	assert.Equal(t, "https://example.com/live", got[0].URI)
	assert.Equal(t, "https://example.com/art.jpg", got[0].ArtworkURL)
	assert.Empty(t, got[0].Source)
}

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]any
}

type recorder struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	response string
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	rec.mu.Lock()
	rec.requests = append(rec.requests, recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: body})
	status, response := rec.status, rec.response
	rec.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, response)
}

func (rec *recorder) all() []recorded {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]recorded(nil), rec.requests...)
}

func readyNode(t *testing.T, rec *recorder) *Node {
	node := newTestNode(t, rec)
	node.sessionID = "sid"
	node.connected = true
	return node
}

func TestPlayer_PlayResolvesIdentifier(t *testing.T) {
	rec := &recorder{response: `{"guildId":"123","track":{"encoded":"ENC","info":{"identifier":"v1","title":"Song","length":180000}},"volume":100,"paused":false}`}
	node := readyNode(t, rec)

	in := track.Track{ID: "v1", Title: "Song", URI: "https://music.youtube.com/watch?v=v1"}
	got, err := node.Player(guild).Play(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "ENC", got.Encoded)
	assert.Equal(t, "v1", got.ID)
	assert.Equal(t, 180*time.Second, got.Duration)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPatch, reqs[0].method)
	assert.Equal(t, "/v4/sessions/sid/players/123", reqs[0].path)
	tr := reqs[0].body["track"].(map[string]any)
	assert.Equal(t, in.URI, tr["identifier"])
	assert.NotContains(t, tr, "encoded")
	assert.Equal(t, false, reqs[0].body["paused"])
}

func TestPlayer_PlayEncoded(t *testing.T) {
	rec := &recorder{response: `{"guildId":"123","track":{"encoded":"ENC","info":{"identifier":"v1","title":"Song"}}}`}
	node := readyNode(t, rec)

	_, err := node.Player(guild).Play(context.Background(), track.Track{ID: "v1", Encoded: "ENC"})
	require.NoError(t, err)

	tr := rec.all()[0].body["track"].(map[string]any)
	assert.Equal(t, "ENC", tr["encoded"])
}

func TestPlayer_PlayErrors(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		response        string
		wantUnsupported bool
	}{
		{
			name:            "unsupported source",
			status:          http.StatusBadRequest,
			response:        `{"status":400,"error":"Bad Request","message":"This video is not available","path":"/v4/sessions/sid/players/123"}`,
			wantUnsupported: true,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			response: `{"status":500,"error":"Internal Server Error","message":"oops"}`,
		},
		{
			name:     "no track loaded",
			status:   http.StatusOK,
			response: `{"guildId":"123","track":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := readyNode(t, &recorder{status: tt.status, response: tt.response})
			_, err := node.Player(guild).Play(context.Background(), track.Track{ID: "x", Title: "X"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, playback.ErrPlayback))
			assert.Equal(t, tt.wantUnsupported, errors.Is(err, playback.ErrSourceUnsupported))
		})
	}
}

func TestPlayer_Controls(t *testing.T) {
	rec := &recorder{response: `{"guildId":"123"}`}
	node := readyNode(t, rec)
	p := node.Player(guild)
	ctx := context.Background()

	require.NoError(t, p.Pause(ctx, true))
	require.NoError(t, p.Seek(ctx, 90*time.Second))
	require.NoError(t, p.SetVolume(ctx, 50))

	reqs := rec.all()
	require.Len(t, reqs, 3)
	assert.Equal(t, true, reqs[0].body["paused"])
	assert.Equal(t, float64(90000), reqs[1].body["position"])
	assert.Equal(t, float64(50), reqs[2].body["volume"])

	require.NoError(t, p.Stop(ctx))
	reqs = rec.all()
	require.Len(t, reqs, 4)
	assert.Equal(t, http.MethodPatch, reqs[3].method)
	tr, ok := reqs[3].body["track"].(map[string]any)
	require.True(t, ok, "stop must send a track object")
	encoded, present := tr["encoded"]
	assert.True(t, present)
	assert.Nil(t, encoded)

	rec.mu.Lock()
	rec.status = http.StatusNoContent
	rec.mu.Unlock()
	require.NoError(t, p.Destroy(ctx))
	reqs = rec.all()
	assert.Equal(t, http.MethodDelete, reqs[4].method)
	assert.Equal(t, "/v4/sessions/sid/players/123", reqs[4].path)
}

func TestPlayer_ExceptionKeepsPlayerForNextTrack(t *testing.T) {
	rec := &recorder{response: `{"guildId":"123","track":{"encoded":"ENC","info":{"identifier":"v1","title":"Song"}}}`}
	node := readyNode(t, rec)
	ctx := context.Background()

	sess := session.New(guild, snowflake.ID(1), 0)
	ctrl := playback.NewController(sess, playback.Deps{Player: node.Player(guild)}, playback.Config{IdleLeave: true})

	a := track.Track{ID: "a", Title: "A", Encoded: "ENC-A"}
	b := track.Track{ID: "b", Title: "B", Encoded: "ENC-B"}
	require.NoError(t, ctrl.Enqueue(ctx, a, b))
	ctrl.HandleTrackStarted(ctx, track.Track{ID: "a", Encoded: "ENC"})

	ctrl.HandleTrackException(ctx, track.Track{ID: "a", Encoded: "ENC"}, errors.Mark(errors.New("decoder crashed"), playback.ErrPlayback))

	reqs := rec.all()
	require.Len(t, reqs, 3)
	for _, r := range reqs {
		assert.Equal(t, http.MethodPatch, r.method, "the player must not be destroyed between tracks")
	}
	next := reqs[2].body["track"].(map[string]any)
	assert.Equal(t, "ENC-B", next["encoded"])
}

func TestPlayer_NotConnected(t *testing.T) {
	node := newTestNode(t, &recorder{})
	_, err := node.Player(guild).Play(context.Background(), track.Track{ID: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.True(t, errors.Is(err, playback.ErrPlayback))
}

func TestVoiceForwarding(t *testing.T) {
	rec := &recorder{response: `{"guildId":"123"}`}
	node := readyNode(t, rec)
	ctx := context.Background()
	channel := snowflake.ID(7)
	endpoint := "us-east1.discord.media"

	node.OnVoiceStateUpdate(ctx, guild, &channel, "voice-session")
	assert.Empty(t, rec.all(), "nothing forwarded before the server update")

	node.OnVoiceServerUpdate(ctx, guild, "tok", nil)
	assert.Empty(t, rec.all(), "nil endpoint is ignored")

	node.OnVoiceServerUpdate(ctx, guild, "tok", &endpoint)
	reqs := rec.all()
	require.Len(t, reqs, 1)
	voice := reqs[0].body["voice"].(map[string]any)
	assert.Equal(t, "tok", voice["token"])
	assert.Equal(t, endpoint, voice["endpoint"])
	assert.Equal(t, "voice-session", voice["sessionId"])

	// Same session again is not re-sent.
	node.OnVoiceStateUpdate(ctx, guild, &channel, "voice-session")
	assert.Len(t, rec.all(), 1)

	node.OnVoiceStateUpdate(ctx, guild, nil, "")
	node.mu.RLock()
	_, ok := node.voice[guild]
	node.mu.RUnlock()
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name            string
		exception       *exceptionJSON
		wantUnsupported bool
	}{
		{"nil", nil, false},
		{"generic", &exceptionJSON{Message: "Something broke", Severity: "fault"}, false},
		{"unavailable", &exceptionJSON{Message: "This video is unavailable", Severity: "common"}, true},
		{"sign in", &exceptionJSON{Message: "Sign in to confirm your age", Severity: "common"}, true},
		{"cause only", &exceptionJSON{Message: "Failed", Cause: "UnsupportedOperationException"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.exception)
			assert.True(t, errors.Is(err, playback.ErrPlayback))
			assert.Equal(t, tt.wantUnsupported, errors.Is(err, playback.ErrSourceUnsupported))
		})
	}
}

func TestProvider(t *testing.T) {
	node := newTestNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dzsearch:hello", r.URL.Query().Get("identifier"))
		fmt.Fprint(w, `{"loadType":"search","data":[{"info":{"identifier":"1","title":"A"}},{"info":{"identifier":"2","title":"B"}},{"info":{"identifier":"3","title":"C"}}]}`)
	}))

	p, err := NewProvider(node, "deezer", map[string]any{"source": "dzsearch"})
	require.NoError(t, err)
	assert.Equal(t, "deezer", p.Prefix())
	assert.Equal(t, "lavalink:dzsearch", p.Name())

	got, err := p.Search(context.Background(), "hello", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "deezer", got[0].Source)

	_, err = NewProvider(node, "", nil)
	assert.Error(t, err)

	p, err = NewProvider(node, "scsearch", nil)
	require.NoError(t, err)
	assert.Equal(t, "lavalink:scsearch", p.Name())
}
