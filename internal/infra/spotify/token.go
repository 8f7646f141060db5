package spotify

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenMargin is how long before expiry a cached token is refreshed.
const DefaultTokenMargin = 60 * time.Second

// CachedToken is a bearer token and its expiry.
type CachedToken struct {
	Value  string
	Expiry time.Time
}

// TokenConfig configures a TokenCache.
type TokenConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string        // Defaults to the Spotify accounts endpoint
	Margin       time.Duration // Defaults to DefaultTokenMargin
}

// TokenCache obtains client-credentials tokens and caches them process-wide.
// Fresh reads take no lock; refreshes are serialized so concurrent callers
// trigger at most one exchange.
type TokenCache struct {
	exchange func(ctx context.Context) (*oauth2.Token, error)
	margin   time.Duration
	now      func() time.Time

	current atomic.Pointer[CachedToken]
	mu      sync.Mutex
}

// NewTokenCache creates a token cache. httpClient carries the exchange requests
// (timeouts and rate-limit retry); nil uses http.DefaultClient.
func NewTokenCache(cfg TokenConfig, httpClient *http.Client) *TokenCache {
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultTokenMargin
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = spotifyauth.TokenURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &TokenCache{
		margin: cfg.Margin,
		now:    time.Now,
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		c.exchange = func(ctx context.Context) (*oauth2.Token, error) {
			return nil, errors.Wrap(ErrAuth, "client id and secret are not configured")
		}
		return c
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	c.exchange = func(ctx context.Context) (*oauth2.Token, error) {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		return cc.Token(ctx)
	}
	return c
}

// GetToken returns a bearer token, refreshing it when within the safety margin of expiry.
func (c *TokenCache) GetToken(ctx context.Context) (string, error) {
	if tok := c.fresh(); tok != nil {
		return tok.Value, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if tok := c.fresh(); tok != nil {
		return tok.Value, nil
	}

	t, err := c.exchange(ctx)
	if err != nil {
		return "", classifyTokenError(err)
	}
	if t.AccessToken == "" {
		return "", errors.Wrap(ErrAuth, "token endpoint returned an empty token")
	}

	expiry := t.Expiry
	if expiry.IsZero() {
		expiry = c.now().Add(time.Hour)
	}
	c.current.Store(&CachedToken{Value: t.AccessToken, Expiry: expiry})
	zlog.Debug().Msgf("spotify token refreshed: expiry=%s", expiry.Format(time.RFC3339))
	return t.AccessToken, nil
}

// Invalidate drops token from the cache so the next call exchanges again.
// A token already replaced by a newer one is left alone.
func (c *TokenCache) Invalidate(token string) {
	if tok := c.current.Load(); tok != nil && tok.Value == token {
		c.current.CompareAndSwap(tok, nil)
	}
}

func (c *TokenCache) fresh() *CachedToken {
	tok := c.current.Load()
	if tok == nil || !c.now().Add(c.margin).Before(tok.Expiry) {
		return nil
	}
	return tok
}

func classifyTokenError(err error) error {
	if errors.Is(err, ErrAuth) {
		return err
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusTooManyRequests:
			return errors.Mark(errors.Wrap(err, "token exchange rate limited"), ErrRateLimited)
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return errors.Mark(errors.Wrap(err, "token exchange rejected"), ErrAuth)
		}
	}
	return errors.Wrap(err, "token exchange failed")
}

// bearerTransport authenticates each request with the cached token.
type bearerTransport struct {
	base   http.RoundTripper
	tokens *TokenCache
}

// A 401 drops the cached token and the request is retried once with a fresh one.
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.GetToken(req.Context())
	if err != nil {
		return nil, err
	}
	resp, err := t.send(req, token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	t.tokens.Invalidate(token)
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}
	_ = resp.Body.Close()
	zlog.Warn().Msgf("spotify token rejected, refreshing: url=%s", req.URL.Path)

	token, err = t.tokens.GetToken(req.Context())
	if err != nil {
		return nil, err
	}
	retry := req
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "failed to reset request body")
		}
		retry = req.Clone(req.Context())
		retry.Body = body
	}
	return t.send(retry, token)
}

func (t *bearerTransport) send(req *http.Request, token string) (*http.Response, error) {
	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(authed)
}
