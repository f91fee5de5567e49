package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/wren-fm/wren/models"
	"github.com/wren-fm/wren/service/streaming"
)

// defaultRetryAfter is used when a 429 arrives without a Retry-After header.
const defaultRetryAfter = 30 * time.Second

// Service talks to the Spotify Web API. It implements streaming.Service.
//
// Beyond the network calls it keeps exactly one piece of state: the end
// of the most recent rate-limit window. While throttled, outgoing calls
// wait for the window to elapse instead of firing and failing repeatedly.
type Service struct {
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string

	apiURL   string
	authURL  string
	tokenURL string

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger

	mu             sync.Mutex
	throttledUntil time.Time
}

// NewService creates a Spotify client. URLs come from viper so tests and
// alternate deployments can point elsewhere.
func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  viper.GetString("callback.spotify"),
		scopes:       strings.Fields(viper.GetString("spotify.scopes")),
		apiURL:       viper.GetString("spotify.api_url"),
		authURL:      viper.GetString("spotify.auth_url"),
		tokenURL:     viper.GetString("spotify.token_url"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Spotify tolerates a few requests per second per client; pace
		// outgoing calls so a large user set cannot burst past that.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		logger:  log.New(os.Stdout, "spotify: ", log.LstdFlags|log.Lmsgprefix),
	}
}

func (s *Service) Name() string {
	return "spotify"
}

// AuthURL builds the user-facing authorization URL for the given state.
func (s *Service) AuthURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", s.clientID)
	q.Set("scope", strings.Join(s.scopes, " "))
	q.Set("redirect_uri", s.redirectURI)
	q.Set("state", state)
	return s.authURL + "?" + q.Encode()
}

// Throttled reports whether the client is inside a known rate-limit
// window, and when that window ends.
func (s *Service) Throttled() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Now().Before(s.throttledUntil) {
		return s.throttledUntil, true
	}
	return time.Time{}, false
}

func (s *Service) setThrottled(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(s.throttledUntil) {
		s.throttledUntil = until
	}
}

// waitThrottle blocks until any active rate-limit window has elapsed.
// The wait is bounded by the context.
func (s *Service) waitThrottle(ctx context.Context) error {
	until, ok := s.Throttled()
	if !ok {
		return nil
	}
	timer := time.NewTimer(time.Until(until))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func retryAfterDuration(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

// CurrentTrack returns what the token's user is playing right now, or
// (nil, nil) when nothing is.
func (s *Service) CurrentTrack(ctx context.Context, accessToken string) (*models.Track, error) {
	if err := s.waitThrottle(ctx); err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/me/player/currently-playing", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusUnauthorized:
		return nil, streaming.ErrAuthExpired
	case http.StatusForbidden:
		return nil, streaming.ErrPermissionDenied
	case http.StatusTooManyRequests:
		d := retryAfterDuration(resp)
		s.setThrottled(d)
		s.logger.Printf("rate limited, backing off %s", d)
		return nil, &streaming.RateLimitError{RetryAfter: d}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("spotify API error (%d): %s", resp.StatusCode, body)
	}

	var playing currentlyPlayingResponse
	if err := json.NewDecoder(resp.Body).Decode(&playing); err != nil {
		return nil, err
	}
	if playing.Item == nil {
		// 200 with no item: ads, podcasts with hidden metadata, etc.
		return nil, nil
	}

	track := &models.Track{
		ID:         playing.Item.ID,
		Name:       playing.Item.Name,
		Album:      playing.Item.Album.Name,
		DurationMs: playing.Item.DurationMs,
		ProgressMs: playing.ProgressMs,
	}
	if len(playing.Item.Artists) > 0 {
		track.Artist = playing.Item.Artists[0].Name
	}
	return track, nil
}

// RefreshToken exchanges a refresh token for a fresh access token.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*streaming.RefreshedToken, error) {
	if err := s.waitThrottle(ctx); err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.clientID, s.clientSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		d := retryAfterDuration(resp)
		s.setThrottled(d)
		return nil, &streaming.RateLimitError{RetryAfter: d}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr tokenErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error == "invalid_grant" {
			return nil, streaming.ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("spotify token error (%d): %s", resp.StatusCode, body)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("spotify token response missing access_token")
	}

	return &streaming.RefreshedToken{
		AccessToken: token.AccessToken,
		ExpiresIn:   token.ExpiresIn,
	}, nil
}
