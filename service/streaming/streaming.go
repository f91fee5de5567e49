package streaming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wren-fm/wren/models"
)

// Sentinel errors a provider can return. Anything else is treated as
// transient: logged by the caller and retried naturally on the next poll.
var (
	// ErrAuthExpired means the access token was rejected. The caller may
	// refresh and retry once.
	ErrAuthExpired = errors.New("streaming: access token expired")

	// ErrInvalidRefreshToken means the refresh token is dead and the user
	// must re-authorize. Not retryable.
	ErrInvalidRefreshToken = errors.New("streaming: invalid refresh token")

	// ErrPermissionDenied means the token lacks a required scope.
	ErrPermissionDenied = errors.New("streaming: permission denied")
)

// RateLimitError signals remote throttling. RetryAfter is how long the
// caller should back off before polling this user again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("streaming: rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimit reports whether err is a rate-limit signal and returns the
// backoff duration if so.
func AsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// RefreshedToken is the result of a successful token refresh.
type RefreshedToken struct {
	AccessToken string
	ExpiresIn   int64 // seconds
}

// Service is the capability a streaming provider must offer for its
// users to be tracked. The scheduler depends only on this interface.
//
// CurrentTrack returns (nil, nil) when nothing is playing; that is not
// an error.
type Service interface {
	Name() string
	AuthURL(state string) string
	CurrentTrack(ctx context.Context, accessToken string) (*models.Track, error)
	RefreshToken(ctx context.Context, refreshToken string) (*RefreshedToken, error)
}
