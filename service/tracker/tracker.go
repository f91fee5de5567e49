package tracker

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/wren-fm/wren/models"
	"github.com/wren-fm/wren/service/streaming"
)

// minProgressMs filters out observations caught in the first moments of
// a track, which risk being double-counted with the prior track.
const minProgressMs = 2000

// CredentialStore is the slice of persistence the scheduler needs for
// token management.
type CredentialStore interface {
	GetCredential(userID string) (*models.Credential, error)
	UpdateAccessToken(userID, accessToken string, expiresAt int64) error
	ListUserIDs() ([]string, error)
}

// Ledger is the write side of the listening history.
type Ledger interface {
	RecordListening(userID string, track *models.Track) (bool, error)
}

// trackedUser is the in-memory state for one user in the working set.
type trackedUser struct {
	lastCheck   time.Time
	lastTrackID string
}

// Tracker owns the set of actively tracked users and drives the
// refresh-fetch-record pipeline for each of them on a fixed cadence.
// Per-user failures are isolated: no error for one user ever aborts or
// delays the sweep for the others.
type Tracker struct {
	store    CredentialStore
	ledger   Ledger
	service  streaming.Service
	interval time.Duration
	cooldown time.Duration
	logger   *log.Logger

	mu        sync.Mutex
	users     map[string]*trackedUser
	cooldowns map[string]time.Time
	running   bool
	stop      chan struct{}
}

// New creates a stopped tracker. interval is the sweep cadence; cooldown
// is the default suspension applied to a rate-limited user when the
// remote does not signal a duration.
func New(store CredentialStore, ledger Ledger, service streaming.Service, interval, cooldown time.Duration) *Tracker {
	return &Tracker{
		store:     store,
		ledger:    ledger,
		service:   service,
		interval:  interval,
		cooldown:  cooldown,
		logger:    log.New(os.Stdout, "tracker: ", log.LstdFlags|log.Lmsgprefix),
		users:     make(map[string]*trackedUser),
		cooldowns: make(map[string]time.Time),
	}
}

// AddUser inserts a user into the working set. Idempotent: re-adding an
// existing user only resets their last-check time.
func (t *Tracker) AddUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u, ok := t.users[userID]; ok {
		u.lastCheck = time.Now()
		return
	}
	t.users[userID] = &trackedUser{lastCheck: time.Now()}
	t.logger.Printf("added user %s to tracking, total users: %d", userID, len(t.users))
}

// RemoveUser drops a user from the working set and clears any cooldown.
func (t *Tracker) RemoveUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
	delete(t.cooldowns, userID)
}

// IsTracked reports whether a user is currently in the working set.
func (t *Tracker) IsTracked(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.users[userID]
	return ok
}

// InitializeFromStore bulk-loads every user who has ever authorized, so
// tracking resumes across restarts without requiring re-authorization.
// Call once at startup, before Start.
func (t *Tracker) InitializeFromStore() error {
	ids, err := t.store.ListUserIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		t.AddUser(id)
	}
	t.logger.Printf("loaded %d users from credential store", len(ids))
	return nil
}

// Start begins the periodic sweep. Idempotent: a second Start while
// running is a no-op, so multiple call sites can request tracking
// without doubling the poll rate.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	go t.run(stop)
	t.logger.Printf("started listening tracker, interval %s", t.interval)
}

// Stop halts the periodic sweep. In-flight per-user work is allowed to
// complete naturally.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
	t.logger.Printf("stopped listening tracker")
}

func (t *Tracker) run(stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Each sweep runs independently: an overrunning sweep never
			// delays the next tick, so overlap must be tolerated.
			go t.sweep()
		}
	}
}

// sweep snapshots the working set and processes every user concurrently,
// waiting for all of them to settle. Mutations during the sweep are
// picked up on the next tick.
func (t *Tracker) sweep() {
	t.mu.Lock()
	userIDs := make([]string, 0, len(t.users))
	for id := range t.users {
		userIDs = append(userIDs, id)
	}
	t.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			t.trackUser(context.Background(), userID)
		}(id)
	}
	wg.Wait()
}

// inCooldown reports whether polling for the user is suspended, evicting
// the entry once its deadline has passed.
func (t *Tracker) inCooldown(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.cooldowns[userID]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(t.cooldowns, userID)
		return false
	}
	return true
}

func (t *Tracker) setCooldown(userID string, d time.Duration) {
	if d <= 0 {
		d = t.cooldown
	}
	t.mu.Lock()
	t.cooldowns[userID] = time.Now().Add(d)
	t.mu.Unlock()
	t.logger.Printf("user %s rate limited, cooling down for %s", userID, d)
}

// refresh exchanges the user's refresh token and persists the result.
// The credential is updated in place so the caller can proceed with the
// fresh access token in the same tick.
func (t *Tracker) refresh(ctx context.Context, userID string, cred *models.Credential) error {
	refreshed, err := t.service.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		return err
	}

	expiresAt := time.Now().Unix() + refreshed.ExpiresIn
	if err := t.store.UpdateAccessToken(userID, refreshed.AccessToken, expiresAt); err != nil {
		return err
	}

	cred.AccessToken = refreshed.AccessToken
	cred.ExpiresAt = expiresAt
	return nil
}

// trackUser runs the refresh-fetch-record pipeline for one user. Every
// failure path returns without error: outcomes are logged, never
// propagated to the sweep.
func (t *Tracker) trackUser(ctx context.Context, userID string) {
	if t.inCooldown(userID) {
		return
	}

	cred, err := t.store.GetCredential(userID)
	if err != nil {
		t.logger.Printf("error loading credentials for user %s: %v", userID, err)
		return
	}
	if cred == nil {
		// never authorized, or removed
		return
	}

	if time.Now().Unix() >= cred.ExpiresAt {
		if err := t.refresh(ctx, userID, cred); err != nil {
			t.handleRefreshError(userID, err)
			return
		}
	}

	track, err := t.service.CurrentTrack(ctx, cred.AccessToken)
	if errors.Is(err, streaming.ErrAuthExpired) {
		// the remote rejected a token we thought was live; refresh and
		// retry once, never more, within this tick
		if err := t.refresh(ctx, userID, cred); err != nil {
			t.handleRefreshError(userID, err)
			return
		}
		track, err = t.service.CurrentTrack(ctx, cred.AccessToken)
	}
	if err != nil {
		if d, ok := streaming.AsRateLimit(err); ok {
			t.setCooldown(userID, d)
			return
		}
		if errors.Is(err, streaming.ErrPermissionDenied) {
			// user stays tracked in case scopes are fixed externally
			t.logger.Printf("permission denied for user %s", userID)
			return
		}
		t.logger.Printf("error fetching track for user %s: %v", userID, err)
		return
	}

	t.recordObservation(userID, track)
}

func (t *Tracker) handleRefreshError(userID string, err error) {
	if errors.Is(err, streaming.ErrInvalidRefreshToken) {
		// the credential is dead; only re-authorization can revive it
		t.RemoveUser(userID)
		t.logger.Printf("removed user %s from tracking: refresh token invalid", userID)
		return
	}
	if d, ok := streaming.AsRateLimit(err); ok {
		t.setCooldown(userID, d)
		return
	}
	t.logger.Printf("error refreshing token for user %s: %v", userID, err)
}

// recordObservation passes a playback observation to the ledger when it
// clears the minimum-progress threshold and is not the track we just
// recorded. The ledger's own dedup check remains authoritative; the
// last-track-id comparison only saves a write we know would be skipped.
func (t *Tracker) recordObservation(userID string, track *models.Track) {
	t.mu.Lock()
	u, ok := t.users[userID]
	if ok {
		u.lastCheck = time.Now()
	}
	var lastTrackID string
	if ok {
		lastTrackID = u.lastTrackID
	}
	t.mu.Unlock()

	if track == nil || track.ProgressMs <= minProgressMs {
		return
	}
	if track.ID == lastTrackID {
		return
	}

	recorded, err := t.ledger.RecordListening(userID, track)
	if err != nil {
		// the observation for this tick is lost; there is no retry buffer
		t.logger.Printf("error recording track for user %s: %v", userID, err)
		return
	}
	if recorded {
		t.logger.Printf("user %s listening to %q by %s", userID, track.Name, track.Artist)
	}

	t.mu.Lock()
	if u, ok := t.users[userID]; ok {
		u.lastTrackID = track.ID
	}
	t.mu.Unlock()
}
