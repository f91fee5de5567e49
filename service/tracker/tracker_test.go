package tracker

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/wren-fm/wren/models"
	"github.com/wren-fm/wren/service/streaming"
)

type fakeStore struct {
	mu      sync.Mutex
	creds   map[string]*models.Credential
	updates []string
}

func newFakeStore(creds ...*models.Credential) *fakeStore {
	s := &fakeStore{creds: make(map[string]*models.Credential)}
	for _, c := range creds {
		s.creds[c.UserID] = c
	}
	return s
}

func (s *fakeStore) GetCredential(userID string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *fakeStore) UpdateAccessToken(userID, accessToken string, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creds[userID]; ok {
		c.AccessToken = accessToken
		c.ExpiresAt = expiresAt
	}
	s.updates = append(s.updates, accessToken)
	return nil
}

func (s *fakeStore) ListUserIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.creds))
	for id := range s.creds {
		ids = append(ids, id)
	}
	return ids, nil
}

type recordedPlay struct {
	userID  string
	trackID string
}

type fakeLedger struct {
	mu      sync.Mutex
	records []recordedPlay
}

func (l *fakeLedger) RecordListening(userID string, track *models.Track) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, recordedPlay{userID: userID, trackID: track.ID})
	return true, nil
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// fakeService scripts CurrentTrack and RefreshToken per test while
// counting every call.
type fakeService struct {
	mu           sync.Mutex
	trackCalls   []string
	refreshCalls []string
	trackFn      func(accessToken string) (*models.Track, error)
	refreshFn    func(refreshToken string) (*streaming.RefreshedToken, error)
}

func (s *fakeService) Name() string                { return "fake" }
func (s *fakeService) AuthURL(state string) string { return "" }

func (s *fakeService) CurrentTrack(ctx context.Context, accessToken string) (*models.Track, error) {
	s.mu.Lock()
	s.trackCalls = append(s.trackCalls, accessToken)
	s.mu.Unlock()
	if s.trackFn == nil {
		return nil, nil
	}
	return s.trackFn(accessToken)
}

func (s *fakeService) RefreshToken(ctx context.Context, refreshToken string) (*streaming.RefreshedToken, error) {
	s.mu.Lock()
	s.refreshCalls = append(s.refreshCalls, refreshToken)
	s.mu.Unlock()
	if s.refreshFn == nil {
		return &streaming.RefreshedToken{AccessToken: "refreshed-token", ExpiresIn: 3600}, nil
	}
	return s.refreshFn(refreshToken)
}

func (s *fakeService) trackCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackCalls)
}

func (s *fakeService) refreshCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refreshCalls)
}

func newTestTracker(store CredentialStore, ledger Ledger, service streaming.Service) *Tracker {
	tr := New(store, ledger, service, 20*time.Millisecond, time.Minute)
	tr.logger = log.New(io.Discard, "", 0)
	return tr
}

func liveCred(userID string) *models.Credential {
	return &models.Credential{
		UserID:       userID,
		AccessToken:  "live-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
}

func playingTrack(id string) *models.Track {
	return &models.Track{
		ID:         id,
		Name:       "Test Song",
		Artist:     "Test Artist",
		Album:      "Test Album",
		DurationMs: 200000,
		ProgressMs: 45000,
	}
}

func TestTrackUser_RecordsPlayback(t *testing.T) {
	store := newFakeStore(liveCred("u1"))
	ledger := &fakeLedger{}
	service := &fakeService{
		trackFn: func(token string) (*models.Track, error) {
			return playingTrack("t1"), nil
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.trackUser(context.Background(), "u1")

	if ledger.count() != 1 {
		t.Fatalf("Expected 1 recorded play, got %d", ledger.count())
	}
	if ledger.records[0].userID != "u1" || ledger.records[0].trackID != "t1" {
		t.Errorf("Unexpected record: %+v", ledger.records[0])
	}
	if service.refreshCallCount() != 0 {
		t.Errorf("Expected no refresh for a live token, got %d", service.refreshCallCount())
	}
}

func TestTrackUser_SkipsIdlePlayer(t *testing.T) {
	store := newFakeStore(liveCred("u1"))
	ledger := &fakeLedger{}
	service := &fakeService{}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.trackUser(context.Background(), "u1")

	if ledger.count() != 0 {
		t.Errorf("Expected no records when nothing is playing, got %d", ledger.count())
	}
}

func TestTrackUser_SkipsEarlyProgress(t *testing.T) {
	store := newFakeStore(liveCred("u1"))
	ledger := &fakeLedger{}
	service := &fakeService{
		trackFn: func(token string) (*models.Track, error) {
			track := playingTrack("t1")
			track.ProgressMs = 1500
			return track, nil
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.trackUser(context.Background(), "u1")

	if ledger.count() != 0 {
		t.Errorf("Expected no records below the progress threshold, got %d", ledger.count())
	}
}

func TestTrackUser_SkipsRepeatedObservation(t *testing.T) {
	store := newFakeStore(liveCred("u1"))
	ledger := &fakeLedger{}
	service := &fakeService{
		trackFn: func(token string) (*models.Track, error) {
			return playingTrack("t1"), nil
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.trackUser(context.Background(), "u1")
	tr.trackUser(context.Background(), "u1")

	if ledger.count() != 1 {
		t.Fatalf("Expected the repeated observation to be skipped, got %d records", ledger.count())
	}

	// a different track goes straight through
	service.mu.Lock()
	service.trackFn = func(token string) (*models.Track, error) {
		return playingTrack("t2"), nil
	}
	service.mu.Unlock()
	tr.trackUser(context.Background(), "u1")

	if ledger.count() != 2 {
		t.Errorf("Expected the new track to be recorded, got %d records", ledger.count())
	}
}

func TestTrackUser_RefreshesExpiredToken(t *testing.T) {
	cred := liveCred("u1")
	cred.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	store := newFakeStore(cred)
	ledger := &fakeLedger{}
	service := &fakeService{
		trackFn: func(token string) (*models.Track, error) {
			if token != "refreshed-token" {
				t.Errorf("Expected fetch with refreshed token, got %q", token)
			}
			return playingTrack("t1"), nil
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.trackUser(context.Background(), "u1")

	if service.refreshCallCount() != 1 {
		t.Fatalf("Expected 1 refresh, got %d", service.refreshCallCount())
	}
	if ledger.count() != 1 {
		t.Errorf("Expected the play to be recorded after refresh, got %d", ledger.count())
	}

	// the refreshed token must be persisted with a future expiry
	persisted, _ := store.GetCredential("u1")
	if persisted.AccessToken != "refreshed-token" {
		t.Errorf("Expected persisted token 'refreshed-token', got %q", persisted.AccessToken)
	}
	if persisted.ExpiresAt <= time.Now().Unix() {
		t.Errorf("Expected persisted expiry in the future, got %d", persisted.ExpiresAt)
	}
}

func TestTrackUser_RetriesOnceAfterRejectedToken(t *testing.T) {
	store := newFakeStore(liveCred("u1"))
	ledger := &fakeLedger{}
	service := &fakeService{
		trackFn: func(token string) (*models.Track, error) {
			// the stored token looks live but the remote rejects it
			if token == "live-token" {
				return nil, streaming.ErrAuthExpired
			}
			return playingTrack("t1"), nil
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.trackUser(context.Background(), "u1")

	if service.trackCallCount() != 2 {
		t.Errorf("Expected 2 fetch attempts, got %d", service.trackCallCount())
	}
	if service.refreshCallCount() != 1 {
		t.Errorf("Expected 1 refresh, got %d", service.refreshCallCount())
	}
	if ledger.count() != 1 {
		t.Errorf("Expected the retried fetch to be recorded, got %d", ledger.count())
	}
}

func TestTrackUser_GivesUpAfterSecondRejection(t *testing.T) {
	store := newFakeStore(liveCred("u1"))
	ledger := &fakeLedger{}
	service := &fakeService{
		trackFn: func(token string) (*models.Track, error) {
			return nil, streaming.ErrAuthExpired
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.trackUser(context.Background(), "u1")

	if service.trackCallCount() != 2 {
		t.Errorf("Expected exactly 2 fetch attempts, got %d", service.trackCallCount())
	}
	if ledger.count() != 0 {
		t.Errorf("Expected no records, got %d", ledger.count())
	}
	if !tr.IsTracked("u1") {
		t.Error("Expected user to stay tracked after a transient auth failure")
	}
}

func TestTrackUser_RemovesUserOnDeadRefreshToken(t *testing.T) {
	cred := liveCred("u1")
	cred.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	store := newFakeStore(cred)
	ledger := &fakeLedger{}
	service := &fakeService{
		refreshFn: func(refreshToken string) (*streaming.RefreshedToken, error) {
			return nil, streaming.ErrInvalidRefreshToken
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.trackUser(context.Background(), "u1")

	if tr.IsTracked("u1") {
		t.Error("Expected user to be removed after an invalid refresh token")
	}
	if service.trackCallCount() != 0 {
		t.Errorf("Expected no fetch with a dead credential, got %d", service.trackCallCount())
	}
}

func TestTrackUser_RateLimitCooldown(t *testing.T) {
	store := newFakeStore(liveCred("u1"))
	ledger := &fakeLedger{}
	service := &fakeService{
		trackFn: func(token string) (*models.Track, error) {
			return nil, &streaming.RateLimitError{RetryAfter: 50 * time.Millisecond}
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.trackUser(context.Background(), "u1")

	if !tr.IsTracked("u1") {
		t.Fatal("Expected a rate-limited user to stay tracked")
	}

	// inside the cooldown no call reaches the service
	tr.trackUser(context.Background(), "u1")
	if service.trackCallCount() != 1 {
		t.Fatalf("Expected no fetch during cooldown, got %d", service.trackCallCount())
	}

	time.Sleep(60 * time.Millisecond)
	tr.trackUser(context.Background(), "u1")
	if service.trackCallCount() != 2 {
		t.Errorf("Expected polling to resume after cooldown, got %d fetches", service.trackCallCount())
	}
}

func TestSweep_IsolatesUsers(t *testing.T) {
	store := newFakeStore(liveCred("u1"), liveCred("u2"), liveCred("u3"))
	store.creds["u1"].AccessToken = "limited-token"
	store.creds["u3"].AccessToken = "broken-token"

	ledger := &fakeLedger{}
	service := &fakeService{
		trackFn: func(token string) (*models.Track, error) {
			switch token {
			case "limited-token":
				return nil, &streaming.RateLimitError{RetryAfter: time.Minute}
			case "broken-token":
				return nil, streaming.ErrPermissionDenied
			default:
				return playingTrack("t1"), nil
			}
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.AddUser("u2")
	tr.AddUser("u3")
	tr.sweep()

	if ledger.count() != 1 {
		t.Fatalf("Expected exactly the healthy user's play, got %d records", ledger.count())
	}
	if ledger.records[0].userID != "u2" {
		t.Errorf("Expected u2's play, got %+v", ledger.records[0])
	}
	for _, user := range []string{"u1", "u2", "u3"} {
		if !tr.IsTracked(user) {
			t.Errorf("Expected %s to stay tracked", user)
		}
	}
}

func TestStart_Idempotent(t *testing.T) {
	store := newFakeStore(liveCred("u1"))
	ledger := &fakeLedger{}
	service := &fakeService{
		trackFn: func(token string) (*models.Track, error) {
			return playingTrack("t1"), nil
		},
	}

	tr := newTestTracker(store, ledger, service)
	tr.AddUser("u1")
	tr.Start()
	tr.Start()

	time.Sleep(110 * time.Millisecond)
	tr.Stop()

	// ~5 ticks at 20ms; a doubled loop would roughly double this
	calls := service.trackCallCount()
	if calls < 2 || calls > 8 {
		t.Errorf("Expected around 5 fetches from a single loop, got %d", calls)
	}

	time.Sleep(50 * time.Millisecond)
	if after := service.trackCallCount(); after > calls+1 {
		t.Errorf("Expected sweeps to stop, fetches went from %d to %d", calls, after)
	}
}

func TestInitializeFromStore(t *testing.T) {
	store := newFakeStore(liveCred("u1"), liveCred("u2"))
	tr := newTestTracker(store, &fakeLedger{}, &fakeService{})

	if err := tr.InitializeFromStore(); err != nil {
		t.Fatalf("InitializeFromStore failed: %v", err)
	}
	for _, user := range []string{"u1", "u2"} {
		if !tr.IsTracked(user) {
			t.Errorf("Expected %s to be tracked after initialization", user)
		}
	}
}

func TestAddUser_Idempotent(t *testing.T) {
	tr := newTestTracker(newFakeStore(), &fakeLedger{}, &fakeService{})

	tr.AddUser("u1")
	tr.AddUser("u1")

	tr.mu.Lock()
	total := len(tr.users)
	tr.mu.Unlock()
	if total != 1 {
		t.Errorf("Expected 1 tracked user, got %d", total)
	}

	tr.RemoveUser("u1")
	if tr.IsTracked("u1") {
		t.Error("Expected user to be removed")
	}
}
