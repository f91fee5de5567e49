package oauth

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu    sync.Mutex
	calls []storedCredential
}

type storedCredential struct {
	userID       string
	accessToken  string
	refreshToken string
	expiresAt    int64
}

func (s *fakeSink) UpsertCredential(userID, accessToken, refreshToken string, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storedCredential{userID, accessToken, refreshToken, expiresAt})
	return nil
}

type fakeRegistrar struct {
	mu      sync.Mutex
	added   []string
	started int
}

func (r *fakeRegistrar) AddUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, userID)
}

func (r *fakeRegistrar) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func newTestOAuth2Service(sink *fakeSink, registrar *fakeRegistrar) *OAuth2Service {
	svc := NewOAuth2Service("test-client", "test-secret", "http://localhost:8080/callback/spotify",
		[]string{"user-read-currently-playing"}, "spotify", sink, registrar)
	svc.logger = log.New(io.Discard, "", 0)
	return svc
}

func TestHandleLogin(t *testing.T) {
	t.Run("missing user", func(t *testing.T) {
		svc := newTestOAuth2Service(&fakeSink{}, &fakeRegistrar{})

		rr := httptest.NewRecorder()
		svc.HandleLogin(rr, httptest.NewRequest(http.MethodGet, "/authorize/spotify", nil))

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rr.Code)
		}
	})

	t.Run("redirects with PKCE", func(t *testing.T) {
		svc := newTestOAuth2Service(&fakeSink{}, &fakeRegistrar{})

		rr := httptest.NewRecorder()
		svc.HandleLogin(rr, httptest.NewRequest(http.MethodGet, "/authorize/spotify?user=u1", nil))

		if rr.Code != http.StatusSeeOther {
			t.Fatalf("Expected 303, got %d", rr.Code)
		}

		location, err := url.Parse(rr.Header().Get("Location"))
		if err != nil {
			t.Fatalf("Failed to parse redirect: %v", err)
		}
		q := location.Query()
		if q.Get("client_id") != "test-client" {
			t.Errorf("Unexpected client_id: %s", q.Get("client_id"))
		}
		if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
			t.Errorf("Expected PKCE challenge params, got %v", q)
		}

		state := q.Get("state")
		if state == "" {
			t.Fatal("Expected a state token")
		}
		svc.mu.Lock()
		login, ok := svc.pending[state]
		svc.mu.Unlock()
		if !ok || login.userID != "u1" {
			t.Errorf("Expected pending login for u1 under state %s", state)
		}
	})

	t.Run("concurrent logins get distinct state", func(t *testing.T) {
		svc := newTestOAuth2Service(&fakeSink{}, &fakeRegistrar{})

		stateFor := func(user string) string {
			rr := httptest.NewRecorder()
			svc.HandleLogin(rr, httptest.NewRequest(http.MethodGet, "/authorize/spotify?user="+user, nil))
			location, _ := url.Parse(rr.Header().Get("Location"))
			return location.Query().Get("state")
		}

		s1, s2 := stateFor("u1"), stateFor("u2")
		if s1 == s2 {
			t.Error("Expected distinct state tokens for concurrent logins")
		}
		svc.mu.Lock()
		defer svc.mu.Unlock()
		if svc.pending[s1].userID != "u1" || svc.pending[s2].userID != "u2" {
			t.Error("Expected each state bound to its own user")
		}
	})
}

func TestHandleCallback(t *testing.T) {
	t.Run("unknown state", func(t *testing.T) {
		svc := newTestOAuth2Service(&fakeSink{}, &fakeRegistrar{})

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/callback/spotify?state=bogus&code=abc", nil)
		if _, err := svc.HandleCallback(rr, req); err == nil {
			t.Error("Expected an error for an unknown state")
		}
		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rr.Code)
		}
	})

	t.Run("full exchange", func(t *testing.T) {
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				t.Fatalf("Failed to parse token request: %v", err)
			}
			if r.PostForm.Get("code") != "auth-code" {
				t.Errorf("Unexpected code: %s", r.PostForm.Get("code"))
			}
			if r.PostForm.Get("code_verifier") == "" {
				t.Error("Expected code_verifier in token exchange")
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"access_token": "access-1",
				"refresh_token": "refresh-1",
				"token_type": "Bearer",
				"expires_in": 3600
			}`))
		}))
		defer tokenServer.Close()

		sink := &fakeSink{}
		registrar := &fakeRegistrar{}
		svc := newTestOAuth2Service(sink, registrar)
		svc.config.Endpoint.TokenURL = tokenServer.URL

		// initiate a login to obtain a live state token
		rr := httptest.NewRecorder()
		svc.HandleLogin(rr, httptest.NewRequest(http.MethodGet, "/authorize/spotify?user=u1", nil))
		location, _ := url.Parse(rr.Header().Get("Location"))
		state := location.Query().Get("state")

		rr = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/callback/spotify?state="+state+"&code=auth-code", nil)
		userID, err := svc.HandleCallback(rr, req)
		if err != nil {
			t.Fatalf("HandleCallback failed: %v", err)
		}
		if userID != "u1" {
			t.Errorf("Expected user u1, got %s", userID)
		}

		if len(sink.calls) != 1 {
			t.Fatalf("Expected 1 stored credential, got %d", len(sink.calls))
		}
		stored := sink.calls[0]
		if stored.userID != "u1" || stored.accessToken != "access-1" || stored.refreshToken != "refresh-1" {
			t.Errorf("Unexpected stored credential: %+v", stored)
		}
		if stored.expiresAt <= time.Now().Unix() {
			t.Errorf("Expected future expiry, got %d", stored.expiresAt)
		}

		if len(registrar.added) != 1 || registrar.added[0] != "u1" {
			t.Errorf("Expected u1 registered for tracking, got %v", registrar.added)
		}
		if registrar.started != 1 {
			t.Errorf("Expected tracker start requested once, got %d", registrar.started)
		}

		// the state token is single-use
		rr = httptest.NewRecorder()
		if _, err := svc.HandleCallback(rr, req); err == nil {
			t.Error("Expected replayed state to be rejected")
		}
	})

	t.Run("missing code", func(t *testing.T) {
		svc := newTestOAuth2Service(&fakeSink{}, &fakeRegistrar{})

		rr := httptest.NewRecorder()
		svc.HandleLogin(rr, httptest.NewRequest(http.MethodGet, "/authorize/spotify?user=u1", nil))
		location, _ := url.Parse(rr.Header().Get("Location"))
		state := location.Query().Get("state")

		rr = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/callback/spotify?state="+state, nil)
		if _, err := svc.HandleCallback(rr, req); err == nil {
			t.Error("Expected an error when the code is missing")
		}
	})
}

func TestGenerateCodeChallenge(t *testing.T) {
	verifier := generateCodeVerifier()
	if len(verifier) < 43 {
		t.Errorf("Expected verifier of at least 43 chars, got %d", len(verifier))
	}
	if strings.ContainsAny(verifier, "+/=") {
		t.Errorf("Expected URL-safe verifier, got %s", verifier)
	}

	challenge := generateCodeChallenge(verifier)
	if challenge == "" || challenge == verifier {
		t.Errorf("Unexpected challenge %q for verifier %q", challenge, verifier)
	}
	if generateCodeChallenge(verifier) != challenge {
		t.Error("Expected challenge derivation to be deterministic")
	}
}
