package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/spotify"
)

// loginTTL bounds how long an initiated login may wait for its callback.
const loginTTL = 10 * time.Minute

// pendingLogin tracks one in-flight authorization: which user initiated
// it and the PKCE verifier issued for it.
type pendingLogin struct {
	userID       string
	codeVerifier string
	createdAt    time.Time
}

// OAuth2Service runs an authorization-code + PKCE flow for one provider.
// Each login carries its own state token bound to the initiating user,
// so concurrent authorizations cannot collide.
type OAuth2Service struct {
	config    oauth2.Config
	sink      CredentialSink
	registrar Registrar
	logger    *log.Logger

	mu      sync.Mutex
	pending map[string]pendingLogin
}

// NewOAuth2Service creates an OAuth2Service with PKCE support
func NewOAuth2Service(clientID, clientSecret, redirectURI string, scopes []string, provider string, sink CredentialSink, registrar Registrar) *OAuth2Service {
	var endpoint oauth2.Endpoint

	// Select the appropriate provider endpoint
	switch strings.ToLower(provider) {
	case "spotify":
		endpoint = spotify.Endpoint
	default:
		endpoint = oauth2.Endpoint{
			AuthURL:  "https://example.com/auth",
			TokenURL: "https://example.com/token",
		}
	}

	return &OAuth2Service{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		sink:      sink,
		registrar: registrar,
		logger:    log.New(os.Stdout, "oauth: ", log.LstdFlags|log.Lmsgprefix),
		pending:   make(map[string]pendingLogin),
	}
}

// generateCodeVerifier creates a random code verifier for PKCE
func generateCodeVerifier() string {
	// Generate a random string of 32-96 bytes as per RFC 7636
	b := make([]byte, 64)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// generateCodeChallenge creates a code challenge from the code verifier using S256 method
func generateCodeChallenge(verifier string) string {
	h := sha256.New()
	h.Write([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// HandleLogin starts the authorization flow for the user named in the
// `user` query parameter and redirects to the provider's consent page.
func (o *OAuth2Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "Missing user parameter", http.StatusBadRequest)
		return
	}

	state := uuid.NewString()
	verifier := generateCodeVerifier()

	o.mu.Lock()
	for s, p := range o.pending {
		if time.Since(p.createdAt) > loginTTL {
			delete(o.pending, s)
		}
	}
	o.pending[state] = pendingLogin{
		userID:       userID,
		codeVerifier: verifier,
		createdAt:    time.Now(),
	}
	o.mu.Unlock()

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}

	authURL := o.config.AuthCodeURL(state, opts...)
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

// HandleCallback completes the flow: verifies state, exchanges the code,
// stores the credential, and registers the user for tracking.
func (o *OAuth2Service) HandleCallback(w http.ResponseWriter, r *http.Request) (string, error) {
	state := r.URL.Query().Get("state")

	o.mu.Lock()
	login, ok := o.pending[state]
	if ok {
		delete(o.pending, state)
	}
	o.mu.Unlock()

	if !ok || time.Since(login.createdAt) > loginTTL {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return "", fmt.Errorf("unknown or expired state")
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "No code provided", http.StatusBadRequest)
		return "", fmt.Errorf("no code provided")
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_verifier", login.codeVerifier),
	}

	token, err := o.config.Exchange(r.Context(), code, opts...)
	if err != nil {
		http.Error(w, "Error exchanging code for token", http.StatusInternalServerError)
		return "", err
	}

	if err := o.sink.UpsertCredential(login.userID, token.AccessToken, token.RefreshToken, token.Expiry.Unix()); err != nil {
		http.Error(w, "Error storing credentials", http.StatusInternalServerError)
		return "", err
	}

	o.registrar.AddUser(login.userID)
	o.registrar.Start()

	o.logger.Printf("user %s authorized", login.userID)
	return login.userID, nil
}

// GetToken returns the OAuth2 token using the authorization code
func (o *OAuth2Service) GetToken(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	}
	return o.config.Exchange(ctx, code, opts...)
}
