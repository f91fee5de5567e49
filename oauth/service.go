package oauth

import (
	"net/http"
)

// AuthService defines the interface for provider authorization flows
// managed by the OAuthServiceManager.
type AuthService interface {
	// HandleLogin initiates the authorization flow for the service.
	HandleLogin(w http.ResponseWriter, r *http.Request)
	// HandleCallback handles the provider callback, exchanges the code,
	// stores the credential, and returns the authorized user's ID.
	// Returns "" if authorization failed.
	HandleCallback(w http.ResponseWriter, r *http.Request) (string, error)
}

// CredentialSink stores the tokens obtained from a completed flow.
type CredentialSink interface {
	UpsertCredential(userID, accessToken, refreshToken string, expiresAt int64) error
}

// Registrar is notified when a user completes authorization so tracking
// can begin for them immediately.
type Registrar interface {
	AddUser(userID string)
	Start()
}
