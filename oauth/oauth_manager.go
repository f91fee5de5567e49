package oauth

import (
	"fmt"
	"log"
	"net/http"
	"sync"
)

// OAuthServiceManager manages the authorization flows of all registered
// providers.
type OAuthServiceManager struct {
	services map[string]AuthService
	mu       sync.RWMutex
}

func NewOAuthServiceManager() *OAuthServiceManager {
	return &OAuthServiceManager{
		services: make(map[string]AuthService),
	}
}

// RegisterService registers any service that implements AuthService.
func (m *OAuthServiceManager) RegisterService(name string, service AuthService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[name] = service
	log.Printf("Registered auth service: %s", name)
}

// GetService returns an AuthService by registered name.
func (m *OAuthServiceManager) GetService(name string) (AuthService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	service, exists := m.services[name]
	return service, exists
}

func (m *OAuthServiceManager) HandleLogin(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service, exists := m.GetService(serviceName)
		if exists {
			service.HandleLogin(w, r)
			return
		}

		log.Printf("Auth service '%s' not found for login request", serviceName)
		http.Error(w, fmt.Sprintf("Auth service '%s' not found", serviceName), http.StatusNotFound)
	}
}

func (m *OAuthServiceManager) HandleCallback(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service, exists := m.GetService(serviceName)
		if !exists {
			log.Printf("Auth service '%s' not found for callback request", serviceName)
			http.Error(w, fmt.Sprintf("OAuth service '%s' not found", serviceName), http.StatusNotFound)
			return
		}

		userID, err := service.HandleCallback(w, r)
		if err != nil {
			log.Printf("Error handling callback for service '%s': %v", serviceName, err)
			return
		}

		if userID != "" {
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprintln(w, "Authorization successful! Your listening is now being tracked.")
		}
	}
}
