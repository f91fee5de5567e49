package main

import (
	"log"
	"net/http"

	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	// OAuth routes: the external presentation layer sends users here
	// with ?user=<their identity> to authorize tracking
	mux.HandleFunc("/authorize/spotify", app.oauthManager.HandleLogin("spotify"))
	mux.HandleFunc("/callback/spotify", app.oauthManager.HandleCallback("spotify"))

	// Read-side JSON API
	mux.HandleFunc("/api/v1/stats", app.apiUserStats)
	mux.HandleFunc("/api/v1/history", app.apiHistory)
	mux.HandleFunc("/api/v1/top-artists", app.apiTopArtists)
	mux.HandleFunc("/api/v1/top-tracks", app.apiTopTracks)
	mux.HandleFunc("/api/v1/trends", app.apiTrends)
	mux.HandleFunc("/api/v1/achievements", app.apiAchievements)
	mux.HandleFunc("/api/v1/compare", app.apiCompare)

	// Friends
	mux.HandleFunc("/api/v1/friends", app.apiFriends)
	mux.HandleFunc("/api/v1/friends/add", app.apiFriendAdd)
	mux.HandleFunc("/api/v1/friends/accept", app.apiFriendAccept)
	mux.HandleFunc("/api/v1/friends/decline", app.apiFriendDecline)
	mux.HandleFunc("/api/v1/friends/remove", app.apiFriendRemove)
	mux.HandleFunc("/api/v1/friends/pending", app.apiFriendPending)

	standard := alice.New(logRequest)
	return standard.Then(mux)
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s %s", r.RemoteAddr, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
