package main

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// jsonResponse returns a JSON response
func jsonResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// userParam pulls the caller-supplied user identity from the query. The
// presentation layer in front of this service owns authentication; here
// the identity is just a key.
func userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := r.URL.Query().Get("user")
	if user == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing user parameter"})
		return "", false
	}
	return user, true
}

func limitParam(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (app *application) apiUserStats(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}

	userStats, err := app.stats.UserStats(user)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if userStats == nil {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "no listening history"})
		return
	}

	jsonResponse(w, http.StatusOK, userStats)
}

func (app *application) apiHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}

	records, err := app.database.GetRecentRecords(user, limitParam(r, 50))
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, records)
}

func (app *application) apiTopArtists(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}

	artists, err := app.stats.TopArtists(user, limitParam(r, 10))
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, artists)
}

func (app *application) apiTopTracks(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}

	tracks, err := app.stats.TopTracks(user, limitParam(r, 10))
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, tracks)
}

func (app *application) apiTrends(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}

	trends, err := app.stats.Trends(user)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, trends)
}

func (app *application) apiAchievements(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}

	achievements, err := app.stats.Achievements(user)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, achievements)
}

func (app *application) apiCompare(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	other := r.URL.Query().Get("other")
	if other == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing other parameter"})
		return
	}

	comparison, err := app.stats.Compare(user, other)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, comparison)
}

// Friends handlers

func friendParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	user, ok := userParam(w, r)
	if !ok {
		return "", "", false
	}
	friend := r.URL.Query().Get("friend")
	if friend == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing friend parameter"})
		return "", "", false
	}
	return user, friend, true
}

func (app *application) apiFriends(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}

	friends, err := app.database.GetFriends(user)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, friends)
}

func (app *application) apiFriendPending(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}

	pending, err := app.database.GetPendingRequests(user)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, pending)
}

func (app *application) apiFriendAdd(w http.ResponseWriter, r *http.Request) {
	user, friend, ok := friendParams(w, r)
	if !ok {
		return
	}

	if err := app.database.AddFriend(user, friend); err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"status": "pending"})
}

func (app *application) apiFriendAccept(w http.ResponseWriter, r *http.Request) {
	user, friend, ok := friendParams(w, r)
	if !ok {
		return
	}

	if err := app.database.AcceptFriend(user, friend); err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (app *application) apiFriendDecline(w http.ResponseWriter, r *http.Request) {
	user, friend, ok := friendParams(w, r)
	if !ok {
		return
	}

	if err := app.database.DeclineFriend(user, friend); err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (app *application) apiFriendRemove(w http.ResponseWriter, r *http.Request) {
	user, friend, ok := friendParams(w, r)
	if !ok {
		return
	}

	if err := app.database.RemoveFriend(user, friend); err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"status": "removed"})
}
