package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wren-fm/wren/config"
	"github.com/wren-fm/wren/db"
	"github.com/wren-fm/wren/oauth"
	"github.com/wren-fm/wren/service/spotify"
	"github.com/wren-fm/wren/service/stats"
	"github.com/wren-fm/wren/service/tracker"
)

type application struct {
	database     *db.DB
	oauthManager *oauth.OAuthServiceManager
	tracker      *tracker.Tracker
	stats        *stats.Service
}

func main() {
	config.Load()

	// create data folder if not exists
	os.MkdirAll("./data", 0755)

	database, err := db.New(viper.GetString("db.path"))
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}

	if err := database.Initialize(); err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}

	spotifyService := spotify.NewService(
		viper.GetString("spotify.client_id"),
		viper.GetString("spotify.client_secret"),
	)

	trackerInterval := time.Duration(viper.GetInt("tracker.interval")) * time.Second
	cooldown := time.Duration(viper.GetInt("tracker.cooldown_seconds")) * time.Second
	trackerService := tracker.New(database, database, spotifyService, trackerInterval, cooldown)

	oauthManager := oauth.NewOAuthServiceManager()
	spotifyOAuth := oauth.NewOAuth2Service(
		viper.GetString("spotify.client_id"),
		viper.GetString("spotify.client_secret"),
		viper.GetString("callback.spotify"),
		strings.Fields(viper.GetString("spotify.scopes")),
		"spotify",
		database,
		trackerService,
	)
	oauthManager.RegisterService("spotify", spotifyOAuth)

	app := &application{
		database:     database,
		oauthManager: oauthManager,
		tracker:      trackerService,
		stats:        stats.NewService(database),
	}

	// resume tracking for everyone who has ever authorized
	if err := trackerService.InitializeFromStore(); err != nil {
		log.Printf("Warning: Failed to preload users: %v", err)
	}
	trackerService.Start()

	serverAddr := fmt.Sprintf("%s:%s", viper.GetString("server.host"), viper.GetString("server.port"))
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	fmt.Printf("Server running at: http://%s\n", serverAddr)
	log.Fatal(server.ListenAndServe())
}
