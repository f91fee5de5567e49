package spotify

// Wire types for the Spotify Web API responses we consume. Only the
// fields the tracker needs are mapped; the rest of the schema is opaque.

type currentlyPlayingResponse struct {
	Item       *playingItem `json:"item"`
	ProgressMs int64        `json:"progress_ms"`
	IsPlaying  bool         `json:"is_playing"`
}

type playingItem struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	DurationMs int64 `json:"duration_ms"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
