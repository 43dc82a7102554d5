package collector

import (
	"math/rand"
	"net/http"
)

// headerProfile is the browser fingerprint sent alongside each search call.
// The search endpoint is called by the site's own page script, so the
// profiles describe same-origin fetches rather than top-level navigations.
type headerProfile struct {
	UserAgent       string
	AcceptLanguage  string
	SecChUa         string
	SecChUaMobile   string
	SecChUaPlatform string
}

var browserProfiles = []headerProfile{
	{
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"macOS"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Windows"`,
	},
	{
		// Safari does not send client hints.
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
		AcceptLanguage: "en-US,en;q=0.9",
	},
}

// pickProfile returns a random profile. One profile is used for every page of
// a term so a paginated walk looks like a single browser session.
func pickProfile() headerProfile {
	return browserProfiles[rand.Intn(len(browserProfiles))]
}

// apply sets the fingerprint headers on req. Accept-Encoding is left to the
// transport so responses are still decompressed transparently.
func (p headerProfile) apply(req *http.Request, origin string) {
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept-Language", p.AcceptLanguage)
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	if origin != "" {
		req.Header.Set("Origin", origin)
		req.Header.Set("Referer", origin+"/")
	}
	if p.SecChUa != "" {
		req.Header.Set("Sec-Ch-Ua", p.SecChUa)
		req.Header.Set("Sec-Ch-Ua-Mobile", p.SecChUaMobile)
		req.Header.Set("Sec-Ch-Ua-Platform", p.SecChUaPlatform)
	}
}
