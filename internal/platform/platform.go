// Package platform maps meeting URLs to conferencing platforms. Unsupported
// platforms are recognised but rejected so the facade can fail fast before
// any browser work starts.
package platform

import (
	"fmt"
	"net/url"
	"strings"
)

// Platform identifies a conferencing platform.
type Platform string

const (
	PlatformNone       Platform = ""
	PlatformGoogleMeet Platform = "google_meet"
	PlatformTeams      Platform = "teams"
	PlatformZoom       Platform = "zoom"
)

// hostHints maps URL host substrings to platforms.
var hostHints = []struct {
	hint     string
	platform Platform
}{
	{"meet.google.com", PlatformGoogleMeet},
	{"teams.microsoft.com", PlatformTeams},
	{"teams.live.com", PlatformTeams},
	{"zoom.us", PlatformZoom},
}

// supported lists the platforms this build can drive.
var supported = map[Platform]bool{
	PlatformGoogleMeet: true,
}

// Detect parses rawURL and returns the platform it belongs to.
// A URL that parses but matches no known platform yields PlatformNone
// with an error.
func Detect(rawURL string) (Platform, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return PlatformNone, fmt.Errorf("platform: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return PlatformNone, fmt.Errorf("platform: unsupported scheme %q in %q", u.Scheme, rawURL)
	}

	host := strings.ToLower(u.Hostname())
	for _, h := range hostHints {
		if host == h.hint || strings.HasSuffix(host, "."+h.hint) {
			return h.platform, nil
		}
	}
	return PlatformNone, fmt.Errorf("platform: no known platform for host %q", host)
}

// Supported reports whether this build can drive p.
func Supported(p Platform) bool {
	return supported[p]
}

// Validate detects the platform for rawURL and fails unless it is supported.
func Validate(rawURL string) (Platform, error) {
	p, err := Detect(rawURL)
	if err != nil {
		return PlatformNone, err
	}
	if !Supported(p) {
		return p, fmt.Errorf("platform: %s is recognised but not supported", p)
	}
	return p, nil
}
