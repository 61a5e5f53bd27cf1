package source

import (
	"fmt"
	"net/url"
)

const (
	// BaseURL is the upstream web API root.
	BaseURL = "https://www.instagram.com"

	profileInfoPath = "/api/v1/users/web_profile_info/"
)

// ProfileFeedURL builds the ranked-feed endpoint for a username.
func ProfileFeedURL(username string) string {
	return fmt.Sprintf("%s%s?username=%s", BaseURL, profileInfoPath, url.QueryEscape(username))
}
