package models

import "fmt"

// Platform is one of the closed set of networks a post can be published to.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformYoutube   Platform = "youtube"
)

// Platforms lists every supported platform in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformFacebook, PlatformInstagram, PlatformTwitter, PlatformLinkedIn, PlatformYoutube}
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformFacebook, PlatformInstagram, PlatformTwitter, PlatformLinkedIn, PlatformYoutube:
		return true
	}
	return false
}

func (p Platform) String() string { return string(p) }

func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}
