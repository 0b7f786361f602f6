package service

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/crosspost/internal/models"
)

// Endpoints are the API roots the adapters call. Tests point them at local
// servers.
type Endpoints struct {
	Graph         string
	Twitter       string
	TwitterUpload string
	LinkedIn      string
	YouTube       string // empty keeps the client library default
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Graph:         "https://graph.facebook.com",
		Twitter:       "https://api.twitter.com",
		TwitterUpload: "https://upload.twitter.com",
		LinkedIn:      "https://api.linkedin.com",
	}
}

// graphAPI addresses one version of the Facebook Graph API.
type graphAPI struct {
	base    string
	version string
	client  *apiClient
}

func newGraphAPI(base, version string, platform models.Platform, hc *http.Client) *graphAPI {
	return &graphAPI{
		base:    strings.TrimRight(base, "/"),
		version: version,
		client:  newAPIClient(platform, hc),
	}
}

func (g *graphAPI) url(path string, params url.Values) string {
	u := fmt.Sprintf("%s/%s/%s", g.base, g.version, strings.TrimLeft(path, "/"))
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}
