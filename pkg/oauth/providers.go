package oauth

import (
	"sort"
	"strings"
)

// Provider is a well-known authorization server. There is no behavioral
// difference between providers beyond their URLs.
type Provider struct {
	Name         string
	AuthorizeURL string
	TokenURL     string
}

var knownProviders = map[string]Provider{
	"gandi": {
		Name:         "Gandi",
		AuthorizeURL: "https://id.gandi.net/authorize",
		TokenURL:     "https://id.gandi.net/token",
	},
	"github": {
		Name:         "Github",
		AuthorizeURL: "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
	},
	"google": {
		Name:         "Google",
		AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://www.googleapis.com/oauth2/v4/token",
	},
}

// LookupProvider finds a known provider by case-insensitive key
func LookupProvider(name string) (Provider, bool) {
	p, ok := knownProviders[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// ProviderKeys returns the lookup keys of all known providers, sorted
func ProviderKeys() []string {
	keys := make([]string, 0, len(knownProviders))
	for k := range knownProviders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
