// Package region holds the FordPass market catalogue: the application id, locale and
// country code each backend call needs for a given account region.
package region

import (
	"fmt"
	"sort"
)

// Application ids per market. North America is shared by the US, Canada and Mexico.
const (
	AppIDAfrica       = "71AA9ED7-B26B-4C15-835E-9F35CC238561"
	AppIDAsiaPacific  = "39CD6590-B1B9-42CB-BEF9-0DC1FDB96260"
	AppIDEurope       = "667D773E-1BDC-4139-8AD0-2B16474E8DC7"
	AppIDNorthAmerica = "BFE8C5ED-D687-4C19-A5DD-F92CDFC4503A"
	AppIDSouthAmerica = "C1DFFEF5-5BA5-486A-9054-8B39A9DF9AFC"

	AppIDLincolnNorthAmerica = "45133B88-0671-4AAF-B8D1-99E684ED4E45"
)

const (
	// OAuthID is the tenant id of the FordPass identity provider.
	OAuthID = "4566605f-43a7-400a-946e-89cc9fdb0bd7"
	// ClientID is the public client id of the FordPass app.
	ClientID = "09852200-05fd-41f6-8c21-d36d3497dc64"

	DefaultFord    = "rest_of_world"
	DefaultLincoln = "lincoln_usa"
)

// Region describes one account market.
type Region struct {
	Key            string
	AppID          string
	Locale         string
	LoginURL       string
	CountryCode    string
	SignUpAddon    string
	RedirectSchema string
	// Legacy marks keys kept only so that old configurations keep working.
	Legacy bool
}

var regions = map[string]Region{
	"lincoln_usa": {AppID: AppIDLincolnNorthAmerica, Locale: "en-US", LoginURL: "https://login.lincoln.com", CountryCode: "USA", SignUpAddon: "Lincoln_", RedirectSchema: "lincolnapp"},

	"deu":            {AppID: AppIDEurope, Locale: "de-DE", LoginURL: "https://login.ford.de", CountryCode: "DEU"},
	"fra":            {AppID: AppIDEurope, Locale: "fr-FR", LoginURL: "https://login.ford.com", CountryCode: "FRA"},
	"ita":            {AppID: AppIDEurope, Locale: "it-IT", LoginURL: "https://login.ford.com", CountryCode: "ITA"},
	"esp":            {AppID: AppIDEurope, Locale: "es-ES", LoginURL: "https://login.ford.com", CountryCode: "ESP"},
	"nld":            {AppID: AppIDEurope, Locale: "nl-NL", LoginURL: "https://login.ford.com", CountryCode: "NLD"},
	"gbr":            {AppID: AppIDEurope, Locale: "en-GB", LoginURL: "https://login.ford.co.uk", CountryCode: "GBR"},
	"rest_of_europe": {AppID: AppIDEurope, Locale: "en-GB", LoginURL: "https://login.ford.com", CountryCode: "GBR"},

	"can": {AppID: AppIDNorthAmerica, Locale: "en-CA", LoginURL: "https://login.ford.com", CountryCode: "CAN"},
	"mex": {AppID: AppIDNorthAmerica, Locale: "es-MX", LoginURL: "https://login.ford.com", CountryCode: "MEX"},
	"usa": {AppID: AppIDNorthAmerica, Locale: "en-US", LoginURL: "https://login.ford.com", CountryCode: "USA"},

	"bra": {AppID: AppIDSouthAmerica, Locale: "pt-BR", LoginURL: "https://login.ford.com", CountryCode: "BRA"},
	"arg": {AppID: AppIDSouthAmerica, Locale: "es-AR", LoginURL: "https://login.ford.com", CountryCode: "ARG"},

	"aus": {AppID: AppIDAsiaPacific, Locale: "en-AU", LoginURL: "https://login.ford.com", CountryCode: "AUS"},
	"nzl": {AppID: AppIDAsiaPacific, Locale: "en-NZ", LoginURL: "https://login.ford.com", CountryCode: "NZL"},

	"zaf": {AppID: AppIDAfrica, Locale: "en-ZA", LoginURL: "https://login.ford.com", CountryCode: "ZAF"},

	"rest_of_world": {AppID: AppIDNorthAmerica, Locale: "en-US", LoginURL: "https://login.ford.com", CountryCode: "USA"},

	"Netherlands": {AppID: "1E8C7794-FF5F-49BC-9596-A1E0C86C5B19", Locale: "nl-NL", LoginURL: "https://login.ford.nl", CountryCode: "NLD", Legacy: true},
	"UK&Europe":   {AppID: "1E8C7794-FF5F-49BC-9596-A1E0C86C5B19", Locale: "en-GB", LoginURL: "https://login.ford.co.uk", CountryCode: "GBR", Legacy: true},
	"Australia":   {AppID: "5C80A6BB-CF0D-4A30-BDBF-FC804B5C1A98", Locale: "en-AU", LoginURL: "https://login.ford.com", CountryCode: "AUS", Legacy: true},
	"USA":         {AppID: "71A3AD0A-CF46-4CCF-B473-FC7FE5BC4592", Locale: "en-US", LoginURL: "https://login.ford.com", CountryCode: "USA", Legacy: true},
	"Canada":      {AppID: "71A3AD0A-CF46-4CCF-B473-FC7FE5BC4592", Locale: "en-CA", LoginURL: "https://login.ford.com", CountryCode: "USA", Legacy: true},
}

// Lookup returns the region registered under key.
func Lookup(key string) (Region, error) {
	r, ok := regions[key]
	if !ok {
		return Region{}, fmt.Errorf("unknown region %q", key)
	}
	r.Key = key
	if r.RedirectSchema == "" {
		r.RedirectSchema = "fordapp"
	}
	return r, nil
}

// Keys returns the sorted region keys. Legacy keys are included only when withLegacy is set.
func Keys(withLegacy bool) []string {
	keys := make([]string, 0, len(regions))
	for k, r := range regions {
		if r.Legacy && !withLegacy {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
