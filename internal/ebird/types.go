// Package ebird provides a client for the eBird API 2.0 and local snapshot
// storage for hotspot data used by location resolution.
package ebird

import "time"

// Config holds eBird API client configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	CacheTTL    time.Duration
	RateLimitMS int
	Locale      string
}

// DefaultConfig returns the default eBird API configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.ebird.org/v2",
		Timeout:     30 * time.Second,
		CacheTTL:    24 * time.Hour,
		RateLimitMS: 100,
		Locale:      "zh_SIM",
	}
}

// Hotspot is one eBird hotspot location.
type Hotspot struct {
	LocID            string  `json:"locId"`
	Name             string  `json:"locName"`
	CountryCode      string  `json:"countryCode"`
	Subnational1Code string  `json:"subnational1Code"`
	Subnational2Code string  `json:"subnational2Code,omitempty"`
	Latitude         float64 `json:"lat"`
	Longitude        float64 `json:"lng"`
}

// Region is one entry of the eBird region hierarchy.
type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// TaxonomyEntry is one species of the eBird/Clements taxonomy.
type TaxonomyEntry struct {
	ScientificName string `json:"sciName"`
	CommonName     string `json:"comName"`
	SpeciesCode    string `json:"speciesCode"`
	Category       string `json:"category"`
	Order          string `json:"order"`
	FamilySciName  string `json:"familySciName,omitempty"`
	FamilyComName  string `json:"familyComName,omitempty"`
}

// Error is the eBird API error response shape.
type Error struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}
