// Package taxonomy rewrites report species names between taxonomy
// generations using conditional, region- and month-scoped mapping rules.
package taxonomy

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/CKRainbow/commonBird/internal/birdreport"
	"github.com/CKRainbow/commonBird/internal/errors"
	"github.com/CKRainbow/commonBird/internal/location"
)

// taiwanProvince triggers the administrative exception: reports there carry
// the meaningful region in the city field, so scope comparison uses the city.
const taiwanProvince = "台湾省"

// Candidate is one conditional rewrite target. A candidate with neither a
// region scope nor a month scope always matches.
type Candidate struct {
	Name string   `json:"name"`
	Loc  LocScope `json:"loc,omitempty"`
	Time string   `json:"time,omitempty"`
}

// LocScope is a list of province or "province-city" tokens. The upstream map
// writes single-entry scopes as bare strings.
type LocScope []string

func (l *LocScope) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = LocScope{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = LocScope(many)
	return nil
}

// Rule is the ordered candidate list for one source scientific name. A bare
// string value in the map JSON is an unconditional single-candidate rule.
type Rule []Candidate

func (r *Rule) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*r = Rule{{Name: name}}
		return nil
	}
	var candidates []Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return err
	}
	*r = Rule(candidates)
	return nil
}

// Map holds conversion rules keyed by source scientific name.
type Map map[string]Rule

// LoadMap reads a conversion map from a JSON file and validates every month
// scope up front, so a malformed scope fails the load instead of silently
// never matching.
func LoadMap(path string) (Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("taxonomy").
			Build()
	}

	var m Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Component("taxonomy").
			Build()
	}

	for source, rule := range m {
		for _, cand := range rule {
			if cand.Time == "" {
				continue
			}
			if _, err := parseMonthScope(cand.Time); err != nil {
				return nil, errors.Newf("rule %q candidate %q: %w", source, cand.Name, err).
					Category(errors.CategoryValidation).
					Context("path", path).
					Component("taxonomy").
					Build()
			}
		}
	}

	return m, nil
}

// parseMonthScope parses a comma-separated list of months and dash-ranges,
// e.g. "1-3,5,9-12". A range with start greater than end wraps the year
// boundary ("11-2" covers Nov through Feb).
func parseMonthScope(scope string) (map[int]bool, error) {
	months := make(map[int]bool)
	for _, part := range strings.Split(scope, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, isRange := strings.Cut(part, "-"); isRange {
			start, err1 := parseMonth(from)
			end, err2 := parseMonth(to)
			if err1 != nil {
				return nil, err1
			}
			if err2 != nil {
				return nil, err2
			}
			if start <= end {
				for m := start; m <= end; m++ {
					months[m] = true
				}
			} else {
				for m := start; m <= 12; m++ {
					months[m] = true
				}
				for m := 1; m <= end; m++ {
					months[m] = true
				}
			}
			continue
		}
		month, err := parseMonth(part)
		if err != nil {
			return nil, err
		}
		months[month] = true
	}
	return months, nil
}

func parseMonth(s string) (int, error) {
	month, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || month < 1 || month > 12 {
		return 0, errors.Newf("invalid month %q", s).
			Category(errors.CategoryValidation).
			Component("taxonomy").
			Build()
	}
	return month, nil
}

// regionToken computes the value a region scope compares against: the full
// province name, except in Taiwan where the city carries the meaningful
// division.
func regionToken(report *birdreport.Report) string {
	province := location.ExpandProvince(report.ProvinceName)
	if province == taiwanProvince {
		return report.CityName
	}
	return province
}

// matches reports whether the candidate's scopes accept the report.
func (c *Candidate) matches(report *birdreport.Report) bool {
	if len(c.Loc) > 0 {
		token := regionToken(report)
		full := location.ExpandProvince(report.ProvinceName) + "-" + report.CityName
		matched := false
		for _, raw := range c.Loc {
			entry := expandScopeEntry(raw)
			if entry == token || entry == full {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if c.Time != "" {
		months, err := parseMonthScope(c.Time)
		if err != nil {
			return false
		}
		if !months[report.StartMonth()] {
			return false
		}
	}

	return true
}

// expandScopeEntry normalizes the province part of a scope token, which may
// use an abbreviated province name.
func expandScopeEntry(entry string) string {
	if province, city, ok := strings.Cut(entry, "-"); ok {
		return location.ExpandProvince(province) + "-" + city
	}
	return location.ExpandProvince(entry)
}

// Converter applies a conversion map to reports.
type Converter struct {
	rules Map
}

// NewConverter returns a converter over the given rules.
func NewConverter(rules Map) *Converter {
	return &Converter{rules: rules}
}

// ConvertReport rewrites observation scientific names in place using the
// first matching candidate per observation. Reports still on the old
// generation are left untouched and surfaced as a warning, since they need
// the two-stage migration first. The returned warnings are human-readable
// and safe to display.
func (c *Converter) ConvertReport(report *birdreport.Report) []string {
	if report.Version == birdreport.TaxonVersionG3 {
		return []string{"report " + report.SerialID + " uses the old taxonomy generation, convert it to the current generation first"}
	}

	var warnings []string
	for i := range report.Observations {
		obs := &report.Observations[i]
		// Platform data carries stray whitespace around names.
		name := strings.TrimSpace(obs.ScientificName)
		rule, ok := c.rules[name]
		if !ok {
			continue
		}
		converted := false
		for _, cand := range rule {
			if cand.matches(report) {
				obs.ScientificName = cand.Name
				converted = true
				break
			}
		}
		if !converted {
			warnings = append(warnings, "no candidate matched for "+name+" in report "+report.SerialID)
		}
	}
	return warnings
}
