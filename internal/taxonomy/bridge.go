package taxonomy

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/CKRainbow/commonBird/internal/birdreport"
	"github.com/CKRainbow/commonBird/internal/errors"
)

// BridgeEntry is the current-generation identity of a species keyed by its
// old-generation common name. Common names are the stable join key across
// the generation gap; scientific names were heavily reshuffled.
type BridgeEntry struct {
	CommonName     string `json:"name"`
	ScientificName string `json:"latinname"`
}

// Bridge maps old-generation common names to current-generation entries.
type Bridge map[string]BridgeEntry

// LoadBridge reads a generation bridge table from a JSON file.
func LoadBridge(path string) (Bridge, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("taxonomy").
			Build()
	}

	var b Bridge
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Component("taxonomy").
			Build()
	}
	return b, nil
}

// UpgradeReport migrates an old-generation report to the current generation
// in place. Observations whose common name has no bridge entry keep their
// old identity and produce a warning; the report version advances regardless
// so the scoped converter can run afterwards.
func (b Bridge) UpgradeReport(report *birdreport.Report) []string {
	if report.Version != birdreport.TaxonVersionG3 {
		return nil
	}

	var warnings []string
	for i := range report.Observations {
		obs := &report.Observations[i]
		entry, ok := b[strings.TrimSpace(obs.CommonName)]
		if !ok {
			warnings = append(warnings, "no bridge entry for "+obs.CommonName+" in report "+report.SerialID)
			continue
		}
		obs.CommonName = entry.CommonName
		obs.ScientificName = entry.ScientificName
	}

	report.Version = birdreport.TaxonVersionCH4
	return warnings
}
