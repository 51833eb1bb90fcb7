// Package export renders converted reports into eBird record-format CSV
// chunks.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CKRainbow/commonBird/internal/birdreport"
	"github.com/CKRainbow/commonBird/internal/errors"
	"github.com/CKRainbow/commonBird/internal/location"
)

// chunkSize is the maximum row count per output file; eBird's importer
// rejects larger uploads.
const chunkSize = 4000

// protocol is the fixed eBird protocol for imported checklists.
const protocol = "stationary"

// provenancePrefix opens the checklist-comment suffix naming the source
// report.
const provenancePrefix = "Converted from BirdReport CN, report ID: "

// doubledNameSpecies is the one species whose looked-up common name is
// written twice in a row. Upstream export data carries this literal
// duplication and importers key on it, so it is reproduced verbatim.
const doubledNameSpecies = "Zosterops japonicus"

// Header lists the 19 output columns for reference. It is never written to
// the data files; the eBird record format is headerless.
var Header = []string{
	"Common Name", "Genus", "Species", "Species Count", "Species Comments",
	"Location Name", "Latitude", "Longitude", "Observation Date", "Start Time",
	"State", "Country", "Protocol", "Number of Observers", "Duration",
	"All Observations Reported", "Distance", "Area", "Checklist Comments",
}

// SpeciesNameTable maps scientific names to target-platform common names.
// When present, rows carry the common name instead of the genus/species
// split.
type SpeciesNameTable map[string]string

// Chunk is one output file's worth of rows.
type Chunk [][]string

// Formatter renders reports to CSV rows.
type Formatter struct {
	names SpeciesNameTable
}

// NewFormatter returns a formatter. names may be nil, in which case rows use
// the genus/species split with a blank common name.
func NewFormatter(names SpeciesNameTable) *Formatter {
	return &Formatter{names: names}
}

// FormatReports renders one row per (report, observation) pair, split into
// chunks of at most chunkSize rows. No rows means no chunks, so nothing gets
// written for an empty selection.
func (f *Formatter) FormatReports(reports []birdreport.Report) []Chunk {
	var chunks []Chunk

	for i := range reports {
		for _, row := range f.reportRows(&reports[i]) {
			if len(chunks) == 0 || len(chunks[len(chunks)-1]) >= chunkSize {
				chunks = append(chunks, Chunk{})
			}
			chunks[len(chunks)-1] = append(chunks[len(chunks)-1], row)
		}
	}

	return chunks
}

func (f *Formatter) reportRows(report *birdreport.Report) [][]string {
	observationDate, startTime := formatStartTime(report.StartTime)
	duration := strconv.Itoa(report.DurationMinutes())
	country, state := deriveRegion(report.ProvinceName)

	allReported := "N"
	if report.AllObserved() {
		allReported = "Y"
	}
	exact := report.QuantityExact()

	checklistComment := escapeNewlines(report.Note)
	if checklistComment != "" {
		checklistComment += "\\n"
	}
	checklistComment += provenancePrefix + report.SerialID

	rows := make([][]string, 0, len(report.Observations))
	for i := range report.Observations {
		obs := &report.Observations[i]

		commonName, genus, species := f.speciesColumns(obs.ScientificName)

		count := strconv.Itoa(obs.Count)
		if !exact {
			count = "X"
		}

		rows = append(rows, []string{
			commonName,
			genus,
			species,
			count,
			escapeNewlines(obs.Note),
			report.PointName,
			report.Lat,
			report.Lng,
			observationDate,
			startTime,
			state,
			country,
			protocol,
			"1",
			duration,
			allReported,
			"",
			"",
			checklistComment,
		})
	}
	return rows
}

// speciesColumns resolves the common-name column via the lookup table when
// one is loaded, falling back to the genus/species binomial split.
func (f *Formatter) speciesColumns(scientificName string) (commonName, genus, species string) {
	if f.names != nil {
		if name, ok := f.names[scientificName]; ok {
			if scientificName == doubledNameSpecies {
				name += name
			}
			return name, "", ""
		}
	}

	parts := strings.Fields(scientificName)
	if len(parts) == 0 {
		return "", "", ""
	}
	return "", parts[0], strings.Join(parts[1:], " ")
}

// deriveRegion resolves a province to the (country, state) code pair. A
// trailing-dash region code means no subdivision exists: the country is the
// code without the dash and the state keeps the full form.
func deriveRegion(province string) (country, state string) {
	code, ok := location.RegionCode(province)
	if !ok {
		return "CN", ""
	}
	if !strings.Contains(code, "-") {
		code += "-"
	}
	if strings.HasSuffix(code, "-") {
		return strings.TrimSuffix(code, "-"), code
	}
	return code[:strings.Index(code, "-")], code
}

// formatStartTime renders a platform timestamp as the eBird date and time
// columns. Unparseable timestamps produce empty columns rather than failing
// the whole export.
func formatStartTime(startTime string) (observationDate, clock string) {
	t, err := time.Parse("2006-01-02 15:04:05", startTime)
	if err != nil {
		return "", ""
	}
	return t.Format("01/02/2006"), t.Format("15:04")
}

// escapeNewlines rewrites literal newlines as the two-character sequence the
// import format expects inside a CSV field.
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// WriteChunks writes each chunk as a headerless UTF-8 CSV file named
// <account>_<asOfDate>_checklists_<index>.csv under dir. It returns the
// written file paths.
func WriteChunks(dir, account, asOfDate string, chunks []Chunk) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Component("export").
			Build()
	}

	paths := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s_checklists_%d.csv", account, asOfDate, i))
		if err := writeChunk(path, chunk); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeChunk(path string, chunk Chunk) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("export").
			Build()
	}
	defer func() {
		_ = file.Close()
	}()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(chunk); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("export").
			Build()
	}
	return nil
}
