package export

import (
	"encoding/csv"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CKRainbow/commonBird/internal/birdreport"
)

func ptr[T any](v T) *T { return &v }

func sampleReport() birdreport.Report {
	return birdreport.Report{
		ID:           1,
		SerialID:     "CB24051001",
		StartTime:    "2024-05-10 08:00:00",
		EndTime:      "2024-05-10 10:30:00",
		PointName:    "世纪公园",
		Lat:          "31.21",
		Lng:          "121.55",
		ProvinceName: "上海市",
		Version:      birdreport.TaxonVersionCH4,
		Note:         "morning walk\nwith rain",
		Observations: []birdreport.Observation{
			{ScientificName: "Pycnonotus sinensis", CommonName: "白头鹎", Count: 3, Note: "singing"},
			{ScientificName: "Passer montanus", CommonName: "麻雀", Count: 12},
		},
	}
}

func TestFormatReportsRowShape(t *testing.T) {
	t.Parallel()

	f := NewFormatter(nil)
	chunks := f.FormatReports([]birdreport.Report{sampleReport()})
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0], 2)

	row := chunks[0][0]
	require.Len(t, row, len(Header))

	assert.Equal(t, "", row[0], "common name blank without a lookup table")
	assert.Equal(t, "Pycnonotus", row[1])
	assert.Equal(t, "sinensis", row[2])
	assert.Equal(t, "3", row[3])
	assert.Equal(t, "singing", row[4])
	assert.Equal(t, "世纪公园", row[5])
	assert.Equal(t, "31.21", row[6])
	assert.Equal(t, "121.55", row[7])
	assert.Equal(t, "05/10/2024", row[8])
	assert.Equal(t, "08:00", row[9])
	assert.Equal(t, "CN-31", row[10])
	assert.Equal(t, "CN", row[11])
	assert.Equal(t, "stationary", row[12])
	assert.Equal(t, "1", row[13])
	assert.Equal(t, "150", row[14])
	assert.Equal(t, "Y", row[15])
	assert.Equal(t, "", row[16])
	assert.Equal(t, "", row[17])
	assert.Equal(t, "morning walk\\nwith rain\\n"+provenancePrefix+"CB24051001", row[18])
}

func TestFormatReportsCommonNameLookup(t *testing.T) {
	t.Parallel()

	f := NewFormatter(SpeciesNameTable{
		"Pycnonotus sinensis": "Light-vented Bulbul",
	})
	chunks := f.FormatReports([]birdreport.Report{sampleReport()})
	require.Len(t, chunks[0], 2)

	// Table hit: common name set, split columns blank.
	assert.Equal(t, "Light-vented Bulbul", chunks[0][0][0])
	assert.Equal(t, "", chunks[0][0][1])
	assert.Equal(t, "", chunks[0][0][2])

	// Table miss falls back to the binomial split.
	assert.Equal(t, "", chunks[0][1][0])
	assert.Equal(t, "Passer", chunks[0][1][1])
	assert.Equal(t, "montanus", chunks[0][1][2])
}

func TestFormatReportsDoubledNameQuirk(t *testing.T) {
	t.Parallel()

	f := NewFormatter(SpeciesNameTable{doubledNameSpecies: "Swinhoe's White-eye"})
	r := sampleReport()
	r.Observations = []birdreport.Observation{
		{ScientificName: doubledNameSpecies, Count: 2},
	}

	chunks := f.FormatReports([]birdreport.Report{r})
	assert.Equal(t, "Swinhoe's White-eyeSwinhoe's White-eye", chunks[0][0][0])
}

func TestFormatReportsIndeterminateCount(t *testing.T) {
	t.Parallel()

	f := NewFormatter(nil)

	// All counts are 1 and no exactness flag: presence-only.
	r := sampleReport()
	r.Observations = []birdreport.Observation{
		{ScientificName: "Passer montanus", Count: 1},
		{ScientificName: "Pycnonotus sinensis", Count: 1},
	}
	chunks := f.FormatReports([]birdreport.Report{r})
	assert.Equal(t, "X", chunks[0][0][3])
	assert.Equal(t, "X", chunks[0][1][3])

	// Explicit exactness flag wins over the heuristic.
	r.RealQuantity = ptr(1)
	chunks = f.FormatReports([]birdreport.Report{r})
	assert.Equal(t, "1", chunks[0][0][3])
}

func TestFormatReportsIncompleteChecklist(t *testing.T) {
	t.Parallel()

	f := NewFormatter(nil)
	r := sampleReport()
	r.EyeAllBirds = ptr("")

	chunks := f.FormatReports([]birdreport.Report{r})
	assert.Equal(t, "N", chunks[0][0][15])
}

func TestFormatReportsDurationClamp(t *testing.T) {
	t.Parallel()

	f := NewFormatter(nil)
	r := sampleReport()
	r.EndTime = "2024-05-13 08:00:00"

	chunks := f.FormatReports([]birdreport.Report{r})
	assert.Equal(t, "1440", chunks[0][0][14])

	r.EndTime = r.StartTime
	chunks = f.FormatReports([]birdreport.Report{r})
	assert.Equal(t, "1", chunks[0][0][14])
}

func TestDeriveRegionSpecialAdministrativeRegion(t *testing.T) {
	t.Parallel()

	country, state := deriveRegion("香港特别行政区")
	assert.Equal(t, "HK", country)
	assert.Equal(t, "HK-", state)

	country, state = deriveRegion("上海市")
	assert.Equal(t, "CN", country)
	assert.Equal(t, "CN-31", state)

	country, state = deriveRegion("月球")
	assert.Equal(t, "CN", country)
	assert.Equal(t, "", state)
}

func TestFormatReportsChunkBoundary(t *testing.T) {
	t.Parallel()

	// 8001 rows must split into exactly 4000, 4000, 1.
	obs := make([]birdreport.Observation, 3)
	for i := range obs {
		obs[i] = birdreport.Observation{ScientificName: "Passer montanus", Count: 1}
	}

	reports := make([]birdreport.Report, 2667)
	for i := range reports {
		reports[i] = sampleReport()
		reports[i].Observations = obs
	}
	// 2667*3 = 8001
	f := NewFormatter(nil)
	chunks := f.FormatReports(reports)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 4000)
	assert.Len(t, chunks[1], 4000)
	assert.Len(t, chunks[2], 1)
}

func TestWriteChunksHeaderlessFiles(t *testing.T) {
	t.Parallel()

	f := NewFormatter(nil)
	chunks := f.FormatReports([]birdreport.Report{sampleReport()})

	dir := t.TempDir()
	paths, err := WriteChunks(dir, "watcher", "2024-05-31", chunks)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.True(t, strings.HasSuffix(paths[0], "watcher_2024-05-31_checklists_0.csv"))

	file, err := os.Open(paths[0])
	require.NoError(t, err)
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2, "no header row expected")
	assert.Equal(t, "Pycnonotus", records[0][1])
}

func TestFormatReportsEmptySelectionWritesNothing(t *testing.T) {
	t.Parallel()

	f := NewFormatter(nil)
	chunks := f.FormatReports(nil)
	assert.Empty(t, chunks)

	dir := t.TempDir()
	paths, err := WriteChunks(dir, "watcher", "2024-05-31", chunks)
	require.NoError(t, err)
	assert.Empty(t, paths)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
