package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CKRainbow/commonBird/internal/birdreport"
)

func writeTempJSON(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMapStringAndListValues(t *testing.T) {
	t.Parallel()

	path := writeTempJSON(t, `{
		"Motacilla alba": "Motacilla alba",
		"Larus canus": [
			{"name": "Larus kamtschatschensis", "loc": ["山东省"], "time": "3-5"},
			{"name": "Larus canus"}
		]
	}`)

	m, err := LoadMap(path)
	require.NoError(t, err)

	require.Len(t, m["Motacilla alba"], 1)
	assert.Equal(t, "Motacilla alba", m["Motacilla alba"][0].Name)

	require.Len(t, m["Larus canus"], 2)
	assert.Equal(t, LocScope{"山东省"}, m["Larus canus"][0].Loc)
	assert.Equal(t, "3-5", m["Larus canus"][0].Time)
}

func TestLoadMapRejectsBadMonthScope(t *testing.T) {
	t.Parallel()

	path := writeTempJSON(t, `{
		"Larus canus": [{"name": "Larus kamtschatschensis", "time": "13"}]
	}`)

	_, err := LoadMap(path)
	assert.Error(t, err)
}

func TestParseMonthScope(t *testing.T) {
	t.Parallel()

	months, err := parseMonthScope("1-3,5,9-12")
	require.NoError(t, err)
	for _, m := range []int{1, 2, 3, 5, 9, 10, 11, 12} {
		assert.True(t, months[m], "month %d", m)
	}
	for _, m := range []int{4, 6, 7, 8} {
		assert.False(t, months[m], "month %d", m)
	}
}

func TestParseMonthScopeWrapsYearBoundary(t *testing.T) {
	t.Parallel()

	months, err := parseMonthScope("11-2")
	require.NoError(t, err)
	for _, m := range []int{11, 12, 1, 2} {
		assert.True(t, months[m], "month %d", m)
	}
	assert.False(t, months[5])
}

func scopedRules() Map {
	return Map{
		"Larus canus": {
			{Name: "Larus kamtschatschensis", Loc: LocScope{"山东省"}, Time: "3-5"},
			{Name: "Larus canus"},
		},
	}
}

func reportWith(province string, month string, sciName string) *birdreport.Report {
	return &birdreport.Report{
		SerialID:     "S-1",
		ProvinceName: province,
		StartTime:    "2024-" + month + "-10 08:00:00",
		Version:      birdreport.TaxonVersionCH4,
		Observations: []birdreport.Observation{{ScientificName: sciName, CommonName: "普通海鸥", Count: 2}},
	}
}

func TestConvertScopedCandidateWins(t *testing.T) {
	t.Parallel()

	conv := NewConverter(scopedRules())

	r := reportWith("山东省", "04", "Larus canus")
	warnings := conv.ConvertReport(r)
	assert.Empty(t, warnings)
	assert.Equal(t, "Larus kamtschatschensis", r.Observations[0].ScientificName)
}

func TestConvertRegionMismatchFallsThrough(t *testing.T) {
	t.Parallel()

	conv := NewConverter(scopedRules())

	r := reportWith("北京市", "04", "Larus canus")
	warnings := conv.ConvertReport(r)
	assert.Empty(t, warnings)
	assert.Equal(t, "Larus canus", r.Observations[0].ScientificName)
}

func TestConvertMonthMismatchFallsThrough(t *testing.T) {
	t.Parallel()

	conv := NewConverter(scopedRules())

	r := reportWith("山东省", "08", "Larus canus")
	warnings := conv.ConvertReport(r)
	assert.Empty(t, warnings)
	assert.Equal(t, "Larus canus", r.Observations[0].ScientificName)
}

func TestConvertUnmappedNamePassesThrough(t *testing.T) {
	t.Parallel()

	conv := NewConverter(scopedRules())

	r := reportWith("山东省", "04", "Passer montanus")
	warnings := conv.ConvertReport(r)
	assert.Empty(t, warnings)
	assert.Equal(t, "Passer montanus", r.Observations[0].ScientificName)
}

func TestConvertIdempotentWhenOutputsAreNotKeys(t *testing.T) {
	t.Parallel()

	conv := NewConverter(scopedRules())

	r := reportWith("山东省", "04", "Larus canus")
	conv.ConvertReport(r)
	first := r.Observations[0].ScientificName

	conv.ConvertReport(r)
	assert.Equal(t, first, r.Observations[0].ScientificName)
}

func TestConvertAbbreviatedProvinceScope(t *testing.T) {
	t.Parallel()

	conv := NewConverter(Map{
		"Larus canus": {
			{Name: "Larus kamtschatschensis", Loc: LocScope{"山东"}},
			{Name: "Larus canus"},
		},
	})

	r := reportWith("山东省", "04", "Larus canus")
	conv.ConvertReport(r)
	assert.Equal(t, "Larus kamtschatschensis", r.Observations[0].ScientificName)
}

func TestConvertTaiwanUsesCityField(t *testing.T) {
	t.Parallel()

	conv := NewConverter(Map{
		"Pycnonotus sinensis": {
			{Name: "Pycnonotus taivanus", Loc: LocScope{"台北市"}},
			{Name: "Pycnonotus sinensis"},
		},
	})

	r := reportWith("台湾省", "04", "Pycnonotus sinensis")
	r.CityName = "台北市"
	conv.ConvertReport(r)
	assert.Equal(t, "Pycnonotus taivanus", r.Observations[0].ScientificName)

	elsewhere := reportWith("台湾省", "04", "Pycnonotus sinensis")
	elsewhere.CityName = "高雄市"
	conv.ConvertReport(elsewhere)
	assert.Equal(t, "Pycnonotus sinensis", elsewhere.Observations[0].ScientificName)
}

func TestConvertOldGenerationIsWarnedNoOp(t *testing.T) {
	t.Parallel()

	conv := NewConverter(scopedRules())

	r := reportWith("山东省", "04", "Larus canus")
	r.Version = birdreport.TaxonVersionG3
	warnings := conv.ConvertReport(r)
	require.Len(t, warnings, 1)
	assert.Equal(t, "Larus canus", r.Observations[0].ScientificName)
}

func TestConvertNoCandidateMatchesWarns(t *testing.T) {
	t.Parallel()

	conv := NewConverter(Map{
		"Larus canus": {
			{Name: "Larus kamtschatschensis", Loc: LocScope{"山东省"}},
		},
	})

	r := reportWith("北京市", "04", "Larus canus")
	warnings := conv.ConvertReport(r)
	require.Len(t, warnings, 1)
	assert.Equal(t, "Larus canus", r.Observations[0].ScientificName)
}

func TestBridgeUpgradeReport(t *testing.T) {
	t.Parallel()

	bridge := Bridge{
		"普通海鸥": {CommonName: "普通海鸥", ScientificName: "Larus canus"},
	}

	r := &birdreport.Report{
		SerialID: "S-2",
		Version:  birdreport.TaxonVersionG3,
		Observations: []birdreport.Observation{
			{CommonName: "普通海鸥", ScientificName: "Larus canus canus"},
			{CommonName: "神秘鸟", ScientificName: "Mysteria avis"},
		},
	}

	warnings := bridge.UpgradeReport(r)
	require.Len(t, warnings, 1)

	assert.Equal(t, birdreport.TaxonVersionCH4, r.Version)
	assert.Equal(t, "Larus canus", r.Observations[0].ScientificName)
	assert.Equal(t, "Mysteria avis", r.Observations[1].ScientificName)
}

func TestBridgeSkipsCurrentGeneration(t *testing.T) {
	t.Parallel()

	bridge := Bridge{}
	r := &birdreport.Report{Version: birdreport.TaxonVersionCH4}
	assert.Nil(t, bridge.UpgradeReport(r))
	assert.Equal(t, birdreport.TaxonVersionCH4, r.Version)
}

func TestConvertTrimsWhitespaceAroundName(t *testing.T) {
	t.Parallel()

	conv := NewConverter(scopedRules())

	r := reportWith("山东省", "04", "Larus canus ")
	warnings := conv.ConvertReport(r)
	assert.Empty(t, warnings)
	assert.Equal(t, "Larus kamtschatschensis", r.Observations[0].ScientificName)
}

func TestBridgeTrimsWhitespaceAroundCommonName(t *testing.T) {
	t.Parallel()

	bridge := Bridge{
		"普通海鸥": {CommonName: "普通海鸥", ScientificName: "Larus canus"},
	}

	r := &birdreport.Report{
		SerialID: "S-3",
		Version:  birdreport.TaxonVersionG3,
		Observations: []birdreport.Observation{
			{CommonName: " 普通海鸥", ScientificName: "Larus canus canus"},
		},
	}

	warnings := bridge.UpgradeReport(r)
	assert.Empty(t, warnings)
	assert.Equal(t, "Larus canus", r.Observations[0].ScientificName)
}
