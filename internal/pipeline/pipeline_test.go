package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CKRainbow/commonBird/internal/birdreport"
	"github.com/CKRainbow/commonBird/internal/ebird"
	"github.com/CKRainbow/commonBird/internal/export"
	"github.com/CKRainbow/commonBird/internal/location"
	"github.com/CKRainbow/commonBird/internal/taxonomy"
)

func TestCompleteDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		end  bool
		want string
	}{
		{"2024", false, "2024-01-01"},
		{"2024", true, "2024-12-31"},
		{"2024-05", false, "2024-05-01"},
		{"2024-05", true, "2024-05-31"},
		{"2024-02", true, "2024-02-29"},
		{"2024-05-10", false, "2024-05-10"},
		{"", false, ""},
	}

	for _, tt := range tests {
		got, err := CompleteDate(tt.in, tt.end)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCompleteDateRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"yesterday", "2024-13", "2024-05-10-1", "24"} {
		_, err := CompleteDate(in, false)
		assert.Error(t, err, in)
	}
}

func TestFilterWindow(t *testing.T) {
	t.Parallel()

	reports := []birdreport.Report{
		{ID: 1, StartTime: "2024-04-30 08:00:00"},
		{ID: 2, StartTime: "2024-05-01 08:00:00"},
		{ID: 3, StartTime: "2024-05-31 08:00:00"},
		{ID: 4, StartTime: "2024-06-01 08:00:00"},
	}

	kept := filterWindow(reports, "2024-05-01", "2024-05-31")
	require.Len(t, kept, 2)
	assert.Equal(t, int64(2), kept[0].ID)
	assert.Equal(t, int64(3), kept[1].ID)

	assert.Len(t, filterWindow(reports, "", ""), 4)
}

func TestSessionCacheRoundTrip(t *testing.T) {
	t.Parallel()

	cache := NewSessionCache(filepath.Join(t.TempDir(), "session.json"))

	loaded, err := cache.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Reports)
	assert.Empty(t, loaded.CoverageStart)

	session := &Session{
		CoverageStart: "2024-05-01",
		Reports: []birdreport.Report{
			{ID: 1, SerialID: "S-1", StartTime: "2024-05-01 08:00:00", Category: birdreport.CategoryPoint},
		},
	}
	require.NoError(t, cache.Save(session))

	loaded, err = cache.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Reports, 1)
	assert.Equal(t, "S-1", loaded.Reports[0].SerialID)
	assert.Equal(t, birdreport.CategoryPoint, loaded.Reports[0].Category)
	assert.Equal(t, "2024-05-01", loaded.CoverageStart)
}

func TestSessionCacheLoadsLegacyReportArray(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	legacy := []birdreport.Report{
		{ID: 1, StartTime: "2024-05-10 08:00:00"},
		{ID: 2, StartTime: "2024-05-03 08:00:00"},
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	loaded, err := NewSessionCache(path).Load()
	require.NoError(t, err)
	require.Len(t, loaded.Reports, 2)
	assert.Equal(t, "2024-05-03", loaded.CoverageStart)
}

func TestLatestDate(t *testing.T) {
	t.Parallel()

	assert.Empty(t, LatestDate(nil))
	reports := []birdreport.Report{
		{StartTime: "2024-05-01 08:00:00"},
		{StartTime: "2024-05-20 08:00:00"},
		{StartTime: "2024-05-10 08:00:00"},
	}
	assert.Equal(t, "2024-05-20", LatestDate(reports))
	assert.Equal(t, "2024-05-01", EarliestDate(reports))
	assert.Empty(t, EarliestDate(nil))
}

// encryptedBody builds a search response envelope the birdreport client can
// decrypt.
func encryptedBody(t *testing.T, payload any) string {
	t.Helper()
	body, err := birdreport.EncryptedEnvelope(payload)
	require.NoError(t, err)
	return body
}

func readChunk(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return csv.NewReader(file).ReadAll()
}

func plainBody(t *testing.T, payload any) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"code": 200, "data": payload})
	require.NoError(t, err)
	return string(raw)
}

func newTestPipeline(t *testing.T, sessionPath, outputDir string) *Pipeline {
	t.Helper()

	client, err := birdreport.NewClient(birdreport.Config{
		Token:   "tok",
		BaseURL: "https://api.birdreport.test",
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	converter := taxonomy.NewConverter(taxonomy.Map{
		"Larus canus": {
			{Name: "Larus kamtschatschensis", Loc: taxonomy.LocScope{"山东省"}, Time: "3-5"},
			{Name: "Larus canus"},
		},
	})

	snapshot := &ebird.HotspotSnapshot{
		LastUpdateDate: "2024-05-01",
		Data: map[string]ebird.Hotspot{
			"世纪公园": {LocID: "L2", Name: "世纪公园", CountryCode: "CN", Subnational1Code: "CN-31", Latitude: 31.21, Longitude: 121.55},
		},
	}
	assignments, err := location.LoadAssignmentCache(filepath.Join(t.TempDir(), "assignments.json"))
	require.NoError(t, err)
	require.NoError(t, assignments.Set("世纪公园东门", location.Assignment{HotspotName: "世纪公园"}))
	resolver := location.NewResolver(snapshot, assignments)

	return New(client, converter, nil, resolver, export.NewFormatter(nil), NewSessionCache(sessionPath))
}

func TestPipelineRunEndToEnd(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	dir := t.TempDir()
	p := newTestPipeline(t, filepath.Join(dir, "session.json"), dir)

	base := "https://api.birdreport.test"
	httpmock.RegisterResponder("POST", base+"/member/system/activity/search",
		httpmock.NewStringResponder(http.StatusOK, encryptedBody(t, []birdreport.Report{
			{
				ID: 1, SerialID: "S-1",
				StartTime: "2024-04-10 08:00:00", EndTime: "2024-04-10 09:00:00",
				PointName: "世纪公园东门", ProvinceName: "上海市",
				Version: birdreport.TaxonVersionCH4,
			},
		})))
	httpmock.RegisterResponder("POST", base+"/member/system/handy/search",
		httpmock.NewStringResponder(http.StatusOK, encryptedBody(t, []birdreport.Report{})))
	httpmock.RegisterResponder("POST", base+"/member/system/record/excel",
		httpmock.NewStringResponder(http.StatusOK, plainBody(t, []birdreport.Observation{
			{ActivityID: 1, ScientificName: "Larus canus", CommonName: "普通海鸥", Count: 2},
			{ActivityID: 1, ScientificName: "Passer montanus", CommonName: "麻雀", Count: 5},
		})))

	result, err := p.Run(context.Background(), Options{
		Account:   "watcher",
		StartDate: "2024-04",
		EndDate:   "2024-04",
		OutputDir: dir,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ReportCount)
	assert.Equal(t, 2, result.RowCount)
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Paths, 1)
	assert.Contains(t, result.Paths[0], "watcher_2024-04-30_checklists_0.csv")

	// The cached assignment replaced the point name and coordinates.
	chunks, err := readChunk(result.Paths[0])
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "世纪公园", chunks[0][5])
	assert.Equal(t, "31.21", chunks[0][6])

	// Session cache persisted the fetched report for the next run.
	session, err := NewSessionCache(filepath.Join(dir, "session.json")).Load()
	require.NoError(t, err)
	require.Len(t, session.Reports, 1)
	assert.Equal(t, "S-1", session.Reports[0].SerialID)
	assert.Equal(t, "2024-04-01", session.CoverageStart)
}

// memberSearchByDate fakes the point listing with server-side date filtering,
// so only reports inside the requested window come back.
func memberSearchByDate(t *testing.T, reports []birdreport.Report) httpmock.Responder {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		raw, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		var params map[string]string
		require.NoError(t, json.Unmarshal(raw, &params))

		var page []birdreport.Report
		for _, r := range reports {
			date := strings.SplitN(r.StartTime, " ", 2)[0]
			if params["start_date"] != "" && date < params["start_date"] {
				continue
			}
			if params["end_date"] != "" && date > params["end_date"] {
				continue
			}
			page = append(page, r)
		}
		return httpmock.NewStringResponse(http.StatusOK, encryptedBody(t, page)), nil
	}
}

func TestPipelineRunBackfillsEarlierWindow(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	dir := t.TempDir()
	p := newTestPipeline(t, filepath.Join(dir, "session.json"), dir)

	available := []birdreport.Report{
		{
			ID: 1, SerialID: "S-APR",
			StartTime: "2024-04-10 08:00:00", EndTime: "2024-04-10 09:00:00",
			PointName: "世纪公园东门", ProvinceName: "上海市",
			Version: birdreport.TaxonVersionCH4,
		},
		{
			ID: 2, SerialID: "S-MAY",
			StartTime: "2024-05-12 08:00:00", EndTime: "2024-05-12 09:00:00",
			PointName: "世纪公园东门", ProvinceName: "上海市",
			Version: birdreport.TaxonVersionCH4,
		},
	}

	base := "https://api.birdreport.test"
	httpmock.RegisterResponder("POST", base+"/member/system/activity/search",
		memberSearchByDate(t, available))
	httpmock.RegisterResponder("POST", base+"/member/system/handy/search",
		httpmock.NewStringResponder(http.StatusOK, encryptedBody(t, []birdreport.Report{})))
	httpmock.RegisterResponder("POST", base+"/member/system/record/excel",
		httpmock.NewStringResponder(http.StatusOK, plainBody(t, []birdreport.Observation{
			{ActivityID: 1, ScientificName: "Passer montanus", CommonName: "麻雀", Count: 3},
			{ActivityID: 2, ScientificName: "Passer montanus", CommonName: "麻雀", Count: 5},
		})))

	// First run covers May only.
	result, err := p.Run(context.Background(), Options{
		Account:   "watcher",
		StartDate: "2024-05",
		EndDate:   "2024-05",
		OutputDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReportCount)

	// Second run widens the window backwards into April. The April report was
	// never fetched, so it has to be backfilled rather than assumed cached.
	result, err = p.Run(context.Background(), Options{
		Account:   "watcher",
		StartDate: "2024-04",
		EndDate:   "2024-05",
		OutputDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReportCount)

	session, err := NewSessionCache(filepath.Join(dir, "session.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, "2024-04-01", session.CoverageStart)
	require.Len(t, session.Reports, 2)

	ids := []int64{session.Reports[0].ID, session.Reports[1].ID}
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}
