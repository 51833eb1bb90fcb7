package birdreport

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeReportsCasualWinsOnCollision(t *testing.T) {
	t.Parallel()

	points := []Report{
		{ID: 1, PointName: "世纪公园", Category: CategoryPoint},
		{ID: 2, PointName: "植物园", Category: CategoryPoint},
	}
	casuals := []Report{
		{ID: 2, PointName: "植物园北门", Category: CategoryCasual},
		{ID: 3, PointName: "滨江步道", Category: CategoryCasual},
	}

	merged := mergeReports(points, casuals)
	require.Len(t, merged, 3)

	assert.Equal(t, int64(1), merged[0].ID)
	assert.Equal(t, CategoryCasual, merged[1].Category)
	assert.Equal(t, "植物园北门", merged[1].PointName)
	assert.Equal(t, int64(3), merged[2].ID)
}

func TestSynthesizeCasualLocation(t *testing.T) {
	t.Parallel()

	r := Report{
		ID:       10,
		Category: CategoryCasual,
		Observations: []Observation{
			{CommonName: "白头鹎", PointName: "小区绿地", CityName: "上海市", DistrictName: "浦东新区", Lat: "31.2", Lng: "121.5"},
			{CommonName: "麻雀", PointName: "别处"},
		},
	}

	synthesizeCasualLocation(&r)

	assert.Equal(t, "小区绿地", r.PointName)
	assert.Equal(t, "上海市", r.CityName)
	assert.Equal(t, "浦东新区", r.DistrictName)
	assert.Equal(t, "31.2", r.Lat)
	assert.Equal(t, "121.5", r.Lng)
}

func TestSynthesizeCasualLocationNoObservations(t *testing.T) {
	t.Parallel()

	r := Report{ID: 11, Category: CategoryCasual}
	synthesizeCasualLocation(&r)
	assert.Empty(t, r.PointName)
}

func TestDropConverted(t *testing.T) {
	t.Parallel()

	reports := []Report{
		{ID: 1, IsConvert: 0},
		{ID: 2, IsConvert: 1},
		{ID: 3, IsConvert: 0},
	}

	kept := dropConverted(reports)
	require.Len(t, kept, 2)
	assert.Equal(t, int64(1), kept[0].ID)
	assert.Equal(t, int64(3), kept[1].ID)
}

func TestDeduplicateReports(t *testing.T) {
	t.Parallel()

	cached := []Report{
		{ID: 1, StartTime: "2024-05-01 08:00:00"},
		{ID: 2, StartTime: "2024-05-10 08:00:00"},
	}
	fresh := []Report{
		{ID: 2, StartTime: "2024-05-10 08:00:00"}, // boundary date, already cached: dropped
		{ID: 4, StartTime: "2024-05-10 14:00:00"}, // boundary date, new id: kept
		{ID: 3, StartTime: "2024-05-11 09:00:00"}, // past the boundary: kept
	}

	kept := DeduplicateReports(fresh, cached, "2024-05-10")
	require.Len(t, kept, 2)
	assert.Equal(t, int64(4), kept[0].ID)
	assert.Equal(t, int64(3), kept[1].ID)
}

func TestMemberReportsEndToEnd(t *testing.T) {
	setupHTTPMock(t)
	client := newTestClient(t)

	base := "https://api.birdreport.test"

	pointReports := []Report{
		{ID: 100, SerialID: "S-100", PointName: "世纪公园", ProvinceName: "上海市", Version: TaxonVersionCH4},
		{ID: 101, SerialID: "S-101", PointName: "植物园", ProvinceName: "上海市", Version: TaxonVersionCH4, IsConvert: 1},
	}
	casualReports := []Report{
		{ID: 200, SerialID: "S-200", Version: TaxonVersionCH4},
	}

	httpmock.RegisterResponder("POST", base+memberSearchPath,
		httpmock.NewStringResponder(http.StatusOK, encryptedEnvelope(t, pointReports)))
	httpmock.RegisterResponder("POST", base+handySearchPath,
		httpmock.NewStringResponder(http.StatusOK, encryptedEnvelope(t, casualReports)))
	httpmock.RegisterResponder("POST", base+recordExcelPath,
		httpmock.NewStringResponder(http.StatusOK, plainEnvelope(t, []Observation{
			{ActivityID: 100, CommonName: "白头鹎", ScientificName: "Pycnonotus sinensis", Count: 3},
			{ActivityID: 100, CommonName: "麻雀", ScientificName: "Passer montanus", Count: 12},
		})))
	httpmock.RegisterResponder("POST", base+handyExcelPath,
		httpmock.NewStringResponder(http.StatusOK, plainEnvelope(t, []Observation{
			{ActivityID: 200, CommonName: "乌鸫", ScientificName: "Turdus mandarinus", Count: 1,
				PointName: "小区绿地", CityName: "上海市", DistrictName: "徐汇区", Lat: "31.19", Lng: "121.43"},
		})))

	got, err := client.MemberReports(context.Background(), &MemberFilters{
		StartDate: "2024-05-01",
		EndDate:   "2024-05-31",
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Converted report filtered out; point report carries its two entries.
	assert.Equal(t, int64(100), got[0].ID)
	assert.Equal(t, CategoryPoint, got[0].Category)
	require.Len(t, got[0].Observations, 2)

	// Casual report synthesized its location from the first entry.
	assert.Equal(t, int64(200), got[1].ID)
	assert.Equal(t, CategoryCasual, got[1].Category)
	assert.Equal(t, "小区绿地", got[1].PointName)
	assert.Equal(t, "徐汇区", got[1].DistrictName)
}

func TestFetchReportDetailsPreservesOrder(t *testing.T) {
	setupHTTPMock(t)
	client := newTestClient(t)

	base := "https://api.birdreport.test"
	httpmock.RegisterResponder("POST", base+frontActivityGetPath,
		func(req *http.Request) (*http.Response, error) {
			plaintext, err := readSignedParams(req)
			if err != nil {
				return nil, err
			}
			id := plaintext["activityid"]
			return httpmock.NewStringResponse(http.StatusOK,
				encryptedEnvelope(t, Report{ID: atoi64(id), SerialID: "S-" + id})), nil
		})
	httpmock.RegisterResponder("POST", base+frontActivityTaxFPath,
		httpmock.NewStringResponder(http.StatusOK,
			encryptedEnvelope(t, []Observation{{CommonName: "白头鹎", Count: 1}})))

	summaries := []Report{
		{ID: 1, Category: CategoryPoint},
		{ID: 2, Category: CategoryPoint},
		{ID: 3, Category: CategoryCasual},
	}

	got, err := client.FetchReportDetails(context.Background(), summaries)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, summaries[i].ID, r.ID)
		assert.Equal(t, summaries[i].Category, r.Category)
		require.Len(t, r.Observations, 1)
	}
}

func TestDropKnownReports(t *testing.T) {
	t.Parallel()

	cached := []Report{{ID: 1}, {ID: 3}}
	fresh := []Report{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}

	kept := DropKnownReports(fresh, cached)
	require.Len(t, kept, 2)
	assert.Equal(t, int64(2), kept[0].ID)
	assert.Equal(t, int64(4), kept[1].ID)

	assert.Empty(t, DropKnownReports(nil, cached))
	assert.Len(t, DropKnownReports(fresh, nil), 4)
}
