package birdreport

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MemberFilters narrows the member report fetch.
type MemberFilters struct {
	StartDate string // YYYY-MM-DD, inclusive
	EndDate   string // YYYY-MM-DD, inclusive
	PointName string // point reports only, ignored for casual reports
}

// MemberReports fetches the member's point and casual reports in the given
// window, attaches their observation entries via one bulk detail call per
// category, and merges the two sets. A casual report sharing an id with a
// point report overwrites it, since the casual entry carries the
// observation-level location that the point entry lacks.
func (c *Client) MemberReports(ctx context.Context, filters *MemberFilters) ([]Report, error) {
	pointQuery := &MemberSearchQuery{
		StartDate: filters.StartDate,
		EndDate:   filters.EndDate,
		PointName: filters.PointName,
	}
	points, err := FetchAllPages(ctx, func(ctx context.Context, page, limit int) ([]Report, error) {
		return c.MemberSearch(ctx, page, limit, pointQuery)
	}, c.config.PageSize)
	if err != nil {
		return nil, err
	}

	handyQuery := &HandySearchQuery{
		StartDate: filters.StartDate,
		EndDate:   filters.EndDate,
	}
	casuals, err := FetchAllPages(ctx, func(ctx context.Context, page, limit int) ([]Report, error) {
		return c.HandySearch(ctx, page, limit, handyQuery)
	}, c.config.PageSize)
	if err != nil {
		return nil, err
	}

	// Reports already migrated from the old taxonomy generation would export
	// twice if kept alongside their migrated twin.
	points = dropConverted(points)
	casuals = dropConverted(casuals)

	if err := c.attachObservations(ctx, points, CategoryPoint); err != nil {
		return nil, err
	}
	if err := c.attachObservations(ctx, casuals, CategoryCasual); err != nil {
		return nil, err
	}

	for i := range casuals {
		synthesizeCasualLocation(&casuals[i])
	}

	merged := mergeReports(points, casuals)

	logger.Info("member reports assembled",
		"point_reports", len(points),
		"casual_reports", len(casuals),
		"merged", len(merged))

	return merged, nil
}

// dropConverted filters out reports flagged as already migrated to the
// current taxonomy generation.
func dropConverted(reports []Report) []Report {
	kept := reports[:0]
	for _, r := range reports {
		if r.IsConvert == 0 {
			kept = append(kept, r)
		}
	}
	return kept
}

// attachObservations issues the single bulk detail call for one category and
// distributes the returned entries onto their reports by activity id.
func (c *Client) attachObservations(ctx context.Context, reports []Report, category Category) error {
	if len(reports) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(reports))
	for i := range reports {
		ids = append(ids, reports[i].ID)
	}

	var obs []Observation
	var err error
	switch category {
	case CategoryCasual:
		obs, err = c.GetHandyExcel(ctx, ids)
	default:
		obs, err = c.GetRecordExcel(ctx, ids)
	}
	if err != nil {
		return err
	}

	byActivity := make(map[int64][]Observation, len(reports))
	for _, o := range obs {
		byActivity[o.ActivityID] = append(byActivity[o.ActivityID], o)
	}

	for i := range reports {
		reports[i].Observations = byActivity[reports[i].ID]
	}
	return nil
}

// synthesizeCasualLocation promotes the first observation entry's location
// onto a casual report, which has no registered point of its own.
func synthesizeCasualLocation(r *Report) {
	if len(r.Observations) == 0 {
		return
	}
	first := &r.Observations[0]
	if r.PointName == "" {
		r.PointName = first.PointName
	}
	if r.CityName == "" {
		r.CityName = first.CityName
	}
	if r.DistrictName == "" {
		r.DistrictName = first.DistrictName
	}
	if r.Lat == "" {
		r.Lat = first.Lat
	}
	if r.Lng == "" {
		r.Lng = first.Lng
	}
}

// mergeReports combines point and casual reports, keeping insertion order
// stable. On an id collision the casual entry wins.
func mergeReports(points, casuals []Report) []Report {
	merged := make([]Report, 0, len(points)+len(casuals))
	index := make(map[int64]int, len(points))

	for _, r := range points {
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}
	for _, r := range casuals {
		if at, ok := index[r.ID]; ok {
			merged[at] = r
			continue
		}
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

// DeduplicateReports drops fresh reports on the refresh boundary date whose
// id is already cached for that date. An incremental refresh starts at the
// last cached date, so reports made on that day would otherwise be counted
// twice.
func DeduplicateReports(fresh, cached []Report, refreshDate string) []Report {
	boundary := make(map[int64]struct{})
	for i := range cached {
		if cached[i].StartDate() == refreshDate {
			boundary[cached[i].ID] = struct{}{}
		}
	}

	kept := make([]Report, 0, len(fresh))
	for _, r := range fresh {
		if r.StartDate() == refreshDate {
			if _, ok := boundary[r.ID]; ok {
				continue
			}
		}
		kept = append(kept, r)
	}
	return kept
}

// DropKnownReports removes reports whose id already appears in the cached
// set, keeping order. Used when refetching a window that overlaps data
// fetched earlier.
func DropKnownReports(fresh, cached []Report) []Report {
	known := make(map[int64]struct{}, len(cached))
	for i := range cached {
		known[cached[i].ID] = struct{}{}
	}

	kept := make([]Report, 0, len(fresh))
	for _, r := range fresh {
		if _, ok := known[r.ID]; ok {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// FetchReportDetails resolves the full public detail and species entries of
// reports found via the signed search, which returns summaries only. Fetches
// run concurrently on half the available cores.
func (c *Client) FetchReportDetails(ctx context.Context, reports []Report) ([]Report, error) {
	workers := max(runtime.NumCPU()/2, 1)

	detailed := make([]Report, len(reports))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range reports {
		g.Go(func() error {
			report, err := c.FrontActivityDetail(gctx, reports[i].ID)
			if err != nil {
				return err
			}
			obs, err := c.FrontActivityTaxa(gctx, reports[i].ID, 1, c.config.PageSize)
			if err != nil {
				return err
			}
			report.Category = reports[i].Category
			report.Observations = obs

			mu.Lock()
			detailed[i] = *report
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return detailed, nil
}
