package pipeline

import (
	"context"
	"log"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CKRainbow/commonBird/internal/birdreport"
	"github.com/CKRainbow/commonBird/internal/errors"
	"github.com/CKRainbow/commonBird/internal/export"
	"github.com/CKRainbow/commonBird/internal/location"
	"github.com/CKRainbow/commonBird/internal/logging"
	"github.com/CKRainbow/commonBird/internal/taxonomy"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
)

func init() {
	var err error
	serviceLevelVar.Set(slog.LevelDebug)
	logger, _, err = logging.NewFileLogger(filepath.Join("logs", "pipeline.log"), "pipeline", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize pipeline file logger: %v", err)
		logger = slog.Default().With("service", "pipeline")
	}
}

// Options configures one export run.
type Options struct {
	Account   string // account identifier used in output filenames
	StartDate string // window start, full or partial date, empty for all
	EndDate   string // window end, full or partial date, empty for today
	OutputDir string // directory for CSV chunks
}

// Result summarizes a completed export run.
type Result struct {
	Paths       []string // written CSV chunk files
	Warnings    []string // conversion warnings, safe to display
	ReportCount int      // reports exported
	RowCount    int      // total CSV rows
}

// Pipeline orchestrates the migration: incremental fetch, session caching,
// taxon conversion, location resolution and CSV export.
type Pipeline struct {
	client    *birdreport.Client
	converter *taxonomy.Converter
	bridge    taxonomy.Bridge
	resolver  *location.Resolver
	formatter *export.Formatter
	session   *SessionCache
}

// New assembles a pipeline. bridge and resolver may be nil when the
// corresponding stage should be skipped.
func New(client *birdreport.Client, converter *taxonomy.Converter, bridge taxonomy.Bridge, resolver *location.Resolver, formatter *export.Formatter, session *SessionCache) *Pipeline {
	return &Pipeline{
		client:    client,
		converter: converter,
		bridge:    bridge,
		resolver:  resolver,
		formatter: formatter,
		session:   session,
	}
}

// Run executes one export: refresh the session cache incrementally, filter
// the requested window, convert and resolve each report, and write the CSV
// chunks.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	startDate, err := CompleteDate(opts.StartDate, false)
	if err != nil {
		return nil, err
	}
	endDate, err := CompleteDate(opts.EndDate, true)
	if err != nil {
		return nil, err
	}
	if endDate == "" {
		endDate = time.Now().Format("2006-01-02")
	}

	session, err := p.session.Load()
	if err != nil {
		return nil, err
	}
	cached := session.Reports

	refreshDate := LatestDate(cached)
	if refreshDate == "" || (startDate != "" && startDate > refreshDate) {
		refreshDate = startDate
	}

	fresh, err := p.client.MemberReports(ctx, &birdreport.MemberFilters{
		StartDate: refreshDate,
		EndDate:   endDate,
	})
	if err != nil {
		return nil, err
	}
	fresh = birdreport.DeduplicateReports(fresh, cached, refreshDate)

	coverage := session.CoverageStart
	switch {
	case len(cached) == 0:
		coverage = startDate
	case coverage != "" && (startDate == "" || startDate < coverage):
		// The requested window starts before anything the cache has ever
		// fetched, so the older stretch has to be filled in separately.
		logger.Info("backfilling earlier window",
			"from", startDate,
			"to", coverage)
		backfill, err := p.client.MemberReports(ctx, &birdreport.MemberFilters{
			StartDate: startDate,
			EndDate:   coverage,
		})
		if err != nil {
			return nil, err
		}
		backfill = birdreport.DropKnownReports(backfill, cached)
		fresh = append(backfill, birdreport.DropKnownReports(fresh, backfill)...)
		coverage = startDate
	}

	all := append(cached, fresh...)
	if err := p.session.Save(&Session{CoverageStart: coverage, Reports: all}); err != nil {
		return nil, err
	}

	logger.Info("session refreshed",
		"cached", len(cached),
		"fetched", len(fresh),
		"total", len(all))

	selected := filterWindow(all, startDate, endDate)

	result := &Result{}
	exportable := make([]birdreport.Report, 0, len(selected))
	for i := range selected {
		report := selected[i]

		if p.bridge != nil && report.Version == birdreport.TaxonVersionG3 {
			result.Warnings = append(result.Warnings, p.bridge.UpgradeReport(&report)...)
		}
		result.Warnings = append(result.Warnings, p.converter.ConvertReport(&report)...)
		if report.Version != birdreport.TaxonVersionCH4 {
			continue
		}

		if p.resolver != nil {
			p.applyAssignment(&report)
		}
		exportable = append(exportable, report)
	}

	chunks := p.formatter.FormatReports(exportable)
	for _, chunk := range chunks {
		result.RowCount += len(chunk)
	}

	paths, err := export.WriteChunks(opts.OutputDir, opts.Account, endDate, chunks)
	if err != nil {
		return nil, err
	}
	result.Paths = paths
	result.ReportCount = len(exportable)

	logger.Info("export complete",
		"reports", result.ReportCount,
		"rows", result.RowCount,
		"chunks", len(paths),
		"warnings", len(result.Warnings))

	return result, nil
}

// applyAssignment rewrites the report location from the resolver's cached
// assignment, when one exists.
func (p *Pipeline) applyAssignment(report *birdreport.Report) {
	assignment, ok := p.resolver.Resolve(report.PointName)
	if !ok || assignment.Unresolved() {
		return
	}

	if assignment.HotspotName != "" {
		if hotspot, ok := p.resolver.Hotspot(assignment.HotspotName); ok {
			report.PointName = hotspot.Name
			report.Lat = formatCoord(hotspot.Latitude)
			report.Lng = formatCoord(hotspot.Longitude)
		}
		return
	}
	if assignment.Coords != nil {
		report.Lat = assignment.Coords.Lat
		report.Lng = assignment.Coords.Lng
	}
}

func formatCoord(v float64) string {
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 6, 64), "0"), ".")
}

// filterWindow keeps reports whose observation date falls inside the
// inclusive [start, end] window. Empty bounds are open.
func filterWindow(reports []birdreport.Report, start, end string) []birdreport.Report {
	kept := make([]birdreport.Report, 0, len(reports))
	for i := range reports {
		date := reports[i].StartDate()
		if start != "" && date < start {
			continue
		}
		if end != "" && date > end {
			continue
		}
		kept = append(kept, reports[i])
	}
	return kept
}

// CompleteDate expands a partial date to a full one: "2024" becomes
// "2024-01-01" (or "2024-12-31" for a window end), "2024-05" becomes
// "2024-05-01" (or the month's last day). Empty input stays empty.
func CompleteDate(date string, end bool) (string, error) {
	if date == "" {
		return "", nil
	}

	switch strings.Count(date, "-") {
	case 2:
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return "", invalidDate(date, err)
		}
		return date, nil
	case 1:
		t, err := time.Parse("2006-01", date)
		if err != nil {
			return "", invalidDate(date, err)
		}
		if end {
			return t.AddDate(0, 1, -1).Format("2006-01-02"), nil
		}
		return t.Format("2006-01-02"), nil
	case 0:
		t, err := time.Parse("2006", date)
		if err != nil {
			return "", invalidDate(date, err)
		}
		if end {
			return t.AddDate(1, 0, -1).Format("2006-01-02"), nil
		}
		return t.Format("2006-01-02"), nil
	default:
		return "", invalidDate(date, nil)
	}
}

func invalidDate(date string, err error) error {
	if err == nil {
		err = errors.NewStd("unrecognized format")
	}
	return errors.Newf("invalid date %q: %w", date, err).
		Category(errors.CategoryValidation).
		Context("date", date).
		Component("pipeline").
		Build()
}
