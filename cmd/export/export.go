// Package export implements the export command, which runs the full
// migration pipeline and writes upload-ready CSV chunks.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CKRainbow/commonBird/internal/birdreport"
	"github.com/CKRainbow/commonBird/internal/conf"
	"github.com/CKRainbow/commonBird/internal/ebird"
	"github.com/CKRainbow/commonBird/internal/errors"
	"github.com/CKRainbow/commonBird/internal/export"
	"github.com/CKRainbow/commonBird/internal/location"
	"github.com/CKRainbow/commonBird/internal/pipeline"
	"github.com/CKRainbow/commonBird/internal/taxonomy"
)

// Data files looked up under the database directory. The taxon map and
// bridge ship with the tool; the rest are produced by other commands.
const (
	taxonMapFile     = "taxon_map.json"
	taxonBridgeFile  = "taxon_bridge.json"
	speciesNamesFile = "species_names.json"
	assignmentsFile  = "location_assignments.json"
	sessionFile      = "session_reports.json"
	snapshotName     = "cn_hotspots"
)

// Command creates the export command
func Command(settings *conf.Settings) *cobra.Command {
	var opts pipeline.Options

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch reports and export them as eBird record format CSV",
		Long: `Fetches the account's reports from BirdReport, converts species names
to the current taxonomy, substitutes saved hotspot assignments and writes
eBird bulk-upload CSV files in chunks of 4000 rows.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, settings, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.Account, "account", "", "Account name used in output filenames")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "Window start date (YYYY, YYYY-MM or YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "Window end date, defaults to today")

	return cmd
}

func runExport(cmd *cobra.Command, settings *conf.Settings, opts *pipeline.Options) error {
	if settings.BirdReport.Token == "" {
		return errors.Newf("no BirdReport token configured, set birdreport.token or pass --token").
			Category(errors.CategoryConfiguration).
			Component("cmd").
			Build()
	}
	if opts.Account == "" {
		opts.Account = "commonbird"
	}
	opts.OutputDir = settings.Output.Path

	client, err := birdreport.NewClient(birdreport.Config{
		Token:      settings.BirdReport.Token,
		BaseURL:    settings.BirdReport.BaseURL,
		PageSize:   settings.BirdReport.PageSize,
		RetryLimit: settings.BirdReport.RetryLimit,
		Timeout:    settings.BirdReport.Timeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	taxonMap, err := taxonomy.LoadMap(filepath.Join(settings.Database.Path, taxonMapFile))
	if err != nil {
		return err
	}

	bridge, err := loadOptionalBridge(filepath.Join(settings.Database.Path, taxonBridgeFile))
	if err != nil {
		return err
	}

	resolver, err := loadOptionalResolver(settings)
	if err != nil {
		return err
	}

	names, err := loadOptionalNames(filepath.Join(settings.Database.Path, speciesNamesFile))
	if err != nil {
		return err
	}

	p := pipeline.New(
		client,
		taxonomy.NewConverter(taxonMap),
		bridge,
		resolver,
		export.NewFormatter(names),
		pipeline.NewSessionCache(filepath.Join(settings.Database.Path, sessionFile)),
	)

	result, err := p.Run(cmd.Context(), *opts)
	if err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		fmt.Fprintln(cmd.OutOrStdout(), "warning:", warning)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d reports (%d rows) into %d files\n",
		result.ReportCount, result.RowCount, len(result.Paths))
	for _, path := range result.Paths {
		fmt.Fprintln(cmd.OutOrStdout(), " ", path)
	}

	return nil
}

// loadOptionalBridge loads the old-generation bridge table if it exists.
// Without one, old-generation reports are skipped with a warning instead of
// upgraded.
func loadOptionalBridge(path string) (taxonomy.Bridge, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return taxonomy.LoadBridge(path)
}

// loadOptionalResolver assembles a location resolver from the saved hotspot
// snapshot and assignment cache. A missing snapshot disables location
// substitution rather than failing the export.
func loadOptionalResolver(settings *conf.Settings) (*location.Resolver, error) {
	snapshot, err := ebird.NewSnapshotStore(settings.Database.Path).Load(snapshotName)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	assignments, err := location.LoadAssignmentCache(filepath.Join(settings.Database.Path, assignmentsFile))
	if err != nil {
		return nil, err
	}

	return location.NewResolver(snapshot, assignments), nil
}

// loadOptionalNames loads the scientific-to-common name table if it exists.
func loadOptionalNames(path string) (export.SpeciesNameTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("cmd").
			Build()
	}

	var names export.SpeciesNameTable
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Component("cmd").
			Build()
	}
	return names, nil
}
