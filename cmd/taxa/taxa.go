// Package taxa implements the taxa command, which maintains the local
// taxonomy reference files.
package taxa

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
)

const (
	speciesNamesFile = "species_names.json"
	taxonListFile    = "platform_taxa.json"
)

// Command creates the taxa command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxa",
		Short: "Manage taxonomy reference data",
	}

	cmd.AddCommand(namesCommand(settings))
	cmd.AddCommand(listCommand(settings))

	return cmd
}

// namesCommand downloads the eBird taxonomy in the configured locale and
// saves a scientific-to-common name table used by the CSV exporter.
func namesCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "names",
		Short: "Download eBird common names for the configured locale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ebird.NewClient(ebird.Config{
				APIKey:      settings.EBird.APIKey,
				BaseURL:     settings.EBird.BaseURL,
				Locale:      settings.EBird.Locale,
				CacheTTL:    settings.EBird.CacheTTL,
				RateLimitMS: settings.EBird.RateLimitMS,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			entries, err := client.GetTaxonomy(cmd.Context())
			if err != nil {
				return err
			}

			names := make(export.SpeciesNameTable, len(entries))
			for _, entry := range entries {
				if entry.Category != "species" {
					continue
				}
				names[entry.ScientificName] = entry.CommonName
			}

			path := filepath.Join(settings.Database.Path, speciesNamesFile)
			if err := writeJSON(path, names); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "saved %d species names to %s\n", len(names), path)
			return nil
		},
	}
}

// listCommand downloads the platform's taxon list for inspection.
func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Download the BirdReport taxon list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := birdreport.NewClient(birdreport.Config{
				Token:   settings.BirdReport.Token,
				BaseURL: settings.BirdReport.BaseURL,
				Timeout: settings.BirdReport.Timeout,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			taxa, err := client.GetTaxonList(cmd.Context())
			if err != nil {
				return err
			}

			path := filepath.Join(settings.Database.Path, taxonListFile)
			if err := writeJSON(path, taxa); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "saved %d taxa to %s\n", len(taxa), path)
			return nil
		},
	}
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("cmd").
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("cmd").
			Build()
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Component("cmd").
			Build()
	}
	return nil
}
