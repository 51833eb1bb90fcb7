// Package hotspots implements the hotspots command, which maintains the
// local eBird hotspot snapshot used for location resolution.
package hotspots

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CKRainbow/commonBird/internal/conf"
	"github.com/CKRainbow/commonBird/internal/ebird"
)

const snapshotName = "cn_hotspots"

// Command creates the hotspots command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hotspots",
		Short: "Manage the local eBird hotspot snapshot",
	}

	cmd.AddCommand(updateCommand(settings))
	cmd.AddCommand(statusCommand(settings))

	return cmd
}

func updateCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Download the hotspot dataset for China, Taiwan, Hong Kong and Macau",
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

			snapshot, err := ebird.FetchChinaHotspots(cmd.Context(), client)
			if err != nil {
				return err
			}

			store := ebird.NewSnapshotStore(settings.Database.Path)
			if err := store.Save(snapshotName, snapshot); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "saved %d hotspots (as of %s)\n",
				len(snapshot.Data), snapshot.LastUpdateDate)
			return nil
		},
	}
}

func statusCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the age and size of the saved snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshot, err := ebird.NewSnapshotStore(settings.Database.Path).Load(snapshotName)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d hotspots, last updated %s\n",
				len(snapshot.Data), snapshot.LastUpdateDate)
			return nil
		},
	}
}
