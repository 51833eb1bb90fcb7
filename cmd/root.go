package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CKRainbow/commonBird/cmd/export"
	"github.com/CKRainbow/commonBird/cmd/hotspots"
	"github.com/CKRainbow/commonBird/cmd/locations"
	"github.com/CKRainbow/commonBird/cmd/taxa"
	"github.com/CKRainbow/commonBird/cmd/token"
	"github.com/CKRainbow/commonBird/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "commonbird",
		Short: "Migrate BirdReport CN records to eBird",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		export.Command(settings),
		hotspots.Command(settings),
		locations.Command(settings),
		taxa.Command(settings),
		token.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.BirdReport.Token, "token", viper.GetString("birdreport.token"), "BirdReport session token")
	rootCmd.PersistentFlags().StringVar(&settings.Output.Path, "output", viper.GetString("output.path"), "Directory for generated files")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
