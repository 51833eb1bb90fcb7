// Package token implements the token command, which validates and saves
// the BirdReport session token.
package token

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CKRainbow/commonBird/internal/birdreport"
	"github.com/CKRainbow/commonBird/internal/conf"
	"github.com/CKRainbow/commonBird/internal/errors"
)

// Command creates the token command
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "token <value>",
		Short: "Validate a BirdReport session token and save it to the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := birdreport.NewClient(birdreport.Config{
				Token:   args[0],
				BaseURL: settings.BirdReport.BaseURL,
				Timeout: settings.BirdReport.Timeout,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			user, err := client.GetUser(cmd.Context())
			if err != nil {
				if errors.IsAuthentication(err) {
					return errors.Newf("token rejected by the platform, copy a fresh one from a logged-in browser session").
						Category(errors.CategoryAuthentication).
						Component("cmd").
						Build()
				}
				return err
			}

			if err := conf.SaveToken("birdreport.token", args[0]); err != nil {
				return err
			}
			settings.BirdReport.Token = args[0]

			fmt.Fprintf(cmd.OutOrStdout(), "token saved for %s\n", user.Username)
			return nil
		},
	}
}
