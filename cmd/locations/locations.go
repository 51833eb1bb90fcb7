// Package locations implements the locations command, which maps report
// point names onto eBird hotspots and manages the saved assignments the
// export substitutes.
package locations

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CKRainbow/commonBird/internal/conf"
	"github.com/CKRainbow/commonBird/internal/ebird"
	"github.com/CKRainbow/commonBird/internal/errors"
	"github.com/CKRainbow/commonBird/internal/location"
	"github.com/CKRainbow/commonBird/internal/pipeline"
)

const (
	snapshotName    = "cn_hotspots"
	assignmentsFile = "location_assignments.json"
	sessionFile     = "session_reports.json"
)

// Command creates the locations command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "Map report locations onto eBird hotspots",
	}

	cmd.AddCommand(listCommand(settings))
	cmd.AddCommand(searchCommand(settings))
	cmd.AddCommand(assignCommand(settings))

	return cmd
}

// listCommand shows the fetched point names that have no saved assignment
// yet, so the user knows what still needs mapping before an export.
func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List report locations without a saved assignment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := pipeline.NewSessionCache(filepath.Join(settings.Database.Path, sessionFile)).Load()
			if err != nil {
				return err
			}
			cache, err := location.LoadAssignmentCache(filepath.Join(settings.Database.Path, assignmentsFile))
			if err != nil {
				return err
			}

			seen := make(map[string]bool)
			unresolved := 0
			for i := range session.Reports {
				point := session.Reports[i].PointName
				if point == "" || seen[point] {
					continue
				}
				seen[point] = true
				if a, ok := cache.Get(point); ok && !a.Unresolved() {
					continue
				}
				unresolved++
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", point, session.Reports[i].ProvinceName)
			}

			if unresolved == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "all fetched locations have assignments")
			}
			return nil
		},
	}
}

// searchCommand shows hotspot candidates for a point name, best match first.
func searchCommand(settings *conf.Settings) *cobra.Command {
	var province string

	cmd := &cobra.Command{
		Use:   "search <point-name>",
		Short: "Search hotspot candidates for a report location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, _, err := loadResolver(settings)
			if err != nil {
				return err
			}

			if province == "" {
				province, err = provinceOfPoint(settings, args[0])
				if err != nil {
					return err
				}
			}

			candidates := resolver.SearchHotspots(args[0], province)
			if len(candidates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching hotspots, assign coordinates with --lat/--lng instead")
				return nil
			}
			for _, h := range candidates {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %.5f,%.5f\n",
					h.Name, h.Subnational1Code, h.Latitude, h.Longitude)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&province, "province", "", "Province to search in, defaults to the point's reported province")
	return cmd
}

// assignCommand saves an assignment: either a hotspot by display name or a
// custom coordinate pair.
func assignCommand(settings *conf.Settings) *cobra.Command {
	var lat, lng string

	cmd := &cobra.Command{
		Use:   "assign <point-name> [hotspot-name]",
		Short: "Save a hotspot or coordinate assignment for a report location",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, cache, err := loadResolver(settings)
			if err != nil {
				return err
			}

			var a location.Assignment
			switch {
			case len(args) == 2:
				if _, ok := resolver.Hotspot(args[1]); !ok {
					return errors.Newf("no hotspot named %q in the snapshot, check the search output", args[1]).
						Category(errors.CategoryValidation).
						Component("cmd").
						Build()
				}
				a = location.Assignment{HotspotName: args[1]}
			case lat != "" && lng != "":
				a = location.Assignment{Coords: &location.Coordinates{Lat: lat, Lng: lng}}
			default:
				return errors.Newf("provide a hotspot name or both --lat and --lng").
					Category(errors.CategoryValidation).
					Component("cmd").
					Build()
			}

			if err := resolver.Assign(args[0], a); err != nil {
				return err
			}
			if err := cache.Save(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "assigned %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&lat, "lat", "", "Latitude for a coordinate assignment")
	cmd.Flags().StringVar(&lng, "lng", "", "Longitude for a coordinate assignment")
	return cmd
}

func loadResolver(settings *conf.Settings) (*location.Resolver, *location.AssignmentCache, error) {
	snapshot, err := ebird.NewSnapshotStore(settings.Database.Path).Load(snapshotName)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil, errors.Newf("no hotspot snapshot saved yet, run 'hotspots update' first").
				Category(errors.CategoryNotFound).
				Component("cmd").
				Build()
		}
		return nil, nil, err
	}

	cache, err := location.LoadAssignmentCache(filepath.Join(settings.Database.Path, assignmentsFile))
	if err != nil {
		return nil, nil, err
	}

	return location.NewResolver(snapshot, cache), cache, nil
}

// provinceOfPoint looks up the province a point was reported from.
func provinceOfPoint(settings *conf.Settings, pointName string) (string, error) {
	session, err := pipeline.NewSessionCache(filepath.Join(settings.Database.Path, sessionFile)).Load()
	if err != nil {
		return "", err
	}
	for i := range session.Reports {
		if session.Reports[i].PointName == pointName {
			return session.Reports[i].ProvinceName, nil
		}
	}
	return "", errors.Newf("point %q not found in fetched reports, pass --province", pointName).
		Category(errors.CategoryNotFound).
		Component("cmd").
		Build()
}
