package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/placedex/placedex/internal/place"
)

var placeCmd = &cobra.Command{
	Use:   "place",
	Short: "Manage place records",
}

var placeFields struct {
	name      string
	address   string
	types     string
	pincode   string
	country   string
	latitude  float64
	longitude float64
	rating    float64
	followers float64
}

var placeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a place",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup("place")
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := a.facade.Create(cmd.Context(), place.Fields{
			Name:      placeFields.name,
			Address:   placeFields.address,
			Types:     placeFields.types,
			Pincode:   placeFields.pincode,
			Country:   placeFields.country,
			Latitude:  placeFields.latitude,
			Longitude: placeFields.longitude,
			Rating:    placeFields.rating,
			Followers: placeFields.followers,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%s)\n", p.ID, p.Name)
		return nil
	},
}

var placeUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a place (all fields are replaced)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup("place")
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := a.facade.Update(cmd.Context(), args[0], place.Fields{
			Name:      placeFields.name,
			Address:   placeFields.address,
			Types:     placeFields.types,
			Pincode:   placeFields.pincode,
			Country:   placeFields.country,
			Latitude:  placeFields.latitude,
			Longitude: placeFields.longitude,
			Rating:    placeFields.rating,
			Followers: placeFields.followers,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Updated %s (%s)\n", p.ID, p.Name)
		return nil
	},
}

var placeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup("place")
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := a.facade.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printPlace(p)
		return nil
	},
}

var placeDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup("place")
		if err != nil {
			return err
		}
		defer cleanup()

		if _, err := a.facade.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var listOpts struct {
	search   string
	sortBy   string
	desc     bool
	page     int
	pageSize int
}

var placeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List places",
	Long: `List places, optionally filtered by a case-insensitive substring
matched against name, types, and address.

In fast mode the page may be served from the cache workbook; the source
is shown in the footer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup("place")
		if err != nil {
			return err
		}
		defer cleanup()

		page, err := a.facade.Search(cmd.Context(), place.QueryOptions{
			Search:     listOpts.search,
			SortBy:     listOpts.sortBy,
			Descending: listOpts.desc,
			Page:       listOpts.page,
			PageSize:   listOpts.pageSize,
		})
		if err != nil {
			return err
		}

		for _, p := range page.Places {
			fmt.Printf("%-36s  %-30s  %-20s  %s\n", p.ID, truncate(p.Name, 30), truncate(p.Types, 20), p.Country)
		}
		source := "database"
		if page.ServedFromCache {
			source = "cache"
		}
		fmt.Printf("\nPage %d (%d of %d total, from %s)\n",
			page.PageNum, len(page.Places), page.TotalCount, source)
		return nil
	},
}

func printPlace(p *place.Place) {
	fmt.Printf("ID:        %s\n", p.ID)
	fmt.Printf("Name:      %s\n", p.Name)
	fmt.Printf("Types:     %s\n", p.Types)
	fmt.Printf("Address:   %s\n", p.Address)
	fmt.Printf("Pincode:   %s\n", p.Pincode)
	fmt.Printf("Country:   %s\n", p.Country)
	fmt.Printf("Location:  %.6f, %.6f\n", p.Latitude, p.Longitude)
	fmt.Printf("Rating:    %.1f\n", p.Rating)
	fmt.Printf("Followers: %.0f\n", p.Followers)
	fmt.Printf("Created:   %s\n", p.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:   %s\n", p.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func addFieldFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&placeFields.name, "name", "", "place name (required)")
	cmd.Flags().StringVar(&placeFields.address, "address", "", "street address (required)")
	cmd.Flags().StringVar(&placeFields.types, "types", "", "comma-separated categories (required)")
	cmd.Flags().StringVar(&placeFields.pincode, "pincode", "", "6-digit postal code (required)")
	cmd.Flags().StringVar(&placeFields.country, "country", "", "country (default Unknown)")
	cmd.Flags().Float64Var(&placeFields.latitude, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&placeFields.longitude, "lon", 0, "longitude")
	cmd.Flags().Float64Var(&placeFields.rating, "rating", 0, "rating")
	cmd.Flags().Float64Var(&placeFields.followers, "followers", 0, "follower count")
}

func init() {
	addFieldFlags(placeAddCmd)
	addFieldFlags(placeUpdateCmd)

	placeListCmd.Flags().StringVar(&listOpts.search, "search", "", "substring filter over name, types, address")
	placeListCmd.Flags().StringVar(&listOpts.sortBy, "sort", "id",
		"sort column ("+strings.Join(place.SortColumns, ", ")+")")
	placeListCmd.Flags().BoolVar(&listOpts.desc, "desc", false, "sort descending")
	placeListCmd.Flags().IntVar(&listOpts.page, "page", 1, "page number (1-indexed)")
	placeListCmd.Flags().IntVar(&listOpts.pageSize, "page-size", 10, "results per page")

	placeCmd.AddCommand(placeAddCmd)
	placeCmd.AddCommand(placeUpdateCmd)
	placeCmd.AddCommand(placeGetCmd)
	placeCmd.AddCommand(placeDeleteCmd)
	placeCmd.AddCommand(placeListCmd)
}
