package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/visionlane/backend/internal/domain"
	"github.com/visionlane/backend/internal/infrastructure/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the product catalog the lane would load",
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := catalog.LoadFile(cfg.Catalog.Path)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPRICE\tFLAGS")
		for _, p := range products.All() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, formatPrice(p), formatFlags(p))
		}
		return w.Flush()
	},
}

func formatPrice(p domain.Product) string {
	if p.RequiresScale && p.PricePerUnitCents != nil {
		return fmt.Sprintf("%s/%s", formatCents(*p.PricePerUnitCents), p.DisplayUnit())
	}
	return formatCents(p.PriceCents)
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func formatFlags(p domain.Product) string {
	var flags []byte
	if p.RequiresAgeVerification {
		flags = append(flags, 'A')
	}
	if p.RequiresScale {
		flags = append(flags, 'W')
	}
	if p.IsVisuallyAmbiguous {
		flags = append(flags, 'V')
	}
	if p.IsOftenMisidentified {
		flags = append(flags, 'M')
	}
	if len(flags) == 0 {
		return "-"
	}
	return string(flags)
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
