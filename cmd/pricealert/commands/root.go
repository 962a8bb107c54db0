// Package commands implements the pricealert CLI.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stanleylei/price-alert/internal/config"
	"github.com/stanleylei/price-alert/internal/scraper"
	"github.com/stanleylei/price-alert/internal/scraper/alaskaaward"
	"github.com/stanleylei/price-alert/internal/scraper/powertochoose"
	"github.com/stanleylei/price-alert/internal/scraper/villadelarco"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "pricealert",
	Short:         "Price alert scrapers with scheduling, health checks, and alert delivery.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"path to config file (yaml or json); defaults plus environment apply when omitted")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// buildRegistry wires every known scraper. Adding a site means one more
// Register line here.
func buildRegistry() *scraper.Registry {
	reg := scraper.NewRegistry()
	reg.Register(config.ScraperPowerToChoose, powertochoose.New)
	reg.Register(config.ScraperVillaDelArco, villadelarco.New)
	reg.Register(config.ScraperAlaskaAward, alaskaaward.New)
	return reg
}
