package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stanleylei/price-alert/internal/config"
	"github.com/stanleylei/price-alert/internal/scraper/alaskaaward"
	"github.com/stanleylei/price-alert/internal/scraper/powertochoose"
	"github.com/stanleylei/price-alert/internal/scraper/villadelarco"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted.",
	Long: "Prints the merged configuration (defaults, file, environment) and the resolved " +
		"site parameters each scraper would run with.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		red := *cfg
		red.Alerts.Email.Password = mask(red.Alerts.Email.Password)
		red.Alerts.Telegram.Token = mask(red.Alerts.Telegram.Token)

		out, err := json.MarshalIndent(&red, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		for _, name := range buildRegistry().Names() {
			sc, ok := cfg.Scrapers[name]
			if !ok {
				continue
			}
			params, err := resolveSiteParams(name, sc)
			if err != nil {
				return fmt.Errorf("scrapers.%s: %w", name, err)
			}
			pj, err := json.MarshalIndent(params, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("\n%s resolved parameters:\n%s\n", name, pj)
		}
		return nil
	},
}

// resolveSiteParams applies each site's defaults and environment overlay
// the same way its factory does.
func resolveSiteParams(name string, sc config.ScraperConfig) (any, error) {
	switch name {
	case config.ScraperPowerToChoose:
		return powertochoose.ParseConfig(sc.Site)
	case config.ScraperVillaDelArco:
		return villadelarco.ParseConfig(sc.Site)
	case config.ScraperAlaskaAward:
		return alaskaaward.ParseConfig(sc.Site)
	default:
		return nil, fmt.Errorf("no parameter resolver")
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func init() {
	rootCmd.AddCommand(configCmd)
}
