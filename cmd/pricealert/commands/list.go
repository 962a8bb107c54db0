package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stanleylei/price-alert/internal/config"
)

var scraperInfo = map[string]string{
	config.ScraperPowerToChoose: "Texas electricity plans on powertochoose.org below a ¢/kWh threshold",
	config.ScraperVillaDelArco:  "Villa del Arco All-Inclusive rates below a USD threshold",
	config.ScraperAlaskaAward:   "Alaska Airlines award seats at or below a points target",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known scrapers and whether they are enabled.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		reg := buildRegistry()
		for _, name := range reg.Names() {
			state := "disabled"
			if sc, ok := cfg.Scrapers[name]; ok && sc.Enabled {
				state = fmt.Sprintf("enabled, every %d minutes", sc.IntervalMinutes)
				if sc.Schedule != "" {
					state = fmt.Sprintf("enabled, cron %q", sc.Schedule)
				}
			}
			fmt.Printf("%-20s %s\n", name, state)
			if info := scraperInfo[name]; info != "" {
				fmt.Printf("%-20s   %s\n", "", info)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
