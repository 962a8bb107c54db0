package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stanleylei/price-alert/internal/app"
	"github.com/stanleylei/price-alert/internal/config"
	"github.com/stanleylei/price-alert/pkg/logx"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent scraper runs from the configured store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		store, err := app.OpenStore(cfg, logx.Nop())
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("storage is not configured; set storage.driver in the config file")
		}
		defer store.Close()

		entries, err := store.RecentRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no runs recorded yet")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSCRAPER\tSTATUS\tTOOK\tERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.At.Format(time.RFC3339), e.Scraper, e.Status,
				(time.Duration(e.TookMS) * time.Millisecond).String(), e.Error)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show")
	rootCmd.AddCommand(historyCmd)
}
