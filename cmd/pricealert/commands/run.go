package commands

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stanleylei/price-alert/internal/app"
	"github.com/stanleylei/price-alert/internal/config"
	"github.com/stanleylei/price-alert/pkg/logx"
)

var runCmd = &cobra.Command{
	Use:   "run [scraper...]",
	Short: "Run scrapers once and exit.",
	Long: "Runs the named scrapers once, sequentially. Without arguments every enabled " +
		"scraper runs; naming a scraper runs it even when disabled in the config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		reg := buildRegistry()
		core, err := app.NewCore(cfg, reg)
		if err != nil {
			return err
		}
		defer core.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		names := args
		if len(names) == 0 {
			for name, sc := range cfg.Scrapers {
				if sc.Enabled {
					names = append(names, name)
				}
			}
			sort.Strings(names)
		} else {
			for _, name := range names {
				if !reg.Known(name) {
					return fmt.Errorf("unknown scraper %q (known: %s)",
						name, strings.Join(reg.Names(), ", "))
				}
			}
		}
		if len(names) == 0 {
			core.Log.Warn("no scrapers are enabled")
		}

		success, failures := 0, 0
		for _, name := range names {
			out := core.Runner.Execute(ctx, name, cfg.Scrapers[name].Site)
			if out.Succeeded() {
				success++
			} else {
				failures++
			}
			if ctx.Err() != nil {
				break
			}
		}
		core.Log.Info("single pass complete",
			logx.Int("success", success), logx.Int("failures", failures))
		if failures > 0 {
			return fmt.Errorf("%d scraper run(s) failed", failures)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
