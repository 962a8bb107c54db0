package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stanleylei/price-alert/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler service until interrupted.",
	Long:  "Runs every enabled scraper on its interval, serves /health, /ready and /metrics, and delivers alerts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgPath, buildRegistry())
		if err != nil {
			return err
		}

		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background())
			if errors.Is(err, app.ErrNoScrapersEnabled) {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
		case <-a.Done():
		}

		stopCtx, cancelStop := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancelStop()
		_ = a.Stop(stopCtx)
		return a.Err()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
