/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
	"github.com/blacktop/reviewsync/internal/syncer"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolP("watch", "w", false, "Keep syncing every sync.interval")
	syncCmd.Flags().Duration("interval", 0, "Auto sync interval (default 30m)")
	viper.BindPFlag("sync.watch", syncCmd.Flags().Lookup("watch"))
	viper.BindPFlag("sync.interval", syncCmd.Flags().Lookup("interval"))
}

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:           "sync",
	Short:         "Download apps and reviews from the record store into the local cache",
	Example: heredoc.Doc(`
		# One shot
		❯ reviewsync sync

		# Keep the local cache fresh every 10 minutes
		❯ reviewsync sync --watch --interval 10m`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		progress, stop := newProgress("Syncing")
		report, err := a.manager.SyncAll(ctx, progress)
		stop()
		printReport(os.Stdout, "Synced", report)
		if err != nil && !errors.Is(err, model.ErrPartialFailure) {
			return err
		}
		printApps(os.Stdout, a.manager.Apps())

		if !viper.GetBool("sync.watch") {
			return err
		}

		log.WithField("interval", a.conf.Sync.Interval).Info("Watching for changes (press Ctrl+C to stop)")
		if err := ctrlc.Default.Run(ctx, func() error {
			return a.manager.RunAutoSync(ctx, a.conf.Sync.Interval, func(p syncer.Progress) {
				if p.State == syncer.Done {
					log.Info("Synced")
				}
			})
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Stopping...")
				return nil
			}
			return err
		}
		return nil
	},
}
