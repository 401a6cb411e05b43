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
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/config"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(downloadsCmd)

	downloadsCmd.Flags().String("id", "", "App ID (default: every app)")
	downloadsCmd.Flags().String("vendor", "", "Vendor number")
	viper.BindPFlag("downloads.id", downloadsCmd.Flags().Lookup("id"))
	viper.BindPFlag("downloads.vendor", downloadsCmd.Flags().Lookup("vendor"))
}

// downloadsCmd represents the downloads command
var downloadsCmd = &cobra.Command{
	Use:           "downloads",
	Short:         "Show units downloaded over the last 30 days",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		if vendor := viper.GetString("downloads.vendor"); vendor != "" {
			if err := config.NewViperSettings(viper.GetViper()).Set(config.KeyVendorNumber, vendor); err != nil {
				log.WithError(err).Warn("failed to save vendor number")
			}
		}

		ids := []string{viper.GetString("downloads.id")}
		if ids[0] == "" {
			if _, err := a.manager.FetchApps(ctx); err != nil {
				return err
			}
			ids = ids[:0]
			for _, app := range a.manager.Apps() {
				ids = append(ids, app.ID)
			}
		}

		for _, id := range ids {
			downloads, err := a.manager.FetchDownloadStatistics(ctx, id)
			if err != nil {
				return err
			}
			name := id
			if app, ok := a.manager.App(id); ok {
				name = app.Name
			}
			fmt.Printf("%s\t%s\n", colorName(name), humanize.Comma(int64(downloads)))
		}
		return nil
	},
}
