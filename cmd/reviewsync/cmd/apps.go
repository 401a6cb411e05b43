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
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(appsCmd)
	appsCmd.AddCommand(appsMoveCmd)
	appsCmd.AddCommand(appsHideCmd)
	appsCmd.AddCommand(appsShowCmd)

	appsCmd.Flags().Bool("hidden", false, "List hidden apps")
	appsCmd.Flags().Bool("cached", false, "List apps from the local cache without calling the API")
	viper.BindPFlag("apps.list.hidden", appsCmd.Flags().Lookup("hidden"))
	viper.BindPFlag("apps.list.cached", appsCmd.Flags().Lookup("cached"))
}

// appsCmd represents the apps command
var appsCmd = &cobra.Command{
	Use:           "apps",
	Aliases:       []string{"a"},
	Short:         "List apps with their unanswered review count",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cached := viper.GetBool("apps.list.cached")

		a, err := newApp(ctx, !cached)
		if err != nil {
			return err
		}
		defer a.close()

		if !cached {
			if _, err := a.manager.FetchApps(ctx); err != nil {
				return err
			}
		}

		apps := a.manager.Apps()
		if viper.GetBool("apps.list.hidden") {
			apps = a.manager.HiddenApps()
		}
		printApps(os.Stdout, apps)
		return nil
	},
}

var appsMoveCmd = &cobra.Command{
	Use:           "move <APP_ID> <POSITION>",
	Short:         "Move an app to a position in the list",
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[1], err)
		}
		ctx := context.Background()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.manager.MoveApp(ctx, args[0], pos); err != nil {
			return err
		}
		printApps(os.Stdout, a.manager.Apps())
		return nil
	},
}

var appsHideCmd = &cobra.Command{
	Use:           "hide <APP_ID>",
	Short:         "Hide an app from the list",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()
		return a.manager.HideApp(ctx, args[0])
	},
}

var appsShowCmd = &cobra.Command{
	Use:           "show <APP_ID>",
	Short:         "Show a hidden app again",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()
		return a.manager.ShowApp(ctx, args[0])
	},
}
