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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(logoutCmd)

	configureCmd.Flags().String("iss", "", "Issuer ID")
	configureCmd.Flags().String("kid", "", "Key ID")
	configureCmd.Flags().String("p8", "", "Path to App Store Connect API Key (.p8)")
	configureCmd.MarkFlagRequired("iss")
	configureCmd.MarkFlagRequired("kid")
	configureCmd.MarkFlagRequired("p8")
	viper.BindPFlag("configure.iss", configureCmd.Flags().Lookup("iss"))
	viper.BindPFlag("configure.kid", configureCmd.Flags().Lookup("kid"))
	viper.BindPFlag("configure.p8", configureCmd.Flags().Lookup("p8"))
}

// configureCmd represents the configure command
var configureCmd = &cobra.Command{
	Use:           "configure",
	Short:         "Save API credentials locally and in the record store",
	Example: heredoc.Doc(`
		❯ reviewsync configure --iss 69a6de8c-xxxx --kid 2X9R4HXF34 --p8 ~/Downloads/AuthKey_2X9R4HXF34.p8`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		key, err := os.ReadFile(viper.GetString("configure.p8"))
		if err != nil {
			return fmt.Errorf("failed to read private key: %w", err)
		}

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		creds := model.Credentials{
			IssuerID:   viper.GetString("configure.iss"),
			KeyID:      viper.GetString("configure.kid"),
			PrivateKey: string(key),
		}
		if err := a.manager.Configure(ctx, creds); err != nil {
			return err
		}
		log.WithField("credentials", creds.String()).Info("Credentials saved")
		return nil
	},
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:           "logout",
	Short:         "Forget the local API credentials",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background(), false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.manager.Logout(); err != nil {
			return err
		}
		log.Info("Logged out")
		return nil
	},
}
