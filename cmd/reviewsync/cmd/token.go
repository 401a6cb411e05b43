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
	"fmt"
	"os"

	"github.com/blacktop/reviewsync/internal/config"
	"github.com/blacktop/reviewsync/pkg/appstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
}

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:           "token",
	Short:         "Generate JWT for AppStore Connect API",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}
		settings := config.NewViperSettings(viper.GetViper())

		creds := conf.APICredentials()
		if !creds.Complete() {
			creds.IssuerID = settings.GetString(config.KeyIssuerID)
			creds.KeyID = settings.GetString(config.KeyKeyID)
			creds.PrivateKey = settings.GetString(config.KeyPrivateKey)
		}
		if !creds.Complete() {
			return fmt.Errorf("no API credentials found, run `reviewsync configure` first")
		}

		jwt, err := appstore.Sign(creds.IssuerID, creds.KeyID, creds.PrivateKey)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}

		fmt.Fprintln(os.Stdout, jwt)

		return nil
	},
}
