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

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(deleteResponseCmd)

	respondCmd.Flags().String("review", "", "Review ID")
	respondCmd.Flags().String("body", "", "Response text (prompted for when omitted)")
	respondCmd.MarkFlagRequired("review")
	viper.BindPFlag("respond.review", respondCmd.Flags().Lookup("review"))
	viper.BindPFlag("respond.body", respondCmd.Flags().Lookup("body"))

	deleteResponseCmd.Flags().String("review", "", "Review ID")
	deleteResponseCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	deleteResponseCmd.MarkFlagRequired("review")
	viper.BindPFlag("delete-response.review", deleteResponseCmd.Flags().Lookup("review"))
	viper.BindPFlag("delete-response.yes", deleteResponseCmd.Flags().Lookup("yes"))
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

// respondCmd represents the respond command
var respondCmd = &cobra.Command{
	Use:           "respond",
	Short:         "Respond to a review",
	Example: heredoc.Doc(`
		# Respond inline
		❯ reviewsync respond --review 00000029-0af5-ffc6 --body "Thanks, fixed in 1.2.1!"

		# Write the response in a multiline prompt
		❯ reviewsync respond --review 00000029-0af5-ffc6`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		reviewID := viper.GetString("respond.review")
		body := viper.GetString("respond.body")
		if body == "" {
			if !interactive() {
				return fmt.Errorf("--body is required when not running in a terminal")
			}
			prompt := &survey.Multiline{Message: "Response:"}
			if err := survey.AskOne(prompt, &body); err == terminal.InterruptErr {
				log.Warn("Exiting...")
				return nil
			}
		}

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		reviews, err := a.manager.Respond(ctx, reviewID, body)
		if err != nil {
			return err
		}
		for _, r := range reviews {
			if r.ID == reviewID {
				printReview(os.Stdout, r)
			}
		}
		log.Info("Response sent, it will be visible once published")
		return nil
	},
}

// deleteResponseCmd represents the delete-response command
var deleteResponseCmd = &cobra.Command{
	Use:           "delete-response",
	Short:         "Delete the response of a review",
	Example: heredoc.Doc(`
		❯ reviewsync delete-response --review 00000029-0af5-ffc6 --yes`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if !viper.GetBool("delete-response.yes") && interactive() {
			cont := false
			prompt := &survey.Confirm{
				Message: "You are about to delete a published response. Continue?",
			}
			if err := survey.AskOne(prompt, &cont); err == terminal.InterruptErr || !cont {
				log.Warn("Exiting...")
				return nil
			}
		}

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.manager.DeleteResponse(ctx, viper.GetString("delete-response.review")); err != nil {
			return err
		}
		log.Info("Response deleted")
		return nil
	},
}
