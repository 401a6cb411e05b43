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

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(reviewsCmd)

	reviewsCmd.Flags().String("id", "", "App ID")
	reviewsCmd.Flags().StringP("filter", "f", string(model.FilterAll), "Filter reviews: all, answered, unanswered, 1-5")
	reviewsCmd.Flags().StringP("sort", "s", string(model.SortNewest), "Sort reviews: newest, oldest, highest, lowest")
	reviewsCmd.MarkFlagRequired("id")
	viper.BindPFlag("reviews.id", reviewsCmd.Flags().Lookup("id"))
	viper.BindPFlag("reviews.filter", reviewsCmd.Flags().Lookup("filter"))
	viper.BindPFlag("reviews.sort", reviewsCmd.Flags().Lookup("sort"))
}

// reviewsCmd represents the reviews command
var reviewsCmd = &cobra.Command{
	Use:           "reviews",
	Aliases:       []string{"r"},
	Short:         "List the reviews of an app",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		id := viper.GetString("reviews.id")

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		reviews, err := a.manager.FetchReviews(ctx, id)
		if err != nil {
			return err
		}

		reviews = model.Filter(viper.GetString("reviews.filter")).Apply(reviews)
		model.SortOption(viper.GetString("reviews.sort")).Sort(reviews)
		for _, r := range reviews {
			printReview(os.Stdout, r)
		}

		fmt.Printf("\n%d reviews, %d unanswered\n", len(reviews), model.CountUnanswered(reviews))
		return nil
	},
}
