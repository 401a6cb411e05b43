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
	"io"
	"strings"
	"time"

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/blacktop/reviewsync/internal/syncer"
	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/viper"
)

var (
	colorName     = color.New(color.Bold).SprintFunc()
	colorID       = color.New(color.Faint).SprintFunc()
	colorStars    = color.New(color.FgYellow).SprintFunc()
	colorBadge    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	colorPending  = color.New(color.FgHiYellow).SprintFunc()
	colorResponse = color.New(color.FgHiBlue).SprintFunc()
	colorDate     = color.New(color.FgHiBlack).SprintFunc()
)

var badgeColors = map[string]*color.Color{
	"green":  color.New(color.FgGreen),
	"blue":   color.New(color.FgBlue),
	"orange": color.New(color.FgYellow),
	"red":    color.New(color.FgRed),
	"gray":   color.New(color.FgHiBlack),
}

func versionState(s model.VersionState) string {
	if s == "" {
		return ""
	}
	return badgeColors[s.BadgeColor()].Sprint(s.DisplayName())
}

func printApps(w io.Writer, apps []*model.App) {
	for _, a := range apps {
		badge := ""
		if a.UnansweredCount > 0 {
			badge = colorBadge(fmt.Sprintf("(%d)", a.UnansweredCount))
		}
		fmt.Fprintf(w, "%s %s %s\n", colorName(a.Name), colorID(a.ID), badge)
		fmt.Fprintf(w, "    %s", a.BundleID)
		if a.CurrentVersion != "" {
			fmt.Fprintf(w, "  v%s %s", a.CurrentVersion, versionState(a.VersionState))
		}
		fmt.Fprintln(w)
		if !a.LastCheckedDate.IsZero() {
			fmt.Fprintf(w, "    checked %s\n", colorDate(humanize.Time(a.LastCheckedDate)))
		}
		if !a.DownloadsFetched.IsZero() {
			fmt.Fprintf(w, "    %s downloads in the last 30 days\n", humanize.Comma(int64(a.Downloads30Days)))
		}
	}
}

func printReview(w io.Writer, r *model.CustomerReview) {
	hrule := strings.Repeat("-", 19)
	fmt.Fprintf(w, "\n%s\n%s [%s] by %s (%s) %s\n", hrule,
		r.CreatedDate.Format("Jan _2 2006"), colorStars(r.Stars()), r.ReviewerNickname, r.Territory, colorID(r.ID))
	if r.Title != "" {
		fmt.Fprintln(w, colorName(r.Title))
	}
	if r.Body != "" {
		fmt.Fprintf(w, "    %s\n", r.Body)
	}
	if r.Response == nil {
		return
	}
	state := "published"
	if r.Response.State == model.PendingPublish {
		state = colorPending("pending")
	}
	fmt.Fprintf(w, "  ↳ %s (%s %s)\n", colorResponse(r.Response.Body), state, colorDate(humanize.Time(r.Response.LastModifiedDate)))
}

func printReport(w io.Writer, what string, r *syncer.Report) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "%s: %s apps, %s reviews in %s\n", what,
		humanize.Comma(int64(r.Apps)), humanize.Comma(int64(r.Reviews)), r.Elapsed.Round(time.Millisecond))
	for _, f := range r.Batch.Failures {
		fmt.Fprintf(w, "  %s %s: %v\n", color.RedString("failed"), f.Item, f.Err)
	}
}

func progressLogger(p syncer.Progress) {
	if p.Total == 0 {
		return
	}
	fmt.Printf("%s\n", p)
}

// newProgress shows a spinner on a terminal and plain lines otherwise.
// The returned stop func must be called before printing anything else.
func newProgress(msg string) (syncer.ProgressFunc, func()) {
	if !interactive() || viper.GetBool("verbose") {
		return progressLogger, func() {}
	}
	s := spinner.New(spinner.CharSets[38], 100*time.Millisecond)
	s.Prefix = color.BlueString("   • %s... ", msg)
	s.Start()
	return func(p syncer.Progress) {
		if p.Total == 0 {
			return
		}
		s.Lock()
		s.Suffix = " " + p.String()
		s.Unlock()
	}, s.Stop
}
