package model

import (
	"cmp"
	"slices"
)

// Filter selects a subset of reviews.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterAnswered   Filter = "answered"
	FilterUnanswered Filter = "unanswered"
	FilterFiveStars  Filter = "5"
	FilterFourStars  Filter = "4"
	FilterThreeStars Filter = "3"
	FilterTwoStars   Filter = "2"
	FilterOneStar    Filter = "1"
)

// Matches reports whether the review passes the filter. Unknown filters match everything.
func (f Filter) Matches(r *CustomerReview) bool {
	switch f {
	case FilterAnswered:
		return r.Answered()
	case FilterUnanswered:
		return !r.Answered()
	case FilterFiveStars:
		return r.Rating == 5
	case FilterFourStars:
		return r.Rating == 4
	case FilterThreeStars:
		return r.Rating == 3
	case FilterTwoStars:
		return r.Rating == 2
	case FilterOneStar:
		return r.Rating == 1
	default:
		return true
	}
}

// Apply returns the reviews that match f, keeping their order.
func (f Filter) Apply(reviews []*CustomerReview) []*CustomerReview {
	out := make([]*CustomerReview, 0, len(reviews))
	for _, r := range reviews {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// SortOption orders reviews for display.
type SortOption string

const (
	SortNewest        SortOption = "newest"
	SortOldest        SortOption = "oldest"
	SortHighestRating SortOption = "highest"
	SortLowestRating  SortOption = "lowest"
)

// Sort sorts reviews in place. Ties keep their relative order.
func (o SortOption) Sort(reviews []*CustomerReview) {
	switch o {
	case SortOldest:
		slices.SortStableFunc(reviews, func(a, b *CustomerReview) int { return a.CreatedDate.Compare(b.CreatedDate) })
	case SortHighestRating:
		slices.SortStableFunc(reviews, func(a, b *CustomerReview) int { return cmp.Compare(b.Rating, a.Rating) })
	case SortLowestRating:
		slices.SortStableFunc(reviews, func(a, b *CustomerReview) int { return cmp.Compare(a.Rating, b.Rating) })
	default:
		slices.SortStableFunc(reviews, func(a, b *CustomerReview) int { return b.CreatedDate.Compare(a.CreatedDate) })
	}
}

// SortByBadge orders apps by unanswered count descending, then by name.
func SortByBadge(apps []*App) {
	slices.SortStableFunc(apps, func(a, b *App) int {
		if c := cmp.Compare(b.UnansweredCount, a.UnansweredCount); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

// ApplyOrder returns apps arranged by the saved order. Apps missing from
// the order are appended sorted by badge.
func ApplyOrder(apps []*App, order []string) []*App {
	if len(order) == 0 {
		out := slices.Clone(apps)
		SortByBadge(out)
		return out
	}
	byID := make(map[string]*App, len(apps))
	for _, a := range apps {
		byID[a.ID] = a
	}
	out := make([]*App, 0, len(apps))
	for _, id := range order {
		if a, ok := byID[id]; ok {
			out = append(out, a)
			delete(byID, id)
		}
	}
	var rest []*App
	for _, a := range apps {
		if _, ok := byID[a.ID]; ok {
			rest = append(rest, a)
		}
	}
	SortByBadge(rest)
	return append(out, rest...)
}
