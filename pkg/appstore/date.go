package appstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/apex/log"
)

// dateLayouts are the timestamp variants the API has been seen to return,
// tried in order.
var dateLayouts = []struct {
	layout string
	loc    *time.Location
}{
	{layout: time.RFC3339Nano},
	{layout: time.RFC3339},
	{layout: "2006-01-02T15:04:05", loc: time.UTC},
	{layout: "2006-01-02T15:04:05.000-0700"},
}

// now is swapped in tests.
var now = time.Now

// ParseDate parses an API timestamp. It never fails: an unknown format is
// logged and parsed as the current time.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		var (
			t   time.Time
			err error
		)
		if l.loc != nil {
			t, err = time.ParseInLocation(l.layout, s, l.loc)
		} else {
			t, err = time.Parse(l.layout, s)
		}
		if err == nil {
			return t
		}
	}
	log.WithField("date", s).Warn("unrecognized date format, using current time")
	return now()
}

// Date is a timestamp that decodes with ParseDate.
type Date time.Time

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), "\"")
	if s == "null" || s == "" {
		return nil
	}
	*d = Date(ParseDate(s))
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(d))
}

func (d Date) Time() time.Time {
	return time.Time(d)
}

func (d Date) IsZero() bool {
	return time.Time(d).IsZero()
}
