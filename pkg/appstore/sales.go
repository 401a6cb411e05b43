package appstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
	"github.com/klauspost/compress/gzip"
)

const (
	reportDays  = 30
	unitsColumn = "Units"
)

// FetchSalesReport downloads the daily summary sales report of date and
// returns the decompressed TSV.
func (c *Client) FetchSalesReport(ctx context.Context, vendorNumber string, date time.Time) ([]byte, error) {
	if vendorNumber == "" {
		return nil, model.NewError(model.InvalidInput, "sales report", "vendor number is not set", nil)
	}

	q := url.Values{}
	q.Set("filter[frequency]", "DAILY")
	q.Set("filter[reportType]", "SALES")
	q.Set("filter[reportSubType]", "SUMMARY")
	q.Set("filter[version]", "1_0")
	q.Set("filter[vendorNumber]", vendorNumber)
	q.Set("filter[reportDate]", date.Format(time.DateOnly))

	resp, err := c.do(ctx, http.MethodGet, "/salesReports?"+q.Encode(), nil, "application/a-gzip")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewError(model.RemoteUnavailable, "sales report", "failed to read report", err)
	}
	return gunzip(data)
}

func gunzip(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, gzip.ErrHeader) {
			return data, nil // already plain text
		}
		return nil, model.NewError(model.InvalidInput, "sales report", "failed to decompress report", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, model.NewError(model.InvalidInput, "sales report", "failed to decompress report", err)
	}
	return out, nil
}

// SumUnits sums the Units column of a tab separated sales report.
func SumUnits(tsv []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(tsv))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, model.NewError(model.InvalidInput, "sales report", "failed to read header", err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == unitsColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return 0, model.NewError(model.InvalidInput, "sales report", "no Units column in report", nil)
	}

	var total int
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, model.NewError(model.InvalidInput, "sales report", "failed to read row", err)
		}
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		units, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.WithField("units", v).Debug("skipping unparsable units value")
			continue
		}
		total += int(units)
	}
	return total, nil
}

// Sum30DayDownloads adds up the units of the daily reports of the last 30
// days. A 4xx answer for a day means no data and counts as zero. Other day
// failures are logged and skipped; an error is only returned when no day
// could be read.
func (c *Client) Sum30DayDownloads(ctx context.Context, vendorNumber string) (int, error) {
	if vendorNumber == "" {
		return 0, model.NewError(model.InvalidInput, "downloads", "vendor number is not set", nil)
	}

	today := c.now().UTC()
	var (
		total   int
		failed  int
		lastErr error
	)
	for day := 1; day <= reportDays; day++ {
		if day > 1 && c.reportDelay > 0 {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(c.reportDelay):
			}
		}

		date := today.AddDate(0, 0, -day)
		units, err := c.dayUnits(ctx, vendorNumber, date)
		if err != nil {
			if IsClientError(err) {
				log.WithField("date", date.Format(time.DateOnly)).Debug("no sales data")
				continue
			}
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			log.WithError(err).WithField("date", date.Format(time.DateOnly)).Warn("failed to fetch sales report")
			failed++
			lastErr = err
			continue
		}
		total += units
	}

	if failed == reportDays {
		return 0, fmt.Errorf("failed to fetch any sales report: %w", lastErr)
	}
	return total, nil
}

func (c *Client) dayUnits(ctx context.Context, vendorNumber string, date time.Time) (int, error) {
	tsv, err := c.FetchSalesReport(ctx, vendorNumber, date)
	if err != nil {
		return 0, err
	}
	return SumUnits(tsv)
}
